// Package moderation publishes messages immediately and classifies them in
// the background, routing anything that needs attention to moderators.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-roomrelay/internal/database"
	"github.com/npezzotti/go-roomrelay/internal/fabric"
	"github.com/npezzotti/go-roomrelay/internal/stats"
	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/samber/lo"
)

const (
	DefaultChannel   = "moderators"
	defaultWorkers   = 2
	defaultQueueSize = 256
	defaultTimeout   = 10 * time.Second

	errSubmitFailed = "message failed"
)

var ErrQueueFull = errors.New("moderation queue full")

type Config struct {
	// Channel is the room escalations are broadcast to.
	Channel   string
	Workers   int
	QueueSize int
	// Timeout bounds a single classification.
	Timeout time.Duration
}

// Job is one message waiting to be classified.
type Job struct {
	MessageId string
	Content   string
}

type Bridge struct {
	log        *slog.Logger
	store      database.MessageStore
	classifier Classifier
	fabric     fabric.Fabric
	stats      stats.StatsProvider
	cfg        Config

	queue   chan Job
	quit    chan struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.RWMutex
	running bool
}

func NewBridge(logger *slog.Logger, cfg Config, store database.MessageStore, classifier Classifier, f fabric.Fabric, st stats.StatsProvider) *Bridge {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Bridge{
		log:        logger.With("component", "moderation"),
		store:      store,
		classifier: classifier,
		fabric:     f,
		stats:      st,
		cfg:        cfg,
		queue:      make(chan Job, cfg.QueueSize),
	}
}

func (b *Bridge) Channel() string {
	return b.cfg.Channel
}

// Submit persists the message, broadcasts it to the room and queues it for
// classification. Classification never delays or retracts the broadcast.
func (b *Bridge) Submit(ctx context.Context, connId string, in types.MessageInput) (*types.Message, error) {
	msg, err := b.store.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:     in.RoomId,
		SenderId:   in.SenderId,
		SenderName: in.SenderName,
		Content:    in.Content,
	})
	if err != nil {
		b.log.Error("create message", "room", in.RoomId, "sender", in.SenderId, "error", err)
		b.fabric.Send(connId, fabric.Event{
			Name:    fabric.EventError,
			Payload: types.ErrorEvent{Error: errSubmitFailed},
		})
		return nil, err
	}

	b.fabric.Broadcast(in.RoomId, fabric.Event{Name: fabric.EventMessageNew, Payload: msg})

	if err := b.Enqueue(Job{MessageId: msg.Id, Content: msg.Content}); err != nil {
		b.log.Warn("moderation skipped", "message", msg.Id, "error", err)
		b.stats.Incr(stats.ModerationFailures)
	}
	return msg, nil
}

// Enqueue hands a job to the worker pool without blocking.
func (b *Bridge) Enqueue(job Job) error {
	select {
	case b.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the workers. Their lifetime is bounded by Stop, not by
// ctx's cancellation.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("moderation bridge is already running")
	}
	b.running = true

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.quit = make(chan struct{})

	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go func(id int) {
			defer b.wg.Done()
			b.work(workCtx, id)
		}(i + 1)
	}

	b.log.Info("moderation workers started", "workers", b.cfg.Workers, "queue", b.cfg.QueueSize)
	return nil
}

// Stop lets workers finish what is queued. If ctx expires first, in-flight
// classifications are cancelled.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.quit)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		b.log.Info("moderation workers stopped")
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		b.log.Warn("moderation workers stopped before the queue drained")
		return ctx.Err()
	}
}

func (b *Bridge) work(ctx context.Context, id int) {
	for {
		select {
		case job := <-b.queue:
			b.process(ctx, job)
		case <-b.quit:
			for {
				select {
				case job := <-b.queue:
					if ctx.Err() != nil {
						return
					}
					b.process(ctx, job)
				default:
					b.log.Debug("moderation worker exiting", "worker", id)
					return
				}
			}
		}
	}
}

func (b *Bridge) process(ctx context.Context, job Job) {
	classifyCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	result, err := b.classifier.Classify(classifyCtx, job.Content)
	cancel()
	if err != nil {
		b.log.Warn("classify message", "message", job.MessageId, "error", err)
		b.stats.Incr(stats.ModerationFailures)
		return
	}

	_, _, err = b.store.UpdateMessage(ctx, job.MessageId, func(m *types.Message) (bool, error) {
		Apply(m, result)
		return true, nil
	})
	if err != nil {
		b.log.Error("save moderation result", "message", job.MessageId, "error", err)
		b.stats.Incr(stats.ModerationFailures)
	}

	if result.Escalates() {
		b.stats.Incr(stats.Escalations)
		b.fabric.Broadcast(b.cfg.Channel, fabric.Event{
			Name:    fabric.EventEscalation,
			Payload: types.Escalation{MessageId: job.MessageId, Result: result},
		})
		b.log.Info("message escalated", "message", job.MessageId, "priority", result.Priority, "action", result.Action)
	}
}

// Apply merges a verdict into m: tags by set union, priority when the
// verdict names a known one.
func Apply(m *types.Message, result types.Classification) {
	m.Tags = lo.Union(m.Tags, result.Tags)
	if result.Priority.Valid() {
		m.Priority = result.Priority
	}
	m.Moderated = true
	verdict := result
	verdict.Tags = slices.Clone(result.Tags)
	m.Moderation = &verdict
}
