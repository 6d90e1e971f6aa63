package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/redis/go-redis/v9"
)

// arriveScript registers the user in the room's first-seen order on first
// sight, then refreshes the entry and applies the online delta.
//
// KEYS: order zset, entry hash, sequence counter
// ARGV: user id, display name, last seen (unix ms), delta
var arriveScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) == false then
	local seq = redis.call('INCR', KEYS[3])
	redis.call('ZADD', KEYS[1], seq, ARGV[1])
end
redis.call('HSET', KEYS[2], 'user_id', ARGV[1], 'display_name', ARGV[2], 'last_seen', ARGV[3])
local n = redis.call('HINCRBY', KEYS[2], 'online', tonumber(ARGV[4]))
if n < 0 then
	redis.call('HSET', KEYS[2], 'online', 0)
	n = 0
end
return n
`)

// departScript decrements the online count without going below zero.
//
// KEYS: entry hash
// ARGV: last seen (unix ms)
var departScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local n = tonumber(redis.call('HGET', KEYS[1], 'online') or '0')
if n > 0 then
	n = n - 1
end
redis.call('HSET', KEYS[1], 'online', n, 'last_seen', ARGV[1])
return n
`)

// RedisRoomTable shares presence entries between relay nodes.
type RedisRoomTable struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ RoomTable = (*RedisRoomTable)(nil)

func NewRedisRoomTable(client redis.UniversalClient, keyPrefix string) *RedisRoomTable {
	return &RedisRoomTable{client: client, keyPrefix: keyPrefix}
}

func (t *RedisRoomTable) orderKey(room string) string {
	return t.keyPrefix + "presence:" + room + ":order"
}

func (t *RedisRoomTable) seqKey(room string) string {
	return t.keyPrefix + "presence:" + room + ":seq"
}

func (t *RedisRoomTable) entryKey(room, userId string) string {
	return t.keyPrefix + "presence:" + room + ":user:" + userId
}

func (t *RedisRoomTable) Arrive(ctx context.Context, room string, user types.User, at time.Time, delta int) error {
	keys := []string{t.orderKey(room), t.entryKey(room, user.Id), t.seqKey(room)}
	if err := arriveScript.Run(ctx, t.client, keys, user.Id, user.Username, at.UnixMilli(), delta).Err(); err != nil {
		return fmt.Errorf("arrive script: %w", err)
	}
	return nil
}

func (t *RedisRoomTable) Depart(ctx context.Context, room, userId string, at time.Time) error {
	keys := []string{t.entryKey(room, userId)}
	if err := departScript.Run(ctx, t.client, keys, at.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("depart script: %w", err)
	}
	return nil
}

func (t *RedisRoomTable) List(ctx context.Context, room string) ([]Entry, error) {
	ids, err := t.client.ZRange(ctx, t.orderKey(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := t.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, t.entryKey(room, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}

	entries := make([]Entry, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}

		online, _ := strconv.Atoi(fields["online"])
		lastSeen, _ := strconv.ParseInt(fields["last_seen"], 10, 64)
		entries = append(entries, Entry{
			UserId:      ids[i],
			DisplayName: fields["display_name"],
			LastSeen:    time.UnixMilli(lastSeen).UTC(),
			OnlineCount: online,
		})
	}
	return entries, nil
}
