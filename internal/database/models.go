package database

import (
	"slices"

	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/teris-io/shortid"
)

type CreateMessageParams struct {
	RoomId     string
	SenderId   string
	SenderName string
	Content    string
	Statuses   []types.DeliveryStatus
}

// newMessage builds the record a store persists for params.
func newMessage(params CreateMessageParams) (*types.Message, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	statuses := slices.Clone(params.Statuses)
	if statuses == nil {
		statuses = []types.DeliveryStatus{}
	}

	return &types.Message{
		Id:         id,
		RoomId:     params.RoomId,
		SenderId:   params.SenderId,
		SenderName: params.SenderName,
		Content:    params.Content,
		CreatedAt:  types.Now(),
		Statuses:   statuses,
		Tags:       []string{},
		Priority:   types.PriorityNormal,
	}, nil
}

func cloneMessage(m *types.Message) *types.Message {
	out := *m
	out.Statuses = slices.Clone(m.Statuses)
	out.Tags = slices.Clone(m.Tags)
	if m.Moderation != nil {
		mod := *m.Moderation
		mod.Tags = slices.Clone(m.Moderation.Tags)
		out.Moderation = &mod
	}
	return &out
}
