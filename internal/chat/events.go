package chat

import (
	"context"
	"time"
)

const EventTurnPersisted = "turn.persisted"

// TurnEvent announces a committed turn to out-of-process consumers.
type TurnEvent struct {
	EventID            string    `json:"event_id"`
	Type               string    `json:"type"`
	ConversationID     uint64    `json:"conversation_id"`
	UserMessageID      uint64    `json:"user_message_id"`
	AssistantMessageID uint64    `json:"assistant_message_id"`
	OccurredAt         time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	PublishTurn(ctx context.Context, ev TurnEvent) error
}
