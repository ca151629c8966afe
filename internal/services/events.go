package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stustapay/apiserver/internal/logging"
	"github.com/stustapay/apiserver/internal/store"
	"github.com/stustapay/apiserver/types"
)

// UserEventsChannel is the bus channel user lifecycle events go to.
const UserEventsChannel = "user-events"

const (
	EventUserCreated  = "user.created"
	EventUserPromoted = "user.promoted"
	EventUserDeleted  = "user.deleted"
)

// UserEvent is published after the transaction that caused it committed.
type UserEvent struct {
	Type       string          `json:"type"`
	UserID     int64           `json:"user_id"`
	Privilege  types.Privilege `json:"privilege,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func newUserEvent(eventType string, userID int64, privilege types.Privilege) UserEvent {
	return UserEvent{
		Type:       eventType,
		UserID:     userID,
		Privilege:  privilege,
		OccurredAt: time.Now().UTC(),
	}
}

// Bus is the publishing side of the message queue.
type Bus interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// EventPublisher serialises user events onto a Bus. A nil *EventPublisher
// drops events.
type EventPublisher struct {
	bus Bus
}

func NewEventPublisher(bus Bus) *EventPublisher {
	return &EventPublisher{bus: bus}
}

// publish never fails the caller: the state change is already committed.
func (p *EventPublisher) publish(ctx context.Context, event UserEvent) {
	if p == nil || p.bus == nil {
		return
	}
	log := logging.Get()

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("encode user event")
		return
	}
	if _, err := p.bus.Publish(ctx, UserEventsChannel, data, map[string]string{"type": event.Type}); err != nil {
		log.Warn().
			Err(err).
			Str("event", event.Type).
			Int64("user_id", event.UserID).
			Msg("publish user event failed")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
