package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/payment-dashboard/internal/auth"
)

const EventTypeAttemptResolved = "auth.attempt_resolved"

// AttemptResolvedEvent carries one resolved login step.
type AttemptResolvedEvent struct {
	BaseEvent
	Record auth.AttemptRecord `json:"record"`
}

func NewAttemptResolvedEvent(rec auth.AttemptRecord) *AttemptResolvedEvent {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	return &AttemptResolvedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeAttemptResolved,
			Timestamp: at,
			Data: map[string]interface{}{
				"session_id": rec.SessionID,
				"email":      rec.Email,
				"step":       string(rec.Step),
				"reason":     string(rec.Reason),
			},
		},
		Record: rec,
	}
}

// AttemptPublisher is an auth.AttemptRecorder that publishes every record on
// the bus.
type AttemptPublisher struct {
	bus *EventBus
}

func NewAttemptPublisher(bus *EventBus) *AttemptPublisher {
	return &AttemptPublisher{bus: bus}
}

func (p *AttemptPublisher) RecordAttempt(ctx context.Context, rec auth.AttemptRecord) {
	_ = p.bus.Publish(ctx, NewAttemptResolvedEvent(rec))
}

var _ auth.AttemptRecorder = (*AttemptPublisher)(nil)
