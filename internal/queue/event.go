// Package queue publishes student lifecycle events to RabbitMQ.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType doubles as the routing key
type EventType string

const (
	EventPreRegistered         EventType = "student.preregistered"
	EventVerificationRequested EventType = "student.verification_requested"
	EventActivated             EventType = "student.activated"
	EventStatusChanged         EventType = "student.status_changed"
	EventReactivated           EventType = "student.reactivated"
	EventExpired               EventType = "student.expired"
	EventBulkImported          EventType = "student.bulk_imported"
)

// Event is the JSON body of every published message
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	OccurredAt  time.Time              `json:"occurredAt"`
	AccountID   int64                  `json:"accountId,omitempty"`
	StudentCode string                 `json:"studentCode,omitempty"`
	ActorID     *int64                 `json:"actorId,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps a fresh event ID
func NewEvent(t EventType, occurredAt time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: occurredAt,
	}
}

// Publisher delivers events to the broker
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher discards events; used when RabbitMQ is disabled
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
