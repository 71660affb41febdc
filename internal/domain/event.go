package domain

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleEventType тип события жизненного цикла подписчика
type LifecycleEventType string

const (
	LifecycleEventActivated LifecycleEventType = "subscriber.activated"
	LifecycleEventExpired   LifecycleEventType = "subscriber.expired"
)

// LifecycleEvent is published after a subscriber record transition commits
type LifecycleEvent struct {
	ID               uuid.UUID          `json:"id"`
	Type             LifecycleEventType `json:"type"`
	Identity         string             `json:"identity"`
	Status           SubscriberStatus   `json:"status"`
	ExpiresAt        time.Time          `json:"expires_at"`
	PaymentReference string             `json:"payment_reference,omitempty"`
	OccurredAt       time.Time          `json:"occurred_at"`
}

// NewLifecycleEvent builds an event for a committed record
func NewLifecycleEvent(eventType LifecycleEventType, rec Subscriber, reference string, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		ID:               uuid.New(),
		Type:             eventType,
		Identity:         rec.Identity,
		Status:           rec.Status,
		ExpiresAt:        rec.ExpiresAt,
		PaymentReference: reference,
		OccurredAt:       at,
	}
}
