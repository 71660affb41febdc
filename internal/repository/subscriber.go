package repository

import (
	"context"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
)

// SubscriberStore is the durable identity -> record mapping. It is the single
// source of truth for subscriber state.
type SubscriberStore interface {
	// Get returns the record for identity or ErrNotFound.
	Get(ctx context.Context, identity string) (domain.Subscriber, error)

	// Upsert atomically replaces the record keyed by rec.Identity.
	Upsert(ctx context.Context, rec domain.Subscriber) error

	// ScanAll returns a snapshot of every committed record, ordered by identity.
	ScanAll(ctx context.Context) ([]domain.Subscriber, error)

	// Close releases the backend.
	Close() error
}

// PaymentLedger remembers payment references that already produced a grant.
type PaymentLedger interface {
	// Seen reports whether reference was recorded.
	Seen(ctx context.Context, reference string) (bool, error)

	// Record marks reference as applied for identity.
	Record(ctx context.Context, reference, identity string) error
}

func validateRecord(rec domain.Subscriber) error {
	if _, err := domain.ParseIdentity(rec.Identity); err != nil {
		return err
	}
	if !rec.Status.Valid() {
		return ErrInvalidData
	}
	return nil
}
