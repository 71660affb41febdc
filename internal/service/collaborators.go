package service

import (
	"context"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
)

// PaymentVerifier asks the payment provider about a reference.
// An error means the provider could not answer; a non-accepted status is
// reported through PaymentVerification.Status, not as an error.
type PaymentVerifier interface {
	Verify(ctx context.Context, reference string) (domain.PaymentVerification, error)
}

// AccessGrantIssuer creates channel invitations and removes members.
// Revoke must succeed when the identity is already absent.
type AccessGrantIssuer interface {
	Issue(ctx context.Context, ttl time.Duration, memberLimit int) (domain.Grant, error)
	Revoke(ctx context.Context, identity string) error
}

// Notifier доставляет сообщения подписчику
type Notifier interface {
	Notify(ctx context.Context, identity, text string) error
}

// EventPublisher публикует события жизненного цикла
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LifecycleEvent) error
}

// Clock abstracts wall time so lifecycle decisions can be tested at fixed
// instants.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock returns the system clock in UTC
func RealClock() Clock { return realClock{} }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.LifecycleEvent) error { return nil }
