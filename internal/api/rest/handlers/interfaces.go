package handlers

import (
	"context"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/internal/service"
)

// PaymentConfirmer applies a payment confirmation
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, reference string) (service.ConfirmResult, error)
}

// SweepRunner runs one expiry sweep
type SweepRunner interface {
	Run(ctx context.Context, now time.Time) (service.SweepReport, error)
}

// CheckoutCreator creates a provider checkout for identity and returns its URL
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, identity string) (string, error)
}

// WebhookParser verifies a signed provider webhook and extracts the payment
// reference. ok is false for events that carry no payment.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (reference string, ok bool, err error)
}

// Welcomer sends the /start greeting with a pay button
type Welcomer interface {
	SendWelcome(ctx context.Context, chatID int64, text, buttonText, payURL string) error
}

// SubscriberReader предоставляет доступ к записям подписчиков на чтение
type SubscriberReader interface {
	Get(ctx context.Context, identity string) (domain.Subscriber, error)
	ScanAll(ctx context.Context) ([]domain.Subscriber, error)
}
