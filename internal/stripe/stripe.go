package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Statuses reported by Verify. A session counts as paid only when it is
// complete and its payment settled.
const (
	StatusPaid              = "paid"
	StatusNoPaymentRequired = "no_payment_required"
	StatusOpen              = "open"
)

const eventCheckoutSessionCompleted = "checkout.session.completed"

// checkoutSessions is the part of the Stripe SDK used here
type checkoutSessions interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Config конфигурация для клиента Stripe
type Config struct {
	APIKey        string
	WebhookSecret string
	PriceID       string
	SuccessURL    string
	CancelURL     string
	// IdentityMetadataKey names the metadata field carrying the payer identity
	IdentityMetadataKey string
}

// Client проверяет и создает Stripe Checkout Sessions
type Client struct {
	sessions checkoutSessions
	cfg      Config
	log      *logger.Logger
}

// NewStripeClient создает новый экземпляр клиента Stripe.
func NewStripeClient(cfg Config, log *logger.Logger) *Client {
	sc := &client.API{}
	sc.Init(cfg.APIKey, nil) // Инициализируем клиент Stripe с API ключом
	return newClient(sc.CheckoutSessions, cfg, log)
}

func newClient(sessions checkoutSessions, cfg Config, log *logger.Logger) *Client {
	if cfg.IdentityMetadataKey == "" {
		cfg.IdentityMetadataKey = domain.DefaultIdentityMetadataKey
	}
	return &Client{
		sessions: sessions,
		cfg:      cfg,
		log:      log,
	}
}

// Verify fetches the Checkout Session named by reference. The identity is
// taken from the session metadata, falling back to client_reference_id.
func (c *Client) Verify(ctx context.Context, reference string) (domain.PaymentVerification, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := c.sessions.Get(reference, params)
	if err != nil {
		logStripeError(c.log, "GetCheckoutSession", err)
		return domain.PaymentVerification{}, fmt.Errorf("stripe: failed to get checkout session: %w", err)
	}

	metadata := make(map[string]string, len(sess.Metadata)+1)
	for k, v := range sess.Metadata {
		metadata[k] = v
	}
	if metadata[c.cfg.IdentityMetadataKey] == "" && sess.ClientReferenceID != "" {
		metadata[c.cfg.IdentityMetadataKey] = sess.ClientReferenceID
	}

	status := sessionStatus(sess)
	c.log.Infow("Stripe checkout session verified", "session_id", sess.ID, "status", status)
	return domain.PaymentVerification{
		Reference: reference,
		Status:    status,
		Metadata:  metadata,
	}, nil
}

func sessionStatus(sess *stripe.CheckoutSession) string {
	if sess.Status != stripe.CheckoutSessionStatusComplete {
		if sess.Status == "" {
			return StatusOpen
		}
		return string(sess.Status)
	}
	return string(sess.PaymentStatus)
}

// CreateCheckout создает Checkout Session для identity и возвращает URL оплаты
func (c *Client) CreateCheckout(ctx context.Context, identity string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		ClientReferenceID: stripe.String(identity),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata(c.cfg.IdentityMetadataKey, identity)
	params.Context = ctx

	sess, err := c.sessions.New(params)
	if err != nil {
		logStripeError(c.log, "CreateCheckoutSession", err)
		return "", fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	c.log.Infow("Stripe checkout session created", "session_id", sess.ID, "identity", identity)
	return sess.URL, nil
}

// ParseWebhook checks the Stripe-Signature of payload and returns the
// Checkout Session id of a checkout.session.completed event. ok is false for
// every other event type.
func (c *Client) ParseWebhook(payload []byte, signature string) (reference string, ok bool, err error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return "", false, fmt.Errorf("stripe: invalid webhook: %w", err)
	}

	if event.Type != eventCheckoutSessionCompleted {
		c.log.Debugw("Ignored Stripe webhook event", "event_id", event.ID, "type", string(event.Type))
		return "", false, nil
	}
	if event.Data == nil {
		return "", false, errors.New("stripe: webhook event without data")
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return "", false, fmt.Errorf("stripe: failed to decode checkout session: %w", err)
	}
	if sess.ID == "" {
		return "", false, errors.New("stripe: checkout session without id")
	}

	c.log.Infow("Received Stripe checkout completion", "event_id", event.ID, "session_id", sess.ID)
	return sess.ID, true, nil
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
