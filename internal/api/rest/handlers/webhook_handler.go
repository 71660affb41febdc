package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/Dhoini/channel-gatekeeper/internal/service"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/Dhoini/channel-gatekeeper/pkg/res"
	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 64 << 10

// WebhookHandler обработчик для вебхуков платежных провайдеров
type WebhookHandler struct {
	confirmer    PaymentConfirmer
	stripeParser WebhookParser
	log          *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков. stripeParser may be
// nil when Stripe is not the configured provider.
func NewWebhookHandler(confirmer PaymentConfirmer, stripeParser WebhookParser, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		confirmer:    confirmer,
		stripeParser: stripeParser,
		log:          log,
	}
}

// HandleInstamojoWebhook обрабатывает вебхуки от Instamojo. The payload is
// untrusted: only the payment request id is taken from it and the payment is
// verified with the provider.
func (h *WebhookHandler) HandleInstamojoWebhook(c *gin.Context) {
	reference := c.PostForm("payment_request_id")
	if reference == "" {
		reference = c.PostForm("payment_request")
	}
	h.confirm(c, reference)
}

// HandleStripeWebhook обрабатывает вебхуки от Stripe
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		h.log.Errorw("Failed to read webhook body", "error", err)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "failed to read webhook body"}, http.StatusBadRequest, h.log)
		return
	}

	reference, ok, err := h.stripeParser.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.log.Errorw("Failed to verify webhook signature", "error", err)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "failed to verify webhook signature"}, http.StatusBadRequest, h.log)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"ok": true, "outcome": service.OutcomeIgnored})
		return
	}
	h.confirm(c, reference)
}

// confirm runs the confirmation detached from the request so a provider
// disconnect cannot leave a grant issued but unrecorded.
func (h *WebhookHandler) confirm(c *gin.Context, reference string) {
	ctx := context.WithoutCancel(c.Request.Context())

	result, err := h.confirmer.ConfirmPayment(ctx, reference)
	if err != nil {
		h.log.Errorw("Payment confirmation failed", "reference", reference, "error", err)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "payment confirmation failed"}, http.StatusInternalServerError, h.log)
		return
	}

	body := gin.H{"ok": true, "outcome": result.Outcome}
	if result.Reason != "" {
		body["reason"] = result.Reason
	}
	if result.Identity != "" {
		body["identity"] = result.Identity
	}
	c.JSON(http.StatusOK, body)
}
