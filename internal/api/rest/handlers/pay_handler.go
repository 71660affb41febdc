package handlers

import (
	"net/http"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/gin-gonic/gin"
)

const paymentReturnPage = "<h3>Thanks! Payment received (if successful). Check your Telegram for the invite link.</h3>"

// PayHandler redirects subscribers to the provider checkout
type PayHandler struct {
	checkout CheckoutCreator
	log      *logger.Logger
}

// NewPayHandler создает PayHandler
func NewPayHandler(checkout CheckoutCreator, log *logger.Logger) *PayHandler {
	return &PayHandler{checkout: checkout, log: log}
}

// Pay handles GET /pay?tg=<identity>
func (h *PayHandler) Pay(c *gin.Context) {
	identity, err := domain.ParseIdentity(c.Query("tg"))
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid request")
		return
	}

	checkoutURL, err := h.checkout.CreateCheckout(c.Request.Context(), identity)
	if err != nil {
		h.log.Errorw("Payment creation failed", "identity", identity, "error", err)
		c.String(http.StatusInternalServerError, "Payment creation failed")
		return
	}

	c.Redirect(http.StatusFound, checkoutURL)
}

// PaymentReturn renders the page the provider sends the payer back to
func PaymentReturn(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(paymentReturnPage))
}
