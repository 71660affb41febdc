package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/internal/service"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/Dhoini/channel-gatekeeper/pkg/res"
	"github.com/gin-gonic/gin"
)

// CronSecretHeader carries the shared secret of the external scheduler
const CronSecretHeader = "X-CRON-SECRET"

// ExpiryHandler запускает проверку истечения подписок
type ExpiryHandler struct {
	sweeper    SweepRunner
	cronSecret string
	clock      service.Clock
	log        *logger.Logger
}

// NewExpiryHandler создает ExpiryHandler. An empty cronSecret disables the
// header check.
func NewExpiryHandler(sweeper SweepRunner, cronSecret string, clock service.Clock, log *logger.Logger) *ExpiryHandler {
	return &ExpiryHandler{
		sweeper:    sweeper,
		cronSecret: cronSecret,
		clock:      clock,
		log:        log,
	}
}

// RunExpiry handles GET and POST /run-expiry
func (h *ExpiryHandler) RunExpiry(c *gin.Context) {
	if h.cronSecret != "" {
		provided := c.GetHeader(CronSecretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.cronSecret)) != 1 {
			res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "unauthorized"}, http.StatusUnauthorized, h.log)
			return
		}
	}

	report, err := h.sweeper.Run(context.WithoutCancel(c.Request.Context()), h.clock.Now())
	if errors.Is(err, domain.ErrSweepInProgress) {
		c.JSON(http.StatusConflict, gin.H{"skipped": true})
		return
	}
	if err != nil {
		h.log.Errorw("Expiry sweep failed", "error", err)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "expiry sweep failed"}, http.StatusInternalServerError, h.log)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"expired": report.Expired,
		"report":  report,
	})
}
