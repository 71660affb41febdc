package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/internal/repository"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/Dhoini/channel-gatekeeper/pkg/res"
	"github.com/gin-gonic/gin"
)

// AdminHandler отдает записи подписчиков операторам
type AdminHandler struct {
	store SubscriberReader
	log   *logger.Logger
}

// NewAdminHandler создает AdminHandler
func NewAdminHandler(store SubscriberReader, log *logger.Logger) *AdminHandler {
	return &AdminHandler{store: store, log: log}
}

// ListSubscribers returns every record, optionally filtered by ?status=
func (h *AdminHandler) ListSubscribers(c *gin.Context) {
	status := domain.SubscriberStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "unknown status"}, http.StatusBadRequest, h.log)
		return
	}

	records, err := h.store.ScanAll(c.Request.Context())
	if err != nil {
		h.log.Errorw("Failed to list subscribers", "error", err)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "failed to list subscribers"}, http.StatusInternalServerError, h.log)
		return
	}

	out := make([]domain.Subscriber, 0, len(records))
	active := 0
	for _, rec := range records {
		if rec.IsActive() {
			active++
		}
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"subscribers": out,
		"count":       len(out),
		"active":      active,
	})
}

// GetSubscriber returns one record by identity
func (h *AdminHandler) GetSubscriber(c *gin.Context) {
	identity, err := domain.ParseIdentity(c.Param("identity"))
	if err != nil {
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "invalid identity"}, http.StatusBadRequest, h.log)
		return
	}

	rec, err := h.store.Get(c.Request.Context(), identity)
	if errors.Is(err, repository.ErrNotFound) {
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "subscriber not found"}, http.StatusNotFound, h.log)
		return
	}
	if err != nil {
		h.log.Errorw("Failed to get subscriber", "identity", identity, "error", err)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "failed to get subscriber"}, http.StatusInternalServerError, h.log)
		return
	}

	c.JSON(http.StatusOK, rec)
}
