package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Dhoini/channel-gatekeeper/internal/service"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/Dhoini/channel-gatekeeper/pkg/req"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramHandler принимает обновления бота
type TelegramHandler struct {
	welcomer Welcomer
	baseURL  string
	priceINR int
	log      *logger.Logger
}

// NewTelegramHandler создает TelegramHandler
func NewTelegramHandler(welcomer Welcomer, baseURL string, priceINR int, log *logger.Logger) *TelegramHandler {
	return &TelegramHandler{
		welcomer: welcomer,
		baseURL:  baseURL,
		priceINR: priceINR,
		log:      log,
	}
}

// HandleUpdate answers /start with the welcome message. Every other update,
// including one that cannot be decoded, is acknowledged and dropped.
func (h *TelegramHandler) HandleUpdate(c *gin.Context) {
	update, err := req.Decode[tgbotapi.Update](c.Request.Body)
	if err != nil {
		// Telegram retries anything but 2xx, so a bad update would come back forever
		h.log.Warnw("Malformed Telegram update", "error", err)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat == nil || msg.Chat.ID == 0 {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/start") {
		chatID := msg.Chat.ID
		payURL := service.PayURL(h.baseURL, strconv.FormatInt(chatID, 10))
		err := h.welcomer.SendWelcome(
			context.WithoutCancel(c.Request.Context()),
			chatID,
			welcomeText(h.priceINR),
			fmt.Sprintf("💳 Pay ₹%d & Join", h.priceINR),
			payURL,
		)
		if err != nil {
			// Telegram would redeliver the update and spam the user
			h.log.Warnw("Failed to send welcome message", "chat_id", chatID, "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func welcomeText(priceINR int) string {
	return "🙏 *Welcome!*\n\n" +
		"Our *premium community* shares curated insights, discipline and guidance " +
		"for better decisions over the next 30 days.\n\n" +
		fmt.Sprintf("💰 *Fee:* ₹%d/month\n", priceINR) +
		"👇 Pay securely and join instantly:"
}
