package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// minInviteTTL is the shortest invite lifetime sent to Telegram
const minInviteTTL = 60 * time.Second

// Config конфигурация Telegram бота
type Config struct {
	Token string
	// ChannelID is the numeric chat id (-100...) or @username of the channel
	ChannelID string
	// APIEndpoint overrides tgbotapi.APIEndpoint, mainly for tests
	APIEndpoint string
	Timeout     time.Duration
}

// Bot issues channel invites, removes members and sends messages.
// The underlying client has no context support, so calls are bounded by the
// HTTP client timeout and a pre-flight context check.
type Bot struct {
	api             *tgbotapi.BotAPI
	chatID          int64
	channelUsername string
	now             func() time.Time
	log             *logger.Logger
}

// NewBot создает бота и проверяет токен через getMe
func NewBot(cfg Config, log *logger.Logger) (*Bot, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: failed to initialize bot: %w", err)
	}

	b := &Bot{
		api: api,
		now: time.Now,
		log: log,
	}
	channel := strings.TrimSpace(cfg.ChannelID)
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		b.chatID = id
	} else if strings.HasPrefix(channel, "@") {
		b.channelUsername = channel
	} else {
		return nil, fmt.Errorf("telegram: invalid channel id %q", cfg.ChannelID)
	}

	log.Infow("Telegram bot authorized", "username", api.Self.UserName, "channel", channel)
	return b, nil
}

// Username returns the bot's @username without the @
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

func (b *Bot) chat() tgbotapi.ChatConfig {
	return tgbotapi.ChatConfig{ChatID: b.chatID, SuperGroupUsername: b.channelUsername}
}

func (b *Bot) member(userID int64) tgbotapi.ChatMemberConfig {
	return tgbotapi.ChatMemberConfig{ChatID: b.chatID, SuperGroupUsername: b.channelUsername, UserID: userID}
}

// Issue creates an invite link admitting memberLimit users that expires
// after ttl, raised to one minute if shorter.
func (b *Bot) Issue(ctx context.Context, ttl time.Duration, memberLimit int) (domain.Grant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Grant{}, err
	}
	if ttl < minInviteTTL {
		ttl = minInviteTTL
	}
	expiresAt := b.now().Add(ttl).Truncate(time.Second)

	resp, err := b.api.Request(tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  b.chat(),
		ExpireDate:  int(expiresAt.Unix()),
		MemberLimit: memberLimit,
	})
	if err != nil {
		return domain.Grant{}, apiError("createChatInviteLink", err)
	}

	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return domain.Grant{}, fmt.Errorf("telegram: failed to decode invite link: %w", err)
	}
	if link.InviteLink == "" {
		return domain.Grant{}, domain.NewExternalServiceError("telegram", "empty_invite", "createChatInviteLink returned no link", 0, nil)
	}

	b.log.Debugw("Invite link created", "expires_at", expiresAt, "member_limit", memberLimit)
	return domain.Grant{
		Link:        link.InviteLink,
		ExpiresAt:   expiresAt,
		MemberLimit: memberLimit,
	}, nil
}

// Revoke removes identity from the channel by banning and immediately
// unbanning, which leaves the user free to rejoin with a new invite.
// Removing a user who is not a member succeeds.
func (b *Bot) Revoke(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	userID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: %w: %q", domain.ErrInvalidIdentity, identity)
	}

	if _, err := b.api.Request(tgbotapi.BanChatMemberConfig{ChatMemberConfig: b.member(userID)}); err != nil {
		return apiError("banChatMember", err)
	}
	// A failed unban leaves the user banned and unable to rejoin after paying.
	if _, err := b.api.Request(tgbotapi.UnbanChatMemberConfig{ChatMemberConfig: b.member(userID), OnlyIfBanned: true}); err != nil {
		b.log.Errorw("User banned but not unbanned", "identity", identity, "error", err)
		return apiError("unbanChatMember", err)
	}

	b.log.Debugw("Member removed from channel", "identity", identity)
	return nil
}

// Notify sends a plain text message to identity's private chat
func (b *Bot) Notify(ctx context.Context, identity, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: %w: %q", domain.ErrInvalidIdentity, identity)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return apiError("sendMessage", err)
	}
	return nil
}

// SendWelcome greets a user with a Markdown message and an inline button
// linking to payURL.
func (b *Bot) SendWelcome(ctx context.Context, chatID int64, text, buttonText, payURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(buttonText, payURL)),
	)
	if _, err := b.api.Send(msg); err != nil {
		return apiError("sendMessage", err)
	}
	return nil
}

func apiError(method string, err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return domain.NewExternalServiceError("telegram", method, tgErr.Message, tgErr.Code, err)
	}
	return domain.NewExternalServiceError("telegram", method, "request failed", 0, err)
}
