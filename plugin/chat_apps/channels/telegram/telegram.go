// Package telegram implements the Telegram Bot channel.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/caresense/plugin/chat_apps"
	"github.com/hrygo/caresense/plugin/chat_apps/channels"
)

const (
	// MaxMessageLength is the Telegram limit for one text message, in characters.
	MaxMessageLength = 4096

	// SecretTokenHeader carries the secret set with setWebhook.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// TelegramConfig holds configuration for the Telegram channel.
type TelegramConfig struct {
	BotToken string
	// WebhookSecret, when set, must match the secret token header of every webhook call.
	WebhookSecret string
	// APIEndpoint overrides tgbotapi.APIEndpoint.
	APIEndpoint string
	HTTPClient  *http.Client
}

// TelegramChannel implements ChatChannel for Telegram Bot API.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	config *TelegramConfig
}

// NewTelegramChannel creates a new Telegram channel. It calls getMe to verify the token.
func NewTelegramChannel(config *TelegramConfig) (*TelegramChannel, error) {
	if config == nil || config.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	endpoint := config.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(config.BotToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	slog.Info("telegram: bot authorized", "username", bot.Self.UserName)

	return &TelegramChannel{bot: bot, config: config}, nil
}

// Name returns the platform name.
func (t *TelegramChannel) Name() chat_apps.Platform {
	return chat_apps.PlatformTelegram
}

// ValidateWebhook checks the secret token header when a secret is configured.
func (t *TelegramChannel) ValidateWebhook(_ context.Context, headers map[string]string, _ []byte) error {
	if t.config.WebhookSecret == "" {
		return nil
	}
	got := headerValue(headers, SecretTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(t.config.WebhookSecret)) != 1 {
		slog.Warn("telegram: webhook secret mismatch")
		return channels.ErrInvalidSignature
	}
	return nil
}

// ParseMessage parses the incoming webhook payload into an IncomingMessage.
func (t *TelegramChannel) ParseMessage(_ context.Context, payload []byte) (*chat_apps.IncomingMessage, error) {
	return ParseUpdate(payload)
}

// ParseUpdate converts a raw Telegram update into an IncomingMessage.
func ParseUpdate(payload []byte) (*chat_apps.IncomingMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		slog.Warn("telegram: failed to parse webhook payload", "error", err)
		return nil, channels.ErrInvalidPayload
	}

	var tgMsg *tgbotapi.Message
	switch {
	case update.Message != nil:
		tgMsg = update.Message
	case update.EditedMessage != nil:
		tgMsg = update.EditedMessage
	default:
		return nil, channels.ErrInvalidPayload
	}
	if tgMsg.From == nil || tgMsg.Chat == nil {
		return nil, channels.ErrInvalidPayload
	}

	msg := &chat_apps.IncomingMessage{
		Platform:       chat_apps.PlatformTelegram,
		PlatformUserID: strconv.FormatInt(tgMsg.From.ID, 10),
		PlatformChatID: strconv.FormatInt(tgMsg.Chat.ID, 10),
		Type:           chat_apps.MessageTypeText,
		Content:        tgMsg.Text,
		IsGroup:        tgMsg.Chat.IsGroup() || tgMsg.Chat.IsSuperGroup(),
		SenderName:     strings.TrimSpace(tgMsg.From.FirstName + " " + tgMsg.From.LastName),
		Timestamp:      time.Now(),
		Metadata: map[string]string{
			"update_id":     strconv.Itoa(update.UpdateID),
			"message_id":    strconv.Itoa(tgMsg.MessageID),
			"username":      tgMsg.From.UserName,
			"language_code": tgMsg.From.LanguageCode,
		},
	}
	if tgMsg.Date > 0 {
		msg.Timestamp = tgMsg.Time()
	}
	if tgMsg.Voice != nil {
		msg.Type = chat_apps.MessageTypeAudio
		msg.Metadata["voice_file_id"] = tgMsg.Voice.FileID
	}
	if msg.Content == "" && msg.Type == chat_apps.MessageTypeText {
		msg.Content = tgMsg.Caption
	}
	return msg, nil
}

// SendMessage sends a message to Telegram, splitting texts over the length limit.
func (t *TelegramChannel) SendMessage(ctx context.Context, msg *chat_apps.OutgoingMessage) error {
	slog.Debug("telegram: sending message",
		"chat_id", msg.PlatformChatID,
		"type", msg.Type,
	)

	chatID, err := strconv.ParseInt(msg.PlatformChatID, 10, 64)
	if err != nil {
		slog.Error("telegram: invalid chat ID", "chat_id", msg.PlatformChatID, "error", err)
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	for _, part := range splitMessage(msg.Body(), MaxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		tgMsg := tgbotapi.NewMessage(chatID, part)
		if msg.ParseMode != "" {
			tgMsg.ParseMode = msg.ParseMode
		}
		if _, err := t.bot.Send(tgMsg); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// SetWebhook registers the webhook URL and secret with Telegram.
func (t *TelegramChannel) SetWebhook(webhookURL string) error {
	params := tgbotapi.Params{
		"url":                  webhookURL,
		"drop_pending_updates": "true",
	}
	if t.config.WebhookSecret != "" {
		params["secret_token"] = t.config.WebhookSecret
	}
	_, err := t.bot.MakeRequest("setWebhook", params)
	return err
}

// Close closes the Telegram channel.
func (t *TelegramChannel) Close() error {
	return nil
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// splitMessage cuts text into parts of at most limit characters, preferring line breaks.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

var _ channels.ChatChannel = (*TelegramChannel)(nil)
