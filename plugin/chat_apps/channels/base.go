// Package channels defines the chat platform integration contract and the
// router the engine receives webhooks and delivers replies through.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hrygo/caresense/plugin/chat_apps"
)

// ChatChannel is one chat platform integration.
type ChatChannel interface {
	Name() chat_apps.Platform

	// ValidateWebhook authenticates an incoming webhook delivery.
	ValidateWebhook(ctx context.Context, headers map[string]string, body []byte) error

	// ParseMessage turns a webhook payload into an IncomingMessage.
	// Unsupported update kinds return ErrInvalidPayload.
	ParseMessage(ctx context.Context, payload []byte) (*chat_apps.IncomingMessage, error)

	SendMessage(ctx context.Context, msg *chat_apps.OutgoingMessage) error

	Close() error
}

// ErrorCode classifies channel failures.
type ErrorCode string

const (
	CodeNoChannel        ErrorCode = "NO_CHANNEL"
	CodeInvalidSignature ErrorCode = "INVALID_SIGNATURE"
	CodeInvalidPayload   ErrorCode = "INVALID_PAYLOAD"
	CodeInvalidRecipient ErrorCode = "INVALID_RECIPIENT"
	CodeSendFailed       ErrorCode = "SEND_FAILED"
)

// ChannelError is a classified channel failure. errors.Is matches by code.
type ChannelError struct {
	Code     ErrorCode
	Platform chat_apps.Platform
	Err      error
}

func (e *ChannelError) Error() string {
	msg := string(e.Code)
	if e.Platform != "" {
		msg = string(e.Platform) + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ChannelError) Unwrap() error { return e.Err }

func (e *ChannelError) Is(target error) bool {
	t, ok := target.(*ChannelError)
	return ok && t.Code == e.Code
}

var (
	ErrNoChannelForPlatform = &ChannelError{Code: CodeNoChannel}
	ErrInvalidSignature     = &ChannelError{Code: CodeInvalidSignature}
	ErrInvalidPayload       = &ChannelError{Code: CodeInvalidPayload}
	ErrInvalidRecipient     = &ChannelError{Code: CodeInvalidRecipient}
)

// ChannelRouter dispatches webhooks and replies to the channel registered for
// each platform. Safe for concurrent use.
type ChannelRouter struct {
	mu       sync.RWMutex
	channels map[chat_apps.Platform]ChatChannel
}

// NewChannelRouter returns an empty router.
func NewChannelRouter() *ChannelRouter {
	return &ChannelRouter{channels: make(map[chat_apps.Platform]ChatChannel)}
}

// Register installs ch, replacing any channel for the same platform.
func (r *ChannelRouter) Register(ch ChatChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.channels[ch.Name()]; ok && old != ch {
		if err := old.Close(); err != nil {
			slog.Warn("channels: closing replaced channel", "platform", ch.Name(), "error", err)
		}
	}
	r.channels[ch.Name()] = ch
}

// Channel returns the channel for platform, or nil.
func (r *ChannelRouter) Channel(platform chat_apps.Platform) ChatChannel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[platform]
}

// Platforms lists the registered platforms in name order.
func (r *ChannelRouter) Platforms() []chat_apps.Platform {
	r.mu.RLock()
	out := make([]chat_apps.Platform, 0, len(r.channels))
	for p := range r.channels {
		out = append(out, p)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// HandleWebhook authenticates and parses one webhook delivery. Parse failures
// that are not already classified are reported as ErrInvalidPayload.
func (r *ChannelRouter) HandleWebhook(ctx context.Context, platform chat_apps.Platform, headers map[string]string, body []byte) (*chat_apps.IncomingMessage, error) {
	ch := r.Channel(platform)
	if ch == nil {
		return nil, ErrNoChannelForPlatform
	}
	if err := ch.ValidateWebhook(ctx, headers, body); err != nil {
		return nil, err
	}
	in, err := ch.ParseMessage(ctx, body)
	if err != nil {
		var ce *ChannelError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &ChannelError{Code: CodeInvalidPayload, Platform: platform, Err: err}
	}
	return in, nil
}

// SendResponse delivers msg on platform.
func (r *ChannelRouter) SendResponse(ctx context.Context, platform chat_apps.Platform, msg *chat_apps.OutgoingMessage) error {
	ch := r.Channel(platform)
	if ch == nil {
		return ErrNoChannelForPlatform
	}
	if msg == nil || msg.PlatformChatID == "" {
		return &ChannelError{Code: CodeInvalidRecipient, Platform: platform}
	}
	if err := ch.SendMessage(ctx, msg); err != nil {
		slog.Warn("channels: send failed", "platform", platform, "chat_id", msg.PlatformChatID, "error", err)
		return &ChannelError{Code: CodeSendFailed, Platform: platform, Err: err}
	}
	return nil
}

// Close closes every registered channel and returns the first error.
func (r *ChannelRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for p, ch := range r.channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s channel: %w", p, err)
		}
	}
	clear(r.channels)
	return firstErr
}

