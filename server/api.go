package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/plugin/chat_apps"
	"github.com/hrygo/caresense/plugin/chat_apps/channels"
	"github.com/hrygo/caresense/store"
)

// messageRequest is the body of POST /api/v1/messages.
type messageRequest struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	SenderID       string         `json:"sender_id"`
	PatientID      string         `json:"patient_id"`
	SessionID      string         `json:"session_id"`
	Source         string         `json:"source"`
	GroupID        string         `json:"group_id"`
	ActorID        string         `json:"actor_id"`
	ActorName      string         `json:"actor_name"`
	VoiceConfirmed bool           `json:"voice_confirmed"`
	Metadata       map[string]any `json:"metadata"`
}

func (s *Server) handleMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	if claims := claimsFrom(c); claims != nil {
		if req.SenderID == "" {
			req.SenderID = claims.Subject
		}
		if claims.PatientID != "" {
			if req.PatientID != "" && req.PatientID != claims.PatientID {
				return echo.NewHTTPError(http.StatusForbidden, "token is not valid for this patient")
			}
			req.PatientID = claims.PatientID
		}
	}

	msg := &conversation.Message{
		ID:      req.ID,
		Content: req.Content,
		Context: conversation.MessageContext{
			SenderID:       req.SenderID,
			PatientID:      req.PatientID,
			SessionID:      req.SessionID,
			Source:         conversation.ParseSource(req.Source),
			GroupID:        req.GroupID,
			ActorID:        req.ActorID,
			ActorName:      req.ActorName,
			VoiceConfirmed: req.VoiceConfirmed,
			CreatedAt:      time.Now(),
		},
		Metadata: req.Metadata,
	}

	resp := s.deps.Processor.Process(c.Request().Context(), msg)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, resp)
}

// handleWebhook validates and parses a chat platform webhook, acknowledges it
// right away and processes the message in the background.
func (s *Server) handleWebhook(c echo.Context) error {
	platform, ok := chat_apps.ParsePlatform(c.Param("platform"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown platform")
	}
	if s.deps.Channels == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no chat channels configured")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	headers := make(map[string]string, len(c.Request().Header))
	for k := range c.Request().Header {
		headers[k] = c.Request().Header.Get(k)
	}

	ctx := c.Request().Context()
	record := func(event string) { s.deps.Metrics.RecordWebhook(string(platform), event) }
	record(metrics.WebhookReceived)

	in, err := s.deps.Channels.HandleWebhook(ctx, platform, headers, body)
	switch {
	case errors.Is(err, channels.ErrInvalidSignature):
		record(metrics.WebhookRejected)
		return echo.NewHTTPError(http.StatusUnauthorized, "webhook validation failed")
	case errors.Is(err, channels.ErrNoChannelForPlatform):
		record(metrics.WebhookRejected)
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("platform %s not configured", platform))
	case errors.Is(err, channels.ErrInvalidPayload):
		// Unsupported update kinds are acknowledged so the platform stops retrying them.
		record(metrics.WebhookIgnored)
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "ignored": true})
	case err != nil:
		record(metrics.WebhookParseError)
		slog.Warn("failed to handle webhook", "platform", platform, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "failed to parse message")
	}
	if strings.TrimSpace(in.Content) == "" {
		record(metrics.WebhookIgnored)
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "ignored": true})
	}

	msg := s.toMessage(ctx, in)
	s.wg.Add(1)
	go s.processChatMessage(context.WithoutCancel(ctx), platform, in.PlatformChatID, msg)

	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) processChatMessage(ctx context.Context, platform chat_apps.Platform, chatID string, msg *conversation.Message) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing chat message", "platform", platform, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, s.webhookTimeout)
	defer cancel()

	resp := s.deps.Processor.Process(ctx, msg)
	if resp.Reply == "" {
		return
	}
	err := s.deps.Channels.SendResponse(ctx, platform, &chat_apps.OutgoingMessage{
		PlatformChatID: chatID,
		Type:           chat_apps.MessageTypeText,
		Content:        resp.Reply,
	})
	if err != nil {
		s.deps.Metrics.RecordWebhook(string(platform), metrics.WebhookReplyError)
		slog.Warn("failed to send chat reply",
			"platform", platform,
			"chat_id", chatID,
			"trace_id", resp.TraceID,
			"error", err,
		)
		return
	}
	s.deps.Metrics.RecordWebhook(string(platform), metrics.WebhookReplied)
}

// toMessage maps a chat platform message onto the engine's message model.
func (s *Server) toMessage(ctx context.Context, in *chat_apps.IncomingMessage) *conversation.Message {
	msg := &conversation.Message{
		Content: in.Content,
		Context: conversation.MessageContext{
			SenderID:  in.PlatformUserID,
			PatientID: s.bindPatient(ctx, in),
			SessionID: string(in.Platform) + ":" + in.PlatformChatID,
			CreatedAt: in.Timestamp,
			Source:    conversation.SourceDirect,
		},
		Metadata: map[string]any{"platform": string(in.Platform)},
	}
	if id := in.Metadata["message_id"]; id != "" {
		msg.ID = fmt.Sprintf("%s-%s-%s", in.Platform, in.PlatformChatID, id)
	}
	for k, v := range in.Metadata {
		msg.Metadata[k] = v
	}
	switch {
	case in.IsGroup:
		msg.Context.Source = conversation.SourceGroup
		msg.Context.GroupID = in.PlatformChatID
		msg.Context.ActorID = in.PlatformUserID
		msg.Context.ActorName = in.SenderName
	case in.Type == chat_apps.MessageTypeAudio:
		msg.Context.Source = conversation.SourceVoice
	}
	return msg
}

// bindPatient finds the patient whose caregiver list contains the sender on
// this platform. Group chats bind by chat id, direct chats by user or chat id.
func (s *Server) bindPatient(ctx context.Context, in *chat_apps.IncomingMessage) string {
	if s.deps.Patients == nil {
		return ""
	}
	patients, err := s.deps.Patients.ListPatients(ctx, &store.FindPatient{})
	if err != nil {
		slog.Warn("failed to list patients for chat binding", "platform", in.Platform, "error", err)
		return ""
	}
	for _, p := range patients {
		for _, c := range p.Caregivers {
			platform, ok := chat_apps.ParsePlatform(c.Channel)
			if !ok || platform != in.Platform {
				continue
			}
			if c.Recipient == in.PlatformChatID || (!in.IsGroup && c.Recipient == in.PlatformUserID) {
				return p.UID
			}
		}
	}
	slog.Info("chat sender is not bound to a patient", "platform", in.Platform, "chat_id", in.PlatformChatID)
	return ""
}
