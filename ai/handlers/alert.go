package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/caresense/ai/action"
	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/internal/strutil"
	"github.com/hrygo/caresense/ai/orchestrator"
	"github.com/hrygo/caresense/ai/routing"
	"github.com/hrygo/caresense/plugin/alertbus"
	"github.com/hrygo/caresense/plugin/chat_apps"
	"github.com/hrygo/caresense/store"
)

// AlertHandler notifies the patient's caregivers. Persistence, delivery and
// publishing are best effort; their failures are logged and never change
// the result.
type AlertHandler struct {
	store   AlertStore
	gateway Gateway
	bus     EventPublisher
	now     func() time.Time
	newUID  func() string
}

func NewAlert(st AlertStore, gateway Gateway, bus EventPublisher) *AlertHandler {
	return &AlertHandler{store: st, gateway: gateway, bus: bus, now: time.Now, newUID: uuid.NewString}
}

func (h *AlertHandler) Name() routing.HandlerName { return routing.HandlerAlert }

func (h *AlertHandler) Handle(ctx context.Context, pc *conversation.ProcessingContext) (*orchestrator.HandlerResult, error) {
	trigger := metaString(pc, orchestrator.MetaAlertTrigger)
	if trigger == "" {
		trigger = "intent"
	}
	reason := metaString(pc, orchestrator.MetaAlertReason)
	payload := metaMap(pc, orchestrator.MetaAlertPayload)
	severity := alertSeverity(trigger, intentOf(pc), payload)

	var contacts []conversation.Contact
	if pc.Patient != nil {
		contacts = pc.Patient.Caregivers
	}
	names := make([]string, 0, len(contacts))
	recipients := make([]string, 0, len(contacts))
	for _, c := range contacts {
		names = append(names, firstNonEmpty(c.Name, c.Recipient))
		recipients = append(recipients, c.Recipient)
	}

	uid := h.newUID()
	now := h.now()
	message := alertMessage(pc, reason, payload)

	slog.Warn("handlers: alert fired",
		"trace_id", traceOf(pc),
		"alert_uid", uid,
		"trigger", trigger,
		"severity", severity,
		"recipients", len(contacts),
	)

	h.persist(ctx, &store.AlertRecord{
		UID:        uid,
		PatientUID: pc.PatientID(),
		Trigger:    trigger,
		Severity:   string(severity),
		Message:    message,
		TraceID:    traceOf(pc),
		Recipients: recipients,
		CreatedTs:  now.Unix(),
	})
	h.deliver(ctx, pc, contacts, alertCard(pc, severity, message, now))
	h.publish(ctx, &alertbus.Event{
		UID:        uid,
		PatientID:  pc.PatientID(),
		Trigger:    trigger,
		Severity:   string(severity),
		Message:    message,
		TraceID:    traceOf(pc),
		Recipients: recipients,
		CreatedAt:  now,
	})

	return orchestrator.Succeed(map[string]any{
		"reply":     alertReply(pc, severity, names),
		"alert_uid": uid,
		"severity":  string(severity),
		"notified":  names,
	}), nil
}

func (h *AlertHandler) persist(ctx context.Context, rec *store.AlertRecord) {
	if h.store == nil {
		return
	}
	if _, err := h.store.CreateAlertRecord(ctx, rec); err != nil {
		slog.Warn("handlers: failed to persist alert", "alert_uid", rec.UID, "error", err)
	}
}

func (h *AlertHandler) deliver(ctx context.Context, pc *conversation.ProcessingContext, contacts []conversation.Contact, card *chat_apps.Card) {
	if h.gateway == nil {
		return
	}
	for _, c := range contacts {
		platform, ok := chat_apps.ParsePlatform(c.Channel)
		if !ok || c.Recipient == "" {
			slog.Warn("handlers: skipping unreachable contact", "contact", c.Name, "channel", c.Channel)
			continue
		}
		err := h.gateway.SendResponse(ctx, platform, &chat_apps.OutgoingMessage{
			PlatformChatID: c.Recipient,
			Type:           chat_apps.MessageTypeCard,
			Card:           card,
		})
		if err != nil {
			slog.Warn("handlers: alert delivery failed",
				"trace_id", traceOf(pc),
				"contact", c.Name,
				"platform", platform,
				"error", err,
			)
		}
	}
}

func (h *AlertHandler) publish(ctx context.Context, ev *alertbus.Event) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, ev); err != nil {
		slog.Warn("handlers: failed to publish alert event", "alert_uid", ev.UID, "error", err)
	}
}

// alertSeverity is critical for emergencies, markers and critical readings.
func alertSeverity(trigger string, intent routing.Intent, payload map[string]any) action.Severity {
	if trigger == string(orchestrator.TriggerMarker) || intent == routing.IntentEmergency {
		return action.SeverityCritical
	}
	if v, ok := payload["emergency"].(bool); ok && v {
		return action.SeverityCritical
	}
	if alerts, ok := payload["abnormal"].([]action.AbnormalAlert); ok && action.Critical(alerts) {
		return action.SeverityCritical
	}
	if v, ok := payload["alert"].(bool); ok && v {
		return action.SeverityCritical
	}
	return action.SeverityWarning
}

func alertMessage(pc *conversation.ProcessingContext, reason string, payload map[string]any) string {
	var parts []string
	if alerts, ok := payload["abnormal"].([]action.AbnormalAlert); ok {
		for _, a := range alerts {
			parts = append(parts, a.Message)
		}
	}
	if len(parts) == 0 && reason != "" {
		parts = append(parts, reason)
	}
	parts = append(parts, fmt.Sprintf("Message: %q", strutil.Truncate(pc.Message.AttributedContent(), 200)))
	return strings.Join(parts, "\n")
}

func alertCard(pc *conversation.ProcessingContext, severity action.Severity, message string, at time.Time) *chat_apps.Card {
	fields := []chat_apps.CardField{
		{Label: "Severity", Value: string(severity)},
		{Label: "Time", Value: at.Format("Jan 2 15:04")},
	}
	if sender := firstNonEmpty(pc.Message.Context.ActorName, pc.Message.Context.SenderID); sender != "" {
		fields = append(fields, chat_apps.CardField{Label: "Reported by", Value: sender})
	}
	fields = append(fields, chat_apps.CardField{Label: "Details", Value: message})
	return &chat_apps.Card{
		Kind:   "alert",
		Title:  "Alert for " + patientLabel(pc),
		Fields: fields,
		Footer: "Please check in as soon as you can.",
	}
}

func alertReply(pc *conversation.ProcessingContext, severity action.Severity, names []string) string {
	var b strings.Builder
	if len(names) > 0 {
		fmt.Fprintf(&b, "I've alerted %s.", joinNames(names))
	} else {
		b.WriteString("There is no family contact on file to alert.")
	}
	if severity == action.SeverityCritical {
		fmt.Fprintf(&b, " If %s is in immediate danger, call your local emergency number now.", patientLabel(pc))
	}
	return b.String()
}

func joinNames(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
