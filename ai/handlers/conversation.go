package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/ai/orchestrator"
	"github.com/hrygo/caresense/ai/routing"
)

const conversationHistoryTurns = 8

// ConversationHandler answers greetings and general chat.
type ConversationHandler struct {
	llm     llm.Service
	metrics *metrics.PrometheusExporter
}

func NewConversation(svc llm.Service, exporter *metrics.PrometheusExporter) *ConversationHandler {
	return &ConversationHandler{llm: svc, metrics: exporter}
}

func (h *ConversationHandler) Name() routing.HandlerName { return routing.HandlerConversation }

// Handle replies through the model, or with a canned line when no model is configured.
func (h *ConversationHandler) Handle(ctx context.Context, pc *conversation.ProcessingContext) (*orchestrator.HandlerResult, error) {
	if h.llm == nil {
		return orchestrator.Succeed(map[string]any{"reply": cannedReply(pc)}), nil
	}

	content, err := complete(ctx, h.llm, h.metrics, llm.Request{
		Messages:    llm.FormatMessages(conversationSystemPrompt, userPrompt(pc), historyMessages(pc.History, conversationHistoryTurns)),
		MaxTokens:   256,
		Temperature: llm.Temperature(0.7),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation reply: %w", err)
	}
	reply := strings.TrimSpace(content)
	if reply == "" {
		reply = cannedReply(pc)
	}
	return orchestrator.Succeed(map[string]any{"reply": reply}), nil
}

func cannedReply(pc *conversation.ProcessingContext) string {
	name := patientLabel(pc)
	switch intentOf(pc) {
	case routing.IntentGreeting:
		return fmt.Sprintf("Hello! How is %s doing today?", name)
	case routing.IntentEmergency:
		return fmt.Sprintf("If %s is in danger, call your local emergency number now. I'm letting the family know.", name)
	}
	return fmt.Sprintf("I'm here to help you care for %s. Tell me about medications, readings, meals, sleep or how they are feeling.", name)
}
