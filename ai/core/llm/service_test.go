package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil config", nil, true},
		{"missing model", &Config{Provider: "deepseek"}, true},
		{"unknown provider without base url", &Config{Provider: "acme", Model: "m"}, true},
		{"unknown provider with base url", &Config{Provider: "acme", Model: "m", BaseURL: "http://localhost:9999/v1"}, false},
		{"deepseek defaults", &Config{Provider: "deepseek", Model: "deepseek-chat", APIKey: "k"}, false},
		{"openai", &Config{Provider: "openai", Model: "gpt-4o-mini", APIKey: "k"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}

func TestNewService_Defaults(t *testing.T) {
	svc, err := NewService(&Config{Provider: "deepseek", Model: "deepseek-chat"})
	require.NoError(t, err)

	s, ok := svc.(*service)
	require.True(t, ok)
	assert.Equal(t, 1024, s.maxTokens)
	assert.Equal(t, float32(0.3), s.temperature)
	assert.Nil(t, s.limiter)
}

func newFakeProvider(t *testing.T, content string, choices int, calls *atomic.Int32, lastReq *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if lastReq != nil {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			*lastReq = body
		}
		resp := map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"usage":  map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
		}
		list := make([]map[string]any, 0, choices)
		for i := 0; i < choices; i++ {
			list = append(list, map[string]any{
				"index":         i,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			})
		}
		resp["choices"] = list
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestComplete_Success(t *testing.T) {
	var calls atomic.Int32
	var body map[string]any
	srv := newFakeProvider(t, `{"intent":"greeting"}`, 1, &calls, &body)
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", Model: "default-model", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := svc.Complete(context.Background(), Request{
		Model:       "classifier-model",
		Messages:    FormatMessages("classify", "hello", nil),
		MaxTokens:   64,
		Temperature: Temperature(0.1),
	})
	require.NoError(t, err)

	assert.Equal(t, `{"intent":"greeting"}`, out.Content)
	assert.Equal(t, "classifier-model", out.Model)
	assert.Equal(t, 17, out.Usage.TotalTokens)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "classifier-model", body["model"])
	assert.EqualValues(t, 64, body["max_tokens"])

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	first, _ := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestComplete_ZeroTemperatureIsSent(t *testing.T) {
	var calls atomic.Int32
	var body map[string]any
	srv := newFakeProvider(t, "ok", 1, &calls, &body)
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), Request{
		Messages:    []Message{UserMessage("hi")},
		Temperature: Temperature(0),
	})
	require.NoError(t, err)

	require.Contains(t, body, "temperature")
	temp, ok := body["temperature"].(float64)
	require.True(t, ok)
	assert.Greater(t, temp, 0.0)
	assert.InDelta(t, 0.0, temp, 1e-9)
}

func TestComplete_EmptyChoices(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeProvider(t, "", 0, &calls, nil)
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestComplete_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM completion failed")
}

func TestComplete_RateLimitHonoursContext(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeProvider(t, "ok", 1, &calls, nil)
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", Model: "m", BaseURL: srv.URL, RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), Request{Messages: []Message{UserMessage("one")}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Complete(ctx, Request{Messages: []Message{UserMessage("two")}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConvertMessages_Roles(t *testing.T) {
	out := convertMessages([]Message{
		SystemPrompt("s"), UserMessage("u"), AssistantMessage("a"), {Role: "tool", Content: "x"},
	})
	require.Len(t, out, 4)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "user", out[1].Role)
	assert.Equal(t, "assistant", out[2].Role)
	assert.Equal(t, "user", out[3].Role)
}

func TestFormatMessages(t *testing.T) {
	history := []Message{UserMessage("earlier"), AssistantMessage("reply")}
	msgs := FormatMessages("", "now", history)
	require.Len(t, msgs, 3)
	assert.Equal(t, "now", msgs[2].Content)
}
