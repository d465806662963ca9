package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/caresense/plugin/chat_apps"
)

type fakeChannel struct {
	platform    chat_apps.Platform
	validateErr error
	parseErr    error
	sendErr     error
	sent        []*chat_apps.OutgoingMessage
	closed      int
}

func (f *fakeChannel) Name() chat_apps.Platform { return f.platform }

func (f *fakeChannel) ValidateWebhook(context.Context, map[string]string, []byte) error {
	return f.validateErr
}

func (f *fakeChannel) ParseMessage(_ context.Context, payload []byte) (*chat_apps.IncomingMessage, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return &chat_apps.IncomingMessage{Platform: f.platform, Content: string(payload)}, nil
}

func (f *fakeChannel) SendMessage(_ context.Context, msg *chat_apps.OutgoingMessage) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed++
	return nil
}

func TestChannelRouter_HandleWebhook(t *testing.T) {
	ctx := context.Background()
	r := NewChannelRouter()

	_, err := r.HandleWebhook(ctx, chat_apps.PlatformTelegram, nil, []byte("hi"))
	assert.ErrorIs(t, err, ErrNoChannelForPlatform)

	ch := &fakeChannel{platform: chat_apps.PlatformTelegram}
	r.Register(ch)
	in, err := r.HandleWebhook(ctx, chat_apps.PlatformTelegram, nil, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi", in.Content)

	ch.validateErr = ErrInvalidSignature
	_, err = r.HandleWebhook(ctx, chat_apps.PlatformTelegram, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	ch.validateErr = nil
	ch.parseErr = errors.New("unexpected end of JSON input")
	_, err = r.HandleWebhook(ctx, chat_apps.PlatformTelegram, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Contains(t, err.Error(), "telegram: INVALID_PAYLOAD")
}

func TestChannelRouter_SendResponse(t *testing.T) {
	ctx := context.Background()
	r := NewChannelRouter()
	ch := &fakeChannel{platform: chat_apps.PlatformTelegram}
	r.Register(ch)

	require.NoError(t, r.SendResponse(ctx, chat_apps.PlatformTelegram, &chat_apps.OutgoingMessage{PlatformChatID: "42", Content: "ok"}))
	assert.Len(t, ch.sent, 1)

	err := r.SendResponse(ctx, chat_apps.PlatformTelegram, &chat_apps.OutgoingMessage{Content: "no chat"})
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	boom := errors.New("boom")
	ch.sendErr = boom
	err = r.SendResponse(ctx, chat_apps.PlatformTelegram, &chat_apps.OutgoingMessage{PlatformChatID: "42"})
	assert.ErrorIs(t, err, boom)
	var ce *ChannelError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeSendFailed, ce.Code)
}

func TestChannelRouter_RegisterAndClose(t *testing.T) {
	r := NewChannelRouter()
	first := &fakeChannel{platform: chat_apps.PlatformTelegram}
	second := &fakeChannel{platform: chat_apps.PlatformTelegram}
	web := &fakeChannel{platform: chat_apps.PlatformWeb}

	r.Register(first)
	r.Register(second)
	r.Register(web)
	assert.Equal(t, 1, first.closed)
	assert.Same(t, second, r.Channel(chat_apps.PlatformTelegram))
	assert.Equal(t, []chat_apps.Platform{chat_apps.PlatformTelegram, chat_apps.PlatformWeb}, r.Platforms())

	require.NoError(t, r.Close())
	assert.Equal(t, 1, second.closed)
	assert.Equal(t, 1, web.closed)
	assert.Empty(t, r.Platforms())
}
