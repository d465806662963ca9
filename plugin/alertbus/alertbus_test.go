package alertbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *recordingConn) FlushTimeout(time.Duration) error { return nil }

func (c *recordingConn) Drain() error {
	c.drained = true
	return nil
}

func TestPublish(t *testing.T) {
	conn := &recordingConn{}
	p := New(conn, "")
	assert.Equal(t, DefaultSubject, p.Subject())

	ev := &Event{UID: "a1", PatientID: "p1", Trigger: "flag", Severity: "critical", Message: "BP 185/100", Recipients: []string{"42"}}
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, conn.payloads, 1)
	assert.Equal(t, DefaultSubject, conn.subjects[0])
	var got Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, "a1", got.UID)
	assert.Equal(t, []string{"42"}, got.Recipients)
}

func TestPublish_Errors(t *testing.T) {
	conn := &recordingConn{err: errors.New("nats: connection closed")}
	p := New(conn, "alerts.test")
	assert.ErrorContains(t, p.Publish(context.Background(), &Event{}), "connection closed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.Publish(ctx, &Event{}))

	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
	assert.Error(t, p.Publish(context.Background(), &Event{}), "closed publishers reject events")
	assert.NoError(t, p.Close())
}

func TestNilPublisher(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.Publish(context.Background(), &Event{}))
	assert.NoError(t, p.Close())
	assert.Empty(t, p.Subject())
}
