// Package alertbus publishes caregiver alerts on NATS so other services
// (paging, dashboards, audit) can react to them.
package alertbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "caresense.alerts"

// Event is the payload published for every fired alert.
type Event struct {
	UID        string    `json:"uid"`
	PatientID  string    `json:"patient_id"`
	Trigger    string    `json:"trigger"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	TraceID    string    `json:"trace_id,omitempty"`
	Recipients []string  `json:"recipients,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// Publisher publishes alert events. A nil *Publisher is a no-op.
type Publisher struct {
	conn    Conn
	subject string

	mu     sync.Mutex
	closed bool
}

// Connect dials NATS at url and returns a publisher on subject.
func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("caresense-alerts"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("alertbus: disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("alertbus: reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return New(nc, subject), nil
}

// New wraps an established connection.
func New(conn Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

// Subject returns the subject events are published on.
func (p *Publisher) Subject() string {
	if p == nil {
		return ""
	}
	return p.subject
}

// Publish sends ev. NATS publish does not take a context, so ctx is checked first.
func (p *Publisher) Publish(ctx context.Context, ev *Event) error {
	if p == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("alert publisher closed")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish alert event: %w", err)
	}
	return nil
}

// Close flushes pending events and drains the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		slog.Warn("alertbus: flush before close failed", "error", err)
	}
	return p.conn.Drain()
}
