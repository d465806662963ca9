package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/store"
)

// LogWriter is the append-only conversation log store. *store.Store satisfies it.
type LogWriter interface {
	CreateConversationLog(ctx context.Context, create *store.ConversationLog) (*store.ConversationLog, error)
}

// Diagnostic describes a swallowed best-effort failure.
type Diagnostic struct {
	Operation string
	Err       error
	TraceID   string
	At        time.Time
}

// RecorderConfig configures the recorder.
type RecorderConfig struct {
	// WriteTimeout bounds each background write (default: 5s).
	WriteTimeout time.Duration
	// DiagnosticBuffer is the diagnostics channel capacity (default: 64).
	DiagnosticBuffer int
}

// Recorder writes conversation turns in the background. Failures never reach
// the caller; they are logged and offered to the Diagnostics channel, which
// drops entries when full.
type Recorder struct {
	writer      LogWriter
	metrics     *metrics.PrometheusExporter
	timeout     time.Duration
	diagnostics chan Diagnostic
	wg          sync.WaitGroup
	now         func() time.Time
}

// NewRecorder creates a recorder. A nil writer disables recording.
func NewRecorder(writer LogWriter, cfg RecorderConfig, exporter *metrics.PrometheusExporter) *Recorder {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.DiagnosticBuffer <= 0 {
		cfg.DiagnosticBuffer = 64
	}
	return &Recorder{
		writer:      writer,
		metrics:     exporter,
		timeout:     cfg.WriteTimeout,
		diagnostics: make(chan Diagnostic, cfg.DiagnosticBuffer),
		now:         time.Now,
	}
}

// Diagnostics exposes swallowed failures for local inspection.
func (r *Recorder) Diagnostics() <-chan Diagnostic {
	return r.diagnostics
}

// Record writes the logs asynchronously. The writes are detached from ctx
// cancellation so a finished request does not abort them.
func (r *Recorder) Record(ctx context.Context, traceID string, logs ...*store.ConversationLog) {
	if r == nil || r.writer == nil || len(logs) == 0 {
		return
	}
	bgCtx := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.report("conversation_log", traceID, fmt.Errorf("recorder panic: %v", p))
			}
		}()

		for _, l := range logs {
			if l.TraceID == "" {
				l.TraceID = traceID
			}
			if l.CreatedTs == 0 {
				l.CreatedTs = r.now().Unix()
			}
			writeCtx, cancel := context.WithTimeout(bgCtx, r.timeout)
			_, err := r.writer.CreateConversationLog(writeCtx, l)
			cancel()
			if err != nil {
				r.report("conversation_log", traceID, err)
			}
		}
	}()
}

// Wait blocks until every pending write finished. Used at shutdown and in tests.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

func (r *Recorder) report(op, traceID string, err error) {
	slog.Warn("recorder: best-effort write failed",
		"operation", op,
		"trace_id", traceID,
		"error", err)
	r.metrics.RecordBestEffortFailure(op)

	select {
	case r.diagnostics <- Diagnostic{Operation: op, Err: err, TraceID: traceID, At: r.now()}:
	default:
	}
}
