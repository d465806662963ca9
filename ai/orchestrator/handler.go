// Package orchestrator runs one inbound message through the engine:
// classification, routing, handler execution, aggregation, alert evaluation
// and best-effort persistence of what happened.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/routing"
)

// ErrHandlerNotFound is returned by Registry.Get for unregistered names.
var ErrHandlerNotFound = errors.New("handler not found")

// Handler is a specialised unit the orchestrator dispatches to. Handlers must
// be stateless with respect to routing; routing metadata arrives on the
// context's message metadata.
type Handler interface {
	Name() routing.HandlerName
	Handle(ctx context.Context, pc *conversation.ProcessingContext) (*HandlerResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	HandlerName routing.HandlerName
	Fn          func(ctx context.Context, pc *conversation.ProcessingContext) (*HandlerResult, error)
}

func (h HandlerFunc) Name() routing.HandlerName { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, pc *conversation.ProcessingContext) (*HandlerResult, error) {
	return h.Fn(ctx, pc)
}

// HandlerResult is the outcome of one handler invocation. A result is either
// successful with Data or failed with Error; the executor normalizes anything else.
type HandlerResult struct {
	Handler  routing.HandlerName `json:"handler"`
	Success  bool                `json:"success"`
	Data     map[string]any      `json:"data,omitempty"`
	Error    string              `json:"error,omitempty"`
	Elapsed  time.Duration       `json:"elapsed"`
	Metadata map[string]any      `json:"metadata,omitempty"`
}

// Succeed builds a successful result.
func Succeed(data map[string]any) *HandlerResult {
	return &HandlerResult{Success: true, Data: data}
}

// Fail builds a failed result.
func Fail(format string, args ...any) *HandlerResult {
	return &HandlerResult{Error: fmt.Sprintf(format, args...)}
}

// normalize fixes the handler name and elapsed time, and makes sure the
// result is either fully successful or failed with a message.
func normalize(name routing.HandlerName, res *HandlerResult, err error, elapsed time.Duration) *HandlerResult {
	switch {
	case err != nil:
		msg := err.Error()
		var meta map[string]any
		if res != nil {
			meta = res.Metadata
		}
		res = &HandlerResult{Error: msg, Metadata: meta}
	case res == nil:
		res = &HandlerResult{Error: "handler returned no result"}
	}

	out := *res
	out.Handler = name
	out.Elapsed = elapsed
	if out.Success {
		out.Error = ""
		if out.Data == nil {
			out.Data = map[string]any{}
		}
	} else {
		out.Data = nil
		if out.Error == "" {
			out.Error = "handler reported failure"
		}
	}
	return &out
}

// Registry holds the live handlers. It is written at startup and read per request.
type Registry struct {
	mu       sync.RWMutex
	handlers map[routing.HandlerName]Handler
}

// NewRegistry creates a registry with the given handlers.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[routing.HandlerName]Handler)}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds h. Names must be known handler names and unique.
func (r *Registry) Register(h Handler) error {
	name := h.Name()
	if !name.IsKnown() {
		return fmt.Errorf("register handler: unknown name %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[name]; dup {
		return fmt.Errorf("register handler: %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Get returns the handler registered under name.
func (r *Registry) Get(name routing.HandlerName) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return h, nil
}

// Has implements routing.HandlerSet.
func (r *Registry) Has(name routing.HandlerName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []routing.HandlerName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]routing.HandlerName, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
