package orchestrator

import "github.com/hrygo/caresense/ai/routing"

// AggregatedResult partitions handler results and merges successful payloads.
type AggregatedResult struct {
	Successes []*HandlerResult `json:"successes"`
	Failures  []*HandlerResult `json:"failures"`

	// Combined is the shallow merge of successful payloads in execution order.
	// Later handlers overwrite earlier keys.
	Combined map[string]any `json:"combined"`

	// Alert is the alert handler's result when an alert fired.
	Alert *HandlerResult `json:"alert,omitempty"`
}

// Aggregate partitions results by success and merges successful payloads.
func Aggregate(results []*HandlerResult) *AggregatedResult {
	agg := &AggregatedResult{
		Successes: make([]*HandlerResult, 0, len(results)),
		Failures:  make([]*HandlerResult, 0),
		Combined:  make(map[string]any),
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Success {
			agg.Successes = append(agg.Successes, r)
			for k, v := range r.Data {
				agg.Combined[k] = v
			}
		} else {
			agg.Failures = append(agg.Failures, r)
		}
	}
	return agg
}

// HasSuccess reports whether any handler succeeded.
func (a *AggregatedResult) HasSuccess() bool {
	return len(a.Successes) > 0
}

// Succeeded reports whether the named handler is among the successes.
func (a *AggregatedResult) Succeeded(name routing.HandlerName) bool {
	for _, r := range a.Successes {
		if r.Handler == name {
			return true
		}
	}
	return false
}

// Ran reports whether the named handler produced any result.
func (a *AggregatedResult) Ran(name routing.HandlerName) bool {
	if a.Succeeded(name) {
		return true
	}
	for _, r := range a.Failures {
		if r.Handler == name {
			return true
		}
	}
	return false
}

// Errors returns the error of every failed handler.
func (a *AggregatedResult) Errors() []string {
	out := make([]string, 0, len(a.Failures))
	for _, r := range a.Failures {
		out = append(out, string(r.Handler)+": "+r.Error)
	}
	return out
}

// Reply returns the combined "reply" payload, if any.
func (a *AggregatedResult) Reply() string {
	s, _ := a.Combined["reply"].(string)
	return s
}

// merge appends more results, keeping execution order.
func (a *AggregatedResult) merge(results []*HandlerResult) {
	more := Aggregate(results)
	a.Successes = append(a.Successes, more.Successes...)
	a.Failures = append(a.Failures, more.Failures...)
	for k, v := range more.Combined {
		a.Combined[k] = v
	}
}
