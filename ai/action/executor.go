package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/ai/nlu"
	"github.com/hrygo/caresense/store"
)

// Persistence is the record store an Executor writes to. *store.Store satisfies it.
type Persistence interface {
	CreateHealthRecord(ctx context.Context, create *store.HealthRecord) (*store.HealthRecord, error)
	ListHealthRecords(ctx context.Context, find *store.FindHealthRecord) ([]*store.HealthRecord, error)
	UpdateHealthRecord(ctx context.Context, update *store.UpdateHealthRecord) (*store.HealthRecord, error)
	DeleteHealthRecord(ctx context.Context, delete *store.DeleteHealthRecord) error
}

// Outcome is the result of executing a Decision.
type Outcome struct {
	Kind     nlu.ActionKind `json:"kind"`
	Success  bool           `json:"success"`
	Category nlu.Category   `json:"category,omitempty"`

	Record  *store.HealthRecord   `json:"record,omitempty"`
	Records []*store.HealthRecord `json:"records,omitempty"`
	Alerts  []AbnormalAlert       `json:"alerts,omitempty"`

	// Pending is set when the decision waits for the caregiver to confirm.
	Pending  bool   `json:"pending,omitempty"`
	Question string `json:"question,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AlertMessages returns the advisory text of every abnormal alert.
func (o *Outcome) AlertMessages() []string {
	out := make([]string, 0, len(o.Alerts))
	for _, a := range o.Alerts {
		out = append(out, a.Message)
	}
	return out
}

// Executor runs decisions against a Persistence.
type Executor struct {
	store   Persistence
	metrics *metrics.PrometheusExporter
	now     func() time.Time
	newUID  func() string
}

// NewExecutor creates an executor. exporter may be nil.
func NewExecutor(st Persistence, exporter *metrics.PrometheusExporter) *Executor {
	return &Executor{
		store:   st,
		metrics: exporter,
		now:     time.Now,
		newUID:  uuid.NewString,
	}
}

// Confirmed reports whether the message carries an explicit confirmation.
func Confirmed(pc *conversation.ProcessingContext) bool {
	return pc.Message.Context.VoiceConfirmed || pc.Message.MetadataBool("confirmed")
}

// Execute performs d for the context's patient. Persistence errors are
// reported on the outcome, never returned; the error return is reserved for
// a cancelled context.
func (e *Executor) Execute(ctx context.Context, d Decision, pc *conversation.ProcessingContext) (*Outcome, error) {
	out := &Outcome{Kind: d.Kind, Category: d.Category, Question: d.Question}

	if d.ShortCircuits() {
		out.Success = true
		out.Pending = d.Kind == nlu.ActionConfirm
		e.metrics.RecordAction(string(d.Kind), true)
		return out, nil
	}
	if d.RequiresConfirmation && !Confirmed(pc) {
		out.Kind = nlu.ActionConfirm
		out.Success = true
		out.Pending = true
		e.metrics.RecordAction(string(nlu.ActionConfirm), true)
		return out, nil
	}
	if e.store == nil {
		return e.fail(out, errors.New("no record store configured")), nil
	}
	if !pc.Message.HasPatient() {
		return e.fail(out, errors.New("patient required")), nil
	}

	var err error
	switch d.Kind {
	case nlu.ActionSave:
		err = e.save(ctx, d, pc, out)
	case nlu.ActionUpdate:
		err = e.update(ctx, d, pc, out)
	case nlu.ActionDelete:
		err = e.delete(ctx, d, pc, out)
	case nlu.ActionQuery:
		err = e.query(ctx, d, pc, out)
	default:
		err = fmt.Errorf("unsupported action %q", d.Kind)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return e.fail(out, err), nil
	}

	out.Success = true
	e.metrics.RecordAction(string(d.Kind), true)
	for _, a := range out.Alerts {
		e.metrics.RecordAbnormal(string(a.Category), string(a.Severity))
	}
	return out, nil
}

func (e *Executor) fail(out *Outcome, err error) *Outcome {
	slog.Warn("action execution failed", "kind", out.Kind, "category", out.Category, "error", err)
	out.Success = false
	out.Error = err.Error()
	e.metrics.RecordAction(string(out.Kind), false)
	return out
}

func (e *Executor) save(ctx context.Context, d Decision, pc *conversation.ProcessingContext, out *Outcome) error {
	now := e.now().Unix()
	rec, err := e.store.CreateHealthRecord(ctx, &store.HealthRecord{
		UID:        e.newUID(),
		PatientUID: pc.PatientID(),
		Category:   string(d.Category),
		Data:       d.Data,
		Source:     string(pc.Message.Context.Source),
		CreatorID:  pc.Message.Context.SenderID,
		CreatedTs:  now,
		UpdatedTs:  now,
	})
	if err != nil {
		return fmt.Errorf("save %s record: %w", d.Category, err)
	}
	out.Record = rec
	out.Alerts = DetectAbnormal(d.Health)
	return nil
}

func (e *Executor) update(ctx context.Context, d Decision, pc *conversation.ProcessingContext, out *Outcome) error {
	target, err := e.resolveTarget(ctx, d, pc)
	if err != nil {
		return err
	}
	now := e.now().Unix()
	category := string(d.Category)
	rec, err := e.store.UpdateHealthRecord(ctx, &store.UpdateHealthRecord{
		UID:        target,
		PatientUID: pc.PatientID(),
		Category:   &category,
		Data:       d.Data,
		UpdatedTs:  &now,
	})
	if err != nil {
		return fmt.Errorf("update record %s: %w", target, err)
	}
	out.Record = rec
	out.Alerts = DetectAbnormal(d.Health)
	return nil
}

func (e *Executor) delete(ctx context.Context, d Decision, pc *conversation.ProcessingContext, _ *Outcome) error {
	target, err := e.resolveTarget(ctx, d, pc)
	if err != nil {
		return err
	}
	if err := e.store.DeleteHealthRecord(ctx, &store.DeleteHealthRecord{UID: target, PatientUID: pc.PatientID()}); err != nil {
		return fmt.Errorf("delete record %s: %w", target, err)
	}
	return nil
}

func (e *Executor) query(ctx context.Context, d Decision, pc *conversation.ProcessingContext, out *Outcome) error {
	patient := pc.PatientID()
	limit := d.QueryLimit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	find := &store.FindHealthRecord{PatientUID: &patient, Limit: &limit}
	if d.Category != "" {
		category := string(d.Category)
		find.Category = &category
	}
	records, err := e.store.ListHealthRecords(ctx, find)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	out.Records = records
	return nil
}

// resolveTarget returns d.TargetUID, or the most recent record of d.Category.
func (e *Executor) resolveTarget(ctx context.Context, d Decision, pc *conversation.ProcessingContext) (string, error) {
	if d.TargetUID != "" {
		return d.TargetUID, nil
	}
	patient, limit := pc.PatientID(), 1
	find := &store.FindHealthRecord{PatientUID: &patient, Limit: &limit}
	if d.Category != "" {
		category := string(d.Category)
		find.Category = &category
	}
	records, err := e.store.ListHealthRecords(ctx, find)
	if err != nil {
		return "", fmt.Errorf("find latest %s record: %w", d.Category, err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("no %s record to %s: %w", d.Category, d.Kind, store.ErrNotFound)
	}
	return records[0].UID, nil
}
