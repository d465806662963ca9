package sqlcore

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/caresense/store"
)

func (q *Queries) CreateConversationLog(ctx context.Context, create *store.ConversationLog) (*store.ConversationLog, error) {
	fields := []string{"patient_uid", "session_id", "sender_id", "role", "content", "intent", "trace_id", "created_ts"}
	args := []any{create.PatientUID, create.SessionID, create.SenderID, create.Role, create.Content, create.Intent, create.TraceID, create.CreatedTs}
	stmt := `INSERT INTO conversation_log (` + strings.Join(fields, ", ") + `)
		VALUES (` + q.placeholders(len(args)) + `)
		RETURNING id`
	if err := q.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create conversation_log")
	}
	return create, nil
}

// ListConversationLogs returns the newest logs first.
func (q *Queries) ListConversationLogs(ctx context.Context, find *store.FindConversationLog) ([]*store.ConversationLog, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.PatientUID != nil {
		where, args = append(where, "patient_uid = "+q.placeholder(len(args)+1)), append(args, *find.PatientUID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = "+q.placeholder(len(args)+1)), append(args, *find.SessionID)
	}

	query := `SELECT id, patient_uid, session_id, sender_id, role, content, intent, trace_id, created_ts
		FROM conversation_log
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if find.Limit != nil {
		query += " LIMIT " + q.placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversation_logs")
	}
	defer rows.Close()

	list := make([]*store.ConversationLog, 0)
	for rows.Next() {
		l := &store.ConversationLog{}
		if err := rows.Scan(&l.ID, &l.PatientUID, &l.SessionID, &l.SenderID, &l.Role, &l.Content, &l.Intent, &l.TraceID, &l.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation_log")
		}
		list = append(list, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate conversation_logs")
	}
	return list, nil
}

func (q *Queries) CreateAlertRecord(ctx context.Context, create *store.AlertRecord) (*store.AlertRecord, error) {
	recipients, err := marshalJSON(nonNil(create.Recipients))
	if err != nil {
		return nil, err
	}
	fields := []string{"uid", "patient_uid", "trigger_kind", "severity", "message", "trace_id", "recipients", "created_ts"}
	args := []any{create.UID, create.PatientUID, create.Trigger, create.Severity, create.Message, create.TraceID, recipients, create.CreatedTs}
	stmt := `INSERT INTO alert_record (` + strings.Join(fields, ", ") + `)
		VALUES (` + q.placeholders(len(args)) + `)
		RETURNING id`
	if err := q.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create alert_record")
	}
	return create, nil
}

func (q *Queries) ListAlertRecords(ctx context.Context, find *store.FindAlertRecord) ([]*store.AlertRecord, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.PatientUID != nil {
		where, args = append(where, "patient_uid = "+q.placeholder(len(args)+1)), append(args, *find.PatientUID)
	}

	query := `SELECT id, uid, patient_uid, trigger_kind, severity, message, trace_id, recipients, created_ts
		FROM alert_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if find.Limit != nil {
		query += " LIMIT " + q.placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list alert_records")
	}
	defer rows.Close()

	list := make([]*store.AlertRecord, 0)
	for rows.Next() {
		a := &store.AlertRecord{}
		var recipients []byte
		if err := rows.Scan(&a.ID, &a.UID, &a.PatientUID, &a.Trigger, &a.Severity, &a.Message, &a.TraceID, &recipients, &a.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan alert_record")
		}
		if err := unmarshalJSON(recipients, &a.Recipients); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate alert_records")
	}
	return list, nil
}
