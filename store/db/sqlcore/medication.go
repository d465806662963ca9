package sqlcore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/caresense/store"
)

const medicationColumns = "id, patient_uid, name, dosage, schedule, active, created_ts, updated_ts"

func scanMedication(row interface{ Scan(...any) error }) (*store.Medication, error) {
	m := &store.Medication{}
	err := row.Scan(&m.ID, &m.PatientUID, &m.Name, &m.Dosage, &m.Schedule, &m.Active, &m.CreatedTs, &m.UpdatedTs)
	return m, err
}

func (q *Queries) CreateMedication(ctx context.Context, create *store.Medication) (*store.Medication, error) {
	fields := []string{"patient_uid", "name", "dosage", "schedule", "active", "created_ts", "updated_ts"}
	args := []any{create.PatientUID, create.Name, create.Dosage, create.Schedule, create.Active, create.CreatedTs, create.UpdatedTs}
	stmt := `INSERT INTO medication (` + strings.Join(fields, ", ") + `)
		VALUES (` + q.placeholders(len(args)) + `)
		RETURNING id`
	if err := q.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create medication")
	}
	return create, nil
}

func (q *Queries) ListMedications(ctx context.Context, find *store.FindMedication) ([]*store.Medication, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+q.placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.PatientUID != nil {
		where, args = append(where, "patient_uid = "+q.placeholder(len(args)+1)), append(args, *find.PatientUID)
	}
	if find.Name != nil {
		where, args = append(where, "LOWER(name) = LOWER("+q.placeholder(len(args)+1)+")"), append(args, *find.Name)
	}
	if find.Active != nil {
		where, args = append(where, "active = "+q.placeholder(len(args)+1)), append(args, *find.Active)
	}

	rows, err := q.db.QueryContext(ctx, `SELECT `+medicationColumns+` FROM medication
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY name ASC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list medications")
	}
	defer rows.Close()

	list := make([]*store.Medication, 0)
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan medication")
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate medications")
	}
	return list, nil
}

func (q *Queries) UpdateMedication(ctx context.Context, update *store.UpdateMedication) (*store.Medication, error) {
	set, args := []string{}, []any{}
	if update.Dosage != nil {
		set, args = append(set, "dosage = "+q.placeholder(len(args)+1)), append(args, *update.Dosage)
	}
	if update.Schedule != nil {
		set, args = append(set, "schedule = "+q.placeholder(len(args)+1)), append(args, *update.Schedule)
	}
	if update.Active != nil {
		set, args = append(set, "active = "+q.placeholder(len(args)+1)), append(args, *update.Active)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+q.placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE medication SET ` + strings.Join(set, ", ") + ` WHERE id = ` + q.placeholder(len(args)) + ` RETURNING ` + medicationColumns
	m, err := scanMedication(q.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrap(store.ErrNotFound, "medication")
		}
		return nil, errors.Wrap(err, "failed to update medication")
	}
	return m, nil
}

func (q *Queries) DeleteMedication(ctx context.Context, delete *store.DeleteMedication) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM medication WHERE id = `+q.placeholder(1), delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete medication")
	}
	return affectedOne(result, "medication")
}

func (q *Queries) CreateReminder(ctx context.Context, create *store.Reminder) (*store.Reminder, error) {
	fields := []string{"patient_uid", "title", "repeat_rule", "due_ts", "created_ts"}
	args := []any{create.PatientUID, create.Title, create.Repeat, create.DueTs, create.CreatedTs}
	stmt := `INSERT INTO reminder (` + strings.Join(fields, ", ") + `)
		VALUES (` + q.placeholders(len(args)) + `)
		RETURNING id`
	if err := q.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create reminder")
	}
	return create, nil
}

func (q *Queries) ListReminders(ctx context.Context, find *store.FindReminder) ([]*store.Reminder, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.PatientUID != nil {
		where, args = append(where, "patient_uid = "+q.placeholder(len(args)+1)), append(args, *find.PatientUID)
	}
	if find.DueAfter != nil {
		where, args = append(where, "due_ts >= "+q.placeholder(len(args)+1)), append(args, *find.DueAfter)
	}

	query := `SELECT id, patient_uid, title, repeat_rule, due_ts, created_ts FROM reminder
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY due_ts ASC`
	if find.Limit != nil {
		query += " LIMIT " + q.placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reminders")
	}
	defer rows.Close()

	list := make([]*store.Reminder, 0)
	for rows.Next() {
		r := &store.Reminder{}
		if err := rows.Scan(&r.ID, &r.PatientUID, &r.Title, &r.Repeat, &r.DueTs, &r.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan reminder")
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate reminders")
	}
	return list, nil
}

func (q *Queries) DeleteReminder(ctx context.Context, delete *store.DeleteReminder) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM reminder WHERE id = `+q.placeholder(1), delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete reminder")
	}
	return affectedOne(result, "reminder")
}
