package sqlcore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/caresense/store"
)

const healthRecordColumns = "id, uid, patient_uid, category, data, source, creator_id, created_ts, updated_ts"

func scanHealthRecord(row interface{ Scan(...any) error }) (*store.HealthRecord, error) {
	r := &store.HealthRecord{}
	var data []byte
	if err := row.Scan(&r.ID, &r.UID, &r.PatientUID, &r.Category, &data, &r.Source, &r.CreatorID, &r.CreatedTs, &r.UpdatedTs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(data, &r.Data); err != nil {
		return nil, err
	}
	return r, nil
}

func (q *Queries) CreateHealthRecord(ctx context.Context, create *store.HealthRecord) (*store.HealthRecord, error) {
	data, err := marshalJSON(nonNilData(create.Data))
	if err != nil {
		return nil, err
	}
	fields := []string{"uid", "patient_uid", "category", "data", "source", "creator_id", "created_ts", "updated_ts"}
	args := []any{create.UID, create.PatientUID, create.Category, data, create.Source, create.CreatorID, create.CreatedTs, create.UpdatedTs}
	stmt := `INSERT INTO health_record (` + strings.Join(fields, ", ") + `)
		VALUES (` + q.placeholders(len(args)) + `)
		RETURNING id`
	if err := q.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create health_record")
	}
	return create, nil
}

func (q *Queries) ListHealthRecords(ctx context.Context, find *store.FindHealthRecord) ([]*store.HealthRecord, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+q.placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+q.placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.PatientUID != nil {
		where, args = append(where, "patient_uid = "+q.placeholder(len(args)+1)), append(args, *find.PatientUID)
	}
	if find.Category != nil {
		where, args = append(where, "category = "+q.placeholder(len(args)+1)), append(args, *find.Category)
	}
	if find.CreatedAfter != nil {
		where, args = append(where, "created_ts >= "+q.placeholder(len(args)+1)), append(args, *find.CreatedAfter)
	}

	query := `SELECT ` + healthRecordColumns + ` FROM health_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if find.Limit != nil {
		query += " LIMIT " + q.placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list health_records")
	}
	defer rows.Close()

	list := make([]*store.HealthRecord, 0)
	for rows.Next() {
		r, err := scanHealthRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan health_record")
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate health_records")
	}
	return list, nil
}

func (q *Queries) UpdateHealthRecord(ctx context.Context, update *store.UpdateHealthRecord) (*store.HealthRecord, error) {
	set, args := []string{}, []any{}
	if update.Category != nil {
		set, args = append(set, "category = "+q.placeholder(len(args)+1)), append(args, *update.Category)
	}
	if update.Data != nil {
		data, err := marshalJSON(update.Data)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "data = "+q.placeholder(len(args)+1)), append(args, data)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+q.placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.UID, update.PatientUID)
	stmt := `UPDATE health_record SET ` + strings.Join(set, ", ") +
		` WHERE uid = ` + q.placeholder(len(args)-1) + ` AND patient_uid = ` + q.placeholder(len(args)) +
		` RETURNING ` + healthRecordColumns
	r, err := scanHealthRecord(q.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(store.ErrNotFound, "health_record %s", update.UID)
		}
		return nil, errors.Wrap(err, "failed to update health_record")
	}
	return r, nil
}

func (q *Queries) DeleteHealthRecord(ctx context.Context, delete *store.DeleteHealthRecord) error {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM health_record WHERE uid = `+q.placeholder(1)+` AND patient_uid = `+q.placeholder(2),
		delete.UID, delete.PatientUID)
	if err != nil {
		return errors.Wrap(err, "failed to delete health_record")
	}
	return affectedOne(result, "health_record "+delete.UID)
}

func nonNilData(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
