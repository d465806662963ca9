package sqlcore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/caresense/store"
)

const patientColumns = "id, uid, name, birth_year, conditions, caregivers, created_ts, updated_ts"

func scanPatient(row interface{ Scan(...any) error }) (*store.Patient, error) {
	p := &store.Patient{}
	var conditions, caregivers []byte
	if err := row.Scan(&p.ID, &p.UID, &p.Name, &p.BirthYear, &conditions, &caregivers, &p.CreatedTs, &p.UpdatedTs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(conditions, &p.Conditions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(caregivers, &p.Caregivers); err != nil {
		return nil, err
	}
	return p, nil
}

func (q *Queries) CreatePatient(ctx context.Context, create *store.Patient) (*store.Patient, error) {
	conditions, err := marshalJSON(nonNil(create.Conditions))
	if err != nil {
		return nil, err
	}
	caregivers, err := marshalJSON(nonNilCaregivers(create.Caregivers))
	if err != nil {
		return nil, err
	}

	fields := []string{"uid", "name", "birth_year", "conditions", "caregivers", "created_ts", "updated_ts"}
	args := []any{create.UID, create.Name, create.BirthYear, conditions, caregivers, create.CreatedTs, create.UpdatedTs}
	stmt := `INSERT INTO patient (` + strings.Join(fields, ", ") + `)
		VALUES (` + q.placeholders(len(args)) + `)
		RETURNING id`
	if err := q.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create patient")
	}
	return create, nil
}

func (q *Queries) ListPatients(ctx context.Context, find *store.FindPatient) ([]*store.Patient, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+q.placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+q.placeholder(len(args)+1)), append(args, *find.UID)
	}

	rows, err := q.db.QueryContext(ctx, `SELECT `+patientColumns+` FROM patient
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY id ASC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list patients")
	}
	defer rows.Close()

	list := make([]*store.Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan patient")
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate patients")
	}
	return list, nil
}

func (q *Queries) UpdatePatient(ctx context.Context, update *store.UpdatePatient) (*store.Patient, error) {
	set, args := []string{}, []any{}
	if update.Name != nil {
		set, args = append(set, "name = "+q.placeholder(len(args)+1)), append(args, *update.Name)
	}
	if update.Conditions != nil {
		v, err := marshalJSON(nonNil(*update.Conditions))
		if err != nil {
			return nil, err
		}
		set, args = append(set, "conditions = "+q.placeholder(len(args)+1)), append(args, v)
	}
	if update.Caregivers != nil {
		v, err := marshalJSON(nonNilCaregivers(*update.Caregivers))
		if err != nil {
			return nil, err
		}
		set, args = append(set, "caregivers = "+q.placeholder(len(args)+1)), append(args, v)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+q.placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE patient SET ` + strings.Join(set, ", ") + ` WHERE id = ` + q.placeholder(len(args)) + ` RETURNING ` + patientColumns
	p, err := scanPatient(q.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrap(store.ErrNotFound, "patient")
		}
		return nil, errors.Wrap(err, "failed to update patient")
	}
	return p, nil
}

func (q *Queries) DeletePatient(ctx context.Context, delete *store.DeletePatient) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM patient WHERE id = `+q.placeholder(1), delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete patient")
	}
	return affectedOne(result, "patient")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilCaregivers(s []store.Caregiver) []store.Caregiver {
	if s == nil {
		return []store.Caregiver{}
	}
	return s
}
