// Package sqlcore holds the SQL shared by the sqlite and postgres drivers.
// The drivers differ in placeholder syntax and DDL only; they embed *Queries
// for every CRUD method of store.Driver.
package sqlcore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/caresense/internal/version"
	"github.com/hrygo/caresense/store"
)

// Queries implements the CRUD half of store.Driver over a *sql.DB.
type Queries struct {
	db          *sql.DB
	placeholder func(n int) string
}

// New wraps db. placeholder renders the n-th (1-based) bind parameter.
func New(db *sql.DB, placeholder func(n int) string) *Queries {
	return &Queries{db: db, placeholder: placeholder}
}

// QuestionMark renders sqlite-style placeholders.
func QuestionMark(int) string { return "?" }

// Dollar renders postgres-style placeholders.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

func (q *Queries) placeholders(n int) string {
	s := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			s += ", "
		}
		s += q.placeholder(i)
	}
	return s
}

// Migrate applies ddl when schemaVersion is newer than the recorded one.
// Every statement must be idempotent (CREATE ... IF NOT EXISTS).
func (q *Queries) Migrate(ctx context.Context, schemaVersion string, ddl []string) error {
	if _, err := q.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS migration_history (
		version TEXT NOT NULL PRIMARY KEY,
		created_ts BIGINT NOT NULL
	)`); err != nil {
		return errors.Wrap(err, "failed to create migration_history")
	}

	current, err := q.currentSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current != "" && version.IsVersionGreaterOrEqualThan(current, schemaVersion) {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin migration")
	}
	defer tx.Rollback()

	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to apply schema %s", schemaVersion)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO migration_history (version, created_ts) VALUES (`+q.placeholders(2)+`)`,
		schemaVersion, time.Now().Unix()); err != nil {
		return errors.Wrap(err, "failed to record migration")
	}
	return errors.Wrap(tx.Commit(), "failed to commit migration")
}

func (q *Queries) currentSchemaVersion(ctx context.Context) (string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT version FROM migration_history`)
	if err != nil {
		return "", errors.Wrap(err, "failed to read migration_history")
	}
	defer rows.Close()

	latest := ""
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", errors.Wrap(err, "failed to scan migration_history")
		}
		if latest == "" || version.IsVersionGreaterThan(v, latest) {
			latest = v
		}
	}
	return latest, errors.Wrap(rows.Err(), "failed to iterate migration_history")
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal json column")
	}
	return string(b), nil
}

func unmarshalJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, v), "failed to unmarshal json column")
}

func affectedOne(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to read affected rows of %s", what)
	}
	if rows == 0 {
		return errors.Wrap(store.ErrNotFound, what)
	}
	return nil
}
