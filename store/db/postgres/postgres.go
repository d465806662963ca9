package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/caresense/internal/profile"
	"github.com/hrygo/caresense/store"
	"github.com/hrygo/caresense/store/db/sqlcore"
)

type DB struct {
	*sqlcore.Queries

	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		slog.Error("failed to open database", slog.String("error", err.Error()))
		return nil, errors.Wrapf(err, "failed to open db with dsn")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &DB{
		Queries: sqlcore.New(db, sqlcore.Dollar),
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = 'patient'
	)`).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}

func (d *DB) Migrate(ctx context.Context) error {
	return d.Queries.Migrate(ctx, store.SchemaVersion, schema)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS patient (
		id SERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		birth_year INTEGER NOT NULL DEFAULT 0,
		conditions JSONB NOT NULL DEFAULT '[]',
		caregivers JSONB NOT NULL DEFAULT '[]',
		created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW()),
		updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
	)`,
	`CREATE TABLE IF NOT EXISTS medication (
		id SERIAL PRIMARY KEY,
		patient_uid TEXT NOT NULL,
		name TEXT NOT NULL,
		dosage TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW()),
		updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_medication_patient ON medication (patient_uid)`,
	`CREATE TABLE IF NOT EXISTS reminder (
		id SERIAL PRIMARY KEY,
		patient_uid TEXT NOT NULL,
		title TEXT NOT NULL,
		repeat_rule TEXT NOT NULL DEFAULT '',
		due_ts BIGINT NOT NULL,
		created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reminder_patient_due ON reminder (patient_uid, due_ts)`,
	`CREATE TABLE IF NOT EXISTS health_record (
		id SERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		patient_uid TEXT NOT NULL,
		category TEXT NOT NULL,
		data JSONB NOT NULL DEFAULT '{}',
		source TEXT NOT NULL DEFAULT '',
		creator_id TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW()),
		updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_health_record_patient_created ON health_record (patient_uid, created_ts DESC)`,
	`CREATE TABLE IF NOT EXISTS conversation_log (
		id SERIAL PRIMARY KEY,
		patient_uid TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		sender_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		intent TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_log_patient ON conversation_log (patient_uid, session_id, created_ts DESC)`,
	`CREATE TABLE IF NOT EXISTS alert_record (
		id SERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		patient_uid TEXT NOT NULL DEFAULT '',
		trigger_kind TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL DEFAULT '',
		recipients JSONB NOT NULL DEFAULT '[]',
		created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
	)`,
}
