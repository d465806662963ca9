package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/caresense/internal/profile"
	"github.com/hrygo/caresense/store"
	"github.com/hrygo/caresense/store/db/sqlcore"
)

// DB is the sqlite driver. SQLite suits development and single-home
// deployments; use postgres when several engine instances share one database.
type DB struct {
	*sqlcore.Queries

	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a database specified by its database driver name and a
// driver-specific data source name, usually consisting of at least a
// database name and connection information.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No foreign key constraints: records reference patients by uid only.
	// - Journal mode set to WAL: it's the recommended journal mode for most applications
	// as it prevents locking issues.
	//
	// Notes:
	// - When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite: single connection is optimal with WAL
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{
		Queries: sqlcore.New(sqliteDB, sqlcore.QuestionMark),
		db:      sqliteDB,
		profile: profile,
	}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	// Check if the database is initialized by checking if the patient table exists.
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type='table' AND name='patient')").Scan(&exists)
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
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		birth_year INTEGER NOT NULL DEFAULT 0,
		conditions TEXT NOT NULL DEFAULT '[]',
		caregivers TEXT NOT NULL DEFAULT '[]',
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE TABLE IF NOT EXISTS medication (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_uid TEXT NOT NULL,
		name TEXT NOT NULL,
		dosage TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_medication_patient ON medication (patient_uid)`,
	`CREATE TABLE IF NOT EXISTS reminder (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_uid TEXT NOT NULL,
		title TEXT NOT NULL,
		repeat_rule TEXT NOT NULL DEFAULT '',
		due_ts BIGINT NOT NULL,
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reminder_patient_due ON reminder (patient_uid, due_ts)`,
	`CREATE TABLE IF NOT EXISTS health_record (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		patient_uid TEXT NOT NULL,
		category TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '{}',
		source TEXT NOT NULL DEFAULT '',
		creator_id TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_health_record_patient_created ON health_record (patient_uid, created_ts)`,
	`CREATE TABLE IF NOT EXISTS conversation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_uid TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		sender_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		intent TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_log_patient ON conversation_log (patient_uid, session_id, created_ts)`,
	`CREATE TABLE IF NOT EXISTS alert_record (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		patient_uid TEXT NOT NULL DEFAULT '',
		trigger_kind TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL DEFAULT '',
		recipients TEXT NOT NULL DEFAULT '[]',
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
}
