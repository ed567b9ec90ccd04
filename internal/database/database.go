package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrRuleNotFound         = errors.New("availability rule not found")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrRuleOverlap          = errors.New("availability rules overlap")
)

// sqliteTime is fixed width so DATETIME columns compare lexically.
const sqliteTime = "2006-01-02 15:04:05"

// DB wraps sql.DB for the slot engine.
type DB struct {
	*sql.DB
	path string

	onRulesChanged func(practitionerID string)
}

// NewDB opens database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db, path: path}, nil
}

// OnRulesChanged registers fn to run after UpsertRule or DeleteRule changes a
// practitioner's rules. Set it before the DB is shared.
func (db *DB) OnRulesChanged(fn func(practitionerID string)) {
	db.onRulesChanged = fn
}

func (db *DB) rulesChanged(practitionerID string) {
	if db.onRulesChanged != nil {
		db.onRulesChanged(practitionerID)
	}
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS practitioners (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			specialty TEXT NOT NULL DEFAULT '',
			slot_duration INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS availability_rules (
			id TEXT PRIMARY KEY,
			practitioner_id TEXT NOT NULL,
			weekday INTEGER NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			repeat TEXT NOT NULL DEFAULT 'weekly',
			anchor TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (practitioner_id) REFERENCES practitioners(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			practitioner_id TEXT NOT NULL,
			start_at DATETIME NOT NULL,
			end_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'confirmed',
			source TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_rules_practitioner ON availability_rules(practitioner_id, weekday)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_practitioner_start ON bookings(practitioner_id, start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
