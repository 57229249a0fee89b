package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: writes are serialized and :memory: survives between calls.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "database").Logger()
	}
	l.Info().Str("path", path).Msg("database initialized")

	return &DB{DB: sqlDB, path: path, logger: l}, nil
}

// Path is the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS slots (
            id TEXT PRIMARY KEY,
            date_key TEXT NOT NULL,
            start_min INTEGER NOT NULL,
            end_min INTEGER NOT NULL,
            capacity INTEGER NOT NULL,
            cancelled INTEGER NOT NULL DEFAULT 0,
            notes TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            code TEXT NOT NULL UNIQUE,
            slot_id TEXT NOT NULL,
            slot_id2 TEXT NOT NULL DEFAULT '',
            duration_min INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'confirmed',
            student_id TEXT NOT NULL DEFAULT '',
            name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            meeting_provider TEXT NOT NULL DEFAULT '',
            meet_url TEXT NOT NULL DEFAULT '',
            calendar_event_id TEXT NOT NULL DEFAULT '',
            calendar_html_link TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS reminder_logs (
            id TEXT PRIMARY KEY,
            booking_id TEXT NOT NULL,
            kind TEXT NOT NULL,
            role TEXT NOT NULL,
            recipient TEXT NOT NULL DEFAULT '',
            sent_at DATETIME NOT NULL,
            UNIQUE (booking_id, kind, role)
        )`,
		`CREATE TABLE IF NOT EXISTS support_threads (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL DEFAULT 'open',
            email TEXT NOT NULL DEFAULT '',
            name TEXT NOT NULL DEFAULT '',
            last_message_from TEXT NOT NULL DEFAULT '',
            last_message_text TEXT NOT NULL DEFAULT '',
            last_message_at DATETIME,
            last_read_by_support_at DATETIME,
            last_read_by_member_at DATETIME,
            last_member_message_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS support_messages (
            id TEXT PRIMARY KEY,
            thread_id TEXT NOT NULL,
            sender TEXT NOT NULL,
            text TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,

		// Only one active slot may start at a given minute of a day.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_slots_active_start ON slots(date_key, start_min) WHERE cancelled = 0`,
		`CREATE INDEX IF NOT EXISTS idx_slots_date_key ON slots(date_key, start_min, end_min)`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_slot_id ON bookings(slot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_slot_id2 ON bookings(slot_id2)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_student_id ON bookings(student_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_created_at ON bookings(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,

		`CREATE INDEX IF NOT EXISTS idx_support_threads_email ON support_threads(email, status)`,
		`CREATE INDEX IF NOT EXISTS idx_support_threads_updated_at ON support_threads(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_support_messages_thread ON support_messages(thread_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// inClause renders "?, ?, ?" for n arguments.
func inClause(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func uniqueStrings(in []string) []any {
	seen := make(map[string]bool, len(in))
	out := make([]any, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

// HealthCheck pings the database within the context deadline.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}
