package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"salonbook/internal/models"
	"salonbook/internal/timegrid"
)

// Publisher receives change events after the writing transaction commits.
type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

// Options tunes the slot math the store applies.
type Options struct {
	IntervalMinutes int
	BufferMinutes   int
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// DB is the system of record: catalog, bookings and slot locks.
type DB struct {
	*sql.DB
	logger    *zerolog.Logger
	publisher Publisher
	interval  int
	buffer    int
	now       func() time.Time
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB opens the database, creating the directory and schema when missing.
// Transactions start with BEGIN IMMEDIATE so writers serialize on the file lock.
func NewDB(path string, opts Options, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:       sqlDB,
		logger:   logger,
		interval: opts.IntervalMinutes,
		buffer:   opts.BufferMinutes,
		now:      opts.Now,
	}
	if db.interval <= 0 {
		db.interval = timegrid.DefaultInterval
	}
	if db.buffer < 0 {
		db.buffer = 0
	}
	if db.now == nil {
		db.now = time.Now
	}

	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// SetPublisher installs the change-event sink.
func (db *DB) SetPublisher(p Publisher) {
	db.publisher = p
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS merchants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'Asia/Kolkata',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS shop_hours (
			merchant_id TEXT NOT NULL REFERENCES merchants(id),
			weekday INTEGER NOT NULL,
			open_minute INTEGER NOT NULL,
			close_minute INTEGER NOT NULL,
			PRIMARY KEY (merchant_id, weekday)
		)`,
		`CREATE TABLE IF NOT EXISTS holidays (
			merchant_id TEXT NOT NULL REFERENCES merchants(id),
			date TEXT NOT NULL,
			name TEXT,
			PRIMARY KEY (merchant_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS staff (
			id TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL REFERENCES merchants(id),
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS staff_hours (
			staff_id TEXT NOT NULL REFERENCES staff(id),
			weekday INTEGER NOT NULL,
			start_minute INTEGER NOT NULL,
			end_minute INTEGER NOT NULL,
			PRIMARY KEY (staff_id, weekday)
		)`,
		`CREATE TABLE IF NOT EXISTS staff_leaves (
			staff_id TEXT NOT NULL REFERENCES staff(id),
			date TEXT NOT NULL,
			PRIMARY KEY (staff_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS services (
			id TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL REFERENCES merchants(id),
			name TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			price_cents INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS merchant_members (
			merchant_id TEXT NOT NULL REFERENCES merchants(id),
			user_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'staff',
			PRIMARY KEY (merchant_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			user_id TEXT PRIMARY KEY,
			chat_id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			merchant_id TEXT NOT NULL REFERENCES merchants(id),
			staff_id TEXT NOT NULL REFERENCES staff(id),
			service_ids TEXT NOT NULL,
			date TEXT NOT NULL,
			start_minute INTEGER NOT NULL,
			duration_minutes INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			payment_status TEXT NOT NULL DEFAULT 'unpaid',
			amount_cents INTEGER NOT NULL DEFAULT 0,
			owner_token TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS booking_status_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id TEXT NOT NULL REFERENCES bookings(id),
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			actor TEXT NOT NULL,
			changed_at DATETIME NOT NULL
		)`,
		// One row per grid unit. The primary key keeps two owners off the same minute.
		`CREATE TABLE IF NOT EXISTS slot_locks (
			staff_id TEXT NOT NULL,
			date TEXT NOT NULL,
			minute INTEGER NOT NULL,
			merchant_id TEXT NOT NULL,
			owner_token TEXT NOT NULL,
			start_minute INTEGER NOT NULL,
			duration_minutes INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (staff_id, date, minute)
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			booking_id TEXT NOT NULL REFERENCES bookings(id),
			amount_cents INTEGER NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_staff_date ON bookings(staff_id, date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_merchant_date ON bookings(merchant_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_slot_locks_owner ON slot_locks(owner_token)`,
		`CREATE INDEX IF NOT EXISTS idx_slot_locks_expires ON slot_locks(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_staff_merchant ON staff(merchant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_booking ON booking_status_history(booking_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(q), err)
		}
	}
	return nil
}

// withTx runs fn inside a write transaction and publishes the collected
// events only after a successful commit.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx, emit func(models.ChangeEvent)) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var pending []models.ChangeEvent
	emit := func(ev models.ChangeEvent) { pending = append(pending, ev) }

	if err := fn(tx, emit); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	for _, ev := range pending {
		db.publish(ctx, ev)
	}
	return nil
}

func (db *DB) publish(ctx context.Context, ev models.ChangeEvent) {
	if db.publisher == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = db.now()
	}
	if err := db.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		db.logger.Warn().Err(err).
			Str("merchant_id", ev.MerchantID).
			Str("entity", string(ev.Entity)).
			Msg("Failed to publish change event")
	}
}

// Ping reports whether the database answers.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func isConstraint(err error) bool {
	var sqErr sqlite3.Error
	return errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint
}

func firstLine(q string) string {
	for i, r := range q {
		if r == '\n' {
			return q[:i]
		}
	}
	return q
}
