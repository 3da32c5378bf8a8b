package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"safeboard/internal/board"
	"safeboard/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DefaultHistoryLimit applies when ListHistory is called with limit <= 0.
const DefaultHistoryLimit = 50

// SQLiteStore implements board.Store using SQLite. The store's clock is the
// "server clock" of the atomic reset procedure.
type SQLiteStore struct {
	db    *sql.DB
	clock board.Clock
	ids   board.IDGenerator
	path  string
}

// NewSQLiteStore opens the database at path, applies migrations and seeds the
// config row. path can be a file path or ":memory:".
func NewSQLiteStore(path string, clock board.Clock, ids board.IDGenerator) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db, migrations.SQLite); err != nil {
		db.Close()
		return nil, err
	}

	s := NewSQLiteStoreFromDB(db, clock, ids)
	s.path = path
	if err := s.seed(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing, migrated database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB, clock board.Clock, ids board.IDGenerator) *SQLiteStore {
	if clock == nil {
		clock = board.RealClock{}
	}
	if ids == nil {
		ids = board.UUIDGenerator{}
	}
	return &SQLiteStore{db: db, clock: clock, ids: ids}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
//
// Transactions start with BEGIN IMMEDIATE so the read-modify-write of the
// reset procedure holds the write lock from its first read.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

func dsn(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return "file:" + path + "?" + params
}

// seed inserts the config row with the current time as baseline if it does not exist.
func (s *SQLiteStore) seed(ctx context.Context) error {
	now := formatTime(s.clock.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accident_config (id, last_accident_date, record_days, updated_at)
		 VALUES (?, ?, 0, ?)`,
		board.ConfigRowID, now, now,
	)
	if err != nil {
		return fmt.Errorf("seeding config row: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) GetConfig(ctx context.Context) (*board.AccidentConfig, error) {
	cfg, err := getConfig(ctx, s.db)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

func getConfig(ctx context.Context, q querier) (*board.AccidentConfig, error) {
	var last, updated string
	var cfg board.AccidentConfig
	err := q.QueryRowContext(ctx,
		"SELECT last_accident_date, record_days, updated_at FROM accident_config WHERE id = ?",
		board.ConfigRowID,
	).Scan(&last, &cfg.RecordDays, &updated)
	if err != nil {
		return nil, err
	}
	if cfg.LastAccidentDate, err = parseTime(last); err != nil {
		return nil, err
	}
	if cfg.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) SetRecord(ctx context.Context, days int) (*board.AccidentConfig, error) {
	if days < 0 {
		return nil, board.ErrInvalidRecord
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE accident_config SET record_days = ?, updated_at = ? WHERE id = ?",
		days, formatTime(s.clock.Now()), board.ConfigRowID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("config row %d not found", board.ConfigRowID)
	}

	cfg, err := getConfig(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return cfg, nil
}

func (s *SQLiteStore) RaiseRecord(ctx context.Context, days int) (*board.AccidentConfig, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE accident_config SET record_days = ?, updated_at = ? WHERE id = ? AND record_days < ?",
		days, formatTime(s.clock.Now()), board.ConfigRowID, days,
	)
	if err != nil {
		return nil, false, fmt.Errorf("raising record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("raising record: %w", err)
	}

	cfg, err := getConfig(ctx, tx)
	if err != nil {
		return nil, false, fmt.Errorf("reading config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing transaction: %w", err)
	}
	return cfg, n == 1, nil
}

// ResetTimer runs the reset procedure inside one IMMEDIATE transaction, so a
// concurrent reset from another connection waits and then observes this one.
func (s *SQLiteStore) ResetTimer(ctx context.Context) (*board.ResetOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	cfg, err := getConfig(ctx, tx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("config row %d not found", board.ConfigRowID)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	now := s.clock.Now()
	out := board.DecideReset(cfg.LastAccidentDate, cfg.RecordDays, now)
	_, err = tx.ExecContext(ctx,
		"UPDATE accident_config SET last_accident_date = ?, record_days = ?, updated_at = ? WHERE id = ?",
		formatTime(now), out.NewRecord, formatTime(now), board.ConfigRowID,
	)
	if err != nil {
		return nil, fmt.Errorf("resetting timer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return &out, nil
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, previousDays int) (*board.HistoryEntry, error) {
	entry := &board.HistoryEntry{
		ID:           s.ids.New(),
		ResetAt:      s.clock.Now(),
		PreviousDays: previousDays,
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO reset_history (id, reset_at, previous_days) VALUES (?, ?, ?)",
		entry.ID, formatTime(entry.ResetAt), entry.PreviousDays,
	)
	if err != nil {
		return nil, fmt.Errorf("appending history: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, limit int) ([]*board.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, reset_at, previous_days FROM reset_history ORDER BY reset_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var entries []*board.HistoryEntry
	for rows.Next() {
		var e board.HistoryEntry
		var resetAt string
		if err := rows.Scan(&e.ID, &resetAt, &e.PreviousDays); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		if e.ResetAt, err = parseTime(resetAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

// Path returns the database file path, or "" for wrapped connections.
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, migrations.SQLite)
}

// BackupTo writes a consistent copy of the database to destPath.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}

var _ board.Store = (*SQLiteStore)(nil)
