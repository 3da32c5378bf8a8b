package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"safeboard/internal/board"
	"safeboard/internal/database/migrations"
)

// ChangeChannel is the NOTIFY channel the accident_config trigger publishes
// post-change rows on.
const ChangeChannel = "accident_config_changes"

// PostgresStore implements board.Store using PostgreSQL. The reset procedure
// is the reset_accident_timer() server function, so the database clock is
// the authoritative clock.
type PostgresStore struct {
	pool *pgxpool.Pool
	ids  board.IDGenerator
}

// NewPostgresStore connects to dsn and applies migrations.
func NewPostgresStore(ctx context.Context, dsn string, ids board.IDGenerator) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrations.MigrateUp(db, migrations.Postgres)
	db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}

	if ids == nil {
		ids = board.UUIDGenerator{}
	}
	return &PostgresStore{pool: pool, ids: ids}, nil
}

// Pool exposes the connection pool, e.g. for a LISTEN change feed.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

const configColumns = "last_accident_date, record_days, updated_at"

func scanConfig(row pgx.Row) (*board.AccidentConfig, error) {
	var cfg board.AccidentConfig
	if err := row.Scan(&cfg.LastAccidentDate, &cfg.RecordDays, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStore) GetConfig(ctx context.Context) (*board.AccidentConfig, error) {
	cfg, err := scanConfig(s.pool.QueryRow(ctx,
		"SELECT "+configColumns+" FROM accident_config WHERE id = $1", board.ConfigRowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) SetRecord(ctx context.Context, days int) (*board.AccidentConfig, error) {
	if days < 0 {
		return nil, board.ErrInvalidRecord
	}
	cfg, err := scanConfig(s.pool.QueryRow(ctx,
		`UPDATE accident_config SET record_days = $1, updated_at = now()
		 WHERE id = $2 RETURNING `+configColumns,
		days, board.ConfigRowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("config row %d not found", board.ConfigRowID)
		}
		return nil, fmt.Errorf("updating record: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) RaiseRecord(ctx context.Context, days int) (*board.AccidentConfig, bool, error) {
	cfg, err := scanConfig(s.pool.QueryRow(ctx,
		`UPDATE accident_config SET record_days = $1, updated_at = now()
		 WHERE id = $2 AND record_days < $1 RETURNING `+configColumns,
		days, board.ConfigRowID))
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("raising record: %w", err)
	}

	cfg, err = s.GetConfig(ctx)
	if err != nil {
		return nil, false, err
	}
	if cfg == nil {
		return nil, false, fmt.Errorf("config row %d not found", board.ConfigRowID)
	}
	return cfg, false, nil
}

func (s *PostgresStore) ResetTimer(ctx context.Context) (*board.ResetOutcome, error) {
	var out board.ResetOutcome
	err := s.pool.QueryRow(ctx,
		"SELECT new_timestamp, previous_days, old_record, new_record, record_broken FROM reset_accident_timer()",
	).Scan(&out.NewTimestamp, &out.PreviousDays, &out.OldRecord, &out.NewRecord, &out.RecordBroken)
	if err != nil {
		return nil, fmt.Errorf("calling reset_accident_timer: %w", err)
	}
	return &out, nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, previousDays int) (*board.HistoryEntry, error) {
	entry := &board.HistoryEntry{ID: s.ids.New(), PreviousDays: previousDays}
	err := s.pool.QueryRow(ctx,
		"INSERT INTO reset_history (id, previous_days) VALUES ($1, $2) RETURNING reset_at",
		entry.ID, previousDays,
	).Scan(&entry.ResetAt)
	if err != nil {
		return nil, fmt.Errorf("appending history: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, limit int) ([]*board.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx,
		"SELECT id::text, reset_at, previous_days FROM reset_history ORDER BY reset_at DESC LIMIT $1",
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*board.HistoryEntry, error) {
		var e board.HistoryEntry
		err := row.Scan(&e.ID, &e.ResetAt, &e.PreviousDays)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

// Ready reports whether the database answers queries.
func (s *PostgresStore) Ready(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "select 1").Scan(&one)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ board.Store = (*PostgresStore)(nil)
