package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"safeboard/internal/board"
	"safeboard/internal/config"
)

// NewStoreFromConfig creates a Store implementation based on the database config type.
func NewStoreFromConfig(ctx context.Context, cfg config.DatabaseConfig, clock board.Clock, ids board.IDGenerator) (board.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return sqliteStore(filepath.Join(cfg.DataDir, "safeboard.db"), clock, ids)
	case "memory":
		return sqliteStore(":memory:", clock, ids)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		s, err := NewPostgresStore(ctx, cfg.DSN, ids)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// sqliteStore avoids returning a typed nil inside the interface.
func sqliteStore(path string, clock board.Clock, ids board.IDGenerator) (board.Store, error) {
	s, err := NewSQLiteStore(path, clock, ids)
	if err != nil {
		return nil, err
	}
	return s, nil
}
