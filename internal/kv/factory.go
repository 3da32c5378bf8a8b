package kv

import (
	"fmt"

	"safeboard/internal/board"
	"safeboard/internal/config"
)

// Storage is a SharedStorage that owns resources.
type Storage interface {
	board.SharedStorage
	Close() error
}

// NewStorageFromConfig creates shared storage based on the storage config type.
func NewStorageFromConfig(cfg config.StorageConfig, clock board.Clock, logger board.Logger) (Storage, error) {
	switch cfg.Type {
	case "memory":
		return nopCloser{NewMemoryStorage()}, nil
	case "sqlite", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite storage")
		}
		s, err := NewSQLiteStorage(cfg.Path, cfg.PollInterval, clock, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

type nopCloser struct{ *MemoryStorage }

func (nopCloser) Close() error { return nil }
