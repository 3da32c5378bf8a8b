package kv

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"safeboard/internal/board"
	"safeboard/internal/database"
)

// DefaultPollInterval is how often SQLiteStorage checks for writes made by
// other connections.
const DefaultPollInterval = time.Second

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStorage is shared storage scoped to one SQLite file. Every process
// opening the same file shares its keys; writes from other processes are
// detected through PRAGMA data_version.
type SQLiteStorage struct {
	db       *sql.DB
	clock    board.Clock
	logger   board.Logger
	watchers *watchers

	mu      sync.Mutex
	seen    map[string][]byte
	version int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSQLiteStorage opens (creating if needed) the storage file at path and
// starts the change poller. poll <= 0 selects DefaultPollInterval.
func NewSQLiteStorage(path string, poll time.Duration, clock board.Clock, logger board.Logger) (*SQLiteStorage, error) {
	db, err := database.OpenConnection(path)
	if err != nil {
		return nil, err
	}
	// data_version only changes for writes by other connections, so all of
	// our own traffic must go through one.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}

	s := &SQLiteStorage{
		db:       db,
		clock:    clock,
		logger:   logger,
		watchers: newWatchers(),
		seen:     make(map[string][]byte),
		done:     make(chan struct{}),
	}
	if s.version, err = s.dataVersion(); err != nil {
		db.Close()
		return nil, err
	}

	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.poll(ctx, poll)
	return s, nil
}

func (s *SQLiteStorage) Get(key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading key %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteStorage) Set(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.clock.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}

	s.mu.Lock()
	s.seen[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	s.watchers.notify(key, value)
	return nil
}

func (s *SQLiteStorage) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	s.mu.Lock()
	delete(s.seen, key)
	s.mu.Unlock()
	return nil
}

func (s *SQLiteStorage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	v, ok, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if ok {
		s.seen[key] = v
	}
	s.mu.Unlock()
	return s.watchers.add(ctx, key), nil
}

// Close stops the poller and closes the database.
func (s *SQLiteStorage) Close() error {
	s.cancel()
	<-s.done
	return s.db.Close()
}

func (s *SQLiteStorage) dataVersion() (int64, error) {
	var v int64
	if err := s.db.QueryRow("PRAGMA data_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading data_version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStorage) poll(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkForeignWrites(); err != nil {
				s.logger.Warn("checking shared storage for changes", "error", err)
			}
		}
	}
}

// checkForeignWrites notifies watchers of keys whose value was changed by
// another connection since the last check.
func (s *SQLiteStorage) checkForeignWrites() error {
	v, err := s.dataVersion()
	if err != nil {
		return err
	}
	s.mu.Lock()
	changed := v != s.version
	s.version = v
	s.mu.Unlock()
	if !changed {
		return nil
	}

	for _, key := range s.watchers.keys() {
		value, ok, err := s.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		s.mu.Lock()
		prev, known := s.seen[key]
		if known && bytes.Equal(prev, value) {
			s.mu.Unlock()
			continue
		}
		s.seen[key] = value
		s.mu.Unlock()
		s.watchers.notify(key, value)
	}
	return nil
}

var _ board.SharedStorage = (*SQLiteStorage)(nil)
