package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"safeboard/internal/board"
)

// ErrInjected is a generic failure for FakeStore.Fail.
var ErrInjected = errors.New("injected failure")

// FakeStore is an in-memory board.Store that counts calls and can be told to
// fail. UpdatedAt is stamped from the clock on every write.
type FakeStore struct {
	mu      sync.Mutex
	clock   board.Clock
	ids     board.IDGenerator
	cfg     *board.AccidentConfig
	history []*board.HistoryEntry
	calls   map[string]int
	errs    map[string]error

	// RaiseGate, when set, makes RaiseRecord wait until it receives or is closed.
	RaiseGate chan struct{}
}

// NewFakeStore creates a FakeStore holding cfg. A nil cfg means the row is missing.
func NewFakeStore(clock board.Clock, cfg *board.AccidentConfig) *FakeStore {
	s := &FakeStore{
		clock: clock,
		ids:   NewSequentialIDs(),
		calls: make(map[string]int),
		errs:  make(map[string]error),
	}
	if cfg != nil {
		c := *cfg
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = clock.Now()
		}
		s.cfg = &c
	}
	return s
}

// Fail makes every following call to method return err. A nil err clears it.
func (s *FakeStore) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, method)
		return
	}
	s.errs[method] = err
}

// Calls returns how often method was called.
func (s *FakeStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Row returns a copy of the stored row, bypassing call counting.
func (s *FakeStore) Row() *board.AccidentConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return nil
	}
	c := *s.cfg
	return &c
}

// Put replaces the stored row as an out-of-band writer would.
func (s *FakeStore) Put(cfg board.AccidentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = &cfg
}

// History returns the appended entries, oldest first.
func (s *FakeStore) History() []*board.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*board.HistoryEntry(nil), s.history...)
}

func (s *FakeStore) enter(method string) error {
	s.calls[method]++
	return s.errs[method]
}

func (s *FakeStore) rowLocked() (*board.AccidentConfig, error) {
	if s.cfg == nil {
		return nil, errors.New("config row not found")
	}
	c := *s.cfg
	return &c, nil
}

func (s *FakeStore) GetConfig(ctx context.Context) (*board.AccidentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetConfig"); err != nil {
		return nil, err
	}
	if s.cfg == nil {
		return nil, nil
	}
	return s.rowLocked()
}

func (s *FakeStore) SetRecord(ctx context.Context, days int) (*board.AccidentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetRecord"); err != nil {
		return nil, err
	}
	if s.cfg == nil {
		return nil, errors.New("config row not found")
	}
	s.cfg.RecordDays = days
	s.cfg.UpdatedAt = s.stamp()
	return s.rowLocked()
}

func (s *FakeStore) RaiseRecord(ctx context.Context, days int) (*board.AccidentConfig, bool, error) {
	if s.RaiseGate != nil {
		select {
		case <-s.RaiseGate:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RaiseRecord"); err != nil {
		return nil, false, err
	}
	if s.cfg == nil {
		return nil, false, errors.New("config row not found")
	}
	if s.cfg.RecordDays >= days {
		row, err := s.rowLocked()
		return row, false, err
	}
	s.cfg.RecordDays = days
	s.cfg.UpdatedAt = s.stamp()
	row, err := s.rowLocked()
	return row, true, err
}

func (s *FakeStore) ResetTimer(ctx context.Context) (*board.ResetOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ResetTimer"); err != nil {
		return nil, err
	}
	if s.cfg == nil {
		return nil, errors.New("config row not found")
	}
	now := s.clock.Now()
	out := board.DecideReset(s.cfg.LastAccidentDate, s.cfg.RecordDays, now)
	s.cfg.LastAccidentDate = now
	s.cfg.RecordDays = out.NewRecord
	s.cfg.UpdatedAt = s.stamp()
	return &out, nil
}

func (s *FakeStore) AppendHistory(ctx context.Context, previousDays int) (*board.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("AppendHistory"); err != nil {
		return nil, err
	}
	e := &board.HistoryEntry{ID: s.ids.New(), ResetAt: s.clock.Now(), PreviousDays: previousDays}
	s.history = append(s.history, e)
	return e, nil
}

func (s *FakeStore) ListHistory(ctx context.Context, limit int) ([]*board.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListHistory"); err != nil {
		return nil, err
	}
	var out []*board.HistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.history[i])
	}
	return out, nil
}

func (s *FakeStore) Close() error { return nil }

// stamp returns a write time strictly after the previous one so rows written
// at the same stub clock reading still order.
func (s *FakeStore) stamp() time.Time {
	now := s.clock.Now()
	if s.cfg != nil && !now.After(s.cfg.UpdatedAt) {
		now = s.cfg.UpdatedAt.Add(time.Millisecond)
	}
	return now
}

var _ board.Store = (*FakeStore)(nil)
