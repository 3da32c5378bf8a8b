package board

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Operator-facing messages.
const (
	msgLoadFailed   = "Konfiguration konnte nicht geladen werden"
	msgNoConfig     = "Keine Konfiguration vorhanden"
	msgResetFailed  = "Fehler beim Zurücksetzen des Timers"
	msgRecordFailed = "Fehler beim Setzen des Rekords"
	msgRaiseFailed  = "Fehler beim Aktualisieren des Rekords"
)

// raiseBackoff suppresses further record raises after a failed raise write.
const raiseBackoff = 30 * time.Second

// postResetTimeout bounds the history append and refresh that follow a
// committed reset.
const postResetTimeout = 10 * time.Second

// Snapshot is a consistent view of the cached config state.
// A nil Config means "not yet available", never "zero elapsed time".
type Snapshot struct {
	Config  *AccidentConfig `json:"config"`
	Loading bool            `json:"loading"`
	Error   string          `json:"error,omitempty"`
}

// ConfigStore owns the cached view of the accident config. All writes go
// through the Store; pushed rows from the ChangeFeed are adopted directly.
//
// UpdateRecordIfHigher is a best-effort safety net for the display. The
// authoritative record raise happens inside the store's atomic reset.
type ConfigStore struct {
	store  Store
	feed   ChangeFeed
	logger Logger
	clock  Clock

	mu      sync.RWMutex
	config  *AccidentConfig
	loading bool
	errMsg  string

	// Record raise high-water mark: no raise write is issued for a value <= highWater.
	highWater  int
	raising    bool
	lastRaise  time.Time // UpdatedAt of the row produced by our last raise
	retryAfter time.Time
}

// NewConfigStore creates a ConfigStore. feed may be nil, in which case writes
// are not announced and Run returns immediately.
func NewConfigStore(store Store, feed ChangeFeed, logger Logger, clock Clock) *ConfigStore {
	return &ConfigStore{
		store:   store,
		feed:    feed,
		logger:  logger,
		clock:   clock,
		loading: true,
	}
}

// Snapshot returns a copy of the cached state.
func (s *ConfigStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Config: s.configLocked(), Loading: s.loading, Error: s.errMsg}
}

// Config returns a copy of the cached config, or nil if none is available.
func (s *ConfigStore) Config() *AccidentConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configLocked()
}

func (s *ConfigStore) configLocked() *AccidentConfig {
	if s.config == nil {
		return nil
	}
	c := *s.config
	return &c
}

// Load fetches the config row and replaces the cache. On failure the previous
// cache is kept and the error message is recorded.
func (s *ConfigStore) Load(ctx context.Context) error {
	cfg, err := s.store.GetConfig(ctx)
	if err == nil && cfg == nil {
		err = fmt.Errorf("config row %d not found", ConfigRowID)
		e := NewError(KindStore, "load config", msgNoConfig, err)
		s.fail(e)
		return e
	}
	if err != nil {
		e := storeError("load config", msgLoadFailed, err)
		s.fail(e)
		return e
	}

	s.mu.Lock()
	s.loading = false
	s.errMsg = ""
	s.adoptLocked(*cfg)
	s.mu.Unlock()
	return nil
}

// ResetTimer runs the store's atomic reset procedure, appends a history entry
// for auditing, and refreshes the cache from the store.
func (s *ConfigStore) ResetTimer(ctx context.Context) (*ResetOutcome, error) {
	out, err := s.store.ResetTimer(ctx)
	if err != nil {
		e := storeError("reset timer", msgResetFailed, err)
		s.fail(e)
		return nil, e
	}
	s.logger.Info("timer reset",
		"previous_days", out.PreviousDays,
		"old_record", out.OldRecord,
		"new_record", out.NewRecord,
		"record_broken", out.RecordBroken,
	)

	// The reset is committed. Finish the bookkeeping even if the caller is gone.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postResetTimeout)
	defer cancel()

	if _, err := s.store.AppendHistory(ctx, out.PreviousDays); err != nil {
		s.logger.Warn("appending reset history", "error", err)
	}

	if err := s.Load(ctx); err != nil {
		// The reset itself succeeded; the push feed or the next load catches up.
		s.logger.Warn("refreshing config after reset", "error", err)
		return out, nil
	}
	if cfg := s.Config(); cfg != nil {
		s.publish(ctx, *cfg)
	}
	return out, nil
}

// SetRecord overrides record_days unconditionally. Negative values are
// rejected before the store is touched.
func (s *ConfigStore) SetRecord(ctx context.Context, days int) error {
	if days < 0 {
		return ErrInvalidRecord
	}
	row, err := s.store.SetRecord(ctx, days)
	if err != nil {
		e := storeError("set record", msgRecordFailed, err)
		s.fail(e)
		return e
	}
	s.logger.Info("record set", "record_days", days)

	s.mu.Lock()
	s.errMsg = ""
	s.adoptLocked(*row)
	s.mu.Unlock()

	s.publish(ctx, *row)
	return nil
}

// ResetRecord sets the record to zero.
func (s *ConfigStore) ResetRecord(ctx context.Context) error {
	return s.SetRecord(ctx, 0)
}

// UpdateRecordIfHigher raises the stored record to days if days exceeds
// everything seen so far. Repeated calls with the same or a lower value do
// not write. It is safe to call on every display tick.
func (s *ConfigStore) UpdateRecordIfHigher(ctx context.Context, days int) (bool, error) {
	s.mu.Lock()
	if s.config == nil || s.raising || days <= s.highWater || days <= s.config.RecordDays {
		s.mu.Unlock()
		return false, nil
	}
	if s.clock.Now().Before(s.retryAfter) {
		s.mu.Unlock()
		return false, nil
	}
	prev := s.highWater
	s.highWater = days
	s.raising = true
	s.mu.Unlock()

	row, raised, err := s.store.RaiseRecord(ctx, days)

	s.mu.Lock()
	s.raising = false
	if err != nil {
		if s.highWater == days {
			s.highWater = prev
		}
		s.retryAfter = s.clock.Now().Add(raiseBackoff)
		e := storeError("raise record", msgRaiseFailed, err)
		s.errMsg = e.Msg
		s.mu.Unlock()
		s.logger.Error("raising record", "days", days, "error", err)
		return false, e
	}
	s.retryAfter = time.Time{}
	s.errMsg = ""
	if raised {
		s.lastRaise = row.UpdatedAt
	}
	if row != nil {
		s.adoptLocked(*row)
	}
	s.mu.Unlock()

	if raised {
		s.logger.Info("record raised", "record_days", days)
		s.publish(ctx, *row)
	}
	return raised, nil
}

// Run adopts rows pushed by the change feed until ctx is done.
func (s *ConfigStore) Run(ctx context.Context) error {
	if s.feed == nil {
		return nil
	}
	ch, err := s.feed.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to config changes: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			s.mu.Lock()
			adopted := s.adoptLocked(cfg)
			if adopted {
				s.loading = false
				s.errMsg = ""
			}
			s.mu.Unlock()
			if adopted {
				s.logger.Debug("config change adopted",
					"last_accident_date", cfg.LastAccidentDate,
					"record_days", cfg.RecordDays,
				)
			}
		}
	}
}

// adoptLocked replaces the cache with cfg unless cfg is older than the cache.
// Rows newer than our last raise are authoritative for the high-water mark,
// so an administrative lowering is respected; older ones can only raise it.
func (s *ConfigStore) adoptLocked(cfg AccidentConfig) bool {
	if s.config != nil && cfg.UpdatedAt.Before(s.config.UpdatedAt) {
		return false
	}
	c := cfg
	s.config = &c

	if !s.raising && cfg.UpdatedAt.After(s.lastRaise) {
		s.highWater = cfg.RecordDays
	} else if cfg.RecordDays > s.highWater {
		s.highWater = cfg.RecordDays
	}
	return true
}

func (s *ConfigStore) fail(e *Error) {
	s.mu.Lock()
	s.loading = false
	s.errMsg = e.Msg
	s.mu.Unlock()
	s.logger.Error(e.Op+" failed", "error", e.Err)
}

func (s *ConfigStore) publish(ctx context.Context, cfg AccidentConfig) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, cfg); err != nil {
		s.logger.Warn("publishing config change", "error", err)
	}
}
