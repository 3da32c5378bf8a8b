// Package timesync establishes a best-effort notion of the current real time
// by periodically querying remote time services and extrapolating between
// successful observations.
package timesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"safeboard/internal/board"
	"safeboard/internal/scheduler"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultStaleness = 5 * time.Minute
	DefaultTimeout   = 5 * time.Second

	minInterval = 10 * time.Second
	maxInterval = time.Hour
)

// Options tunes the refresh protocol. Zero values select the defaults.
type Options struct {
	Interval  time.Duration
	Staleness time.Duration
	Timeout   time.Duration
	// Fallbacks are tried in order after the configured URL fails.
	// nil selects DefaultFallbackURLs; an empty non-nil slice disables fallbacks.
	Fallbacks []string
}

func (o Options) withDefaults() Options {
	if o.Interval == 0 {
		o.Interval = DefaultInterval
	}
	if o.Interval < minInterval {
		o.Interval = minInterval
	}
	if o.Interval > maxInterval {
		o.Interval = maxInterval
	}
	if o.Staleness <= 0 {
		o.Staleness = DefaultStaleness
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Fallbacks == nil {
		o.Fallbacks = DefaultFallbackURLs
	}
	return o
}

// Status is the presentation-facing state of the time source.
type Status struct {
	Enabled  bool      `json:"enabled"`
	Online   bool      `json:"isOnline"`
	Error    string    `json:"error,omitempty"`
	LastSync time.Time `json:"lastSync,omitempty"`
	Synced   bool      `json:"synced"`
	Source   string    `json:"source,omitempty"`
	Offset   int64     `json:"offsetMs"`
}

// Resolver produces the current time for display. One Resolver is one display
// session; sessions sharing a SharedStorage share one sync point.
//
// Failure policy: the configured URL is tried first, then each fallback URL in
// order. Only when every URL fails is the fetch reported as failed, and the
// previous sync point keeps being used.
type Resolver struct {
	storage board.SharedStorage
	fetcher Fetcher
	clock   board.Clock
	logger  board.Logger
	opts    Options

	mu        sync.RWMutex
	cfg       *APIConfig
	point     *SyncPoint
	online    bool
	errMsg    string
	source    string
	fetchMu   sync.Mutex
	onFetched func(SyncPoint, error)
}

// NewResolver creates a Resolver. Call Init before use to load the shared
// sync point.
func NewResolver(storage board.SharedStorage, fetcher Fetcher, clock board.Clock, logger board.Logger, opts Options) *Resolver {
	return &Resolver{
		storage: storage,
		fetcher: fetcher,
		clock:   clock,
		logger:  logger,
		opts:    opts.withDefaults(),
		online:  true,
	}
}

// OnFetch registers a callback invoked after every fetch attempt.
func (r *Resolver) OnFetch(fn func(SyncPoint, error)) {
	r.mu.Lock()
	r.onFetched = fn
	r.mu.Unlock()
}

// GetConfig returns the stored configuration, or the default if none is
// stored. A malformed stored value is purged and the default returned.
func (r *Resolver) GetConfig() APIConfig {
	r.mu.RLock()
	if r.cfg != nil {
		cfg := *r.cfg
		r.mu.RUnlock()
		return cfg
	}
	r.mu.RUnlock()

	cfg := r.loadConfig()
	r.mu.Lock()
	r.cfg = &cfg
	r.mu.Unlock()
	return cfg
}

func (r *Resolver) loadConfig() APIConfig {
	data, ok, err := r.storage.Get(ConfigKey)
	if err != nil {
		r.logger.Warn("reading time config", "error", err)
		return DefaultAPIConfig()
	}
	if !ok {
		return DefaultAPIConfig()
	}
	cfg, err := decodeConfig(data)
	if err != nil {
		r.logger.Warn("purging corrupt time config", "error", err)
		if err := r.storage.Delete(ConfigKey); err != nil {
			r.logger.Warn("purging corrupt time config", "error", err)
		}
		return DefaultAPIConfig()
	}
	return cfg
}

// decodeConfig merges stored fields over the default so a partially stored
// config keeps the defaults for missing fields.
func decodeConfig(data []byte) (APIConfig, error) {
	cfg := DefaultAPIConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return APIConfig{}, board.NewError(board.KindConfigCorrupt, "load time config", "", err)
	}
	return cfg, nil
}

// SaveConfig validates and persists cfg. It does not re-sync.
func (r *Resolver) SaveConfig(cfg APIConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding time config: %w", err)
	}
	if err := r.storage.Set(ConfigKey, data); err != nil {
		return fmt.Errorf("saving time config: %w", err)
	}

	r.mu.Lock()
	r.cfg = &cfg
	if !cfg.Enabled {
		r.online = true
		r.errMsg = ""
	}
	r.mu.Unlock()
	r.logger.Info("time config saved", "url", cfg.APIURL, "timezone", cfg.Timezone, "enabled", cfg.Enabled)
	return nil
}

// FetchRemoteTime performs one sync. On success the point is persisted to
// shared storage and adopted. On failure the existing point is untouched and
// the status goes offline.
func (r *Resolver) FetchRemoteTime(ctx context.Context) (SyncPoint, error) {
	cfg := r.GetConfig()
	if !cfg.Enabled {
		return SyncPoint{}, board.NewError(board.KindValidation, "fetch remote time", "Zeit-API ist deaktiviert", nil)
	}

	// One fetch at a time per session.
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	loc := cfg.Location()
	var errs []error
	for _, u := range r.urls(cfg) {
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		p, err := r.fetcher.Fetch(attemptCtx, u, loc)
		cancel()
		if err == nil && !p.Valid() {
			err = board.NewError(board.KindParse, "fetch remote time", "Ungültiger Zeitwert", fmt.Errorf("invalid sync point %+v", p))
		}
		if err != nil {
			r.logger.Debug("time source failed", "url", u, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		r.persist(p)
		r.mu.Lock()
		r.point = &p
		r.online = true
		r.errMsg = ""
		r.source = u
		cb := r.onFetched
		r.mu.Unlock()

		r.logger.Debug("time synced", "url", u, "offset_ms", p.Offset().Milliseconds())
		if cb != nil {
			cb(p, nil)
		}
		return p, nil
	}

	err := classify(errs)
	r.mu.Lock()
	r.online = false
	r.errMsg = board.Message(err)
	cb := r.onFetched
	r.mu.Unlock()

	r.logger.Warn("time sync failed", "error", err)
	if cb != nil {
		cb(SyncPoint{}, err)
	}
	return SyncPoint{}, err
}

func (r *Resolver) urls(cfg APIConfig) []string {
	seen := map[string]bool{}
	var out []string
	for _, u := range append([]string{cfg.APIURL}, r.opts.Fallbacks...) {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// classify reports the kind and message of the configured URL's failure,
// joined with the fallback errors.
func classify(errs []error) error {
	if len(errs) == 0 {
		return board.NewError(board.KindNetwork, "fetch remote time", "Keine Zeit-API konfiguriert", nil)
	}
	first := errs[0]
	if len(errs) == 1 {
		return first
	}
	var e *board.Error
	if errors.As(first, &e) {
		return board.NewError(e.Kind, e.Op, e.Msg, errors.Join(errs...))
	}
	return errors.Join(errs...)
}

func (r *Resolver) persist(p SyncPoint) {
	data, err := json.Marshal(p)
	if err != nil {
		r.logger.Warn("encoding sync point", "error", err)
		return
	}
	if err := r.storage.Set(SyncPointKey, data); err != nil {
		r.logger.Warn("saving sync point", "error", err)
	}
}

// ResolveCurrentTime returns the best estimate of the current real time.
func (r *Resolver) ResolveCurrentTime() time.Time {
	now := r.clock.Now()
	if !r.GetConfig().Enabled {
		return now
	}
	r.mu.RLock()
	p := r.point
	r.mu.RUnlock()
	if p == nil {
		return now
	}
	return p.Extrapolate(now)
}

// Status returns the presentation-facing state.
func (r *Resolver) Status() Status {
	cfg := r.GetConfig()
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		Enabled: cfg.Enabled,
		Online:  r.online,
		Error:   r.errMsg,
		Source:  r.source,
	}
	if r.point != nil {
		st.Synced = true
		st.LastSync = r.point.SyncedAt
		st.Offset = r.point.Offset().Milliseconds()
	}
	return st
}

// SyncPoint returns the adopted sync point, if any.
func (r *Resolver) SyncPoint() (SyncPoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.point == nil {
		return SyncPoint{}, false
	}
	return *r.point, true
}

// Init loads the shared sync point and fetches if there is none or it is
// older than the staleness threshold. Fetch failures are reported through
// Status, not returned.
func (r *Resolver) Init(ctx context.Context) {
	if p, ok := r.loadPoint(); ok {
		r.adopt(p)
	}
	if r.needsSync() {
		r.FetchRemoteTime(ctx)
	}
}

func (r *Resolver) needsSync() bool {
	if !r.GetConfig().Enabled {
		return false
	}
	p, ok := r.SyncPoint()
	return !ok || p.Age(r.clock.Now()) > r.opts.Staleness
}

func (r *Resolver) loadPoint() (SyncPoint, bool) {
	data, ok, err := r.storage.Get(SyncPointKey)
	if err != nil {
		r.logger.Warn("reading sync point", "error", err)
		return SyncPoint{}, false
	}
	if !ok {
		return SyncPoint{}, false
	}
	p, err := decodeSyncPoint(data)
	if err != nil {
		r.logger.Warn("discarding stored sync point", "error", err)
		return SyncPoint{}, false
	}
	return p, true
}

func (r *Resolver) adopt(p SyncPoint) {
	r.mu.Lock()
	r.point = &p
	r.mu.Unlock()
}

// Watch adopts sync points and config written by other sessions until ctx is
// done. It never fetches.
func (r *Resolver) Watch(ctx context.Context) error {
	points, err := r.storage.Watch(ctx, SyncPointKey)
	if err != nil {
		return fmt.Errorf("watching sync point: %w", err)
	}
	configs, err := r.storage.Watch(ctx, ConfigKey)
	if err != nil {
		return fmt.Errorf("watching time config: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-points:
			if !ok {
				return nil
			}
			p, err := decodeSyncPoint(data)
			if err != nil {
				r.logger.Debug("ignoring invalid shared sync point", "error", err)
				continue
			}
			r.adopt(p)
			r.mu.Lock()
			r.online = true
			r.errMsg = ""
			r.mu.Unlock()
		case data, ok := <-configs:
			if !ok {
				return nil
			}
			cfg, err := decodeConfig(data)
			if err != nil {
				continue
			}
			r.mu.Lock()
			r.cfg = &cfg
			r.mu.Unlock()
		}
	}
}

// Tasks returns the scheduled tasks implementing the refresh protocol: an
// initial sync followed by a periodic re-fetch, plus the shared storage watcher.
func (r *Resolver) Tasks() []scheduler.Task {
	return []scheduler.Task{
		{
			Name: "timesync-init",
			Run: func(ctx context.Context) error {
				r.Init(ctx)
				return nil
			},
		},
		{
			Name:     "timesync-refresh",
			Interval: r.opts.Interval,
			Run: func(ctx context.Context) error {
				if !r.GetConfig().Enabled {
					return nil
				}
				r.FetchRemoteTime(ctx)
				return nil
			},
		},
		{
			Name: "timesync-watch",
			Run:  r.Watch,
		},
	}
}
