// Package display turns the resolved time and the cached accident config
// into frames for the public display.
package display

import (
	"context"
	"sync"
	"time"

	"safeboard/internal/board"
	"safeboard/internal/scheduler"
	"safeboard/internal/timesync"
)

// TickInterval is the display refresh period.
const TickInterval = time.Second

// TimeSource is the part of timesync.Resolver the display reads.
type TimeSource interface {
	ResolveCurrentTime() time.Time
	Status() timesync.Status
}

// Frame is everything one refresh of the display shows. When Available is
// false the config has not been loaded and Elapsed must not be shown.
type Frame struct {
	Now        time.Time             `json:"now"`
	Available  bool                  `json:"available"`
	Loading    bool                  `json:"loading"`
	Error      string                `json:"error,omitempty"`
	Elapsed    board.Elapsed         `json:"elapsed"`
	RecordDays int                   `json:"recordDays"`
	Config     *board.AccidentConfig `json:"config,omitempty"`
	Time       timesync.Status       `json:"time"`
}

// Board computes frames and fans them out. Each tick also feeds the record
// safety net of the ConfigStore.
type Board struct {
	time   TimeSource
	store  *board.ConfigStore
	logger board.Logger

	mu      sync.RWMutex
	current Frame
	subs    map[chan Frame]struct{}

	raiseMu  sync.Mutex
	raiseRun bool
}

// New creates a Board.
func New(ts TimeSource, store *board.ConfigStore, logger board.Logger) *Board {
	return &Board{
		time:   ts,
		store:  store,
		logger: logger,
		subs:   make(map[chan Frame]struct{}),
	}
}

// Compute builds a frame from the current state without side effects.
func (b *Board) Compute() Frame {
	now := b.time.ResolveCurrentTime()
	snap := b.store.Snapshot()
	f := Frame{
		Now:     now,
		Loading: snap.Loading,
		Error:   snap.Error,
		Time:    b.time.Status(),
	}
	if snap.Config != nil {
		f.Available = true
		f.Config = snap.Config
		f.Elapsed = board.ComputeElapsed(snap.Config.LastAccidentDate, now)
		f.RecordDays = snap.Config.RecordDays
	}
	return f
}

// Tick computes a frame, publishes it and, when the elapsed days exceed the
// record, starts a record raise in the background so a slow store never
// delays the next frame.
func (b *Board) Tick(ctx context.Context) Frame {
	f := b.Compute()

	b.mu.Lock()
	b.current = f
	for ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- f
	}
	b.mu.Unlock()

	if f.Available && f.Elapsed.Days > f.RecordDays {
		b.raise(ctx, f.Elapsed.Days)
	}
	return f
}

func (b *Board) raise(ctx context.Context, days int) {
	b.raiseMu.Lock()
	if b.raiseRun {
		b.raiseMu.Unlock()
		return
	}
	b.raiseRun = true
	b.raiseMu.Unlock()

	go func() {
		defer func() {
			b.raiseMu.Lock()
			b.raiseRun = false
			b.raiseMu.Unlock()
		}()
		if _, err := b.store.UpdateRecordIfHigher(ctx, days); err != nil {
			b.logger.Debug("record raise from display failed", "days", days, "error", err)
		}
	}()
}

// Current returns the last published frame.
func (b *Board) Current() Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Subscribe returns a channel holding the latest frame. A slow reader skips
// frames. The channel is closed when ctx is done.
func (b *Board) Subscribe(ctx context.Context) <-chan Frame {
	ch := make(chan Frame, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// Task returns the display tick as a scheduler task.
func (b *Board) Task() scheduler.Task {
	return scheduler.Task{
		Name:           "display-tick",
		Interval:       TickInterval,
		RunImmediately: true,
		Run: func(ctx context.Context) error {
			b.Tick(ctx)
			return nil
		},
	}
}
