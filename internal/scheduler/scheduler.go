// Package scheduler runs explicit periodic tasks with a start/stop contract.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"safeboard/internal/board"
)

// Task is one unit of scheduled work.
//
// A task with a zero Interval runs once when the scheduler starts; use it for
// long-running loops that return when ctx is done. A periodic task whose
// previous run is still in flight skips the tick instead of queueing.
type Task struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool
	Timeout        time.Duration
	Run            func(ctx context.Context) error
}

// Scheduler owns a set of tasks and their goroutines.
type Scheduler struct {
	logger board.Logger

	mu      sync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
	skipped atomic.Int64
}

// New creates an empty scheduler.
func New(logger board.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers tasks. Tasks added after Start begin on the next Start.
func (s *Scheduler) Add(tasks ...Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tasks {
		if t.Name == "" {
			return errors.New("task name is required")
		}
		if t.Run == nil {
			return fmt.Errorf("task %s: run function is required", t.Name)
		}
		if t.Interval < 0 {
			return fmt.Errorf("task %s: negative interval %s", t.Name, t.Interval)
		}
		for _, existing := range s.tasks {
			if existing.Name == t.Name {
				return fmt.Errorf("task %s already exists", t.Name)
			}
		}
		s.tasks = append(s.tasks, t)
	}
	return nil
}

// Start launches one goroutine per task. The tasks stop when ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.logger.Debug("scheduler started", "tasks", len(s.tasks))
	return nil
}

// Stop cancels all tasks and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Debug("scheduler stopped")
}

// Skipped returns how many ticks were dropped because a run was still in flight.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	if t.Interval == 0 {
		s.execute(ctx, t)
		return
	}

	var inFlight atomic.Bool
	var runs sync.WaitGroup
	defer runs.Wait()

	trigger := func() {
		if !inFlight.CompareAndSwap(false, true) {
			s.skipped.Add(1)
			s.logger.Debug("task still running, tick skipped", "task", t.Name)
			return
		}
		runs.Add(1)
		go func() {
			defer runs.Done()
			defer inFlight.Store(false)
			s.execute(ctx, t)
		}()
	}

	if t.RunImmediately {
		trigger()
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t Task) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task", t.Name, "panic", r)
		}
	}()

	if err := t.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("task failed", "task", t.Name, "error", err)
	}
}
