package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"safeboard/internal/archive"
	"safeboard/internal/board"
	"safeboard/internal/config"
	"safeboard/internal/database"
	"safeboard/internal/display"
	"safeboard/internal/encryption"
	"safeboard/internal/feed"
	"safeboard/internal/kv"
	"safeboard/internal/metrics"
	"safeboard/internal/scheduler"
	"safeboard/internal/server"
	"safeboard/internal/timesync"
	"safeboard/internal/tui"
)

// configRetry is how often a missing config is re-loaded when the initial
// load failed.
const configRetry = 30 * time.Second

// ErrArchiveDisabled is returned by archive operations when no archive is configured.
var ErrArchiveDisabled = errors.New("archive is disabled (archive.type = none)")

// Options tune how an App is built for one CLI command.
type Options struct {
	// Stderr mirrors the log to stderr. The terminal display turns it off.
	Stderr bool
	Debug  bool
}

// App is the application layer between the CLI and the board components.
// It constructs all dependencies from config and manages their lifecycle.
type App struct {
	cfg       *config.Config
	logger    board.Logger
	logFile   *os.File
	clock     board.Clock
	store     board.Store
	storage   kv.Storage
	feed      feed.Feed
	configs   *board.ConfigStore
	resolver  *timesync.Resolver
	display   *display.Board
	encryptor board.Encryptor
	archive   board.Archive
	exporter  *archive.Exporter
	metrics   *metrics.Registry
	sched     *scheduler.Scheduler
}

// New creates a fully wired App from the given config. The caller must call
// Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	sl, logFile, err := newLogger(cfg.LogDir, cfg.SessionID, level, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &App{
		cfg:     cfg,
		logger:  &slogAdapter{l: sl},
		logFile: logFile,
		clock:   board.RealClock{},
		metrics: metrics.NewRegistry(),
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	var err error
	a.store, err = database.NewStoreFromConfig(ctx, a.cfg.Database, a.clock, board.UUIDGenerator{})
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}

	a.storage, err = kv.NewStorageFromConfig(a.cfg.Storage, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("creating shared storage: %w", err)
	}

	a.feed, err = feed.NewFeedFromConfig(a.cfg.Feed, a.store, a.cfg.SessionID, a.logger)
	if err != nil {
		return fmt.Errorf("creating change feed: %w", err)
	}
	a.configs = board.NewConfigStore(a.store, a.feed, a.logger, a.clock)

	fetcher := timesync.NewRemoteFetcher(nil, a.clock)
	a.resolver = timesync.NewResolver(a.storage, fetcher, a.clock, a.logger, timesync.Options{
		Interval:  a.cfg.TimeSync.Interval,
		Staleness: a.cfg.TimeSync.Staleness,
		Timeout:   a.cfg.TimeSync.Timeout,
		Fallbacks: a.cfg.TimeSync.FallbackURLs,
	})
	a.resolver.OnFetch(a.metrics.ObserveFetch)

	a.display = display.New(a.resolver, a.configs, a.logger)

	a.encryptor, err = encryption.NewArchiveEncryptor(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	a.archive, err = archive.NewArchiveFromConfig(ctx, a.cfg.Archive)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	if a.archive != nil {
		var enc board.Encryptor
		if a.cfg.Archive.Encrypt {
			if !a.encryptor.IsConfigured() {
				return fmt.Errorf("archive encryption enabled but no keys found: run 'safeboard archive keygen'")
			}
			enc = a.encryptor
		}
		a.exporter = archive.NewExporter(a.archive, enc, a.store, a.clock, a.logger)
	}

	a.sched = scheduler.New(a.logger)
	return nil
}

// tasks returns every background task of a running display session.
func (a *App) tasks() []scheduler.Task {
	tasks := a.resolver.Tasks()
	tasks = append(tasks,
		a.display.Task(),
		scheduler.Task{Name: "config-feed", Run: a.feed.Run},
		scheduler.Task{Name: "config-watch", Run: a.configs.Run},
		scheduler.Task{
			Name:     "config-retry",
			Interval: configRetry,
			Run: func(ctx context.Context) error {
				if a.configs.Config() != nil {
					return nil
				}
				return a.configs.Load(ctx)
			},
		},
	)
	return tasks
}

// start loads the config and launches the background tasks.
func (a *App) start(ctx context.Context) error {
	if err := a.configs.Load(ctx); err != nil {
		a.logger.Error("loading accident config", "error", err)
	}
	if err := a.sched.Add(a.tasks()...); err != nil {
		return fmt.Errorf("registering tasks: %w", err)
	}

	a.metrics.WatchDisplay(a.display.Current)
	if s, ok := a.feed.(interface{ Stats() (uint64, uint64) }); ok {
		a.metrics.WatchFeed(s.Stats)
	}
	a.metrics.WatchScheduler(a.sched.Skipped)

	return a.sched.Start(ctx)
}

// Serve runs the HTTP API and all display tasks until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}
	defer a.sched.Stop()

	srv := server.New(server.Deps{
		Configs:   a.configs,
		Store:     a.store,
		Time:      a.resolver,
		Display:   a.display,
		Metrics:   a.metrics,
		Logger:    a.logger,
		AccessLog: a.accessLog(),
		OnReset:   a.archiveReset,
	}, a.cfg.Server)
	return srv.Run(ctx)
}

func (a *App) accessLog() io.Writer {
	if a.logFile == nil {
		return io.Discard
	}
	return a.logFile
}

// Display runs the terminal display until the user quits or ctx is done.
func (a *App) Display(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}
	defer a.sched.Stop()
	return tui.Run(ctx, a.display)
}

// Status loads the config, syncs the time source once if needed, and
// returns the frame a display would show now.
func (a *App) Status(ctx context.Context) display.Frame {
	if err := a.configs.Load(ctx); err != nil {
		a.logger.Debug("loading accident config", "error", err)
	}
	a.resolver.Init(ctx)
	return a.display.Compute()
}

// Reset performs the atomic timer reset and archives a snapshot.
func (a *App) Reset(ctx context.Context) (*board.ResetOutcome, error) {
	out, err := a.configs.ResetTimer(ctx)
	if err != nil {
		return nil, err
	}
	a.metrics.ObserveReset(out)
	a.archiveReset(ctx, out)
	return out, nil
}

func (a *App) archiveReset(ctx context.Context, _ *board.ResetOutcome) {
	if a.exporter != nil {
		a.exporter.ExportAfterReset(ctx)
	}
}

// SetRecord overrides the record.
func (a *App) SetRecord(ctx context.Context, days int) error {
	return a.configs.SetRecord(ctx, days)
}

// ResetRecord sets the record to zero.
func (a *App) ResetRecord(ctx context.Context) error {
	return a.configs.ResetRecord(ctx)
}

// History returns the most recent resets, newest first.
func (a *App) History(ctx context.Context, limit int) ([]*board.HistoryEntry, error) {
	return a.store.ListHistory(ctx, limit)
}

// ExportHistory archives a snapshot on demand and returns its name.
func (a *App) ExportHistory(ctx context.Context) (string, error) {
	if a.exporter == nil {
		return "", ErrArchiveDisabled
	}
	return a.exporter.Export(ctx, "manual")
}

// TimeConfig returns the stored time source configuration.
func (a *App) TimeConfig() timesync.APIConfig {
	return a.resolver.GetConfig()
}

// SaveTimeConfig validates and stores the time source configuration.
func (a *App) SaveTimeConfig(cfg timesync.APIConfig) error {
	return a.resolver.SaveConfig(cfg)
}

// SyncTime forces a remote time fetch.
func (a *App) SyncTime(ctx context.Context) (timesync.SyncPoint, error) {
	return a.resolver.FetchRemoteTime(ctx)
}

// TimeStatus returns the time source status.
func (a *App) TimeStatus() timesync.Status {
	return a.resolver.Status()
}

// Keygen creates the archive key pair protected by passphrase.
func (a *App) Keygen(passphrase string) error {
	return a.encryptor.Setup(passphrase)
}

// ListArchive returns the archived snapshot names.
func (a *App) ListArchive(ctx context.Context) ([]string, error) {
	if a.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return a.archive.List(ctx)
}

// ReadArchive loads one snapshot. passphrase is asked for only when the
// snapshot is encrypted.
func (a *App) ReadArchive(ctx context.Context, name string, passphrase func() (string, error)) (*archive.Snapshot, error) {
	if a.archive == nil {
		return nil, ErrArchiveDisabled
	}
	var dc board.DecryptionContext
	if archive.IsEncrypted(name) {
		p, err := passphrase()
		if err != nil {
			return nil, err
		}
		dc, err = a.encryptor.Unlock(p)
		if err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}
	return archive.Read(ctx, a.archive, name, dc)
}

// Close releases every resource. It is safe to call on a partially wired App.
func (a *App) Close() error {
	var errs []error
	if a.sched != nil {
		a.sched.Stop()
	}
	if c, ok := a.feed.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing change feed: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing shared storage: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}
