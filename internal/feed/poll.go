package feed

import (
	"context"
	"time"

	"safeboard/internal/board"
)

// DefaultPollInterval is the re-fetch period of a Poller.
const DefaultPollInterval = 5 * time.Second

// Poller is the periodic re-fetch ChangeFeed: it reads the config row on an
// interval and announces it when UpdatedAt moved. Publish also announces
// locally so same-process observers do not wait for the next poll.
type Poller struct {
	*Hub
	store    board.Store
	interval time.Duration
	logger   board.Logger

	last time.Time
}

// NewPoller creates a Poller. interval <= 0 selects DefaultPollInterval.
func NewPoller(store board.Store, interval time.Duration, logger board.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{Hub: NewHub(), store: store, interval: interval, logger: logger}
}

// Interval returns the polling period.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll performs one re-fetch and reports whether a change was announced.
func (p *Poller) Poll(ctx context.Context) bool {
	cfg, err := p.store.GetConfig(ctx)
	if err != nil {
		p.logger.Warn("polling config", "error", err)
		return false
	}
	if cfg == nil || !cfg.UpdatedAt.After(p.last) {
		return false
	}
	p.last = cfg.UpdatedAt
	p.broadcast(*cfg)
	return true
}

var _ board.ChangeFeed = (*Poller)(nil)
