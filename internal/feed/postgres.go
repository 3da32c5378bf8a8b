package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"safeboard/internal/board"
)

const listenRetry = time.Second

// PGListener is the store-push ChangeFeed for PostgreSQL: a trigger on the
// config row NOTIFYs the post-change row, and Run relays it to subscribers.
// Publish is a no-op because the trigger fires on every write.
type PGListener struct {
	*Hub
	pool    *pgxpool.Pool
	channel string
	logger  board.Logger
}

// NewPGListener creates a listener on channel.
func NewPGListener(pool *pgxpool.Pool, channel string, logger board.Logger) *PGListener {
	return &PGListener{Hub: NewHub(), pool: pool, channel: channel, logger: logger}
}

func (l *PGListener) Publish(ctx context.Context, cfg board.AccidentConfig) error {
	return nil
}

// Run listens until ctx is done, reconnecting after connection failures.
func (l *PGListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("config change listener interrupted", "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(listenRetry):
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(l.channel)); err != nil {
		return fmt.Errorf("listening on %s: %w", l.channel, err)
	}
	l.logger.Debug("listening for config changes", "channel", l.channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("waiting for notification: %w", err)
		}
		cfg, err := decodeRow([]byte(n.Payload))
		if err != nil {
			l.logger.Warn("ignoring config change notification", "error", err)
			continue
		}
		l.broadcast(cfg)
	}
}

func quoteIdent(s string) string {
	out := []byte{'"'}
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, s[i])
	}
	return string(append(out, '"'))
}

func decodeRow(data []byte) (board.AccidentConfig, error) {
	var cfg board.AccidentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return board.AccidentConfig{}, fmt.Errorf("decoding config row: %w", err)
	}
	if cfg.LastAccidentDate.IsZero() || cfg.RecordDays < 0 {
		return board.AccidentConfig{}, fmt.Errorf("invalid config row %+v", cfg)
	}
	return cfg, nil
}

var _ board.ChangeFeed = (*PGListener)(nil)
