package board

import "context"

// Store is the remote data store that exclusively owns the durable accident
// config row and the reset history. Implementations hide the transport.
type Store interface {
	// GetConfig reads the config row. Returns nil, nil if the row does not exist.
	GetConfig(ctx context.Context) (*AccidentConfig, error)

	// SetRecord unconditionally overwrites record_days and returns the post-change row.
	SetRecord(ctx context.Context, days int) (*AccidentConfig, error)

	// RaiseRecord sets record_days to days only if the stored value is lower.
	// It returns the post-call row and whether a write happened.
	RaiseRecord(ctx context.Context, days int) (*AccidentConfig, bool, error)

	// ResetTimer is the atomic reset procedure: in one indivisible operation it
	// computes the elapsed days against the stored baseline, raises the record
	// if that is a new high, and moves the baseline to the store's own clock.
	ResetTimer(ctx context.Context) (*ResetOutcome, error)

	// AppendHistory inserts one reset audit entry.
	AppendHistory(ctx context.Context, previousDays int) (*HistoryEntry, error)

	// ListHistory returns the most recent history entries, newest first.
	ListHistory(ctx context.Context, limit int) ([]*HistoryEntry, error)

	// Close releases the store's resources.
	Close() error
}

// ChangeFeed notifies observers when the authoritative config row changes.
// Variants push from the store, broadcast locally, or re-fetch periodically;
// ConfigStore does not depend on which.
type ChangeFeed interface {
	// Publish announces a post-change row. Variants whose store emits change
	// events on its own treat this as a no-op.
	Publish(ctx context.Context, cfg AccidentConfig) error

	// Subscribe returns a channel of post-change rows. The channel is closed
	// when ctx is done.
	Subscribe(ctx context.Context) (<-chan AccidentConfig, error)
}

// SharedStorage is durable key/value storage shared by every display session
// of one origin. Writers do not coordinate: the last write wins.
type SharedStorage interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) ([]byte, bool, error)

	// Set stores value under key and notifies watchers of key.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Watch returns a channel that receives the new value every time key is
	// written, by this session or any other. The channel is closed when ctx is done.
	Watch(ctx context.Context, key string) (<-chan []byte, error)
}
