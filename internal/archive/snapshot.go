package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"safeboard/internal/board"
)

const (
	snapshotPrefix       = "snapshot-"
	snapshotExt          = ".json"
	snapshotHistoryLimit = 1000
	snapshotTimeLayout   = "20060102T150405.000Z"
)

// Snapshot is one archived audit record.
type Snapshot struct {
	ExportedAt time.Time             `json:"exportedAt"`
	Reason     string                `json:"reason"`
	Config     *board.AccidentConfig `json:"config"`
	History    []*board.HistoryEntry `json:"history"`
}

// Exporter writes snapshots of the store to an archive, encrypted when an
// encryptor is set.
type Exporter struct {
	archive   board.Archive
	encryptor board.Encryptor
	store     board.Store
	clock     board.Clock
	logger    board.Logger
}

// NewExporter creates an Exporter. encryptor may be nil.
func NewExporter(archive board.Archive, encryptor board.Encryptor, store board.Store, clock board.Clock, logger board.Logger) *Exporter {
	return &Exporter{archive: archive, encryptor: encryptor, store: store, clock: clock, logger: logger}
}

// Export archives the current row and history and returns the object name.
func (e *Exporter) Export(ctx context.Context, reason string) (string, error) {
	cfg, err := e.store.GetConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("reading config: %w", err)
	}
	history, err := e.store.ListHistory(ctx, snapshotHistoryLimit)
	if err != nil {
		return "", fmt.Errorf("reading history: %w", err)
	}

	snap := Snapshot{
		ExportedAt: e.clock.Now().UTC(),
		Reason:     reason,
		Config:     cfg,
		History:    history,
	}
	if snap.History == nil {
		snap.History = []*board.HistoryEntry{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	name := snapshotPrefix + snap.ExportedAt.Format(snapshotTimeLayout) + snapshotExt
	if e.encryptor != nil {
		var sealed bytes.Buffer
		if err := e.encryptor.Encrypt(bytes.NewReader(data), &sealed); err != nil {
			return "", fmt.Errorf("encrypting snapshot: %w", err)
		}
		data = sealed.Bytes()
		name += e.encryptor.Suffix()
	}

	if err := e.archive.Put(ctx, name, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", fmt.Errorf("archiving snapshot: %w", err)
	}
	e.logger.Info("snapshot archived", "name", name, "reason", reason, "entries", len(history))
	return name, nil
}

// ExportAfterReset is the hook run after a successful reset. Failures are
// logged and never reach the caller.
func (e *Exporter) ExportAfterReset(ctx context.Context) {
	if _, err := e.Export(ctx, "reset"); err != nil {
		e.logger.Warn("archiving reset snapshot", "error", err)
	}
}

// Read loads a snapshot. Encrypted snapshots need dc; plain ones ignore it.
func Read(ctx context.Context, archive board.Archive, name string, dc board.DecryptionContext) (*Snapshot, error) {
	var raw bytes.Buffer
	if err := archive.Get(ctx, name, &raw); err != nil {
		return nil, err
	}

	data := raw.Bytes()
	if !strings.HasSuffix(name, snapshotExt) {
		if dc == nil {
			return nil, fmt.Errorf("snapshot %s is encrypted", name)
		}
		var plain bytes.Buffer
		if err := dc.Decrypt(&raw, &plain); err != nil {
			return nil, err
		}
		data = plain.Bytes()
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", name, err)
	}
	return &snap, nil
}

// IsEncrypted reports whether name was written through an encryptor.
func IsEncrypted(name string) bool {
	return strings.HasPrefix(name, snapshotPrefix) && !strings.HasSuffix(name, snapshotExt)
}
