package timesync

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncPoint pairs one remote time observation with the local clock reading
// taken at the same moment.
type SyncPoint struct {
	RemoteUnixMs int64     `json:"serverUnixTime"`
	LocalUnixMs  int64     `json:"localUnixTime"`
	SyncedAt     time.Time `json:"lastSync"`
}

// NewSyncPoint records that the remote service reported remote at local time local.
func NewSyncPoint(remote, local time.Time) SyncPoint {
	return SyncPoint{
		RemoteUnixMs: remote.UnixMilli(),
		LocalUnixMs:  local.UnixMilli(),
		SyncedAt:     local,
	}
}

// Valid reports whether both observations are positive and the point carries a sync time.
func (p SyncPoint) Valid() bool {
	return p.RemoteUnixMs > 0 && p.LocalUnixMs > 0 && !p.SyncedAt.IsZero()
}

// Extrapolate returns the remote time corresponding to the local reading now.
func (p SyncPoint) Extrapolate(now time.Time) time.Time {
	return time.UnixMilli(p.RemoteUnixMs + (now.UnixMilli() - p.LocalUnixMs))
}

// Offset is the remote clock minus the local clock at the sync moment.
func (p SyncPoint) Offset() time.Duration {
	return time.Duration(p.RemoteUnixMs-p.LocalUnixMs) * time.Millisecond
}

// Age returns how long ago the point was taken.
func (p SyncPoint) Age(now time.Time) time.Duration {
	return now.Sub(p.SyncedAt)
}

func decodeSyncPoint(data []byte) (SyncPoint, error) {
	var p SyncPoint
	if err := json.Unmarshal(data, &p); err != nil {
		return SyncPoint{}, fmt.Errorf("decoding sync point: %w", err)
	}
	if !p.Valid() {
		return SyncPoint{}, fmt.Errorf("invalid sync point %+v", p)
	}
	return p, nil
}
