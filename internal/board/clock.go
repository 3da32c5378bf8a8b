package board

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the local wall clock. The time resolver extrapolates remote time
// from it and the stores stamp rows with it; tests drive it by hand.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator names reset history entries.
type IDGenerator interface {
	New() string
}

// UUIDGenerator is the production IDGenerator (random v4 UUIDs).
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
