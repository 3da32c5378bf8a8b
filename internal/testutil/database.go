package testutil

import (
	"testing"

	"safeboard/internal/board"
	"safeboard/internal/database"
)

// NewTestStore creates a new in-memory SQLite store with schema applied and
// the config row seeded at clock.Now(). The store is automatically closed
// when the test completes.
func NewTestStore(t *testing.T, clock board.Clock) *database.SQLiteStore {
	t.Helper()

	s, err := database.NewSQLiteStore(":memory:", clock, NewSequentialIDs())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}
