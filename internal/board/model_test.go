package board_test

import (
	"testing"
	"time"

	"safeboard/internal/board"
)

func TestComputeElapsed(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want board.Elapsed
	}{
		{"same instant", t0, board.Elapsed{}},
		{"six days two hours", t0.Add(6*day + 2*time.Hour), board.Elapsed{Days: 6, Hours: 2}},
		{"mixed units", t0.Add(day + 3*time.Hour + 4*time.Minute + 5*time.Second + 900*time.Millisecond),
			board.Elapsed{Days: 1, Hours: 3, Minutes: 4, Seconds: 5}},
		{"just under a day", t0.Add(day - time.Second), board.Elapsed{Hours: 23, Minutes: 59, Seconds: 59}},
		{"future baseline", t0.Add(-time.Hour), board.Elapsed{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := board.ComputeElapsed(t0, tt.now); got != tt.want {
				t.Errorf("ComputeElapsed() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecideReset(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	t.Run("new high breaks the record", func(t *testing.T) {
		now := t0.Add(10*day + time.Hour)
		got := board.DecideReset(t0, 7, now)
		want := board.ResetOutcome{NewTimestamp: now, PreviousDays: 10, OldRecord: 7, NewRecord: 10, RecordBroken: true}
		if got != want {
			t.Errorf("DecideReset() = %+v, want %+v", got, want)
		}
	})

	t.Run("equal is not a new record", func(t *testing.T) {
		got := board.DecideReset(t0, 10, t0.Add(10*day))
		if got.RecordBroken || got.NewRecord != 10 {
			t.Errorf("DecideReset() = %+v", got)
		}
	})

	t.Run("future baseline counts zero days", func(t *testing.T) {
		got := board.DecideReset(t0.Add(day), 3, t0)
		if got.PreviousDays != 0 || got.RecordBroken {
			t.Errorf("DecideReset() = %+v", got)
		}
	})
}
