package feed

import (
	"context"
	"testing"
	"time"

	"safeboard/internal/board"
)

func row(days int, at time.Time) board.AccidentConfig {
	return board.AccidentConfig{
		LastAccidentDate: at.Add(-time.Duration(days) * 24 * time.Hour),
		RecordDays:       days,
		UpdatedAt:        at,
	}
}

func receive(t *testing.T, ch <-chan board.AccidentConfig) board.AccidentConfig {
	t.Helper()
	select {
	case cfg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return cfg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a row")
	}
	return board.AccidentConfig{}
}

func TestHub(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	t.Run("fans out to every subscriber", func(t *testing.T) {
		h := NewHub()
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		a, _ := h.Subscribe(ctx)
		b, _ := h.Subscribe(ctx)
		if err := h.Publish(ctx, row(3, at)); err != nil {
			t.Fatalf("Publish: %v", err)
		}

		if got := receive(t, a); got.RecordDays != 3 {
			t.Errorf("a got record %d, want 3", got.RecordDays)
		}
		if got := receive(t, b); got.RecordDays != 3 {
			t.Errorf("b got record %d, want 3", got.RecordDays)
		}
	})

	t.Run("slow subscriber keeps the newest rows", func(t *testing.T) {
		h := NewHub()
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		ch, _ := h.Subscribe(ctx)
		total := subscriberBuffer + 3
		for i := 1; i <= total; i++ {
			h.Publish(ctx, row(i, at))
		}

		var last board.AccidentConfig
		for i := 0; i < subscriberBuffer; i++ {
			last = receive(t, ch)
		}
		if last.RecordDays != total {
			t.Errorf("last received record = %d, want %d", last.RecordDays, total)
		}
		published, dropped := h.Stats()
		if published != uint64(total) || dropped != 3 {
			t.Errorf("Stats() = %d, %d; want %d, 3", published, dropped, total)
		}
	})

	t.Run("cancel closes the channel", func(t *testing.T) {
		h := NewHub()
		ctx, cancel := context.WithCancel(context.Background())

		ch, _ := h.Subscribe(ctx)
		cancel()

		select {
		case _, ok := <-ch:
			if ok {
				t.Fatal("expected closed channel")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("channel not closed after cancel")
		}
		if n := h.Subscribers(); n != 0 {
			t.Errorf("Subscribers() = %d, want 0", n)
		}
	})

	t.Run("publish without subscribers", func(t *testing.T) {
		h := NewHub()
		if err := h.Publish(context.Background(), row(1, at)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	})
}
