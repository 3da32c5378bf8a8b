package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"safeboard/internal/board"
	"safeboard/internal/display"
	"safeboard/internal/timesync"
)

func TestRegistry_ObserveFetch(t *testing.T) {
	r := NewRegistry()
	local := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	r.ObserveFetch(timesync.NewSyncPoint(local.Add(2*time.Second), local), nil)
	if got := promtest.ToFloat64(r.TimeOffset); got != 2 {
		t.Errorf("offset = %v, want 2", got)
	}
	if got := promtest.ToFloat64(r.TimeOnline); got != 1 {
		t.Errorf("online = %v, want 1", got)
	}

	err := board.NewError(board.KindParse, "fetch remote time", "bad", errors.New("x"))
	r.ObserveFetch(timesync.SyncPoint{}, err)
	if got := promtest.ToFloat64(r.TimeSyncs.WithLabelValues("failure", "ParseFailure")); got != 1 {
		t.Errorf("parse failures = %v, want 1", got)
	}
	if got := promtest.ToFloat64(r.TimeOnline); got != 0 {
		t.Errorf("online = %v, want 0", got)
	}
}

func TestRegistry_ObserveReset(t *testing.T) {
	r := NewRegistry()
	r.ObserveReset(&board.ResetOutcome{RecordBroken: true})
	r.ObserveReset(&board.ResetOutcome{})
	r.ObserveReset(&board.ResetOutcome{})

	if got := promtest.ToFloat64(r.Resets.WithLabelValues("true")); got != 1 {
		t.Errorf("broken resets = %v, want 1", got)
	}
	if got := promtest.ToFloat64(r.Resets.WithLabelValues("false")); got != 2 {
		t.Errorf("other resets = %v, want 2", got)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	frame := display.Frame{Available: true, Elapsed: board.Elapsed{Days: 12}, RecordDays: 40}
	r.WatchDisplay(func() display.Frame { return frame })
	r.WatchFeed(func() (uint64, uint64) { return 7, 1 })
	r.WatchScheduler(func() int64 { return 3 })
	r.ObserveRequest("/api/state", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"safeboard_days_since_accident 12",
		"safeboard_record_days 40",
		"safeboard_feed_published_total 7",
		"safeboard_scheduler_skipped_ticks_total 3",
		`safeboard_api_requests_total{code="200",route="/api/state"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	frame.Available = false
	rec = httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "safeboard_days_since_accident -1") {
		t.Error("unavailable config should export -1")
	}
}
