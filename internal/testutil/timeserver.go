package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TimeServer is a fake remote time API. It answers every request with the
// configured status and body.
type TimeServer struct {
	*httptest.Server

	mu     sync.Mutex
	status int
	body   string
	hits   atomic.Int64
}

// NewTimeServer starts a TimeServer reporting t in the {"unixtime": n} shape.
// The server is closed when the test completes.
func NewTimeServer(tb testing.TB, at time.Time) *TimeServer {
	tb.Helper()
	ts := &TimeServer{status: http.StatusOK}
	ts.SetUnixTime(at)
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.serve))
	tb.Cleanup(ts.Close)
	return ts
}

func (ts *TimeServer) serve(w http.ResponseWriter, r *http.Request) {
	ts.hits.Add(1)
	ts.mu.Lock()
	status, body := ts.status, ts.body
	ts.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

// Respond sets the status and raw body of subsequent responses.
func (ts *TimeServer) Respond(status int, body string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = status
	ts.body = body
}

// SetUnixTime answers with {"unixtime": seconds}.
func (ts *TimeServer) SetUnixTime(at time.Time) {
	ts.Respond(http.StatusOK, fmt.Sprintf(`{"unixtime": %d}`, at.Unix()))
}

// SetDateTime answers with {key: RFC 3339 date-time}.
func (ts *TimeServer) SetDateTime(key string, at time.Time) {
	ts.Respond(http.StatusOK, fmt.Sprintf(`{%q: %q}`, key, at.Format(time.RFC3339Nano)))
}

// Hits returns how many requests the server has answered.
func (ts *TimeServer) Hits() int64 {
	return ts.hits.Load()
}
