package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeboard/internal/board"
	"safeboard/internal/config"
	"safeboard/internal/display"
	"safeboard/internal/metrics"
	"safeboard/internal/testutil"
	"safeboard/internal/timesync"
)

const day = 24 * time.Hour

type fakeTime struct {
	clock board.Clock

	mu       sync.Mutex
	cfg      timesync.APIConfig
	fetchErr error
	fetches  int
}

func (f *fakeTime) ResolveCurrentTime() time.Time { return f.clock.Now() }

func (f *fakeTime) Status() timesync.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return timesync.Status{Enabled: f.cfg.Enabled, Online: f.fetchErr == nil, Error: board.Message(f.fetchErr)}
}

func (f *fakeTime) GetConfig() timesync.APIConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeTime) SaveConfig(cfg timesync.APIConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

func (f *fakeTime) FetchRemoteTime(ctx context.Context) (timesync.SyncPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return timesync.SyncPoint{}, f.fetchErr
	}
	now := f.clock.Now()
	return timesync.NewSyncPoint(now, now), nil
}

type serverEnv struct {
	clock  *testutil.StubClock
	store  *testutil.FakeStore
	cs     *board.ConfigStore
	time   *fakeTime
	board  *display.Board
	server *Server
	resets []*board.ResetOutcome
}

func newServerEnv(t *testing.T, cfg config.ServerConfig, load bool) *serverEnv {
	t.Helper()
	clock := testutil.FixedClock()
	store := testutil.NewFakeStore(clock, &board.AccidentConfig{LastAccidentDate: clock.Now(), RecordDays: 7})
	clock.Advance(10*day + time.Hour)

	logger := board.NewNopLogger()
	cs := board.NewConfigStore(store, nil, logger, clock)
	if load {
		require.NoError(t, cs.Load(context.Background()))
	}
	ft := &fakeTime{clock: clock, cfg: timesync.DefaultAPIConfig()}
	b := display.New(ft, cs, logger)

	env := &serverEnv{clock: clock, store: store, cs: cs, time: ft, board: b}
	env.server = New(Deps{
		Configs: cs,
		Store:   store,
		Time:    ft,
		Display: b,
		Metrics: metrics.NewRegistry(),
		Logger:  logger,
		OnReset: func(ctx context.Context, out *board.ResetOutcome) {
			env.resets = append(env.resets, out)
		},
	}, cfg)
	return env
}

func (e *serverEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestState(t *testing.T) {
	env := newServerEnv(t, config.ServerConfig{}, true)

	rec := env.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var f display.Frame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))
	assert.True(t, f.Available)
	assert.Equal(t, board.Elapsed{Days: 10, Hours: 1}, f.Elapsed)
	assert.Equal(t, 7, f.RecordDays)
}

func TestConfig(t *testing.T) {
	t.Run("not loaded", func(t *testing.T) {
		env := newServerEnv(t, config.ServerConfig{}, false)
		rec := env.do(t, http.MethodGet, "/api/config", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotEmpty(t, decodeProblem(t, rec).Detail)
	})

	t.Run("loaded", func(t *testing.T) {
		env := newServerEnv(t, config.ServerConfig{}, true)
		rec := env.do(t, http.MethodGet, "/api/config", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var cfg board.AccidentConfig
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
		assert.Equal(t, 7, cfg.RecordDays)
	})
}

func TestReset(t *testing.T) {
	t.Run("breaks the record", func(t *testing.T) {
		env := newServerEnv(t, config.ServerConfig{}, true)
		rec := env.do(t, http.MethodPost, "/api/reset", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var out board.ResetOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, 10, out.PreviousDays)
		assert.Equal(t, 7, out.OldRecord)
		assert.Equal(t, 10, out.NewRecord)
		assert.True(t, out.RecordBroken)

		assert.Len(t, env.resets, 1)
		assert.Len(t, env.store.History(), 1)
		assert.Equal(t, 10, env.cs.Config().RecordDays)
	})

	t.Run("store failure", func(t *testing.T) {
		env := newServerEnv(t, config.ServerConfig{}, true)
		env.store.Fail("ResetTimer", testutil.ErrInjected)

		rec := env.do(t, http.MethodPost, "/api/reset", "")
		require.Equal(t, http.StatusBadGateway, rec.Code)
		p := decodeProblem(t, rec)
		assert.Equal(t, string(board.KindStore), p.Kind)
		assert.Empty(t, env.resets)
	})
}

func TestRecord(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantRecord int
	}{
		{"valid", `{"days":12}`, http.StatusOK, 12},
		{"zero", `{"days":0}`, http.StatusOK, 0},
		{"negative", `{"days":-1}`, http.StatusBadRequest, 7},
		{"not a number", `{"days":"ten"}`, http.StatusBadRequest, 7},
		{"fraction", `{"days":1.5}`, http.StatusBadRequest, 7},
		{"missing", `{}`, http.StatusBadRequest, 7},
		{"malformed", `{`, http.StatusBadRequest, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newServerEnv(t, config.ServerConfig{}, true)
			rec := env.do(t, http.MethodPut, "/api/record", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantRecord, env.store.Row().RecordDays)
			if tt.wantStatus != http.StatusOK {
				assert.Zero(t, env.store.Calls("SetRecord"))
			}
		})
	}

	t.Run("delete resets to zero", func(t *testing.T) {
		env := newServerEnv(t, config.ServerConfig{}, true)
		rec := env.do(t, http.MethodDelete, "/api/record", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, env.store.Row().RecordDays)
	})
}

func TestAPIKey(t *testing.T) {
	env := newServerEnv(t, config.ServerConfig{APIKeys: []string{"s3cret"}}, true)

	rec := env.do(t, http.MethodPost, "/api/reset", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, env.store.Calls("ResetTimer"))

	rec = env.do(t, http.MethodPost, "/api/reset", "", "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusOK, rec.Code, "read routes stay public")
}

func TestHistory(t *testing.T) {
	env := newServerEnv(t, config.ServerConfig{}, true)
	env.store.AppendHistory(context.Background(), 3)
	env.store.AppendHistory(context.Background(), 5)

	rec := env.do(t, http.MethodGet, "/api/history?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []board.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].PreviousDays)

	for _, q := range []string{"abc", "0", "501"} {
		rec = env.do(t, http.MethodGet, "/api/history?limit="+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	env.store.Fail("ListHistory", testutil.ErrInjected)
	rec = env.do(t, http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestTimeRoutes(t *testing.T) {
	t.Run("config round trip", func(t *testing.T) {
		env := newServerEnv(t, config.ServerConfig{}, true)
		rec := env.do(t, http.MethodPut, "/api/time/config",
			`{"apiUrl":"ntp://pool.ntp.org","timezone":"Europe/Berlin","enabled":true}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/time/config", "")
		var cfg timesync.APIConfig
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
		assert.Equal(t, "ntp://pool.ntp.org", cfg.APIURL)
	})

	t.Run("invalid config", func(t *testing.T) {
		env := newServerEnv(t, config.ServerConfig{}, true)
		rec := env.do(t, http.MethodPut, "/api/time/config", `{"apiUrl":"","enabled":true}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(board.KindValidation), decodeProblem(t, rec).Kind)
	})

	t.Run("sync failure", func(t *testing.T) {
		env := newServerEnv(t, config.ServerConfig{}, true)
		env.time.fetchErr = board.NewError(board.KindNetwork, "fetch remote time", "Zeit-API nicht erreichbar", nil)

		rec := env.do(t, http.MethodPost, "/api/time/sync", "")
		require.Equal(t, http.StatusBadGateway, rec.Code)
		p := decodeProblem(t, rec)
		assert.Equal(t, string(board.KindNetwork), p.Kind)
		assert.Equal(t, "Zeit-API nicht erreichbar", p.Detail)
	})

	t.Run("sync success", func(t *testing.T) {
		env := newServerEnv(t, config.ServerConfig{}, true)
		rec := env.do(t, http.MethodPost, "/api/time/sync", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, env.time.fetches)
	})
}

func TestMiscRoutes(t *testing.T) {
	env := newServerEnv(t, config.ServerConfig{}, true)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)

	rec := env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	decodeProblem(t, rec)

	rec = env.do(t, http.MethodGet, "/api/reset", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	env.do(t, http.MethodGet, "/api/state", "")
	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `safeboard_api_requests_total{code="200",route="/api/state"}`)
}

func TestWebSocket(t *testing.T) {
	env := newServerEnv(t, config.ServerConfig{}, true)
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() display.Frame {
		var msg struct {
			Topic string        `json:"topic"`
			Data  display.Frame `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "frame", msg.Topic)
		return msg.Data
	}

	first := read()
	assert.Equal(t, 10, first.Elapsed.Days)

	env.clock.Advance(day)
	env.board.Tick(context.Background())
	assert.Equal(t, 11, read().Elapsed.Days)

	t.Run("cross-site upgrade is rejected", func(t *testing.T) {
		header := http.Header{"Origin": []string{"https://evil.example"}}
		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
