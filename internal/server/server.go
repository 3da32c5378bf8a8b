// Package server exposes the display state and the administrative
// operations over HTTP, with a websocket frame stream for displays.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"safeboard/internal/board"
	"safeboard/internal/config"
	"safeboard/internal/display"
	"safeboard/internal/metrics"
	"safeboard/internal/timesync"
)

// TimeService is the part of timesync.Resolver the API uses.
type TimeService interface {
	GetConfig() timesync.APIConfig
	SaveConfig(cfg timesync.APIConfig) error
	FetchRemoteTime(ctx context.Context) (timesync.SyncPoint, error)
	Status() timesync.Status
}

// Deps are the components the server exposes.
type Deps struct {
	Configs *board.ConfigStore
	Store   board.Store
	Time    TimeService
	Display *display.Board
	Metrics *metrics.Registry
	Logger  board.Logger
	// AccessLog receives combined-format access lines. Nil discards them.
	AccessLog io.Writer
	// OnReset runs after every successful reset.
	OnReset func(ctx context.Context, out *board.ResetOutcome)
}

// Server is the HTTP surface.
type Server struct {
	deps    Deps
	cfg     config.ServerConfig
	handler http.Handler
	hub     *wsHub
}

// New creates a Server and builds its routes.
func New(deps Deps, cfg config.ServerConfig) *Server {
	if deps.AccessLog == nil {
		deps.AccessLog = io.Discard
	}
	s := &Server{deps: deps, cfg: cfg, hub: newWSHub(deps.Display, deps.Metrics, deps.Logger)}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(instrument(s.deps.Metrics))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.serve).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/time/config", s.handleGetTimeConfig).Methods(http.MethodGet)
	api.HandleFunc("/time/status", s.handleTimeStatus).Methods(http.MethodGet)

	admin := api.NewRoute().Subrouter()
	admin.Use(apiKeyAuth(s.cfg.APIKeys), bodyLimit)
	admin.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	admin.HandleFunc("/record", s.handleSetRecord).Methods(http.MethodPut)
	admin.HandleFunc("/record", s.handleResetRecord).Methods(http.MethodDelete)
	admin.HandleFunc("/time/config", s.handlePutTimeConfig).Methods(http.MethodPut)
	admin.HandleFunc("/time/sync", s.handleTimeSync).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "not found", r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", r.Method+" "+r.URL.Path)
	})

	var h http.Handler = r
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.deps.Logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	h = handlers.CombinedLoggingHandler(s.deps.AccessLog, h)
	return h
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	go s.hub.run(ctx)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
