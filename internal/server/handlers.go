package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"safeboard/internal/board"
	"safeboard/internal/timesync"
)

const maxHistoryLimit = 500

const msgConfigLoading = "Konfiguration wird geladen"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Display.Compute())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Configs.Snapshot()
	if snap.Config == nil {
		detail := snap.Error
		if detail == "" {
			detail = msgConfigLoading
		}
		writeProblem(w, http.StatusServiceUnavailable, "config not available", detail)
		return
	}
	writeJSON(w, http.StatusOK, snap.Config)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Configs.ResetTimer(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveReset(out)
	}
	if s.deps.OnReset != nil {
		s.deps.OnReset(r.Context(), out)
	}
	writeJSON(w, http.StatusOK, out)
}

type recordRequest struct {
	Days *int `json:"days"`
}

func (s *Server) handleSetRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Days == nil {
		writeProblemKind(w, http.StatusBadRequest, "invalid request", board.ErrInvalidRecord.Msg, board.KindValidation)
		return
	}
	if err := s.deps.Configs.SetRecord(r.Context(), *req.Days); err != nil {
		writeError(w, err)
		return
	}
	s.recordWritten("set")
	writeJSON(w, http.StatusOK, s.deps.Configs.Config())
}

func (s *Server) handleResetRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Configs.ResetRecord(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.recordWritten("reset")
	writeJSON(w, http.StatusOK, s.deps.Configs.Config())
}

func (s *Server) recordWritten(op string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordWrites.WithLabelValues(op).Inc()
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeProblem(w, http.StatusBadRequest, "invalid request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries, err := s.deps.Store.ListHistory(r.Context(), limit)
	if err != nil {
		s.deps.Logger.Error("listing history", "error", err)
		writeProblemKind(w, http.StatusBadGateway, "upstream failure", "Historie konnte nicht geladen werden", board.KindStore)
		return
	}
	if entries == nil {
		entries = []*board.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetTimeConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Time.GetConfig())
}

func (s *Server) handlePutTimeConfig(w http.ResponseWriter, r *http.Request) {
	var cfg timesync.APIConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid request", "malformed time config")
		return
	}
	if err := s.deps.Time.SaveConfig(cfg); err != nil {
		if errors.Is(err, board.ErrValidation) {
			writeError(w, err)
			return
		}
		s.deps.Logger.Error("saving time config", "error", err)
		writeProblem(w, http.StatusInternalServerError, "internal error", "Zeit-Konfiguration konnte nicht gespeichert werden")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Time.GetConfig())
}

func (s *Server) handleTimeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Time.Status())
}

func (s *Server) handleTimeSync(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Time.FetchRemoteTime(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Time.Status())
}
