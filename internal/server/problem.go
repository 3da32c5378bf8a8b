package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"safeboard/internal/board"
)

// Problem is an RFC 7807 error body.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title,omitempty"`
	Status int    `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblemKind(w, status, title, detail, "")
}

func writeProblemKind(w http.ResponseWriter, status int, title, detail string, kind board.Kind) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
		Kind:   string(kind),
	})
}

// writeError maps a classified error to a problem response. Validation
// failures are the caller's fault; everything else is an upstream failure.
func writeError(w http.ResponseWriter, err error) {
	var e *board.Error
	if !errors.As(err, &e) {
		writeProblem(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	switch e.Kind {
	case board.KindValidation:
		writeProblemKind(w, http.StatusBadRequest, "invalid request", e.Msg, e.Kind)
	default:
		writeProblemKind(w, http.StatusBadGateway, "upstream failure", e.Msg, e.Kind)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
