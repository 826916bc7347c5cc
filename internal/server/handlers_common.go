package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"rescue/dispatch/internal/dispatch"

	"github.com/go-chi/chi/v5"
)

type APIError struct {
	Error   string      `json:"error"`
	Kind    string      `json:"kind,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

const (
	errInvalidPayload      = "invalid payload"
	errInvalidIncidentID   = "invalid incident id"
	errInvalidUnitID       = "invalid unit id"
	errInvalidSuggestionID = "invalid suggestion id"
	errInvalidDispatchID   = "invalid dispatch id"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, details interface{}) {
	s.writeJSON(w, status, APIError{Error: message, Details: details})
}

// writeDomainError maps engine and store errors to a status code and exposes the error
// kind so clients can branch on it.
func (s *Server) writeDomainError(w http.ResponseWriter, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case dispatch.IsNotFound(err):
		status = http.StatusNotFound
	case dispatch.IsConflict(err):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg(message)
	}
	s.writeJSON(w, status, APIError{Error: message, Kind: dispatch.Kind(err), Details: err.Error()})
}

func (s *Server) decodeAndValidate(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if err := s.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

// decodeOptional is decodeAndValidate for endpoints whose body may be omitted.
func (s *Server) decodeOptional(r *http.Request, dst interface{}) error {
	err := s.decodeAndValidate(r, dst)
	if errors.Is(err, io.EOF) {
		return s.validate.Struct(dst)
	}
	return err
}

func parseIDParam(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	if strings.TrimSpace(raw) == "" {
		return 0, errors.New("missing id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
