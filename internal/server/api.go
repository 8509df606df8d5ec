package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxAPIBody = 16 << 10

// requireBearer admits requests carrying one of the configured tokens.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !s.validToken(token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="relay"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validToken(token string) bool {
	if token == "" {
		return false
	}
	match := 0
	for _, t := range s.tokens {
		match |= subtle.ConstantTimeCompare(t, []byte(token))
	}
	return match == 1
}

// registerPending handles POST /api/pending.
func (s *Server) registerPending(w http.ResponseWriter, r *http.Request) {
	var req pendingRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	reg, err := s.dispatcher.RegisterPending(r.Context(), req.UserID, req.Name, req.IconURL)
	switch {
	case errors.Is(err, relay.ErrMissingField):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.log.Warn("pending registration failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "directory unavailable"})
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

// unregisterPending handles DELETE /api/pending/{userId}.
func (s *Server) unregisterPending(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !s.dispatcher.UnregisterPending(userID) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no pending registration"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
