package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// SessionResponse is the public view of a session snapshot. Tokens are
// never serialised.
type SessionResponse struct {
	State        string         `json:"state"`
	Loading      bool           `json:"loading"`
	SignedIn     bool           `json:"signed_in"`
	User         *sessions.User `json:"user,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	RefreshError string         `json:"refresh_error,omitempty"`
}

func newSessionResponse(snap auth.Snapshot) SessionResponse {
	resp := SessionResponse{
		State:    snap.State.String(),
		Loading:  snap.Loading,
		SignedIn: snap.Session != nil,
		User:     snap.User,
	}
	if snap.Session != nil && snap.Session.HasExpiry() {
		resp.ExpiresAt = utils.Ptr(snap.Session.ExpiresAt.UTC())
	}
	if snap.RefreshError != nil {
		resp.RefreshError = snap.RefreshError.Error()
	}
	return resp
}

type refreshResponse struct {
	Refreshed bool `json:"refreshed"`
	SessionResponse
}

type signOutResponse struct {
	SignedOut bool   `json:"signed_out"`
	Error     string `json:"error,omitempty"`
}

// SessionHandler returns the current session snapshot.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newSessionResponse(s.store.Snapshot()))
	}
}

// RefreshHandler asks for a refresh now. Debounced requests report the
// current session state without contacting the provider.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok := s.store.RefreshSession(r.Context())
		writeJSON(w, http.StatusOK, refreshResponse{
			Refreshed:       ok,
			SessionResponse: newSessionResponse(s.store.Snapshot()),
		})
	}
}

// SignOutHandler clears the session. The local sign out always succeeds; a
// provider failure is reported in the body.
func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := signOutResponse{SignedOut: true}
		if err := s.store.SignOut(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("provider sign out failed")
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"state":       s.store.State().String(),
			"subscribers": s.manager.Subscribers(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSONError writes an OAuth2 style error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
