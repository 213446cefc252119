package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/server/authflowrepo"
)

// LoginHandler starts a PKCE authorization code flow and redirects to the provider.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.signIn == nil {
			writeJSONError(w, "unsupported", "interactive sign in is not configured", http.StatusNotImplemented)
			return
		}

		req, err := s.signIn.StartSignIn()
		if err != nil {
			s.logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "server_error", "failed to start sign in", http.StatusInternalServerError)
			return
		}

		err = s.authState.Upsert(req.State, &authflowrepo.AuthFlowState{
			CodeVerifier: req.CodeVerifier,
			Nonce:        req.Nonce,
			ReturnURL:    safeReturnURL(r.URL.Query().Get("return_url")),
			CreatedAt:    time.Now(),
		})
		if err != nil {
			s.logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "server_error", "failed to store sign in state", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, req.URL, http.StatusFound)
	}
}

// OAuthCallbackHandler completes the code flow. The signed in session reaches
// subscribers through the backend's SIGNED_IN event.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.signIn == nil {
			writeJSONError(w, "unsupported", "interactive sign in is not configured", http.StatusNotImplemented)
			return
		}

		// r.FormValue works for both query params and POST form data
		state := r.FormValue("state")
		code := r.FormValue("code")
		errorParam := r.FormValue("error")
		errorDesc := r.FormValue("error_description")

		if errorParam != "" {
			writeJSONError(w, errorParam, fmt.Sprintf("Authorization failed: %s", errorDesc), http.StatusBadRequest)
			return
		}
		if code == "" || state == "" {
			writeJSONError(w, "invalid_request", "Missing code or state parameter", http.StatusBadRequest)
			return
		}

		authState, err := s.authState.Get(state)
		if err != nil || authState == nil {
			writeJSONError(w, "invalid_request", "Invalid state parameter", http.StatusBadRequest)
			return
		}
		// states are single use
		if err := s.authState.Delete(state); err != nil {
			s.logError(r.Method, r.URL.Path, err)
		}

		sess, err := s.signIn.CompleteSignIn(r.Context(), code, authState.CodeVerifier, authState.Nonce)
		if err != nil {
			s.logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "access_denied", "sign in could not be completed", http.StatusUnauthorized)
			return
		}
		if user := sess.UserOrNil(); user != nil {
			s.log.Info().Str("user_id", user.ID).Msg("sign in completed")
		}

		redirectSuccess(w, r, authState.ReturnURL)
	}
}

func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// safeReturnURL only allows local absolute paths, so the callback cannot be
// used as an open redirect.
func safeReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
		return defaultReturnURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return defaultReturnURL
	}
	return raw
}
