package sessions

import (
	"time"
)

// User is the identity carried by a Session.
type User struct {
	ID       string         `json:"id" toml:"id"`
	Email    string         `json:"email,omitempty" toml:"email,omitempty"`
	Name     string         `json:"name,omitempty" toml:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" toml:"metadata,omitempty"`
}

// Session is an authenticated session as handed out by a backend.
// Sessions are replaced wholesale, never mutated after they have been published.
type Session struct {
	User         User      `json:"user" toml:"user"`
	AccessToken  string    `json:"access_token" toml:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty" toml:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty" toml:"id_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty" toml:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at" toml:"expires_at"` // zero means unset
}

// HasExpiry reports whether the session carries an expiry time.
func (s *Session) HasExpiry() bool {
	return s != nil && !s.ExpiresAt.IsZero()
}

// ExpiresIn returns the time left until expiry, or 0 when unset or already past.
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	if !s.HasExpiry() {
		return 0
	}
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IsExpired reports whether the session is past its expiry. A session without
// an expiry is not considered expired, callers decide whether to trust it.
func (s *Session) IsExpired(now time.Time) bool {
	if !s.HasExpiry() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// UserOrNil returns a copy of the session's user, nil for a nil session.
func (s *Session) UserOrNil() *User {
	if s == nil {
		return nil
	}
	u := s.User
	return &u
}
