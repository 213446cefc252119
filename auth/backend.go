package auth

import (
	"context"

	"github.com/jrsteele09/go-auth-session/sessions"
)

// Backend is the remote authentication service the session manager drives.
type Backend interface {
	// GetCurrentSession returns the backend's view of the current session, nil when signed out.
	GetCurrentSession(ctx context.Context) (*sessions.Session, error)
	// RefreshSession exchanges the held refresh credential for a new session.
	RefreshSession(ctx context.Context) (*sessions.Session, error)
	// OnSessionChanged registers listener for auth events until the subscription is released.
	OnSessionChanged(listener sessions.Listener) (sessions.Subscription, error)
	SignOut(ctx context.Context) error
}
