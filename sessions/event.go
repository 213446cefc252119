package sessions

import "time"

// EventType identifies a change notification from an authentication backend.
type EventType string

const (
	EventInitialSession   EventType = "INITIAL_SESSION"
	EventSignedIn         EventType = "SIGNED_IN"
	EventSignedOut        EventType = "SIGNED_OUT"
	EventTokenRefreshed   EventType = "TOKEN_REFRESHED"
	EventUserUpdated      EventType = "USER_UPDATED"
	EventPasswordRecovery EventType = "PASSWORD_RECOVERY"
)

// ClearsSession reports whether consumers must drop their session on this event.
func (t EventType) ClearsSession() bool {
	return t == EventSignedOut
}

func (t EventType) String() string {
	return string(t)
}

// Event is a single auth state change. Session is nil for SIGNED_OUT.
type Event struct {
	Type    EventType
	Session *Session
	At      time.Time
}

// Listener receives auth events.
type Listener func(Event)

// Subscription is returned by a backend when a listener is registered.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() {
	f()
}
