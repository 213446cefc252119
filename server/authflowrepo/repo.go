package authflowrepo

import (
	"errors"
	"time"
)

// DefaultTTL bounds how long a login may sit at the provider before the
// callback is rejected.
const DefaultTTL = 10 * time.Minute

var ErrStateNotFound = errors.New("state not found")

// AuthFlowState is what the login redirect must remember for the callback.
type AuthFlowState struct {
	CodeVerifier string
	Nonce        string
	ReturnURL    string
	CreatedAt    time.Time
}

type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	Get(state string) (*AuthFlowState, error)
	Delete(state string) error
}
