package authflowrepo

import (
	"context"
	"errors"
	"time"

	"github.com/jrsteele09/go-auth-session/cache"
)

// CacheRepo keeps pending login states in a TTL cache so abandoned flows
// expire on their own.
type CacheRepo struct {
	states *cache.TTLCache[string, AuthFlowState]
	ttl    time.Duration
}

var _ Repo = (*CacheRepo)(nil)

// NewCacheRepo creates a repository whose entries live for ttl. A ttl <= 0
// falls back to DefaultTTL.
func NewCacheRepo(ttl time.Duration, options ...cache.Option) *CacheRepo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CacheRepo{
		states: cache.New[string, AuthFlowState](options...),
		ttl:    ttl,
	}
}

// Upsert stores or updates an auth flow state
func (r *CacheRepo) Upsert(state string, authState *AuthFlowState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if authState == nil {
		return errors.New("authState cannot be nil")
	}
	// stored by value so callers cannot mutate it afterwards
	return r.states.Set(state, *authState, r.ttl)
}

// Get retrieves an auth flow state by state parameter
func (r *CacheRepo) Get(state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}
	authState, ok := r.states.Get(state)
	if !ok {
		return nil, ErrStateNotFound
	}
	return &authState, nil
}

// Delete removes an auth flow state
func (r *CacheRepo) Delete(state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	r.states.Delete(state)
	return nil
}

// RunJanitor evicts abandoned states every interval until ctx is done.
func (r *CacheRepo) RunJanitor(ctx context.Context, interval time.Duration) {
	r.states.RunJanitor(ctx, interval)
}
