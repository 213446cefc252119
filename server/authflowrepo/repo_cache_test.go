package authflowrepo_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/cache"
	"github.com/jrsteele09/go-auth-session/server/authflowrepo"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCacheRepoRoundTrip(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	repo := authflowrepo.NewCacheRepo(0, cache.WithNowFunc(c.Now))

	in := &authflowrepo.AuthFlowState{CodeVerifier: "verifier", Nonce: "nonce", ReturnURL: "/home", CreatedAt: c.Now()}
	require.NoError(t, repo.Upsert("state-1", in))

	in.ReturnURL = "/mutated"
	got, err := repo.Get("state-1")
	require.NoError(t, err)
	require.Equal(t, "verifier", got.CodeVerifier)
	require.Equal(t, "nonce", got.Nonce)
	require.Equal(t, "/home", got.ReturnURL)

	require.NoError(t, repo.Delete("state-1"))
	_, err = repo.Get("state-1")
	require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
}

func TestCacheRepoExpiresStates(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	repo := authflowrepo.NewCacheRepo(time.Minute, cache.WithNowFunc(c.Now))

	require.NoError(t, repo.Upsert("state-1", &authflowrepo.AuthFlowState{Nonce: "n"}))
	c.Advance(59 * time.Second)
	_, err := repo.Get("state-1")
	require.NoError(t, err)

	c.Advance(2 * time.Second)
	_, err = repo.Get("state-1")
	require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
}

func TestCacheRepoRejectsEmptyInput(t *testing.T) {
	repo := authflowrepo.NewCacheRepo(authflowrepo.DefaultTTL)

	require.Error(t, repo.Upsert("", &authflowrepo.AuthFlowState{}))
	require.Error(t, repo.Upsert("s", nil))
	_, err := repo.Get("")
	require.Error(t, err)
	require.Error(t, repo.Delete(""))
}
