package credstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-auth-session/credstore"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/stretchr/testify/require"
)

func testSession() *sessions.Session {
	return &sessions.Session{
		User:         sessions.User{ID: "user-1", Email: "jane@example.com", Name: "Jane"},
		AccessToken:  "access-token-value",
		RefreshToken: "refresh-token-value",
		TokenType:    "Bearer",
		ExpiresAt:    time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func requireSameSession(t *testing.T, want, got *sessions.Session) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, want.User.ID, got.User.ID)
	require.Equal(t, want.User.Email, got.User.Email)
	require.Equal(t, want.AccessToken, got.AccessToken)
	require.Equal(t, want.RefreshToken, got.RefreshToken)
	require.Equal(t, want.TokenType, got.TokenType)
	require.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expiry %v != %v", want.ExpiresAt, got.ExpiresAt)
}

func exerciseStore(t *testing.T, store credstore.Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, credstore.ErrNotFound)

	sess := testSession()
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	requireSameSession(t, sess, got)

	require.NoError(t, store.Delete(ctx))
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, credstore.ErrNotFound)

	require.NoError(t, store.Delete(ctx), "deleting a missing credential is not an error")
}

func TestMemoryStore(t *testing.T) {
	store := credstore.NewMemory()
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	exerciseStore(t, store)
}

func TestFileStorePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credential.toml")
	store, err := credstore.NewFile(credstore.Config{File: &credstore.FileConfig{Path: path}})
	require.NoError(t, err)
	exerciseStore(t, store)

	require.NoError(t, store.Save(context.Background(), testSession()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "access-token-value")
}

func TestFileStoreSealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.toml")
	cfg := credstore.Config{Key: "client-a", File: &credstore.FileConfig{Path: path, Passphrase: "correct horse"}}
	store, err := credstore.NewFile(cfg)
	require.NoError(t, err)
	exerciseStore(t, store)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testSession()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "access-token-value")
	require.Contains(t, string(data), "[sealed]")

	t.Run("wrong passphrase", func(t *testing.T) {
		wrong, err := credstore.NewFile(credstore.Config{Key: "client-a", File: &credstore.FileConfig{Path: path, Passphrase: "battery staple"}})
		require.NoError(t, err)
		_, err = wrong.Load(ctx)
		require.ErrorIs(t, err, credstore.ErrDecrypt)
	})

	t.Run("missing passphrase", func(t *testing.T) {
		plain, err := credstore.NewFile(credstore.Config{Key: "client-a", File: &credstore.FileConfig{Path: path}})
		require.NoError(t, err)
		_, err = plain.Load(ctx)
		require.ErrorIs(t, err, credstore.ErrDecrypt)
	})

	t.Run("other key", func(t *testing.T) {
		other, err := credstore.NewFile(credstore.Config{Key: "client-b", File: &credstore.FileConfig{Path: path, Passphrase: "correct horse"}})
		require.NoError(t, err)
		_, err = other.Load(ctx)
		require.ErrorIs(t, err, credstore.ErrNotFound)
	})
}

func TestFileStoreRequiresPath(t *testing.T) {
	_, err := credstore.NewFile(credstore.Config{})
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := credstore.NewRedis(credstore.Config{
		Key:   "client-a",
		TTL:   time.Hour,
		Redis: &credstore.RedisConfig{Addr: mr.Addr(), Prefix: "test:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	exerciseStore(t, store)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testSession()))
	require.True(t, mr.Exists("test:client-a"))
	require.Equal(t, time.Hour, mr.TTL("test:client-a"))

	mr.FastForward(time.Hour + time.Second)
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, credstore.ErrNotFound)
}

func TestRedisStoreConfigErrors(t *testing.T) {
	_, err := credstore.NewRedis(credstore.Config{})
	require.Error(t, err)

	_, err = credstore.NewRedis(credstore.Config{Redis: &credstore.RedisConfig{}})
	require.Error(t, err)
}

func TestFactory(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	testCases := []struct {
		name    string
		cfg     credstore.Config
		wantErr bool
	}{
		{"default is memory", credstore.Config{}, false},
		{"memory", credstore.Config{Driver: credstore.DriverMemory}, false},
		{"file", credstore.Config{Driver: credstore.DriverFile, File: &credstore.FileConfig{Path: filepath.Join(t.TempDir(), "c.toml")}}, false},
		{"redis", credstore.Config{Driver: credstore.DriverRedis, Redis: &credstore.RedisConfig{Addr: mr.Addr()}}, false},
		{"unknown", credstore.Config{Driver: "etcd"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := credstore.New(tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, store.Close(context.Background()))
		})
	}
}
