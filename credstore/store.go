package credstore

import (
	"context"
	"errors"
	"time"

	"github.com/jrsteele09/go-auth-session/sessions"
)

// ErrNotFound is returned by Load when no credential is stored.
var ErrNotFound = errors.New("credential not found")

const (
	DefaultKey = "default"
	DefaultTTL = 30 * 24 * time.Hour
)

// Store persists the signed in session between process runs.
type Store interface {
	Load(ctx context.Context) (*sessions.Session, error)
	Save(ctx context.Context, s *sessions.Session) error
	Delete(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config selects and configures a Store driver.
type Config struct {
	Driver string
	Key    string        // namespaces the credential, usually the OAuth client id
	TTL    time.Duration // how long a persisted credential is kept
	File   *FileConfig
	Redis  *RedisConfig
}

type FileConfig struct {
	Path       string
	Passphrase string // seals the session when set
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

func (c Config) key() string {
	if c.Key == "" {
		return DefaultKey
	}
	return c.Key
}

func (c Config) ttl() time.Duration {
	if c.TTL <= 0 {
		return DefaultTTL
	}
	return c.TTL
}
