package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "auth:session:credential:"

type redisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ Store = (*redisStore)(nil)

// NewRedis constructs a redis-backed credential store.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{
		client: client,
		key:    prefix + cfg.key(),
		ttl:    cfg.ttl(),
	}, nil
}

func (s *redisStore) Load(ctx context.Context) (*sessions.Session, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get credential: %w", err)
	}

	var sess sessions.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &sess, nil
}

func (s *redisStore) Save(ctx context.Context, sess *sessions.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	return s.client.Set(ctx, s.key, data, s.ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
