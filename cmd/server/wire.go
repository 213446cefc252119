package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/backend/oidcbackend"
	"github.com/jrsteele09/go-auth-session/credstore"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// app holds the long lived components shared by every command.
type app struct {
	cfg      config.Config
	store    credstore.Store
	backend  *oidcbackend.Backend
	manager  *auth.Manager
	registry *prometheus.Registry
}

func loadConfig() (config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "[loadConfig] failed to read .env")
	}
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg config.EnvConfig) {
	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func credstoreConfig(cfg config.Config) credstore.Config {
	return credstore.Config{
		Driver: cfg.GetStoreDriver(),
		Key:    cfg.GetClientID(),
		TTL:    cfg.GetStoreTTL(),
		File: &credstore.FileConfig{
			Path:       cfg.GetStoreFile(),
			Passphrase: cfg.GetStorePassphrase(),
		},
		Redis: &credstore.RedisConfig{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
			Prefix:   cfg.GetRedisPrefix(),
		},
	}
}

func wireApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := credstore.New(credstoreConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "[wireApp] failed to open credential store")
	}

	backend, err := oidcbackend.New(ctx, oidcbackend.Config{
		Issuer:        cfg.GetIssuer(),
		ClientID:      cfg.GetClientID(),
		ClientSecret:  cfg.GetClientSecret(),
		RedirectURL:   cfg.GetRedirectURL(),
		Scopes:        cfg.GetScopes(),
		RevocationURL: cfg.GetRevocationURL(),
	}, store)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager, err := auth.NewManager(backend,
		auth.WithCacheKey(cfg.GetSessionCacheKey()),
		auth.WithRefreshMargin(cfg.GetRefreshMargin()),
		auth.WithDebounce(cfg.GetRefreshDebounce()),
		auth.WithCheckInterval(cfg.GetRefreshCheckInterval()),
		auth.WithRequestTimeout(cfg.GetRequestTimeout()),
		auth.WithLogger(log.Logger),
		auth.WithMetrics(metrics.New(registry)),
	)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		manager:  manager,
		registry: registry,
	}, nil
}

func (a *app) Close(ctx context.Context) error {
	return a.store.Close(ctx)
}

// mountReady mounts a store and waits for its initial load.
func (a *app) mountReady(ctx context.Context) (*auth.Store, error) {
	store, err := a.manager.Mount(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.WaitReady(ctx); err != nil {
		store.Unmount()
		return nil, err
	}
	return store, nil
}
