package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := config.NewFromViper(viper.New())

	require.Equal(t, ":8080", cfg.GetPort())
	require.Equal(t, "DEV", cfg.GetEnv())
	require.Equal(t, 5*time.Minute, cfg.GetRefreshMargin())
	require.Equal(t, 10*time.Second, cfg.GetRefreshDebounce())
	require.Equal(t, 5*time.Minute, cfg.GetRefreshCheckInterval())
	require.Equal(t, 30*time.Second, cfg.GetRequestTimeout())
	require.Equal(t, 720*time.Hour, cfg.GetStoreTTL())
	require.Equal(t, []string{"openid", "profile", "email", "offline_access"}, cfg.GetScopes())
	require.True(t, cfg.GetAllowedOrigins().IsAllowedOrigin("http://localhost:3000"))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", ":9090")
	t.Setenv("OIDC_ISSUER", "https://issuer.example.com")
	t.Setenv("OIDC_SCOPES", "openid,email")
	t.Setenv("SESSION_REFRESH_DEBOUNCE", "30s")
	t.Setenv("CREDSTORE_DRIVER", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg := config.NewFromViper(viper.New())

	require.Equal(t, ":9090", cfg.GetPort())
	require.Equal(t, "https://issuer.example.com", cfg.GetIssuer())
	require.Equal(t, []string{"openid", "email"}, cfg.GetScopes())
	require.Equal(t, 30*time.Second, cfg.GetRefreshDebounce())
	require.Equal(t, "redis", cfg.GetStoreDriver())
	require.Equal(t, 3, cfg.GetRedisDB())

	origins := cfg.GetAllowedOrigins()
	require.True(t, origins.IsAllowedOrigin("https://a.example.com"))
	require.True(t, origins.IsAllowedOrigin("https://b.example.com"))
	require.False(t, origins.IsAllowedOrigin("http://localhost:3000"))
}

func TestExplicitValues(t *testing.T) {
	v := viper.New()
	v.Set("SESSION_CACHE_KEY", "custom")
	v.Set("SESSION_CHECK_INTERVAL", "1m")

	cfg := config.NewFromViper(v)
	require.Equal(t, "custom", cfg.GetSessionCacheKey())
	require.Equal(t, time.Minute, cfg.GetRefreshCheckInterval())
}

func TestGetEnv(t *testing.T) {
	t.Setenv("SOME_TEST_VAR", "value")
	require.Equal(t, "value", config.GetEnv("SOME_TEST_VAR", "default"))
	require.Equal(t, "default", config.GetEnv("SOME_MISSING_TEST_VAR", "default"))
}
