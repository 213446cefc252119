package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	refreshMarginVar   = "SESSION_REFRESH_MARGIN"
	refreshDebounceVar = "SESSION_REFRESH_DEBOUNCE"
	checkIntervalVar   = "SESSION_CHECK_INTERVAL"
	cacheKeyVar        = "SESSION_CACHE_KEY"
	requestTimeoutVar  = "REQUEST_TIMEOUT"
)

type SessionConfig interface {
	GetRefreshMargin() time.Duration
	GetRefreshDebounce() time.Duration
	GetRefreshCheckInterval() time.Duration
	GetSessionCacheKey() string
	GetRequestTimeout() time.Duration
}

type Session struct {
	v *viper.Viper
}

var _ SessionConfig = Session{}

func (s Session) GetRefreshMargin() time.Duration {
	return s.v.GetDuration(refreshMarginVar)
}

func (s Session) GetRefreshDebounce() time.Duration {
	return s.v.GetDuration(refreshDebounceVar)
}

func (s Session) GetRefreshCheckInterval() time.Duration {
	return s.v.GetDuration(checkIntervalVar)
}

func (s Session) GetSessionCacheKey() string {
	return s.v.GetString(cacheKeyVar)
}

func (s Session) GetRequestTimeout() time.Duration {
	return s.v.GetDuration(requestTimeoutVar)
}
