package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

const configName = "sessiond"

type Config interface {
	EnvConfig
	CorsConfig
	OIDCConfig
	SessionConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	OIDC
	Session
	Store
}

// New reads configuration from the environment and an optional sessiond.{yaml,toml,json}
// in the working directory. Environment variables win over the file.
func New() (Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return NewFromViper(v), nil
}

// NewFromViper builds a Config over an existing viper instance, used by tests.
func NewFromViper(v *viper.Viper) Config {
	if v == nil {
		v = viper.New()
	}
	v.AutomaticEnv()
	setDefaults(v)

	return mainConfig{
		EnvVars: EnvVars{v: v},
		Cors:    Cors{v: v},
		OIDC:    OIDC{v: v},
		Session: Session{v: v},
		Store:   Store{v: v},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(portEnvVar, "8080")
	v.SetDefault(appNameVar, "Go Auth Session")
	v.SetDefault(envVar, "DEV")
	v.SetDefault(logLevelVar, "info")

	v.SetDefault(oidcScopesVar, "openid profile email offline_access")

	v.SetDefault(refreshMarginVar, "5m")
	v.SetDefault(refreshDebounceVar, "10s")
	v.SetDefault(checkIntervalVar, "5m")
	v.SetDefault(cacheKeyVar, "auth-session")
	v.SetDefault(requestTimeoutVar, "30s")

	v.SetDefault(storeDriverVar, "file")
	v.SetDefault(storeFileVar, "./data/credential.toml")
	v.SetDefault(storeTTLVar, "720h")
	v.SetDefault(redisDBVar, 0)
	v.SetDefault(redisPrefixVar, "auth:session:credential:")

	v.SetDefault(corsOriginsVar, "http://localhost:3000")
}
