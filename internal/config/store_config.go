package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	storeDriverVar     = "CREDSTORE_DRIVER"
	storeFileVar       = "CREDSTORE_FILE"
	storePassphraseVar = "CREDSTORE_PASSPHRASE"
	storeTTLVar        = "CREDSTORE_TTL"
	redisAddrVar       = "REDIS_ADDR"
	redisPasswordVar   = "REDIS_PASSWORD"
	redisDBVar         = "REDIS_DB"
	redisPrefixVar     = "REDIS_PREFIX"
)

type StoreConfig interface {
	GetStoreDriver() string
	GetStoreFile() string
	GetStorePassphrase() string
	GetStoreTTL() time.Duration
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type Store struct {
	v *viper.Viper
}

var _ StoreConfig = Store{}

func (s Store) GetStoreDriver() string {
	return s.v.GetString(storeDriverVar)
}

func (s Store) GetStoreFile() string {
	return s.v.GetString(storeFileVar)
}

func (s Store) GetStorePassphrase() string {
	return s.v.GetString(storePassphraseVar)
}

func (s Store) GetStoreTTL() time.Duration {
	return s.v.GetDuration(storeTTLVar)
}

func (s Store) GetRedisAddr() string {
	return s.v.GetString(redisAddrVar)
}

func (s Store) GetRedisPassword() string {
	return s.v.GetString(redisPasswordVar)
}

func (s Store) GetRedisDB() int {
	return s.v.GetInt(redisDBVar)
}

func (s Store) GetRedisPrefix() string {
	return s.v.GetString(redisPrefixVar)
}
