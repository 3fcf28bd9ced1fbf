// Package config holds the Redis connection settings shared by the CLI and
// the monitor. Values come from REDIS_* environment variables, with defaults
// matching the usual docker-compose layout (a "redis" host on the same
// network).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Redis describes how to reach the Redis instance backing the queues.
type Redis struct {
	Host     string
	Port     int
	DB       int
	Password string

	// SocketTimeout bounds dial/read/write on non-blocking commands.
	// Blocking receives add their own BLPOP timeout on top.
	SocketTimeout time.Duration

	// DefaultTTL is applied to session config keys when the caller does not
	// pass an explicit TTL.
	DefaultTTL time.Duration
}

// Default returns the built-in settings.
func Default() Redis {
	return Redis{
		Host:          "redis",
		Port:          6379,
		DB:            0,
		Password:      "",
		SocketTimeout: 10 * time.Second,
		DefaultTTL:    time.Hour,
	}
}

// FromEnv loads settings from the environment:
//
//	REDIS_HOST      host name (default: redis)
//	REDIS_PORT      port (default: 6379)
//	REDIS_DB        database number (default: 0)
//	REDIS_PASSWORD  auth password (default: none)
//	REDIS_TIMEOUT   socket timeout in seconds (default: 10)
//	REDIS_TTL       default session TTL in seconds (default: 3600)
//
// Anything unset falls back to Default.
func FromEnv() Redis {
	v := viper.New()
	v.SetEnvPrefix("redis")
	v.AutomaticEnv()
	v.SetDefault("host", "redis")
	v.SetDefault("port", 6379)
	v.SetDefault("db", 0)
	v.SetDefault("password", "")
	v.SetDefault("timeout", 10)
	v.SetDefault("ttl", 3600)

	return Redis{
		Host:          v.GetString("host"),
		Port:          v.GetInt("port"),
		DB:            v.GetInt("db"),
		Password:      v.GetString("password"),
		SocketTimeout: time.Duration(v.GetInt("timeout")) * time.Second,
		DefaultTTL:    time.Duration(v.GetInt("ttl")) * time.Second,
	}
}

// Addr returns the host:port dial address.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
