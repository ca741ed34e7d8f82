package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the bootstrap settings loaded from the environment.
// Everything tunable at runtime lives in the whale_config table instead
// (see services/settings_service.go).
type Config struct {
	Listen        string        `env:"WHALE_LISTEN" envDefault:":8080"`
	MySQLDSN      string        `env:"WHALE_MYSQL_DSN" envDefault:"root:123456@tcp(localhost:3306)/whale?charset=utf8mb4&parseTime=True&loc=Local"`
	RedisAddr     string        `env:"WHALE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"WHALE_REDIS_PASSWORD"`
	RedisDB       int           `env:"WHALE_REDIS_DB" envDefault:"0"`
	SweepInterval time.Duration `env:"WHALE_SWEEP_INTERVAL" envDefault:"10s"`
	JWTSecret     string        `env:"WHALE_JWT_SECRET" envDefault:"change-me-before-the-event-starts"`
}

var C Config

func Load() error {
	return env.Parse(&C)
}
