package config

import "time"

type ServerConfig struct {
	Addr            string          `yaml:"addr" env:"QUIRE_ADDR" validate:"required,hostname_port"`
	SessionTTL      time.Duration   `yaml:"session_ttl" env:"QUIRE_SESSION_TTL" validate:"required,min=1m,max=168h"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" env:"QUIRE_SHUTDOWN_TIMEOUT" validate:"required,min=1s,max=5m"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" validate:"required"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" env:"QUIRE_RATE_LIMIT_RPM" validate:"required,min=1,max=10000"`
	BurstSize         int `yaml:"burst_size" env:"QUIRE_RATE_LIMIT_BURST" validate:"required,min=1,max=1000"`
}

func DefaultServer() ServerConfig {
	return ServerConfig{
		Addr:            "localhost:8080",
		SessionTTL:      2 * time.Hour,
		ShutdownTimeout: 10 * time.Second,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			BurstSize:         20,
		},
	}
}
