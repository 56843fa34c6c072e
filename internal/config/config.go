package config

import (
	"fmt"
	"time"

	"teamboard-backend/pkg/env"
)

// Config aggregates the call service's environment configuration. Database
// and Redis connection settings are read by their own FromEnv constructors.
type Config struct {
	Env  string
	Port string

	JWTSecret           string
	AccessTokenDuration time.Duration

	// Idle-expiry sweeper for call sessions
	SweepInterval   time.Duration
	CallIdleTimeout time.Duration
}

// Load reads the service configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{
		Env:                 env.GetString("ENV", "development"),
		Port:                env.GetString("PORT", "8084"),
		JWTSecret:           env.GetStringFromFile("JWT_SECRET", ""),
		AccessTokenDuration: env.GetDuration("ACCESS_TOKEN_DURATION", 15*time.Minute),
		SweepInterval:       env.GetDuration("CALL_SWEEP_INTERVAL", 30*time.Second),
		CallIdleTimeout:     env.GetDuration("CALL_IDLE_TIMEOUT", 2*time.Minute),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.SweepInterval <= 0 || cfg.CallIdleTimeout <= 0 {
		return nil, fmt.Errorf("sweep interval and idle timeout must be positive")
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
