package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                  int    `env:"PORT" envDefault:"8080"`
	DatabaseURL           string `env:"DATABASE_URL,required"`
	RedisURL              string `env:"REDIS_URL,required"`
	RoutingTokenSecret    string `env:"ROUTING_TOKEN_SECRET"`
	RoutingWebhookSecret  string `env:"ROUTING_WEBHOOK_SECRET"`
	HeartbeatSeconds      int    `env:"HEARTBEAT_SECONDS" envDefault:"30"`
	RingTimeoutSeconds    int    `env:"RING_TIMEOUT_SECONDS" envDefault:"30"`
	TypingTTLSeconds      int    `env:"TYPING_TTL_SECONDS" envDefault:"3"`
	RoutedTokenTTLSeconds int    `env:"ROUTED_TOKEN_TTL_SECONDS" envDefault:"3600"`
	CallRetentionDays     int    `env:"CALL_RETENTION_DAYS" envDefault:"30"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) HeartbeatTTL() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

func (c *Config) RingTimeout() time.Duration {
	return time.Duration(c.RingTimeoutSeconds) * time.Second
}

func (c *Config) TypingTTL() time.Duration {
	return time.Duration(c.TypingTTLSeconds) * time.Second
}

func (c *Config) RoutedTokenTTL() time.Duration {
	return time.Duration(c.RoutedTokenTTLSeconds) * time.Second
}

func (c *Config) CallRetention() time.Duration {
	return time.Duration(c.CallRetentionDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if isProduction {
		if err := validateSecret("ROUTING_TOKEN_SECRET", c.RoutingTokenSecret); err != nil {
			return err
		}

		if c.RoutingWebhookSecret == "" {
			log.Warn().Msg("ROUTING_WEBHOOK_SECRET is empty in production: webhook signature verification disabled")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
