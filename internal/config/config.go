package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	SMSAPIURL   string `env:"SMS_API_URL"`
	SMSAPIKey   string `env:"SMS_API_KEY"`
	SMSSenderID string `env:"SMS_SENDER_ID"`

	VerifyAPIURL   string `env:"VERIFY_API_URL"`
	VerifyAPIToken string `env:"VERIFY_API_TOKEN"`

	ProviderTimeoutMS int `env:"PROVIDER_TIMEOUT_MS,default=10000"`
	RateLimitPerSec   int `env:"RATE_LIMIT_PER_SEC,default=100"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMS) * time.Millisecond
}
