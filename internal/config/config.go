package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DefaultAuthTimeout = 5 * time.Second
	DefaultAudienceTTL = 5 * time.Minute
	DefaultTokenTTL    = 24 * time.Hour
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	// RedisAddr enables the audience cache when set.
	RedisAddr   string
	AuthTimeout time.Duration
	AudienceTTL time.Duration
	TokenTTL    time.Duration
	Migrate     bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		AuthTimeout:    DefaultAuthTimeout,
		AudienceTTL:    DefaultAudienceTTL,
		TokenTTL:       DefaultTokenTTL,
		Migrate:        true,
	}, nil
}

// SetTimeouts overrides the default durations. Zero keeps the default.
func (c *Config) SetTimeouts(authTimeout, audienceTTL, tokenTTL time.Duration) error {
	for name, d := range map[string]time.Duration{
		"auth timeout": authTimeout,
		"audience ttl": audienceTTL,
		"token ttl":    tokenTTL,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}

	if authTimeout > 0 {
		c.AuthTimeout = authTimeout
	}
	if audienceTTL > 0 {
		c.AudienceTTL = audienceTTL
	}
	if tokenTTL > 0 {
		c.TokenTTL = tokenTTL
	}
	return nil
}
