package config

import (
	"encoding/base64"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Env holds the raw environment bindings. Flags take precedence over
// these values; see cmd/server.
type Env struct {
	ServerAddr     string   `envconfig:"SERVER_ADDR" default:"localhost:8004"`
	DatabaseDSN    string   `envconfig:"DATABASE_DSN"`
	SigningKey     string   `envconfig:"SIGNING_KEY"`
	DirectoryURL   string   `envconfig:"DIRECTORY_URL"`
	NotifyURL      string   `envconfig:"NOTIFY_URL"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("chat", &env); err != nil {
		return Env{}, fmt.Errorf("process env: %w", err)
	}
	return env, nil
}

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	DirectoryURL   string
	NotifyURL      string
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret, directoryURL, notifyURL string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if directoryURL == "" {
		return nil, fmt.Errorf("directory URL cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		DirectoryURL:   directoryURL,
		NotifyURL:      notifyURL,
		AllowedOrigins: allowedOrigins,
	}, nil
}
