// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	BaseURL     string
	DatabaseURL string

	GeminiAPIKey string
	LiveModel    string
	ImageModel   string
	OracleVoice  string
	OraclePrompt string

	WorkOSAPIKey   string
	WorkOSClientID string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		LiveModel:    getEnv("ORACLE_LIVE_MODEL", ""),
		ImageModel:   getEnv("SPELLBOOK_IMAGE_MODEL", ""),
		OracleVoice:  getEnv("ORACLE_VOICE", "Zephyr"),
		OraclePrompt: getEnv("ORACLE_SYSTEM_PROMPT", ""),

		WorkOSAPIKey:   getEnv("WORKOS_API_KEY", ""),
		WorkOSClientID: getEnv("WORKOS_CLIENT_ID", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY cannot be empty")
	}
	if c.WorkOSAPIKey == "" {
		return fmt.Errorf("WORKOS_API_KEY cannot be empty")
	}
	if c.WorkOSClientID == "" {
		return fmt.Errorf("WORKOS_CLIENT_ID cannot be empty")
	}
	return nil
}

// RedirectURI is the auth callback URL registered with the identity
// provider.
func (c *Config) RedirectURI() string {
	return strings.TrimRight(c.BaseURL, "/") + "/auth/callback"
}

// IsDevelopment returns true if running against localhost.
func (c *Config) IsDevelopment() bool {
	return strings.Contains(c.BaseURL, "localhost") ||
		strings.Contains(c.BaseURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
