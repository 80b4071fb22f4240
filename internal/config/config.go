// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	SecretKey           string
	PDSURL              string
	PlatformAccountID   string
	PlatformIdentifier  string
	PlatformAppPassword string
	PlatformTag         string
	SessionTTL          time.Duration
	RefreshInterval     time.Duration
	ListenAddr          string
	DBPath              string
}

// HasPlatformBroadcaster returns true when a system-wide broadcaster
// identity is configured. Without one, broadcasting works only for accounts
// that linked their own identity.
func (c *Config) HasPlatformBroadcaster() bool {
	return c.PlatformIdentifier != "" && c.PlatformAppPassword != ""
}

// Load reads configuration from environment variables and returns a
// validated Config. SKYRELAY_SECRET_KEY is required: without it stored
// credentials cannot be opened. The platform broadcaster variables
// (SKYRELAY_PLATFORM_IDENTIFIER, SKYRELAY_PLATFORM_APP_PASSWORD) are
// optional. Optional variables with defaults: SKYRELAY_PDS_URL
// (https://bsky.social), SKYRELAY_SESSION_TTL (1h),
// SKYRELAY_REFRESH_INTERVAL (10m), SKYRELAY_LISTEN_ADDR (127.0.0.1:8080),
// SKYRELAY_DB_PATH (skyrelay.db), SKYRELAY_PLATFORM_TAG (via OpenForum).
func Load() (*Config, error) {
	secret := os.Getenv("SKYRELAY_SECRET_KEY")
	if secret == "" {
		return nil, fmt.Errorf("SKYRELAY_SECRET_KEY is required")
	}

	pdsURL := "https://bsky.social"
	if v, ok := os.LookupEnv("SKYRELAY_PDS_URL"); ok {
		pdsURL = v
	}

	sessionTTL := time.Hour
	if v, ok := os.LookupEnv("SKYRELAY_SESSION_TTL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SKYRELAY_SESSION_TTL has invalid duration %q: %w", v, err)
		}
		sessionTTL = parsed
	}

	refreshInterval := 10 * time.Minute
	if v, ok := os.LookupEnv("SKYRELAY_REFRESH_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SKYRELAY_REFRESH_INTERVAL has invalid duration %q: %w", v, err)
		}
		refreshInterval = parsed
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("SKYRELAY_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "skyrelay.db"
	if v, ok := os.LookupEnv("SKYRELAY_DB_PATH"); ok {
		dbPath = v
	}

	platformAccountID := "platform"
	if v, ok := os.LookupEnv("SKYRELAY_PLATFORM_ACCOUNT_ID"); ok && v != "" {
		platformAccountID = v
	}

	platformTag := "via OpenForum"
	if v, ok := os.LookupEnv("SKYRELAY_PLATFORM_TAG"); ok && v != "" {
		platformTag = v
	}

	return &Config{
		SecretKey:           secret,
		PDSURL:              pdsURL,
		PlatformAccountID:   platformAccountID,
		PlatformIdentifier:  os.Getenv("SKYRELAY_PLATFORM_IDENTIFIER"),
		PlatformAppPassword: os.Getenv("SKYRELAY_PLATFORM_APP_PASSWORD"),
		PlatformTag:         platformTag,
		SessionTTL:          sessionTTL,
		RefreshInterval:     refreshInterval,
		ListenAddr:          listenAddr,
		DBPath:              dbPath,
	}, nil
}
