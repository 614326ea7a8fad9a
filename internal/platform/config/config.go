// Package config loads the issuer's runtime configuration from environment
// variables so main stays lean. A .env file is honoured in development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider holds one upstream IdP's client credentials. A provider with an
// empty ClientID is treated as not configured.
type Provider struct {
	ClientID     string
	ClientSecret string
}

// Config is the full issuer configuration.
type Config struct {
	// Addr is the listen address.
	Addr string

	// Issuer is the public base URL, used as the iss claim and in the
	// discovery document.
	Issuer string

	// PathPrefix mounts the protocol surface under a sub-path.
	PathPrefix string

	// RedisURL selects the Redis storage backend when set.
	RedisURL string

	// PostgresDSN selects the Postgres storage backend when set and
	// RedisURL is empty.
	PostgresDSN string

	// KafkaBrokers enables the Kafka audit sink when non-empty.
	KafkaBrokers []string

	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	ReuseWindow time.Duration

	// ExtraTwoLabelSuffixes extends the redirect trust heuristic.
	ExtraTwoLabelSuffixes []string

	GitHub Provider
	Google Provider

	LogLevel string
}

// Load reads the environment, after merging a .env file if one is present.
func Load() (Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Config{
		Addr:        envOr("ISSUER_ADDR", ":8080"),
		Issuer:      envOr("ISSUER_URL", "http://localhost:8080"),
		PathPrefix:  os.Getenv("ISSUER_PATH_PREFIX"),
		RedisURL:    os.Getenv("ISSUER_REDIS_URL"),
		PostgresDSN: os.Getenv("ISSUER_POSTGRES_DSN"),
		LogLevel:    envOr("ISSUER_LOG_LEVEL", "info"),
		GitHub: Provider{
			ClientID:     os.Getenv("ISSUER_GITHUB_CLIENT_ID"),
			ClientSecret: os.Getenv("ISSUER_GITHUB_CLIENT_SECRET"),
		},
		Google: Provider{
			ClientID:     os.Getenv("ISSUER_GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("ISSUER_GOOGLE_CLIENT_SECRET"),
		},
	}

	if brokers := os.Getenv("ISSUER_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if suffixes := os.Getenv("ISSUER_EXTRA_TLD_SUFFIXES"); suffixes != "" {
		for _, s := range strings.Split(suffixes, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.ExtraTwoLabelSuffixes = append(cfg.ExtraTwoLabelSuffixes, s)
			}
		}
	}

	var err error
	if cfg.AccessTTL, err = durationOr("ISSUER_ACCESS_TTL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = durationOr("ISSUER_REFRESH_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ReuseWindow, err = durationOr("ISSUER_REUSE_WINDOW", 30*time.Second); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func durationOr(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}
