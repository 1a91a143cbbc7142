// Package config builds runtime configuration from environment variables so
// main stays lean. Every knob has a production default; only the database
// URL is mandatory.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
}

// Database captures the persistence connection settings.
type Database struct {
	URL string
}

// Scheduler captures the orchestrator's operational knobs.
type Scheduler struct {
	ProcessingInterval   time.Duration
	CheckInterval        time.Duration
	BatchSize            int
	RetentionDays        int
	StaleProcessingAfter time.Duration
}

// Verifier captures the external verification service settings.
type Verifier struct {
	URL     string
	Timeout time.Duration
}

// Backend captures the notifier's connection and retry settings.
type Backend struct {
	URL               string
	Email             string
	Password          string
	Timeout           time.Duration
	NotifyMaxAttempts int
}

// Config is the full service configuration.
type Config struct {
	Server    Server
	Database  Database
	Scheduler Scheduler
	Verifier  Verifier
	Backend   Backend
}

// FromEnv reads configuration from VERIQ_* environment variables.
func FromEnv() (Config, error) {
	dbURL := strings.TrimSpace(os.Getenv("VERIQ_DATABASE_URL"))
	if dbURL == "" {
		return Config{}, errors.New("VERIQ_DATABASE_URL is required")
	}

	cfg := Config{
		Server:   Server{Addr: envString("VERIQ_ADDR", ":8080")},
		Database: Database{URL: dbURL},
		Scheduler: Scheduler{
			ProcessingInterval:   envDuration("VERIQ_PROCESSING_INTERVAL", 2*time.Hour),
			CheckInterval:        envDuration("VERIQ_CHECK_INTERVAL", 60*time.Second),
			BatchSize:            envInt("VERIQ_BATCH_SIZE", 100),
			RetentionDays:        envInt("VERIQ_RETENTION_DAYS", 30),
			StaleProcessingAfter: envDuration("VERIQ_STALE_PROCESSING_AFTER", 30*time.Minute),
		},
		Verifier: Verifier{
			URL:     envString("VERIQ_VERIFIER_URL", ""),
			Timeout: envDuration("VERIQ_VERIFIER_TIMEOUT", 2*time.Minute),
		},
		Backend: Backend{
			URL:               envString("VERIQ_BACKEND_URL", ""),
			Email:             envString("VERIQ_BACKEND_EMAIL", ""),
			Password:          envString("VERIQ_BACKEND_PASSWORD", ""),
			Timeout:           envDuration("VERIQ_BACKEND_TIMEOUT", 30*time.Second),
			NotifyMaxAttempts: envInt("VERIQ_NOTIFY_MAX_ATTEMPTS", 3),
		},
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
