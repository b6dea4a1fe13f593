package main

import (
	"flag"
	"fmt"
	"time"
)

// Config is the resolved command-line and environment configuration.
type Config struct {
	Mode string

	// Backend connection.
	BackendURL string
	APIKey     string
	Model      string

	// Store selection: "memory" or "postgres".
	Store       string
	DatabaseURL string
	Seed        bool

	// Prospect for detail mode.
	ProspectID int64

	// SMS gateway. Empty URL disables sending.
	SMSGatewayURL string
	SMSAPIKey     string

	// Campaign pacing.
	InterCallDelay time.Duration

	// Metrics listen address; empty disables the endpoint.
	MetricsAddr string

	Verbose bool
}

// parseConfig resolves flags with environment fallbacks. getenv is
// injectable for tests.
func parseConfig(args []string, getenv func(string) string) (Config, error) {
	fs := flag.NewFlagSet("omnidial", flag.ContinueOnError)

	var cfg Config
	fs.StringVar(&cfg.Mode, "mode", "inbound", "mode: inbound, campaign, detail, email, or script")
	fs.StringVar(&cfg.BackendURL, "backend", envOr(getenv, "OMNIDIAL_BACKEND_URL", ""), "voice backend URL")
	fs.StringVar(&cfg.APIKey, "api-key", getenv("GEMINI_API_KEY"), "backend API key")
	fs.StringVar(&cfg.Model, "model", envOr(getenv, "OMNIDIAL_MODEL", ""), "override the default voice model")
	fs.StringVar(&cfg.Store, "store", envOr(getenv, "OMNIDIAL_STORE", "memory"), "CRM store: memory or postgres")
	fs.StringVar(&cfg.DatabaseURL, "database-url", getenv("OMNIDIAL_DATABASE_URL"), "PostgreSQL connection URL")
	fs.BoolVar(&cfg.Seed, "seed", false, "seed the memory store with sample prospects")
	fs.Int64Var(&cfg.ProspectID, "prospect", 0, "prospect id for detail, email, and script modes")
	fs.StringVar(&cfg.SMSGatewayURL, "sms-gateway", envOr(getenv, "OMNIDIAL_SMS_GATEWAY_URL", ""), "SMS gateway base URL")
	fs.StringVar(&cfg.SMSAPIKey, "sms-api-key", getenv("OMNIDIAL_SMS_API_KEY"), "SMS gateway API key")
	fs.DurationVar(&cfg.InterCallDelay, "delay", 5*time.Second, "delay between campaign calls")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", envOr(getenv, "OMNIDIAL_METRICS_ADDR", ""), "Prometheus listen address, empty to disable")
	fs.BoolVar(&cfg.Verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	switch cfg.Mode {
	case "inbound", "campaign", "detail", "email", "script":
	default:
		return Config{}, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	switch cfg.Store {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("postgres store requires -database-url or OMNIDIAL_DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown store %q", cfg.Store)
	}
	// The drafting modes talk to the generative API directly and never
	// open the voice backend.
	if cfg.VoiceMode() && cfg.BackendURL == "" {
		return Config{}, fmt.Errorf("backend URL required: -backend or OMNIDIAL_BACKEND_URL")
	}
	if cfg.APIKey == "" {
		return Config{}, fmt.Errorf("API key required: -api-key or GEMINI_API_KEY")
	}
	switch cfg.Mode {
	case "detail", "email", "script":
		if cfg.ProspectID <= 0 {
			return Config{}, fmt.Errorf("%s mode requires -prospect", cfg.Mode)
		}
	}
	return cfg, nil
}

// VoiceMode reports whether the mode runs a live voice session.
func (c Config) VoiceMode() bool {
	switch c.Mode {
	case "inbound", "campaign", "detail":
		return true
	}
	return false
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}
