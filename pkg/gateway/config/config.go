// Package config loads gateway configuration from the environment. Every
// knob has a TEACHBACK_-prefixed variable and a sane default; validation
// failures name the offending variable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	// APIKeys maps bearer token → user ID. Populated from
	// TEACHBACK_API_KEYS as comma-separated token=user pairs.
	APIKeys map[string]string
	// AdminToken guards /api/admin/teach-back/*. Empty disables the admin
	// surface entirely.
	AdminToken string

	// DatabaseURL is a pgx connection string. Empty runs the in-memory
	// store, for development only.
	DatabaseURL string
	// RedisURL backs the quota counters. Empty disables quota enforcement.
	RedisURL string

	// Providers.
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicModel   string
	GeminiAPIKey     string
	CartesiaAPIKey   string
	CartesiaVoice    string

	// Stripe/WorkOS plan resolution. Both empty runs every user on free.
	StripeAPIKey string
	WorkOSAPIKey string

	// Engine tuning.
	SeverityFloor   string
	AckTimeout      time.Duration
	ExamQuestions   int
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration

	// Retention.
	RetentionConfigPath string
	RetentionInterval   time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("TEACHBACK_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("TEACHBACK_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:             make(map[string]string),
		AdminToken:          strings.TrimSpace(os.Getenv("TEACHBACK_ADMIN_TOKEN")),
		DatabaseURL:         strings.TrimSpace(os.Getenv("TEACHBACK_DATABASE_URL")),
		RedisURL:            strings.TrimSpace(os.Getenv("TEACHBACK_REDIS_URL")),
		AnthropicAPIKey:     strings.TrimSpace(os.Getenv("TEACHBACK_ANTHROPIC_API_KEY")),
		AnthropicBaseURL:    envOr("TEACHBACK_ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicModel:      envOr("TEACHBACK_ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("TEACHBACK_GEMINI_API_KEY")),
		CartesiaAPIKey:      strings.TrimSpace(os.Getenv("TEACHBACK_CARTESIA_API_KEY")),
		CartesiaVoice:       envOr("TEACHBACK_CARTESIA_VOICE", "794f9389-aac1-45b6-b726-9d9369183238"),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("TEACHBACK_STRIPE_API_KEY")),
		WorkOSAPIKey:        strings.TrimSpace(os.Getenv("TEACHBACK_WORKOS_API_KEY")),
		SeverityFloor:       envOr("TEACHBACK_SEVERITY_FLOOR", "moderate"),
		AckTimeout:          envDurationOr("TEACHBACK_ACK_TIMEOUT", 30*time.Second),
		ExamQuestions:       envIntOr("TEACHBACK_EXAM_QUESTIONS", 3),
		PrimaryTimeout:      envDurationOr("TEACHBACK_PRIMARY_TIMEOUT", 30*time.Second),
		FallbackTimeout:     envDurationOr("TEACHBACK_FALLBACK_TIMEOUT", 30*time.Second),
		RetentionConfigPath: envOr("TEACHBACK_RETENTION_CONFIG", "retention.yaml"),
		RetentionInterval:   envDurationOr("TEACHBACK_RETENTION_INTERVAL", 24*time.Hour),
		ReadHeaderTimeout:   envDurationOr("TEACHBACK_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("TEACHBACK_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:      envDurationOr("TEACHBACK_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod: envDurationOr("TEACHBACK_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("TEACHBACK_AUTH_MODE must be one of required|disabled")
	}

	for _, pair := range splitCSV(os.Getenv("TEACHBACK_API_KEYS")) {
		token, user, ok := strings.Cut(pair, "=")
		if !ok || token == "" || user == "" {
			return Config{}, fmt.Errorf("TEACHBACK_API_KEYS entries must be token=user pairs")
		}
		cfg.APIKeys[token] = user
	}

	switch cfg.SeverityFloor {
	case "minor", "moderate", "major":
	default:
		return Config{}, fmt.Errorf("TEACHBACK_SEVERITY_FLOOR must be one of minor|moderate|major")
	}
	if cfg.ExamQuestions <= 0 {
		return Config{}, fmt.Errorf("TEACHBACK_EXAM_QUESTIONS must be > 0")
	}
	if cfg.AckTimeout <= 0 {
		return Config{}, fmt.Errorf("TEACHBACK_ACK_TIMEOUT must be > 0")
	}
	if cfg.PrimaryTimeout <= 0 {
		return Config{}, fmt.Errorf("TEACHBACK_PRIMARY_TIMEOUT must be > 0")
	}
	if cfg.FallbackTimeout <= 0 {
		return Config{}, fmt.Errorf("TEACHBACK_FALLBACK_TIMEOUT must be > 0")
	}
	if cfg.RetentionInterval <= 0 {
		return Config{}, fmt.Errorf("TEACHBACK_RETENTION_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("TEACHBACK_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("TEACHBACK_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("TEACHBACK_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("TEACHBACK_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.AnthropicAPIKey == "" {
		return Config{}, fmt.Errorf("TEACHBACK_ANTHROPIC_API_KEY must be set")
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("TEACHBACK_API_KEYS must be set when TEACHBACK_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
