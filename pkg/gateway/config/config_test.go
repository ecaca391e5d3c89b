package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// envKeys lists every variable LoadFromEnv reads, so tests can start from a
// clean slate regardless of the host environment.
var envKeys = []string{
	"TEACHBACK_ADDR",
	"TEACHBACK_AUTH_MODE",
	"TEACHBACK_API_KEYS",
	"TEACHBACK_ADMIN_TOKEN",
	"TEACHBACK_DATABASE_URL",
	"TEACHBACK_REDIS_URL",
	"TEACHBACK_ANTHROPIC_API_KEY",
	"TEACHBACK_ANTHROPIC_BASE_URL",
	"TEACHBACK_ANTHROPIC_MODEL",
	"TEACHBACK_GEMINI_API_KEY",
	"TEACHBACK_CARTESIA_API_KEY",
	"TEACHBACK_CARTESIA_VOICE",
	"TEACHBACK_STRIPE_API_KEY",
	"TEACHBACK_WORKOS_API_KEY",
	"TEACHBACK_SEVERITY_FLOOR",
	"TEACHBACK_ACK_TIMEOUT",
	"TEACHBACK_EXAM_QUESTIONS",
	"TEACHBACK_PRIMARY_TIMEOUT",
	"TEACHBACK_FALLBACK_TIMEOUT",
	"TEACHBACK_RETENTION_CONFIG",
	"TEACHBACK_RETENTION_INTERVAL",
	"TEACHBACK_READ_HEADER_TIMEOUT",
	"TEACHBACK_READ_TIMEOUT",
	"TEACHBACK_TOTAL_REQUEST_TIMEOUT",
	"TEACHBACK_SHUTDOWN_GRACE_PERIOD",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEACHBACK_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("TEACHBACK_API_KEYS", "tok1=alice")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, AuthModeRequired, cfg.AuthMode)
	require.Equal(t, map[string]string{"tok1": "alice"}, cfg.APIKeys)
	require.Equal(t, "moderate", cfg.SeverityFloor)
	require.Equal(t, 30*time.Second, cfg.AckTimeout)
	require.Equal(t, 3, cfg.ExamQuestions)
	require.Equal(t, 24*time.Hour, cfg.RetentionInterval)
	require.Equal(t, "retention.yaml", cfg.RetentionConfigPath)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEACHBACK_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("TEACHBACK_AUTH_MODE", "disabled")
	t.Setenv("TEACHBACK_ADDR", ":9090")
	t.Setenv("TEACHBACK_SEVERITY_FLOOR", "major")
	t.Setenv("TEACHBACK_EXAM_QUESTIONS", "5")
	t.Setenv("TEACHBACK_ACK_TIMEOUT", "45s")
	t.Setenv("TEACHBACK_API_KEYS", "tok1=alice, tok2=bob")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Addr)
	require.Equal(t, AuthModeDisabled, cfg.AuthMode)
	require.Equal(t, "major", cfg.SeverityFloor)
	require.Equal(t, 5, cfg.ExamQuestions)
	require.Equal(t, 45*time.Second, cfg.AckTimeout)
	require.Equal(t, map[string]string{"tok1": "alice", "tok2": "bob"}, cfg.APIKeys)
}

func TestLoadFromEnvValidation(t *testing.T) {
	cases := []struct {
		name    string
		set     map[string]string
		wantErr string
	}{
		{
			name:    "missing anthropic key",
			set:     map[string]string{"TEACHBACK_API_KEYS": "tok1=alice"},
			wantErr: "TEACHBACK_ANTHROPIC_API_KEY",
		},
		{
			name: "bad auth mode",
			set: map[string]string{
				"TEACHBACK_ANTHROPIC_API_KEY": "sk-test",
				"TEACHBACK_AUTH_MODE":         "bearer",
			},
			wantErr: "TEACHBACK_AUTH_MODE",
		},
		{
			name: "malformed api keys",
			set: map[string]string{
				"TEACHBACK_ANTHROPIC_API_KEY": "sk-test",
				"TEACHBACK_API_KEYS":          "tok-without-user",
			},
			wantErr: "TEACHBACK_API_KEYS",
		},
		{
			name: "required auth without keys",
			set: map[string]string{
				"TEACHBACK_ANTHROPIC_API_KEY": "sk-test",
			},
			wantErr: "TEACHBACK_API_KEYS",
		},
		{
			name: "bad severity floor",
			set: map[string]string{
				"TEACHBACK_ANTHROPIC_API_KEY": "sk-test",
				"TEACHBACK_API_KEYS":          "tok1=alice",
				"TEACHBACK_SEVERITY_FLOOR":    "catastrophic",
			},
			wantErr: "TEACHBACK_SEVERITY_FLOOR",
		},
		{
			name: "non-positive exam questions",
			set: map[string]string{
				"TEACHBACK_ANTHROPIC_API_KEY": "sk-test",
				"TEACHBACK_API_KEYS":          "tok1=alice",
				"TEACHBACK_EXAM_QUESTIONS":    "0",
			},
			wantErr: "TEACHBACK_EXAM_QUESTIONS",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.set {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDurationAndIntFallBackOnGarbage(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEACHBACK_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("TEACHBACK_API_KEYS", "tok1=alice")
	t.Setenv("TEACHBACK_ACK_TIMEOUT", "soon")
	t.Setenv("TEACHBACK_EXAM_QUESTIONS", "three")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.AckTimeout)
	require.Equal(t, 3, cfg.ExamQuestions)
}
