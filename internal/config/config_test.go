package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resilience/internal/shared"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PROBE_TARGETS", "api=https://example.com/health")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, int64(3), cfg.Retry.Max)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.FirstBackoff)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxBackoff)
	assert.Zero(t, cfg.Retry.Timeout)
	assert.Equal(t, "random", cfg.Retry.Jitter)
	assert.Equal(t, 30*time.Second, cfg.Probe.Interval)
	assert.Zero(t, cfg.Probe.Rounds)
	assert.Equal(t, "@hourly", cfg.Journal.PruneSpec)
	assert.Equal(t, 15*time.Minute, cfg.Telegram.AlertInterval)
	assert.Equal(t, []Target{{Name: "api", URL: "https://example.com/health"}}, cfg.Probe.Targets)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("PROBE_TARGETS", "api=https://example.com/health, postgres://probe:pw@db:5432/app")
	t.Setenv("RETRY_MAX", "5")
	t.Setenv("RETRY_FIRST_BACKOFF", "1s")
	t.Setenv("RETRY_MAX_BACKOFF", "1m")
	t.Setenv("RETRY_JITTER", "NONE")
	t.Setenv("PROBE_ROUNDS", "10")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, int64(5), cfg.Retry.Max)
	assert.Equal(t, time.Minute, cfg.Retry.MaxBackoff)
	assert.Equal(t, "none", cfg.Retry.Jitter)
	assert.Equal(t, int64(10), cfg.Probe.Rounds)
	assert.Equal(t, int64(-100500), cfg.Telegram.ChatID)
	require.Len(t, cfg.Probe.Targets, 2)
	assert.Equal(t, Target{Name: "target-2", URL: "postgres://probe:pw@db:5432/app"}, cfg.Probe.Targets[1])
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no targets", map[string]string{}},
		{"bad duration", map[string]string{"PROBE_TARGETS": "https://example.com", "RETRY_FIRST_BACKOFF": "soon"}},
		{"max below first", map[string]string{"PROBE_TARGETS": "https://example.com", "RETRY_MAX_BACKOFF": "1ms"}},
		{"unknown jitter", map[string]string{"PROBE_TARGETS": "https://example.com", "RETRY_JITTER": "gauss"}},
		{"token without chat", map[string]string{"PROBE_TARGETS": "https://example.com", "TELEGRAM_BOT_TOKEN": "123:abc"}},
		{"invalid env", map[string]string{"PROBE_TARGETS": "https://example.com", "ENV": "staging"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PROBE_TARGETS", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestParseTargets(t *testing.T) {
	got := parseTargets(" a=http://a , ,http://b/?x=y")
	assert.Equal(t, []Target{
		{Name: "a", URL: "http://a"},
		{Name: "target-3", URL: "http://b/?x=y"},
	}, got)
	assert.Empty(t, parseTargets(""))
}
