package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"resilience/internal/shared"
)

// Target is a single endpoint checked by the prober.
type Target struct {
	Name string `validate:"required"`
	URL  string `validate:"required,url"`
}

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		Addr string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	// Retry configures how a single failed check is retried.
	Retry struct {
		Max          int64         `validate:"gte=0"`
		FirstBackoff time.Duration `validate:"gt=0"`
		MaxBackoff   time.Duration `validate:"gtefield=FirstBackoff"`
		Timeout      time.Duration `validate:"gte=0"`
		Jitter       string        `validate:"required,oneof=none random factor"`
	}
	// Probe configures the rounds of checks.
	Probe struct {
		Targets        []Target      `validate:"required,min=1,dive"`
		Interval       time.Duration `validate:"gt=0"`
		Rounds         int64         `validate:"gte=0"`
		AttemptTimeout time.Duration `validate:"gt=0"`
	}
	Journal struct {
		Path      string        `validate:"required"`
		Retention time.Duration `validate:"gt=0"`
		PruneSpec string        `validate:"required"`
	}
	Telegram struct {
		Token     string
		ChatID    int64 `validate:"required_with=Token"`
		ServerURL string
		// AlertInterval is the minimum gap between two alerts for one target.
		AlertInterval time.Duration `validate:"gte=0"`
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var (
		c    Config
		errs []string
	)
	durationVar := func(dst *time.Duration, key, def string) {
		d, err := time.ParseDuration(getenv(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		*dst = d
	}
	intVar := func(dst *int64, key, def string) {
		n, err := strconv.ParseInt(getenv(key, def), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		*dst = n
	}

	c.Env = getenv("ENV", "prod")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/probed.log")

	intVar(&c.Retry.Max, "RETRY_MAX", "3")
	durationVar(&c.Retry.FirstBackoff, "RETRY_FIRST_BACKOFF", "200ms")
	durationVar(&c.Retry.MaxBackoff, "RETRY_MAX_BACKOFF", "10s")
	durationVar(&c.Retry.Timeout, "RETRY_TIMEOUT", "0s")
	c.Retry.Jitter = strings.ToLower(getenv("RETRY_JITTER", "random"))

	c.Probe.Targets = parseTargets(os.Getenv("PROBE_TARGETS"))
	durationVar(&c.Probe.Interval, "PROBE_INTERVAL", "30s")
	intVar(&c.Probe.Rounds, "PROBE_ROUNDS", "0")
	durationVar(&c.Probe.AttemptTimeout, "PROBE_ATTEMPT_TIMEOUT", "5s")

	c.Journal.Path = getenv("JOURNAL_PATH", "data/journal.db")
	durationVar(&c.Journal.Retention, "JOURNAL_RETENTION", "168h")
	c.Journal.PruneSpec = getenv("JOURNAL_PRUNE_SPEC", "@hourly")

	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.ServerURL = os.Getenv("TELEGRAM_SERVER_URL")
	durationVar(&c.Telegram.AlertInterval, "TELEGRAM_ALERT_INTERVAL", "15m")
	if os.Getenv("TELEGRAM_CHAT_ID") != "" {
		intVar(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID", "0")
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(errs, "; "))
	}
	if err := validate.Struct(c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	return c, nil
}

// parseTargets reads "name=url" pairs separated by commas. A bare URL is
// named after its position.
func parseTargets(s string) []Target {
	var targets []Target
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		if !ok || strings.Contains(name, "://") {
			name, url = fmt.Sprintf("target-%d", i+1), part
		}
		targets = append(targets, Target{Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)})
	}
	return targets
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
