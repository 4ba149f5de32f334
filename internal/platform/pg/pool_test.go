package pg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"resilience/internal/shared"
)

func TestNewPool_Errors(t *testing.T) {
	t.Parallel()

	opts := CheckPoolOptions(time.Second)

	tests := []struct {
		name      string
		dsn       string
		transient bool
	}{
		{name: "malformed dsn", dsn: "invalid-dsn"},
		{name: "refused connection", dsn: unreachableDSN, transient: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			pool, err := NewPool(ctx, tt.dsn, opts)
			if err == nil {
				pool.Close()
				t.Fatal("expected error")
			}
			if got := shared.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient(%v) = %v, want %v", err, got, tt.transient)
			}
		})
	}
}

// testDSN возвращает DSN тестовой базы из PG_TEST_DSN или пропускает тест.
func testDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN is not set")
	}
	return dsn
}

func TestPoolOptions_Apply(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://probe@localhost/app")
	if err != nil {
		t.Fatal(err)
	}
	minConns, period := cfg.MinConns, cfg.HealthCheckPeriod

	CheckPoolOptions(time.Second).apply(cfg)
	if cfg.MaxConns != 1 || cfg.MaxConnIdleTime != time.Minute {
		t.Errorf("check options not applied: max=%d idle=%s", cfg.MaxConns, cfg.MaxConnIdleTime)
	}
	if cfg.MinConns != minConns || cfg.HealthCheckPeriod != period {
		t.Errorf("zero fields must keep pgxpool defaults")
	}
}

func TestNewPool_Integration(t *testing.T) {
	dsn := testDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dsn, PoolOptions{MaxConns: 2})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Close()

	if err := HealthCheckPool(ctx, pool); err != nil {
		t.Errorf("health check failed: %v", err)
	}
}
