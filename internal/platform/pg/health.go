package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"resilience/pkg/retry"
)

// WaitForDB ожидает доступности базы данных. Каждая попытка - отдельный ping
// с таймаутом pingTimeout; паузы, число попыток и общий таймаут задает
// политика r. Ошибки попыток передаются в политику уже классифицированными.
func WaitForDB[T any](ctx context.Context, dsn string, pingTimeout time.Duration, r retry.Retry[T]) error {
	err := r.Do(ctx, func(ctx context.Context) error {
		return Ping(ctx, dsn, pingTimeout)
	})
	if err != nil {
		return fmt.Errorf("database not available: %w", err)
	}
	return nil
}

// Ping выполняет разовую проверку доступности БД через временное подключение.
func Ping(ctx context.Context, dsn string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return Classify(err)
	}
	cfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return Classify(err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", Classify(err))
	}
	return nil
}

// HealthCheckPool проверяет существующий пул: ping и простой запрос.
// Таймаут задает ctx вызывающего.
func HealthCheckPool(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pool ping failed: %w", Classify(err))
	}

	var result int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("simple query failed: %w", Classify(err))
	}
	if result != 1 {
		return fmt.Errorf("unexpected query result: got %d, want 1", result)
	}
	return nil
}
