package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"resilience/internal/config"
	"resilience/internal/platform/httpclient"
	"resilience/internal/platform/pg"
	"resilience/internal/shared"
)

// Checker performs one check of a target. A nil error means the target is up.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// HTTPChecker issues a GET and treats statuses of 400 and above as failures.
type HTTPChecker struct {
	client *httpclient.Client
	url    string
}

func (c *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return shared.MarkKind(err, shared.KindValidation)
	}
	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := c.client.CheckStatus(resp); err != nil {
		return err
	}
	c.client.Discard(resp)
	return nil
}

// PostgresChecker keeps one small pool per target and runs a ping plus
// SELECT 1 on it. The pool is dialed on the first check and again after a
// failed dial.
type PostgresChecker struct {
	dsn     string
	target  pg.Target
	timeout time.Duration

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func (c *PostgresChecker) Check(ctx context.Context) error {
	pool, err := c.connect(ctx)
	if err == nil {
		err = pg.HealthCheckPool(ctx, pool)
	}
	if err != nil {
		return fmt.Errorf("postgres %s: %w", c.target, err)
	}
	return nil
}

func (c *PostgresChecker) connect(ctx context.Context) (*pgxpool.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		return c.pool, nil
	}
	pool, err := pg.NewPool(ctx, c.dsn, pg.CheckPoolOptions(c.timeout))
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return pool, nil
}

// Close releases the pool.
func (c *PostgresChecker) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
}

// NewChecker picks a checker by the scheme of the target URL.
func NewChecker(t config.Target, client *httpclient.Client, timeout time.Duration) (Checker, error) {
	if pg.IsDSN(t.URL) {
		pt, err := pg.ParseTarget(t.URL)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		return &PostgresChecker{dsn: t.URL, target: pt, timeout: timeout}, nil
	}

	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: target %s: %w", shared.ErrValidation, t.Name, err)
	}
	switch u.Scheme {
	case "http", "https":
		return &HTTPChecker{client: client, url: t.URL}, nil
	}
	return nil, fmt.Errorf("%w: target %s: unsupported scheme %q", shared.ErrValidation, t.Name, u.Scheme)
}
