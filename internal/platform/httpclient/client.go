package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"time"

	"resilience/internal/shared"
	"resilience/pkg/retry"
)

// Client wraps http.Client with logging and retries driven by a retry.Retry
// policy built per request.
type Client struct {
	hc               *stdhttp.Client
	log              *slog.Logger
	retries          int64
	baseBackoff      time.Duration
	maxBackoff       time.Duration
	headers          map[string]string
	urlRedactor      func(*url.URL) string
	retryMethods     map[string]struct{}
	maxRetryDuration time.Duration
	retryNonIdem     bool
	maxReplayBody    int64
	timers           retry.TimerSource
	jitter           retry.Jitter
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the timeout of a single attempt.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetries enables up to n retries with exponential backoff and jitter.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = int64(n)
		}
		if backoff > 0 {
			c.baseBackoff = backoff
		}
	}
}

// WithBaseBackoff overrides base backoff duration.
func WithBaseBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseBackoff = d
		}
	}
}

// WithMaxBackoff limits exponential backoff growth and Retry-After waits.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) { c.maxBackoff = d }
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			if c.headers == nil {
				c.headers = make(map[string]string)
			}
			c.headers[k] = v
		}
	}
}

// WithURLRedactor sets URL redactor for logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// WithoutHeaders removes default headers.
func WithoutHeaders(keys ...string) Option {
	return func(c *Client) {
		for _, k := range keys {
			delete(c.headers, k)
		}
	}
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// WithRetryMethods adds methods allowed for retries.
func WithRetryMethods(methods ...string) Option {
	return func(c *Client) {
		if c.retryMethods == nil {
			c.retryMethods = make(map[string]struct{})
		}
		for _, m := range methods {
			c.retryMethods[m] = struct{}{}
		}
	}
}

// WithMaxRetryDuration limits total time spent on retries.
func WithMaxRetryDuration(d time.Duration) Option {
	return func(c *Client) { c.maxRetryDuration = d }
}

// WithRetryNonIdempotent allows retries for non-idempotent methods like POST.
func WithRetryNonIdempotent(v bool) Option {
	return func(c *Client) { c.retryNonIdem = v }
}

// WithMaxReplayBodySize limits size of buffered body for retries (0 disables limit).
func WithMaxReplayBodySize(n int64) Option {
	return func(c *Client) { c.maxReplayBody = n }
}

// WithTimerSource sets the timer source used to wait between attempts.
func WithTimerSource(ts retry.TimerSource) Option {
	return func(c *Client) {
		if ts != nil {
			c.timers = ts
		}
	}
}

// WithJitter replaces the default random jitter.
func WithJitter(j retry.Jitter) Option {
	return func(c *Client) {
		if j != nil {
			c.jitter = j
		}
	}
}

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxConnsPerHost = 100
	tr.MaxIdleConnsPerHost = 100
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 10 * time.Second
	tr.ExpectContinueTimeout = 1 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   15 * time.Second,
			Transport: tr,
		},
		log:           slog.Default(),
		baseBackoff:   200 * time.Millisecond,
		maxReplayBody: 1 << 20,
		timers:        retry.SystemTimers(),
		jitter:        retry.RandomJitter(),
		retryMethods: map[string]struct{}{
			stdhttp.MethodGet:     {},
			stdhttp.MethodHead:    {},
			stdhttp.MethodOptions: {},
			stdhttp.MethodTrace:   {},
			stdhttp.MethodPut:     {},
			stdhttp.MethodDelete:  {},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ErrReplayBodyTooLarge indicates request body exceeds replay limit.
var ErrReplayBodyTooLarge = errors.New("http: body too large for replay")

// retryAfter parses Retry-After header value.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := stdhttp.ParseTime(h); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

// redactURL returns redacted URL string.
func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

// retryableStatus reports whether a response with code is worth another
// attempt.
func retryableStatus(code int) bool {
	switch code {
	case stdhttp.StatusRequestTimeout, stdhttp.StatusMisdirectedRequest,
		stdhttp.StatusTooEarly, stdhttp.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// maxGrowth keeps the doubled backoff far from overflowing.
const maxGrowth = time.Duration(math.MaxInt64 / 4)

// backoff honours Retry-After when the last failure carried it, and otherwise
// doubles the base delay per attempt. The jitter draws from [wait, 2*wait].
func (c *Client) backoff() retry.Backoff[*stdhttp.Request] {
	return func(rc retry.Context[*stdhttp.Request]) retry.BackoffDelay {
		var se *StatusError
		if errors.As(rc.Err(), &se) && se.RetryAfter > 0 {
			d := se.RetryAfter
			if c.maxBackoff > 0 && d > c.maxBackoff {
				d = c.maxBackoff
			}
			return retry.FixedDelay(d)
		}

		wait := c.baseBackoff
		for i := int64(1); i < rc.Iteration && wait < maxGrowth; i++ {
			wait *= 2
		}
		return retry.NewBackoffDelay(wait, c.maxBackoff, 2*wait)
	}
}

// policy builds the retry policy for req. The time budget is the smaller of
// the configured retry duration and the time left until the ctx deadline;
// ctxBound reports that the deadline won.
func (c *Client) policy(ctx context.Context, req *stdhttp.Request) (r retry.Retry[*stdhttp.Request], ctxBound bool) {
	r = retry.OnlyIf(func(rc retry.Context[*stdhttp.Request]) bool {
		return shared.IsTransient(rc.Err())
	}).
		RetryMax(c.retries).
		Backoff(c.backoff()).
		Jitter(c.jitter).
		WithBackoffScheduler(c.timers).
		WithLogger(c.log).
		WithApplicationContext(req).
		DoOnRetry(func(rc retry.Context[*stdhttp.Request]) {
			c.log.Warn("http request retry",
				slog.String("method", rc.ApplicationContext.Method),
				slog.String("url", c.redactURL(rc.ApplicationContext.URL)),
				slog.Int64("attempt", rc.Iteration),
				slog.Int64("attempts_left", c.retries-rc.Iteration),
				slog.Duration("wait", rc.Backoff.Delay),
				slog.Bool("idempotency_key", rc.ApplicationContext.Header.Get("Idempotency-Key") != ""),
				slog.Any("error", rc.Err()))
		})

	budget := c.maxRetryDuration
	if deadline, ok := ctx.Deadline(); ok {
		if rem := time.Until(deadline); budget <= 0 || rem < budget {
			budget = max(rem, 0)
			ctxBound = true
		}
	}
	if budget > 0 || ctxBound {
		r = r.Timeout(budget)
	}
	return r, ctxBound
}

// retryable reports whether req may be sent more than once.
func (c *Client) retryable(req *stdhttp.Request) bool {
	if c.retries == 0 {
		return false
	}
	if _, ok := c.retryMethods[req.Method]; ok {
		return true
	}
	if req.Method == stdhttp.MethodPost && req.Header.Get("Idempotency-Key") != "" {
		return true
	}
	return c.retryNonIdem
}

// bufferBody makes the request body replayable.
func (c *Client) bufferBody(req *stdhttp.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	var body []byte
	var err error
	if c.maxReplayBody > 0 {
		body, err = io.ReadAll(io.LimitReader(req.Body, c.maxReplayBody+1))
		if err != nil {
			return err
		}
		if int64(len(body)) > c.maxReplayBody {
			return ErrReplayBodyTooLarge
		}
	} else {
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return err
		}
	}
	req.Body.Close()
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.Body, _ = req.GetBody()
	return nil
}

// Do sends HTTP request with context, logging and retries.
//
// Responses with a retryable status (408, 421, 425, 429 and 5xx) are turned
// into a *StatusError and retried; any other response is returned as is.
// When the time budget runs out the error wraps context.DeadlineExceeded if
// the ctx deadline was the limit.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if err := c.bufferBody(req); err != nil {
		return nil, err
	}
	if !c.retryable(req) {
		return c.attempt(ctx, req, 1)
	}

	r, ctxBound := c.policy(ctx, req)
	var n int64
	resp, err := retry.DoValue(ctx, r, func(ctx context.Context) (*stdhttp.Response, error) {
		n++
		return c.attempt(ctx, req, n)
	})

	var ex *retry.ExhaustedError
	if errors.As(err, &ex) && ex.Reason == retry.ReasonTimeout {
		if ctxBound {
			return nil, fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return nil, fmt.Errorf("retry budget exceeded: %w", err)
	}
	return resp, err
}

// attempt sends a single copy of req.
func (c *Client) attempt(ctx context.Context, req *stdhttp.Request, n int64) (*stdhttp.Response, error) {
	r := req.Clone(ctx)
	for k, v := range c.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	if r.GetBody != nil {
		rc, err := r.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = rc
	}

	u := c.redactURL(r.URL)
	st := time.Now()
	resp, err := c.hc.Do(r)
	dur := time.Since(st)
	if err != nil {
		c.log.Warn("http request error", slog.String("method", r.Method), slog.String("url", u), slog.Int64("attempt", n), slog.Any("error", err))
		return nil, err
	}

	if resp.StatusCode == stdhttp.StatusMisdirectedRequest {
		if tr, ok := c.hc.Transport.(interface{ CloseIdleConnections() }); ok {
			tr.CloseIdleConnections()
		}
	}
	if retryableStatus(resp.StatusCode) {
		se := &StatusError{
			Method:     r.Method,
			URL:        u,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
		drainAndClose(resp.Body)
		c.log.Warn("http request status", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", resp.StatusCode), slog.Duration("dur", dur), slog.Int64("attempt", n), slog.Duration("retry_after", se.RetryAfter))
		return nil, se
	}

	c.log.Info("http request", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", resp.StatusCode), slog.Duration("dur", dur), slog.Int64("attempt", n))
	return resp, nil
}

// Doer is the single-method client shape expected by SDKs that take an
// *http.Client replacement.
type Doer interface {
	Do(req *stdhttp.Request) (*stdhttp.Response, error)
}

type doer struct{ c *Client }

func (d doer) Do(req *stdhttp.Request) (*stdhttp.Response, error) {
	return d.c.Do(req.Context(), req)
}

// Doer returns c as a Doer bound to each request's own context.
func (c *Client) Doer() Doer {
	return doer{c: c}
}
