package httpclient

import (
	"fmt"
	stdhttp "net/http"
	"time"

	"resilience/internal/shared"
)

// StatusError reports a response the caller treats as a failure. It unwraps
// to the shared sentinel of its status class, so shared.IsTransient and
// shared.KindOf classify it without knowing about HTTP.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	switch code := e.StatusCode; {
	case code == stdhttp.StatusNotFound || code == stdhttp.StatusGone:
		return shared.ErrNotFound
	case code == stdhttp.StatusRequestTimeout || code == stdhttp.StatusGatewayTimeout:
		return shared.ErrTimeout
	case retryableStatus(code):
		return shared.ErrUnavailable
	case code >= 400:
		return shared.ErrRejected
	}
	return nil
}

// CheckStatus returns nil for responses below 400. Otherwise it drains and
// closes the body and returns a *StatusError.
func (c *Client) CheckStatus(resp *stdhttp.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	drainAndClose(resp.Body)
	se := &StatusError{
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
	}
	if resp.Request != nil {
		se.Method = resp.Request.Method
		se.URL = c.redactURL(resp.Request.URL)
	}
	return se
}

// Discard drains and closes the body of resp so the connection can be
// reused.
func (c *Client) Discard(resp *stdhttp.Response) {
	if resp != nil {
		drainAndClose(resp.Body)
	}
}
