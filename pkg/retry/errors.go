package retry

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig is returned when a policy was built with invalid values.
	ErrInvalidConfig = errors.New("retry: invalid config")

	// ErrExhausted matches every *ExhaustedError via errors.Is.
	ErrExhausted = errors.New("retry: exhausted")
)

// ExhaustedError is returned when the iteration or time budget ran out while
// the predicate still accepted the error.
type ExhaustedError struct {
	LastError error
	Attempts  int64
	Elapsed   time.Duration
	Reason    string
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("retry: %s after %s (%d attempts)", e.Reason, e.Elapsed, e.Attempts)
	if e.LastError != nil {
		msg += ": " + e.LastError.Error()
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// Is makes errors.Is(err, ErrExhausted) hold for any exhaustion.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Exhaustion reasons reported in ExhaustedError.Reason.
const (
	ReasonMaxIterations = "max iterations exceeded"
	ReasonTimeout       = "timeout exceeded"
	ReasonBackoff       = "backoff exhausted"
)
