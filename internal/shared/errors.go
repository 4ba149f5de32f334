package shared

import (
	"context"
	"errors"
	"fmt"
	"net"

	"resilience/pkg/retry"
)

// Sentinel errors for the failure classes a probe can run into.
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates that input or configuration validation failed
	ErrValidation = errors.New("validation failed")

	// ErrRejected indicates that the target answered but refused the request
	ErrRejected = errors.New("request rejected")

	// ErrUnavailable indicates that the target could not serve the request right now
	ErrUnavailable = errors.New("target unavailable")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindNotFound represents resource not found errors
	KindNotFound
	// KindValidation represents validation errors
	KindValidation
	// KindRejected represents permanent refusals by the target
	KindRejected
	// KindUnavailable represents temporary unavailability of the target
	KindUnavailable
	// KindTimeout represents timeout errors
	KindTimeout
	// KindInternal represents internal errors
	KindInternal
	// KindCanceled represents context cancellation
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindRejected:
		return "Rejected"
	case KindUnavailable:
		return "Unavailable"
	case KindTimeout:
		return "Timeout"
	case KindInternal:
		return "Internal"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// kindPriorities defines the deterministic order for error classification.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, ErrTimeout},
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindRejected, ErrRejected},
	{KindUnavailable, ErrUnavailable},
	{KindInternal, ErrInternal},
}

// KindOf returns the Kind of the given error by checking against known sentinel
// errors in a fixed priority order: cancellation first, then timeouts, then
// the remaining kinds. Returns KindUnknown for unrecognized errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, priority := range kindPriorities {
		switch priority.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, priority.err) {
				return priority.kind
			}
		}
	}

	return KindUnknown
}

// SentinelOf returns the sentinel error for the given Kind, or nil for
// KindUnknown and KindCanceled.
func SentinelOf(kind Kind) error {
	for _, priority := range kindPriorities {
		if priority.kind == kind {
			return priority.err
		}
	}
	return nil
}

// MarkKind wraps err with the sentinel of kind, preserving the original error.
// Marking an error with a kind it already has returns it unchanged.
//
//	if resp.StatusCode >= 500 {
//	    return shared.MarkKind(err, shared.KindUnavailable)
//	}
func MarkKind(err error, kind Kind) error {
	sentinel := SentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil || KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// If err is nil, Wrap returns nil.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts, and our ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsUnavailable reports whether the target was temporarily unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRejected reports whether the target permanently refused the request.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsTransient reports whether retrying err may succeed: timeouts, unavailable
// targets and temporary network failures. Canceled and rejected requests are
// never transient.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindCanceled, KindRejected, KindNotFound, KindValidation:
		return false
	case KindTimeout, KindUnavailable:
		return true
	}
	return retry.IsTransient(err)
}
