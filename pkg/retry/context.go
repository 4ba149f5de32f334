package retry

import (
	"fmt"
	"time"
)

// TriggerKind tells which variant a Trigger holds.
type TriggerKind int

const (
	// TriggerNone is the zero Trigger: nothing has been observed yet.
	TriggerNone TriggerKind = iota
	// TriggerError is a failure of the upstream operation.
	TriggerError
	// TriggerValue is a companion value emitted on successful completion.
	TriggerValue
)

// Trigger is the signal that caused an iteration: either an error (retry) or a
// companion value (repeat).
type Trigger struct {
	kind  TriggerKind
	err   error
	value int64
}

// ErrorTrigger wraps a failure of the upstream operation.
func ErrorTrigger(err error) Trigger {
	return Trigger{kind: TriggerError, err: err}
}

// ValueTrigger wraps a companion value.
func ValueTrigger(v int64) Trigger {
	return Trigger{kind: TriggerValue, value: v}
}

// Kind returns the variant held by t.
func (t Trigger) Kind() TriggerKind { return t.kind }

// Err returns the error of an error trigger and nil otherwise.
func (t Trigger) Err() error {
	return t.err
}

// Value returns the companion value and true for a value trigger.
func (t Trigger) Value() (int64, bool) {
	return t.value, t.kind == TriggerValue
}

func (t Trigger) String() string {
	switch t.kind {
	case TriggerError:
		return fmt.Sprintf("error(%v)", t.err)
	case TriggerValue:
		return fmt.Sprintf("value(%d)", t.value)
	default:
		return "none"
	}
}

// Context is the snapshot handed to backoff functions, predicates and hooks.
// It is built fresh for every iteration and never modified afterwards.
type Context[T any] struct {
	// ApplicationContext is the caller supplied handle, typically used to roll
	// back state before the next attempt.
	ApplicationContext T
	// Iteration is 0 for the initial attempt and 1.. for each trigger.
	Iteration int64
	// PreviousDelay is the delay chosen for the previous iteration, zero before
	// the first one.
	PreviousDelay time.Duration
	// Backoff is the decision for this iteration. It is empty while the backoff
	// function runs and set (possibly to Exhausted) for predicates and hooks.
	Backoff BackoffDelay
	// Trigger is the error or companion value of this iteration.
	Trigger Trigger
}

// Err returns the triggering error, or nil for a companion value.
func (c Context[T]) Err() error {
	return c.Trigger.Err()
}

// CompanionValue returns the companion value, or zero for an error trigger.
func (c Context[T]) CompanionValue() int64 {
	v, _ := c.Trigger.Value()
	return v
}

func (c Context[T]) String() string {
	return fmt.Sprintf("iteration=%d previous=%s backoff=%s trigger=%s",
		c.Iteration, c.PreviousDelay, c.Backoff, c.Trigger)
}
