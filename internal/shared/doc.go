// Package shared classifies the errors seen while probing targets.
//
// Adapters mark transport errors with a Kind so the rest of the daemon can
// decide without looking at HTTP codes or driver errors:
//
//	switch shared.KindOf(err) {
//	case shared.KindUnavailable, shared.KindTimeout:
//	    // worth another attempt
//	case shared.KindRejected:
//	    // the target answered; retrying will not help
//	}
//
// IsTransient combines the kinds with network error detection and is the
// default retry predicate of the probe policies.
//
// Keep error messages lowercase and without punctuation: they are wrapped
// with context on the way up.
package shared
