// Package status provides the annotated, combinable result type used
// throughout the page cache for completion callbacks. It plays the role of
// an opaque, non-wire-stable status value: most callers only ask IsOK, but
// failures carry a short machine key plus a human message and, optionally,
// the status they were raised in response to.
package status

import "fmt"

// Status is a success/failure result carried through completion callbacks.
// The zero value is NOT ok; use OK for a successful result.
type Status struct {
	ok    bool
	key   string
	msg   string
	cause error
}

// OK is the canonical successful status.
var OK = Status{ok: true}

// IsOK reports whether s represents success.
func IsOK(s Status) bool { return s.ok }

// Timm builds a failure status with a short machine key and a formatted
// human message.
func Timm(key, format string, args ...any) Status {
	return Status{key: key, msg: fmt.Sprintf(format, args...)}
}

// TimmUp builds a failure status that annotates a prior failing status with
// additional context, keeping the original as the wrapped cause.
func TimmUp(prev Status, key, format string, args ...any) Status {
	var cause error
	if !prev.ok {
		cause = prev
	}
	return Status{key: key, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Key returns the machine-readable key for a failure status ("" if ok).
func (s Status) Key() string { return s.key }

// Error implements the error interface so a Status can be wrapped, logged,
// or returned directly from APIs that want a plain error.
func (s Status) Error() string {
	if s.ok {
		return ""
	}
	if s.cause != nil {
		return fmt.Sprintf("%s: %s: %v", s.key, s.msg, s.cause)
	}
	return fmt.Sprintf("%s: %s", s.key, s.msg)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (s Status) Unwrap() error { return s.cause }
