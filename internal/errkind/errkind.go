// Package errkind classifies errors surfaced by the execution core into the
// closed taxonomy the rest of the system reasons about (retry eligibility,
// user-facing remediation, whether the Planner should abort a level).
package errkind

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind is a closed enumeration of error classifications. Every Observation
// and FailureRecord carries one.
type Kind string

const (
	// Schema marks an invalid IntentIR or an unknown tool/action reference.
	// Never retried.
	Schema Kind = "schema"
	// Permission marks a filesystem/service/OS access denial. Never retried;
	// callers should surface a remediation suggestion.
	Permission Kind = "permission"
	// NotFound marks a referenced resource that does not exist. Never retried.
	NotFound Kind = "not_found"
	// Transient marks a connection reset, temporary network failure, or I/O
	// EAGAIN. Retriable and counts against the RetryBudget.
	Transient Kind = "transient"
	// Timeout marks an operation that exceeded a configured deadline.
	// Retriable and counts against the RetryBudget.
	Timeout Kind = "timeout"
	// BudgetExhausted marks a RetryBudget that ran out of attempts in its
	// window. Never retried further; user-visible.
	BudgetExhausted Kind = "budget_exhausted"
	// CircuitOpen marks a call rejected by an open CircuitBreaker. Never
	// retried for this call; a FallbackChain may still recover.
	CircuitOpen Kind = "circuit_open"
	// Syntax marks a malformed user-level command. Never retried.
	Syntax Kind = "syntax"
	// Fatal signals the Planner to abort all remaining levels.
	Fatal Kind = "fatal"
)

// Retriable reports whether the Planner/StepExecutor should resubmit an
// operation that failed with this kind through the RetryBudget.
func (k Kind) Retriable() bool {
	return k == Transient || k == Timeout
}

// Aborts reports whether this kind should short-circuit remaining levels in
// a Planner run.
func (k Kind) Aborts() bool {
	return k == Fatal
}

// Classified wraps an underlying error with its assigned Kind. Components
// return *Classified rather than raising untagged errors across boundaries.
type Classified struct {
	Kind    Kind
	Message string
	Cause   error
}

func (c *Classified) Error() string {
	if c.Message != "" {
		return c.Message
	}
	if c.Cause != nil {
		return c.Cause.Error()
	}
	return string(c.Kind)
}

func (c *Classified) Unwrap() error { return c.Cause }

// New constructs a Classified error of the given kind.
func New(kind Kind, message string) *Classified {
	return &Classified{Kind: kind, Message: message}
}

// Wrap constructs a Classified error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Classified {
	return &Classified{Kind: kind, Message: message, Cause: cause}
}

// Classify inspects an arbitrary error and assigns it a Kind. It recognizes
// context cancellation/deadline errors, net.Error timeouts, and any
// previously-classified error (returned unchanged). Anything unrecognized is
// classified as Transient, the conservative choice that still allows a bounded
// number of retries rather than silently treating unknown failures as fatal.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return Transient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "access is denied"):
		return Permission
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such file"):
		return NotFound
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return Timeout
	case strings.Contains(msg, "syntax"):
		return Syntax
	}
	return Transient
}

// As reports whether err is a *Classified and, if so, returns it.
func As(err error) (*Classified, bool) {
	var c *Classified
	ok := errors.As(err, &c)
	return c, ok
}
