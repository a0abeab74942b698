package hotspot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrUpstream marks failures to obtain points from the point source.
	ErrUpstream = eris.New("hotspot: upstream data failure")

	// ErrContractViolation marks input that broke the point source contract,
	// e.g. a point with a missing coordinate.
	ErrContractViolation = eris.New("hotspot: point contract violation")
)

// Error is the single failure type surfaced by the engine. Retryable is
// true for upstream and deadline failures and false for contract
// violations.
type Error struct {
	Op        string
	Retryable bool
	Kind      error
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("could not compute hotspots: %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewContractViolation builds a non-retryable contract violation error.
func NewContractViolation(op, format string, args ...any) error {
	return &Error{
		Op:   op,
		Kind: ErrContractViolation,
		Err:  eris.Errorf(format, args...),
	}
}

// upstreamError wraps a point source or deadline failure. Errors that are
// already classified pass through untouched.
func upstreamError(op string, err error) error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) {
		return err
	}
	return &Error{
		Op:        op,
		Retryable: true,
		Kind:      ErrUpstream,
		Err:       eris.Wrap(err, op),
	}
}

// IsRetryable reports whether err is a hotspot failure the caller may retry.
// Bare context deadline and cancellation errors count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var he *Error
	if errors.As(err, &he) {
		return he.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
