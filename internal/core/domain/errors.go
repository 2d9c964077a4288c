package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrEventFull           = errors.New("event is at capacity")
	ErrConcurrencyConflict = errors.New("operation already in progress")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type InvalidStateError struct {
	Entity string
	State  string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s in state %s: %s", e.Entity, e.State, e.Reason)
}

type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

// GatewayError wraps a failed call to the payment provider. It is retryable
// by the caller on its next cycle.
type GatewayError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("payment gateway %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func NewGatewayError(op string, err error) *GatewayError {
	return &GatewayError{
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

type ErrorKind string

const (
	KindStore   ErrorKind = "store"
	KindGateway ErrorKind = "gateway"
	KindTimeout ErrorKind = "timeout"
	KindFull    ErrorKind = "full"
	KindState   ErrorKind = "state"
)

// KindOf classifies a per-entry failure for batch reporting.
func KindOf(err error) ErrorKind {
	var (
		gwErr      *GatewayError
		state      *InvalidStateError
		transition *InvalidTransitionError
	)
	switch {
	case errors.As(err, &gwErr) && gwErr.Timeout:
		return KindTimeout
	case errors.As(err, &gwErr):
		return KindGateway
	case errors.Is(err, ErrEventFull):
		return KindFull
	case errors.As(err, &state), errors.As(err, &transition):
		return KindState
	default:
		return KindStore
	}
}
