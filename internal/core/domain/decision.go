package domain

import "strings"

// Decision is the closed set of ways a cancellation can be resolved.
type Decision interface {
	Name() string
	Refunds() bool
	ReturnsToWaitlist() bool
	GrantsCredit() bool
	isDecision()
}

type RefundAndWaitlist struct{}

type RefundAndRemove struct{}

type CreditAndWaitlist struct{}

type RemoveOnly struct{}

func (RefundAndWaitlist) Name() string            { return "refund_and_waitlist" }
func (RefundAndWaitlist) Refunds() bool           { return true }
func (RefundAndWaitlist) ReturnsToWaitlist() bool { return true }
func (RefundAndWaitlist) GrantsCredit() bool      { return false }
func (RefundAndWaitlist) isDecision()             {}

func (RefundAndRemove) Name() string            { return "refund_and_remove" }
func (RefundAndRemove) Refunds() bool           { return true }
func (RefundAndRemove) ReturnsToWaitlist() bool { return false }
func (RefundAndRemove) GrantsCredit() bool      { return false }
func (RefundAndRemove) isDecision()             {}

func (CreditAndWaitlist) Name() string            { return "credit_and_waitlist" }
func (CreditAndWaitlist) Refunds() bool           { return false }
func (CreditAndWaitlist) ReturnsToWaitlist() bool { return true }
func (CreditAndWaitlist) GrantsCredit() bool      { return true }
func (CreditAndWaitlist) isDecision()             {}

func (RemoveOnly) Name() string            { return "remove_only" }
func (RemoveOnly) Refunds() bool           { return false }
func (RemoveOnly) ReturnsToWaitlist() bool { return false }
func (RemoveOnly) GrantsCredit() bool      { return false }
func (RemoveOnly) isDecision()             {}

func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "refund_and_waitlist":
		return RefundAndWaitlist{}, nil
	case "refund_and_remove":
		return RefundAndRemove{}, nil
	case "credit_and_waitlist":
		return CreditAndWaitlist{}, nil
	case "remove_only":
		return RemoveOnly{}, nil
	}
	return nil, &ValidationError{Field: "decision", Reason: "unknown decision " + s}
}
