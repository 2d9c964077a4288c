package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuthorizationState string

const (
	AuthorizationActive      AuthorizationState = "ACTIVE"
	AuthorizationConsumed    AuthorizationState = "CONSUMED"
	AuthorizationInvalidated AuthorizationState = "INVALIDATED"
	AuthorizationExpired     AuthorizationState = "EXPIRED"
)

type PaymentAuthorization struct {
	ID         uuid.UUID          `json:"id"`
	Ref        string             `json:"ref"`
	URL        string             `json:"url"`
	AttendeeID uuid.UUID          `json:"attendee_id"`
	EventID    uuid.UUID          `json:"event_id"`
	Amount     int64              `json:"amount"`
	Currency   string             `json:"currency"`
	State      AuthorizationState `json:"state"`
	ExpiresAt  time.Time          `json:"expires_at"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (p *PaymentAuthorization) IsStale(now time.Time) bool {
	return p.State == AuthorizationActive && now.After(p.ExpiresAt)
}

// PaymentLink is what the gateway returns when it mints an authorization.
type PaymentLink struct {
	Ref string
	URL string
}

type RefundOutcome string

const (
	RefundPending   RefundOutcome = "PENDING"
	RefundSucceeded RefundOutcome = "SUCCEEDED"
	RefundFailed    RefundOutcome = "FAILED"
)

type RefundRecord struct {
	ID                uuid.UUID     `json:"id"`
	AttendeeID        uuid.UUID     `json:"attendee_id"`
	PaymentRef        string        `json:"payment_ref"`
	Amount            int64         `json:"amount"`
	RequestedAt       time.Time     `json:"requested_at"`
	ExternalRefundRef *string       `json:"external_refund_ref,omitempty"`
	Outcome           RefundOutcome `json:"outcome"`
}
