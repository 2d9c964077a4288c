package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/batch_invite/internal/core/domain"
)

type EventRepository interface {
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
	UpdateEventStatus(ctx context.Context, eventID uuid.UUID, status domain.EventStatus) error
	MarkEventFull(ctx context.Context, eventID uuid.UUID, at time.Time) error
	SetManualOverride(ctx context.Context, eventID uuid.UUID, enabled bool) error
}

type WaitlistRepository interface {
	CreateEntry(ctx context.Context, entry *domain.WaitlistEntry) error
	GetEntry(ctx context.Context, entryID uuid.UUID) (*domain.WaitlistEntry, error)
	UpdateEntry(ctx context.Context, entry *domain.WaitlistEntry) error
	// ListEligible returns entries that are not removed, do not exclude the
	// event and hold no attendee row for it (other than INVITE_FAILED),
	// ordered by priority desc, created_at asc, id asc.
	ListEligible(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.WaitlistEntry, error)
	ListByPrioritySource(ctx context.Context, eventID uuid.UUID) ([]domain.WaitlistEntry, error)
}

// CancelAttendance is committed as one unit.
type CancelAttendance struct {
	AttendeeID  uuid.UUID
	CancelledAt time.Time
	Entry       *domain.WaitlistEntry
	Refund      *domain.RefundRecord
}

type AttendeeRepository interface {
	// CreateInvited inserts an INVITED row, or revives an INVITE_FAILED row for
	// the same (event, entry), in which case attendee.ID is rewritten to the
	// existing id. It returns domain.ErrEventFull when capacity is reached.
	CreateInvited(ctx context.Context, attendee *domain.Attendee, capacity int) error
	GetAttendee(ctx context.Context, attendeeID uuid.UUID) (*domain.Attendee, error)
	SetPaymentLink(ctx context.Context, attendeeID uuid.UUID, ref string) error
	MarkInviteFailed(ctx context.Context, attendeeID uuid.UUID) error
	CountOccupying(ctx context.Context, eventID uuid.UUID) (int, error)
	CancelAttendance(ctx context.Context, c CancelAttendance) error
}

// ConsumePayment is committed as one unit.
type ConsumePayment struct {
	AuthorizationID uuid.UUID
	AttendeeID      uuid.UUID
	PaymentRef      string
	PaidAt          time.Time
}

type PaymentRepository interface {
	CreateAuthorization(ctx context.Context, auth *domain.PaymentAuthorization) error
	GetAuthorizationByRef(ctx context.Context, ref string) (*domain.PaymentAuthorization, error)
	GetActiveByAttendee(ctx context.Context, attendeeID uuid.UUID) (*domain.PaymentAuthorization, error)
	ListActiveByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.PaymentAuthorization, error)
	// TransitionState moves an authorization only if it is still in from.
	TransitionState(ctx context.Context, authID uuid.UUID, from, to domain.AuthorizationState, at time.Time) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	Consume(ctx context.Context, c ConsumePayment) (bool, error)
}

type RefundRepository interface {
	CreateRefund(ctx context.Context, refund *domain.RefundRecord) error
	UpdateRefund(ctx context.Context, refund *domain.RefundRecord) error
	// GetSucceededRefund returns domain.ErrNotFound when the attendee has
	// never been refunded.
	GetSucceededRefund(ctx context.Context, attendeeID uuid.UUID) (*domain.RefundRecord, error)
}
