package domain

import (
	"time"

	"github.com/google/uuid"
)

type AttendeeStatus string

const (
	AttendeeInvited      AttendeeStatus = "INVITED"
	AttendeeConfirmed    AttendeeStatus = "CONFIRMED"
	AttendeeAttended     AttendeeStatus = "ATTENDED"
	AttendeeCancelled    AttendeeStatus = "CANCELLED"
	AttendeeInviteFailed AttendeeStatus = "INVITE_FAILED"
)

// OccupyingStatuses are the statuses that hold one capacity slot.
var OccupyingStatuses = []AttendeeStatus{AttendeeInvited, AttendeeConfirmed, AttendeeAttended}

func (s AttendeeStatus) Occupies() bool {
	return s == AttendeeInvited || s == AttendeeConfirmed || s == AttendeeAttended
}

type Attendee struct {
	ID             uuid.UUID
	EventID        uuid.UUID
	EntryID        uuid.UUID
	ParticipantID  uuid.UUID
	Status         AttendeeStatus
	Priority       PriorityTier
	InvitedAt      time.Time
	PaymentLinkRef *string
	PaidAt         *time.Time
	PaymentRef     *string
}

func (a *Attendee) HasPaid() bool {
	return a.PaidAt != nil
}

// Cancellable reports whether a cancellation decision may be applied.
func (a *Attendee) Cancellable() bool {
	return a.Status == AttendeeInvited || a.Status == AttendeeConfirmed
}
