package domain

import "github.com/google/uuid"

type FailedEntry struct {
	EntryID uuid.UUID `json:"entry_id"`
	Kind    ErrorKind `json:"kind"`
	Err     error     `json:"-"`
}

// BatchResult reports one batch run. Failed entries are part of a successful
// result, not an error.
type BatchResult struct {
	EventID        uuid.UUID     `json:"event_id"`
	Invited        []uuid.UUID   `json:"invited"`
	Failed         []FailedEntry `json:"failed"`
	NoOp           bool          `json:"no_op"`
	SlotsRemaining int           `json:"slots_remaining"`
	EventStatus    EventStatus   `json:"event_status"`
}

func (r *BatchResult) HasFailures() bool {
	return len(r.Failed) > 0
}

type CancellationOutcome struct {
	AttendeeID uuid.UUID     `json:"attendee_id"`
	EventID    uuid.UUID     `json:"event_id"`
	EntryID    uuid.UUID     `json:"entry_id"`
	Decision   string        `json:"decision"`
	Refund     *RefundRecord `json:"refund,omitempty"`
	FreedSlot  bool          `json:"freed_slot"`
}

type SweepResult struct {
	Invalidated []string          `json:"invalidated"`
	Failed      map[string]string `json:"failed,omitempty"`
}
