package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventFull      EventStatus = "FULL"
	EventFinished  EventStatus = "FINISHED"
	EventCancelled EventStatus = "CANCELLED"
)

var eventTransitions = map[EventStatus][]EventStatus{
	EventDraft:     {EventPublished, EventCancelled},
	EventPublished: {EventFull, EventFinished, EventCancelled},
	EventFull:      {EventPublished, EventFinished, EventCancelled},
}

func ParseEventStatus(s string) (EventStatus, error) {
	switch st := EventStatus(s); st {
	case EventDraft, EventPublished, EventFull, EventFinished, EventCancelled:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Reason: "unknown event status " + s}
}

type Event struct {
	ID             uuid.UUID
	Name           string
	Capacity       int
	BatchSize      int
	CoolOff        time.Duration
	StartsAt       time.Time
	Price          int64
	Currency       string
	Status         EventStatus
	ManualOverride bool
	FullAt         *time.Time
}

// CutoffInstant is one calendar day before the event starts.
func (e *Event) CutoffInstant() time.Time {
	return e.StartsAt.AddDate(0, 0, -1)
}

// AcceptsBatch reports whether a batch may run against the event.
func (e *Event) AcceptsBatch() bool {
	return e.Status == EventPublished || (e.Status == EventFull && e.ManualOverride)
}

func (e *Event) IsClosed() bool {
	return e.Status == EventFinished || e.Status == EventCancelled
}

func (e *Event) CanTransitionTo(next EventStatus) bool {
	for _, s := range eventTransitions[e.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// LinkExpiry is the expiry stamped on a payment authorization issued now:
// the cutoff, or the instant the event filled if that came first. Batches run
// under a manual override admit past the full instant and get the cutoff.
func (e *Event) LinkExpiry() time.Time {
	cutoff := e.CutoffInstant()
	if e.ManualOverride {
		return cutoff
	}
	if e.FullAt != nil && e.FullAt.Before(cutoff) {
		return *e.FullAt
	}
	return cutoff
}

func (e *Event) Validate() error {
	if e.Capacity < 0 {
		return &ValidationError{Field: "capacity", Reason: "must not be negative"}
	}
	if e.BatchSize <= 0 {
		return &ValidationError{Field: "batch_size", Reason: "must be positive"}
	}
	if e.CoolOff < 0 {
		return &ValidationError{Field: "cool_off", Reason: "must not be negative"}
	}
	return nil
}
