package domain

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PriorityTier int

const (
	PriorityNormal    PriorityTier = 0
	PriorityCancelled PriorityTier = 1
	PriorityManual    PriorityTier = 2
)

func (p PriorityTier) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityCancelled:
		return "cancelled_priority"
	case PriorityManual:
		return "manual_priority"
	}
	return fmt.Sprintf("tier(%d)", int(p))
}

type WaitlistEntry struct {
	ID                    uuid.UUID    `json:"id"`
	ParticipantID         uuid.UUID    `json:"participant_id"`
	Email                 string       `json:"email"`
	Priority              PriorityTier `json:"priority"`
	CreatedAt             time.Time    `json:"created_at"`
	ExcludedEventIDs      []uuid.UUID  `json:"excluded_event_ids,omitempty"`
	HasUnusedCredit       bool         `json:"has_unused_credit"`
	Notes                 string       `json:"notes,omitempty"`
	PrioritySourceEventID *uuid.UUID   `json:"priority_source_event_id,omitempty"`
	DecayedForEventID     *uuid.UUID   `json:"decayed_for_event_id,omitempty"`
	Removed               bool         `json:"removed"`
}

func (w *WaitlistEntry) Excludes(eventID uuid.UUID) bool {
	for _, id := range w.ExcludedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

func (w *WaitlistEntry) AppendNote(note string) {
	if w.Notes == "" {
		w.Notes = note
		return
	}
	w.Notes = strings.TrimRight(w.Notes, "\n") + "\n" + note
}

// ApplyCancellationPriority records the effect of a cancellation from
// sourceEventID on the entry. A manual tier is never lowered.
func (w *WaitlistEntry) ApplyCancellationPriority(sourceEventID uuid.UUID, grantPriority, credit bool) {
	if grantPriority {
		if w.Priority < PriorityCancelled {
			w.Priority = PriorityCancelled
		}
		src := sourceEventID
		w.PrioritySourceEventID = &src
		w.DecayedForEventID = nil
	}
	if !w.Excludes(sourceEventID) {
		w.ExcludedEventIDs = append(w.ExcludedEventIDs, sourceEventID)
	}
	w.HasUnusedCredit = credit
}

// Decay resets a cancellation-granted tier once completedEventID is finished.
// It returns false when the entry was already processed for that event or
// its priority came from elsewhere.
func (w *WaitlistEntry) Decay(completedEventID uuid.UUID, at time.Time) bool {
	if w.PrioritySourceEventID == nil || *w.PrioritySourceEventID != completedEventID {
		return false
	}
	if w.DecayedForEventID != nil && *w.DecayedForEventID == completedEventID {
		return false
	}
	if w.Priority == PriorityCancelled {
		w.Priority = PriorityNormal
		w.AppendNote(fmt.Sprintf("%s: priority reset to normal after event %s finished",
			at.UTC().Format(time.RFC3339), completedEventID))
	}
	done := completedEventID
	w.DecayedForEventID = &done
	return true
}

func (w *WaitlistEntry) Remove(at time.Time, reason string) {
	w.Removed = true
	w.AppendNote(fmt.Sprintf("%s: removed from waitlist (%s)", at.UTC().Format(time.RFC3339), reason))
}

// SortWaitlist orders entries by priority descending, then signup time, then id.
func SortWaitlist(entries []WaitlistEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}
