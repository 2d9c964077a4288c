// Package memory is a process-local implementation of every repository port.
// It backs the "memory" store driver and the service tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports"
)

var (
	_ ports.EventRepository    = (*Store)(nil)
	_ ports.WaitlistRepository = (*Store)(nil)
	_ ports.AttendeeRepository = (*Store)(nil)
	_ ports.PaymentRepository  = (*Store)(nil)
	_ ports.RefundRepository   = (*Store)(nil)
)

type Store struct {
	mu        sync.RWMutex
	events    map[uuid.UUID]domain.Event
	entries   map[uuid.UUID]domain.WaitlistEntry
	attendees map[uuid.UUID]domain.Attendee
	auths     map[uuid.UUID]domain.PaymentAuthorization
	refunds   map[uuid.UUID]domain.RefundRecord
}

func NewStore() *Store {
	return &Store{
		events:    make(map[uuid.UUID]domain.Event),
		entries:   make(map[uuid.UUID]domain.WaitlistEntry),
		attendees: make(map[uuid.UUID]domain.Attendee),
		auths:     make(map[uuid.UUID]domain.PaymentAuthorization),
		refunds:   make(map[uuid.UUID]domain.RefundRecord),
	}
}

// Events

func (s *Store) CreateEvent(ctx context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return fmt.Errorf("event %s already exists", event.ID)
	}
	s.events[event.ID] = *event
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (s *Store) UpdateEventStatus(ctx context.Context, eventID uuid.UUID, status domain.EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = status
	if status == domain.EventPublished {
		e.FullAt = nil
	}
	s.events[eventID] = e
	return nil
}

func (s *Store) MarkEventFull(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = domain.EventFull
	if e.FullAt == nil {
		e.FullAt = &at
	}
	s.events[eventID] = e
	return nil
}

func (s *Store) SetManualOverride(ctx context.Context, eventID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	e.ManualOverride = enabled
	s.events[eventID] = e
	return nil
}

// Waitlist

func (s *Store) CreateEntry(ctx context.Context, entry *domain.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; ok {
		return fmt.Errorf("waitlist entry %s already exists", entry.ID)
	}
	s.entries[entry.ID] = cloneEntry(*entry)
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID uuid.UUID) (*domain.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	e = cloneEntry(e)
	return &e, nil
}

func (s *Store) UpdateEntry(ctx context.Context, entry *domain.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; !ok {
		return domain.ErrNotFound
	}
	s.entries[entry.ID] = cloneEntry(*entry)
	return nil
}

func (s *Store) ListEligible(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.WaitlistEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	holding := make(map[uuid.UUID]bool)
	for _, a := range s.attendees {
		if a.EventID == eventID && a.Status != domain.AttendeeInviteFailed {
			holding[a.EntryID] = true
		}
	}

	var out []domain.WaitlistEntry
	for _, e := range s.entries {
		if e.Removed || e.Excludes(eventID) || holding[e.ID] {
			continue
		}
		out = append(out, cloneEntry(e))
	}

	domain.SortWaitlist(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListByPrioritySource(ctx context.Context, eventID uuid.UUID) ([]domain.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.WaitlistEntry
	for _, e := range s.entries {
		if e.PrioritySourceEventID != nil && *e.PrioritySourceEventID == eventID {
			out = append(out, cloneEntry(e))
		}
	}
	domain.SortWaitlist(out)
	return out, nil
}

// Attendees

func (s *Store) CreateInvited(ctx context.Context, attendee *domain.Attendee, capacity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countOccupying(attendee.EventID) >= capacity {
		return domain.ErrEventFull
	}

	for id, a := range s.attendees {
		if a.EventID != attendee.EventID || a.EntryID != attendee.EntryID {
			continue
		}
		if a.Status != domain.AttendeeInviteFailed {
			return fmt.Errorf("entry %s already holds attendee %s for event %s", a.EntryID, id, a.EventID)
		}
		attendee.ID = id
		break
	}

	s.attendees[attendee.ID] = *attendee
	return nil
}

func (s *Store) GetAttendee(ctx context.Context, attendeeID uuid.UUID) (*domain.Attendee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attendees[attendeeID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (s *Store) SetPaymentLink(ctx context.Context, attendeeID uuid.UUID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attendees[attendeeID]
	if !ok {
		return domain.ErrNotFound
	}
	a.PaymentLinkRef = &ref
	s.attendees[attendeeID] = a
	return nil
}

func (s *Store) MarkInviteFailed(ctx context.Context, attendeeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attendees[attendeeID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Status != domain.AttendeeInvited {
		return &domain.InvalidTransitionError{Entity: "attendee", From: string(a.Status), To: string(domain.AttendeeInviteFailed)}
	}
	a.Status = domain.AttendeeInviteFailed
	a.PaymentLinkRef = nil
	s.attendees[attendeeID] = a
	return nil
}

func (s *Store) CountOccupying(ctx context.Context, eventID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.countOccupying(eventID), nil
}

func (s *Store) countOccupying(eventID uuid.UUID) int {
	n := 0
	for _, a := range s.attendees {
		if a.EventID == eventID && a.Status.Occupies() {
			n++
		}
	}
	return n
}

func (s *Store) CancelAttendance(ctx context.Context, c ports.CancelAttendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attendees[c.AttendeeID]
	if !ok {
		return domain.ErrNotFound
	}
	if !a.Cancellable() {
		return &domain.InvalidTransitionError{Entity: "attendee", From: string(a.Status), To: string(domain.AttendeeCancelled)}
	}
	if c.Entry != nil {
		if _, ok := s.entries[c.Entry.ID]; !ok {
			return domain.ErrNotFound
		}
	}

	a.Status = domain.AttendeeCancelled
	s.attendees[a.ID] = a
	if c.Entry != nil {
		s.entries[c.Entry.ID] = cloneEntry(*c.Entry)
	}
	if c.Refund != nil {
		s.refunds[c.Refund.ID] = *c.Refund
	}
	return nil
}

// Payment authorizations

func (s *Store) CreateAuthorization(ctx context.Context, auth *domain.PaymentAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.auths {
		if existing.Ref == auth.Ref {
			return fmt.Errorf("authorization ref %s already recorded", auth.Ref)
		}
	}
	s.auths[auth.ID] = *auth
	return nil
}

func (s *Store) GetAuthorizationByRef(ctx context.Context, ref string) (*domain.PaymentAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.auths {
		if a.Ref == ref {
			return &a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) GetActiveByAttendee(ctx context.Context, attendeeID uuid.UUID) (*domain.PaymentAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.auths {
		if a.AttendeeID == attendeeID && a.State == domain.AuthorizationActive {
			return &a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListActiveByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.PaymentAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PaymentAuthorization
	for _, a := range s.auths {
		if a.EventID == eventID && a.State == domain.AuthorizationActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) TransitionState(ctx context.Context, authID uuid.UUID, from, to domain.AuthorizationState, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auths[authID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if a.State != from {
		return false, nil
	}
	a.State = to
	a.UpdatedAt = at
	s.auths[authID] = a
	return true, nil
}

func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, a := range s.auths {
		if a.IsStale(now) {
			a.State = domain.AuthorizationExpired
			a.UpdatedAt = now
			s.auths[id] = a
			n++
		}
	}
	return n, nil
}

func (s *Store) Consume(ctx context.Context, c ports.ConsumePayment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.auths[c.AuthorizationID]
	if !ok {
		return false, domain.ErrNotFound
	}
	att, ok := s.attendees[c.AttendeeID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if auth.State != domain.AuthorizationActive || att.Status != domain.AttendeeInvited {
		return false, nil
	}

	auth.State = domain.AuthorizationConsumed
	auth.UpdatedAt = c.PaidAt
	s.auths[auth.ID] = auth

	paidAt, ref := c.PaidAt, c.PaymentRef
	att.Status = domain.AttendeeConfirmed
	att.PaidAt = &paidAt
	att.PaymentRef = &ref
	s.attendees[att.ID] = att
	return true, nil
}

// Refunds

func (s *Store) CreateRefund(ctx context.Context, refund *domain.RefundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refunds[refund.ID] = *refund
	return nil
}

func (s *Store) UpdateRefund(ctx context.Context, refund *domain.RefundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refunds[refund.ID]; !ok {
		return domain.ErrNotFound
	}
	s.refunds[refund.ID] = *refund
	return nil
}

func (s *Store) GetSucceededRefund(ctx context.Context, attendeeID uuid.UUID) (*domain.RefundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.RefundRecord
	for _, r := range s.refunds {
		if r.AttendeeID != attendeeID || r.Outcome != domain.RefundSucceeded {
			continue
		}
		if latest == nil || r.RequestedAt.After(latest.RequestedAt) {
			r := r
			latest = &r
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

// Inspection helpers.

func (s *Store) Attendees(eventID uuid.UUID) []domain.Attendee {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Attendee
	for _, a := range s.attendees {
		if a.EventID == eventID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Authorizations(eventID uuid.UUID) []domain.PaymentAuthorization {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PaymentAuthorization
	for _, a := range s.auths {
		if a.EventID == eventID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Refunds(attendeeID uuid.UUID) []domain.RefundRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RefundRecord
	for _, r := range s.refunds {
		if r.AttendeeID == attendeeID {
			out = append(out, r)
		}
	}
	return out
}

func cloneEntry(e domain.WaitlistEntry) domain.WaitlistEntry {
	if e.ExcludedEventIDs != nil {
		e.ExcludedEventIDs = append([]uuid.UUID(nil), e.ExcludedEventIDs...)
	}
	return e
}
