package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports"
	"github.com/srgjo27/batch_invite/internal/platform/validation"
)

type JoinWaitlistRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,uuid"`
	Email         string `json:"email" validate:"required,email"`
	Notes         string `json:"notes" validate:"max=1000"`
}

type WaitlistService struct {
	entries ports.WaitlistRepository
	events  ports.EventRepository
	clock   clockwork.Clock
}

func NewWaitlistService(entries ports.WaitlistRepository, events ports.EventRepository, clock clockwork.Clock) *WaitlistService {
	return &WaitlistService{
		entries: entries,
		events:  events,
		clock:   clock,
	}
}

func (s *WaitlistService) Join(ctx context.Context, req JoinWaitlistRequest) (*domain.WaitlistEntry, error) {
	req.ParticipantID = strings.ToLower(strings.TrimSpace(req.ParticipantID))
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Notes = strings.TrimSpace(req.Notes)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	participantID := uuid.MustParse(req.ParticipantID)

	entry := &domain.WaitlistEntry{
		ID:            uuid.New(),
		ParticipantID: participantID,
		Email:         req.Email,
		Priority:      domain.PriorityNormal,
		CreatedAt:     s.clock.Now().UTC(),
		Notes:         req.Notes,
	}

	if err := s.entries.CreateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("create waitlist entry: %w", err)
	}

	return entry, nil
}

// NextEligible returns at most limit entries that may be invited to eventID,
// best first. Repeated calls over unchanged data return the same slice.
func (s *WaitlistService) NextEligible(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.WaitlistEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	candidates, err := s.entries.ListEligible(ctx, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible entries: %w", err)
	}

	eligible := candidates[:0]
	for _, e := range candidates {
		if e.Removed || e.Excludes(eventID) {
			continue
		}
		eligible = append(eligible, e)
	}

	domain.SortWaitlist(eligible)
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	return eligible, nil
}

func (s *WaitlistService) ApplyCancellationPriority(ctx context.Context, entry *domain.WaitlistEntry, sourceEventID uuid.UUID, grantPriority, credit bool) error {
	entry.ApplyCancellationPriority(sourceEventID, grantPriority, credit)

	if err := s.entries.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("update waitlist entry %s: %w", entry.ID, err)
	}
	return nil
}

// DecayExpiredPriorities resets every tier granted because of completedEventID.
// The event must be finished. Entries already processed for the same event are
// skipped, so the call can be repeated safely.
func (s *WaitlistService) DecayExpiredPriorities(ctx context.Context, completedEventID uuid.UUID) (int, error) {
	event, err := s.events.GetEvent(ctx, completedEventID)
	if err != nil {
		return 0, fmt.Errorf("get event %s: %w", completedEventID, err)
	}

	if event.Status != domain.EventFinished {
		return 0, &domain.InvalidStateError{Entity: "event", State: string(event.Status), Reason: "priority decays only once the event is finished"}
	}

	entries, err := s.entries.ListByPrioritySource(ctx, completedEventID)
	if err != nil {
		return 0, fmt.Errorf("list entries by priority source: %w", err)
	}

	now := s.clock.Now()
	decayed := 0
	for i := range entries {
		entry := &entries[i]
		if !entry.Decay(completedEventID, now) {
			continue
		}

		if err := s.entries.UpdateEntry(ctx, entry); err != nil {
			return decayed, fmt.Errorf("update waitlist entry %s: %w", entry.ID, err)
		}
		decayed++
	}

	if decayed > 0 {
		log.Info().
			Str("event_id", completedEventID.String()).
			Int("entries", decayed).
			Msg("waitlist priorities decayed")
	}

	return decayed, nil
}

func (s *WaitlistService) SetManualPriority(ctx context.Context, entryID uuid.UUID) (*domain.WaitlistEntry, error) {
	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("get waitlist entry %s: %w", entryID, err)
	}

	if entry.Removed {
		return nil, &domain.InvalidStateError{Entity: "waitlist entry", State: "removed", Reason: "cannot prioritise a removed entry"}
	}

	if entry.Priority == domain.PriorityManual {
		return entry, nil
	}

	entry.Priority = domain.PriorityManual
	entry.AppendNote(s.clock.Now().UTC().Format(time.RFC3339) + ": manual priority granted")

	if err := s.entries.UpdateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("update waitlist entry %s: %w", entry.ID, err)
	}

	return entry, nil
}
