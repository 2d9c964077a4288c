package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports"
)

const (
	inviteTemplate = "batch_invite"
	notifyTimeout  = 3 * time.Second
)

// BatchRunner runs one admission batch for an event.
type BatchRunner interface {
	RunBatch(ctx context.Context, eventID uuid.UUID) (*domain.BatchResult, error)
}

type BatchInviter struct {
	events    ports.EventRepository
	attendees ports.AttendeeRepository
	waitlist  *WaitlistService
	links     *PaymentLinkService
	notifier  ports.Notifier
	locker    ports.Locker
	clock     clockwork.Clock
}

func NewBatchInviter(
	events ports.EventRepository,
	attendees ports.AttendeeRepository,
	waitlist *WaitlistService,
	links *PaymentLinkService,
	notifier ports.Notifier,
	locker ports.Locker,
	clock clockwork.Clock,
) *BatchInviter {
	return &BatchInviter{
		events:    events,
		attendees: attendees,
		waitlist:  waitlist,
		links:     links,
		notifier:  notifier,
		locker:    locker,
		clock:     clock,
	}
}

func BatchLockKey(eventID uuid.UUID) string {
	return fmt.Sprintf("batch:event:%s", eventID)
}

// RunBatch admits the next slice of the waitlist to eventID. Only one run per
// event may be in flight; a second caller gets domain.ErrConcurrencyConflict.
// Per-entry failures are reported in the result and never fail the call.
func (b *BatchInviter) RunBatch(ctx context.Context, eventID uuid.UUID) (*domain.BatchResult, error) {
	release, err := b.locker.TryLock(ctx, BatchLockKey(eventID))
	if err != nil {
		return nil, fmt.Errorf("lock event %s: %w", eventID, err)
	}
	defer release()

	event, err := b.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}

	if !event.AcceptsBatch() {
		return nil, &domain.InvalidStateError{Entity: "event", State: string(event.Status), Reason: "batches run only for published events"}
	}

	if !b.clock.Now().Before(event.CutoffInstant()) {
		return nil, &domain.InvalidStateError{Entity: "event", State: string(event.Status), Reason: "invitation cutoff has passed"}
	}

	occupied, err := b.attendees.CountOccupying(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count attendees: %w", err)
	}

	result := &domain.BatchResult{
		EventID:     eventID,
		Invited:     []uuid.UUID{},
		Failed:      []domain.FailedEntry{},
		EventStatus: event.Status,
	}

	slots := event.Capacity - occupied
	limit := min(event.BatchSize, slots)
	if limit <= 0 {
		result.NoOp = true
		result.SlotsRemaining = max(slots, 0)
		log.Info().
			Str("event_id", eventID.String()).
			Int("slots", slots).
			Int("batch_size", event.BatchSize).
			Msg("batch skipped: no slots to fill")
		return result, nil
	}

	batch, err := b.waitlist.NextEligible(ctx, eventID, limit)
	if err != nil {
		return nil, err
	}

	for _, entry := range batch {
		attendeeID, err := b.invite(ctx, event, entry)
		if err != nil {
			result.Failed = append(result.Failed, domain.FailedEntry{
				EntryID: entry.ID,
				Kind:    domain.KindOf(err),
				Err:     err,
			})
			continue
		}
		result.Invited = append(result.Invited, attendeeID)
	}

	occupied, err = b.attendees.CountOccupying(ctx, eventID)
	if err != nil {
		return result, fmt.Errorf("recount attendees: %w", err)
	}
	result.SlotsRemaining = max(event.Capacity-occupied, 0)

	if occupied >= event.Capacity {
		if err := b.closeEvent(ctx, event, result.Invited); err != nil {
			return result, err
		}
	}
	result.EventStatus = event.Status

	log.Info().
		Str("event_id", eventID.String()).
		Int("invited", len(result.Invited)).
		Int("failed", len(result.Failed)).
		Int("slots_remaining", result.SlotsRemaining).
		Msg("batch finished")

	return result, nil
}

// invite runs the pipeline for one entry. The attendee row commits on its own,
// so a failed link leaves it behind as INVITE_FAILED for the next batch.
func (b *BatchInviter) invite(ctx context.Context, event *domain.Event, entry domain.WaitlistEntry) (uuid.UUID, error) {
	attendee := &domain.Attendee{
		ID:            uuid.New(),
		EventID:       event.ID,
		EntryID:       entry.ID,
		ParticipantID: entry.ParticipantID,
		Status:        domain.AttendeeInvited,
		Priority:      entry.Priority,
		InvitedAt:     b.clock.Now(),
	}

	if err := b.attendees.CreateInvited(ctx, attendee, event.Capacity); err != nil {
		log.Warn().Err(err).
			Str("event_id", event.ID.String()).
			Str("entry_id", entry.ID.String()).
			Msg("attendee row not written")
		return uuid.Nil, fmt.Errorf("create attendee: %w", err)
	}

	auth, err := b.links.Issue(ctx, attendee, event)
	if err != nil {
		log.Warn().Err(err).
			Str("event_id", event.ID.String()).
			Str("entry_id", entry.ID.String()).
			Str("attendee_id", attendee.ID.String()).
			Msg("payment link not issued")

		if markErr := b.attendees.MarkInviteFailed(ctx, attendee.ID); markErr != nil {
			log.Error().Err(markErr).Str("attendee_id", attendee.ID.String()).Msg("failed to release attendee row")
		}
		return uuid.Nil, err
	}

	if err := b.attendees.SetPaymentLink(ctx, attendee.ID, auth.Ref); err != nil {
		log.Error().Err(err).
			Str("attendee_id", attendee.ID.String()).
			Str("ref", auth.Ref).
			Msg("payment link issued but not attached to attendee")
	}

	b.notify(ctx, entry, event, auth)

	return attendee.ID, nil
}

func (b *BatchInviter) notify(ctx context.Context, entry domain.WaitlistEntry, event *domain.Event, auth *domain.PaymentAuthorization) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	payload := map[string]string{
		"event_id":    event.ID.String(),
		"event_name":  event.Name,
		"attendee_id": auth.AttendeeID.String(),
		"payment_url": auth.URL,
		"amount":      strconv.FormatInt(auth.Amount, 10),
		"currency":    auth.Currency,
		"expires_at":  auth.ExpiresAt.UTC().Format(time.RFC3339),
	}

	if err := b.notifier.Enqueue(ctx, entry.Email, inviteTemplate, payload); err != nil {
		log.Warn().Err(err).
			Str("entry_id", entry.ID.String()).
			Str("attendee_id", auth.AttendeeID.String()).
			Msg("invite notification not enqueued")
	}
}

// closeEvent marks the event full and retires the links nobody in this batch
// owns. It runs under the batch lock.
func (b *BatchInviter) closeEvent(ctx context.Context, event *domain.Event, invited []uuid.UUID) error {
	if event.Status != domain.EventFull {
		now := b.clock.Now()
		if err := b.events.MarkEventFull(ctx, event.ID, now); err != nil {
			return fmt.Errorf("mark event %s full: %w", event.ID, err)
		}
		event.Status = domain.EventFull
		event.FullAt = &now
	}

	sweep, err := b.links.InvalidateUnused(ctx, event.ID, invited)
	if err != nil {
		return fmt.Errorf("invalidate unused links: %w", err)
	}

	for ref, reason := range sweep.Failed {
		log.Warn().Str("event_id", event.ID.String()).Str("ref", ref).Str("reason", reason).Msg("authorization left active")
	}
	return nil
}
