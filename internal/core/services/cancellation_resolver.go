package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports"
)

type CancellationResolver struct {
	attendees ports.AttendeeRepository
	entries   ports.WaitlistRepository
	events    ports.EventRepository
	refunds   ports.RefundRepository
	links     *PaymentLinkService
	gateway   ports.PaymentGateway
	locker    ports.Locker
	clock     clockwork.Clock
	timeout   time.Duration
}

func NewCancellationResolver(
	attendees ports.AttendeeRepository,
	entries ports.WaitlistRepository,
	events ports.EventRepository,
	refunds ports.RefundRepository,
	links *PaymentLinkService,
	gateway ports.PaymentGateway,
	locker ports.Locker,
	clock clockwork.Clock,
) *CancellationResolver {
	return &CancellationResolver{
		attendees: attendees,
		entries:   entries,
		events:    events,
		refunds:   refunds,
		links:     links,
		gateway:   gateway,
		locker:    locker,
		clock:     clock,
		timeout:   links.timeout,
	}
}

func CancelLockKey(attendeeID uuid.UUID) string {
	return fmt.Sprintf("cancel:attendee:%s", attendeeID)
}

// Resolve applies decision to the attendee. Every branch frees the attendee's
// slot; refilling it is left to the caller. Only one resolution per attendee
// runs at a time; a second caller gets domain.ErrConcurrencyConflict.
func (r *CancellationResolver) Resolve(ctx context.Context, attendeeID uuid.UUID, decision domain.Decision) (*domain.CancellationOutcome, error) {
	if decision == nil {
		return nil, &domain.ValidationError{Field: "decision", Reason: "required"}
	}

	release, err := r.locker.TryLock(ctx, CancelLockKey(attendeeID))
	if err != nil {
		return nil, fmt.Errorf("lock attendee %s: %w", attendeeID, err)
	}
	defer release()

	attendee, err := r.attendees.GetAttendee(ctx, attendeeID)
	if err != nil {
		return nil, fmt.Errorf("get attendee %s: %w", attendeeID, err)
	}

	if !attendee.Cancellable() {
		return nil, &domain.InvalidTransitionError{Entity: "attendee", From: string(attendee.Status), To: string(domain.AttendeeCancelled)}
	}

	entry, err := r.entries.GetEntry(ctx, attendee.EntryID)
	if err != nil {
		return nil, fmt.Errorf("get waitlist entry %s: %w", attendee.EntryID, err)
	}

	event, err := r.events.GetEvent(ctx, attendee.EventID)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", attendee.EventID, err)
	}

	logger := log.With().
		Str("attendee_id", attendee.ID.String()).
		Str("event_id", event.ID.String()).
		Str("decision", decision.Name()).
		Logger()

	var refund *domain.RefundRecord
	if decision.Refunds() && attendee.HasPaid() {
		refund, err = r.refund(ctx, attendee, event)
		if err != nil {
			logger.Warn().Err(err).Msg("refund failed, cancellation not applied")
			return nil, err
		}
	}

	if !attendee.HasPaid() && attendee.PaymentLinkRef != nil {
		if err := r.links.InvalidateForAttendee(ctx, attendee.ID); err != nil {
			logger.Warn().Err(err).Msg("unused payment link left active")
		}
	}

	now := r.clock.Now()
	if decision.ReturnsToWaitlist() {
		entry.ApplyCancellationPriority(event.ID, true, decision.GrantsCredit())
	} else {
		entry.ApplyCancellationPriority(event.ID, false, false)
		entry.Remove(now, decision.Name())
	}

	err = r.attendees.CancelAttendance(ctx, ports.CancelAttendance{
		AttendeeID:  attendee.ID,
		CancelledAt: now,
		Entry:       entry,
		Refund:      refund,
	})
	if err != nil {
		if refund != nil {
			if updErr := r.refunds.UpdateRefund(ctx, refund); updErr != nil {
				logger.Error().Err(updErr).Str("refund_id", refund.ID.String()).Msg("refund succeeded but could not be recorded")
			}
		}
		return nil, fmt.Errorf("cancel attendance: %w", err)
	}

	logger.Info().Bool("refunded", refund != nil).Msg("attendance cancelled")

	return &domain.CancellationOutcome{
		AttendeeID: attendee.ID,
		EventID:    event.ID,
		EntryID:    entry.ID,
		Decision:   decision.Name(),
		Refund:     refund,
		FreedSlot:  attendee.Status.Occupies(),
	}, nil
}

// refund records a pending refund, calls the gateway and returns the record
// with its outcome. The SUCCEEDED record is persisted by CancelAttendance. An
// attendee already refunded by an earlier attempt is never refunded again.
func (r *CancellationResolver) refund(ctx context.Context, attendee *domain.Attendee, event *domain.Event) (*domain.RefundRecord, error) {
	prior, err := r.refunds.GetSucceededRefund(ctx, attendee.ID)
	switch {
	case err == nil:
		log.Info().Str("attendee_id", attendee.ID.String()).Str("refund_id", prior.ID.String()).Msg("attendee already refunded, reusing record")
		return prior, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("look up refunds: %w", err)
	}

	paymentRef := ""
	switch {
	case attendee.PaymentRef != nil:
		paymentRef = *attendee.PaymentRef
	case attendee.PaymentLinkRef != nil:
		paymentRef = *attendee.PaymentLinkRef
	default:
		return nil, &domain.InvalidStateError{Entity: "attendee", State: string(attendee.Status), Reason: "paid attendee has no payment reference"}
	}

	refund := &domain.RefundRecord{
		ID:          uuid.New(),
		AttendeeID:  attendee.ID,
		PaymentRef:  paymentRef,
		Amount:      event.Price,
		RequestedAt: r.clock.Now(),
		Outcome:     domain.RefundPending,
	}

	if err := r.refunds.CreateRefund(ctx, refund); err != nil {
		return nil, fmt.Errorf("create refund record: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	externalRef, err := r.gateway.Refund(callCtx, paymentRef, refund.Amount)
	cancel()
	if err != nil {
		refund.Outcome = domain.RefundFailed
		if updErr := r.refunds.UpdateRefund(ctx, refund); updErr != nil {
			log.Error().Err(updErr).Str("refund_id", refund.ID.String()).Msg("failed to record refund failure")
		}
		return nil, domain.NewGatewayError("refund", err)
	}

	refund.ExternalRefundRef = &externalRef
	refund.Outcome = domain.RefundSucceeded
	return refund, nil
}
