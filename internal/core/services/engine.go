package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports"
)

// Engine is the set of entry points the surrounding application calls.
type Engine struct {
	events    ports.EventRepository
	waitlist  *WaitlistService
	links     *PaymentLinkService
	scheduler *CoolOffScheduler
	resolver  *CancellationResolver
	clock     clockwork.Clock
}

func NewEngine(
	events ports.EventRepository,
	waitlist *WaitlistService,
	links *PaymentLinkService,
	scheduler *CoolOffScheduler,
	resolver *CancellationResolver,
	clock clockwork.Clock,
) *Engine {
	return &Engine{
		events:    events,
		waitlist:  waitlist,
		links:     links,
		scheduler: scheduler,
		resolver:  resolver,
		clock:     clock,
	}
}

func (e *Engine) Waitlist() *WaitlistService {
	return e.waitlist
}

func (e *Engine) Scheduler() *CoolOffScheduler {
	return e.scheduler
}

// OnEventPublished runs the first batch and arms the cool-off if slots remain.
func (e *Engine) OnEventPublished(ctx context.Context, eventID uuid.UUID) (*domain.BatchResult, error) {
	result, err := e.scheduler.Start(ctx, eventID)
	if err != nil {
		return nil, err
	}

	for _, f := range result.Failed {
		log.Warn().Err(f.Err).
			Str("event_id", eventID.String()).
			Str("entry_id", f.EntryID.String()).
			Str("kind", string(f.Kind)).
			Msg("entry not invited")
	}
	return result, nil
}

// OnCoolOffFired runs the pending batch of an armed event now. It reports
// false when nothing was armed.
func (e *Engine) OnCoolOffFired(ctx context.Context, eventID uuid.UUID) bool {
	return e.scheduler.FireNow(eventID)
}

func (e *Engine) OnCancellationRequested(ctx context.Context, attendeeID uuid.UUID, decision domain.Decision) (*domain.CancellationOutcome, error) {
	return e.resolver.Resolve(ctx, attendeeID, decision)
}

// OnEventStatusChanged records newStatus if the store does not have it yet and
// applies its side effects: pending timers are cancelled when the event closes,
// priorities decay when it finishes, and a reopened event gets a fresh batch.
func (e *Engine) OnEventStatusChanged(ctx context.Context, eventID uuid.UUID, newStatus domain.EventStatus) error {
	event, err := e.events.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("get event %s: %w", eventID, err)
	}

	if event.Status != newStatus {
		if !event.CanTransitionTo(newStatus) {
			return &domain.InvalidTransitionError{Entity: "event", From: string(event.Status), To: string(newStatus)}
		}
		if newStatus == domain.EventFull {
			err = e.events.MarkEventFull(ctx, eventID, e.clock.Now())
		} else {
			err = e.events.UpdateEventStatus(ctx, eventID, newStatus)
		}
		if err != nil {
			return fmt.Errorf("update event %s status: %w", eventID, err)
		}
	}

	logger := log.With().Str("event_id", eventID.String()).Str("status", string(newStatus)).Logger()

	switch newStatus {
	case domain.EventFull:
		e.scheduler.Cancel(eventID)
		sweep, err := e.links.InvalidateUnused(ctx, eventID, nil)
		if err != nil {
			return fmt.Errorf("invalidate unused links: %w", err)
		}
		for ref, reason := range sweep.Failed {
			logger.Warn().Str("ref", ref).Str("reason", reason).Msg("authorization left active")
		}
		logger.Info().Int("invalidated", len(sweep.Invalidated)).Msg("event closed")
	case domain.EventCancelled:
		e.scheduler.Cancel(eventID)
	case domain.EventFinished:
		e.scheduler.Cancel(eventID)
		n, err := e.waitlist.DecayExpiredPriorities(ctx, eventID)
		if err != nil {
			return fmt.Errorf("decay priorities: %w", err)
		}
		logger.Info().Int("decayed", n).Msg("event finished")
	case domain.EventPublished:
		if event.Status == newStatus {
			return nil
		}
		if _, err := e.OnEventPublished(ctx, eventID); err != nil {
			return fmt.Errorf("start batch for reopened event: %w", err)
		}
	}
	return nil
}

// SetManualOverride lets batches run against a FULL event. Links issued under
// the override expire at the cutoff.
func (e *Engine) SetManualOverride(ctx context.Context, eventID uuid.UUID, enabled bool) (*domain.Event, error) {
	if err := e.events.SetManualOverride(ctx, eventID, enabled); err != nil {
		return nil, fmt.Errorf("set manual override on event %s: %w", eventID, err)
	}

	event, err := e.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}

	log.Info().Str("event_id", eventID.String()).Bool("enabled", enabled).Msg("manual override changed")
	return event, nil
}

func (e *Engine) ConfirmPayment(ctx context.Context, ref, paymentRef string) (*domain.PaymentAuthorization, error) {
	return e.links.Confirm(ctx, ref, paymentRef)
}

func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	return e.links.ExpireStale(ctx, e.clock.Now())
}

// Shutdown stops every pending cool-off timer.
func (e *Engine) Shutdown() {
	e.scheduler.Stop()
}
