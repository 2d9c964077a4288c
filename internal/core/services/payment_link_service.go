package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	defaultSweepInterval  = time.Minute
)

type PaymentLinkService struct {
	payments      ports.PaymentRepository
	gateway       ports.PaymentGateway
	clock         clockwork.Clock
	timeout       time.Duration
	sweepInterval time.Duration
}

type PaymentLinkOption func(*PaymentLinkService)

// WithGatewayTimeout bounds every call to the payment gateway.
func WithGatewayTimeout(d time.Duration) PaymentLinkOption {
	return func(s *PaymentLinkService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithSweepInterval(d time.Duration) PaymentLinkOption {
	return func(s *PaymentLinkService) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

func NewPaymentLinkService(payments ports.PaymentRepository, gateway ports.PaymentGateway, clock clockwork.Clock, opts ...PaymentLinkOption) *PaymentLinkService {
	s := &PaymentLinkService{
		payments:      payments,
		gateway:       gateway,
		clock:         clock,
		timeout:       defaultGatewayTimeout,
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints a payment authorization for attendee. A gateway failure returns
// *domain.GatewayError and leaves nothing behind locally.
func (s *PaymentLinkService) Issue(ctx context.Context, attendee *domain.Attendee, event *domain.Event) (*domain.PaymentAuthorization, error) {
	now := s.clock.Now()
	expiresAt := event.LinkExpiry()
	if !expiresAt.After(now) {
		return nil, &domain.InvalidStateError{Entity: "event", State: string(event.Status), Reason: "payment window already closed"}
	}

	metadata := map[string]string{
		"attendee_id": attendee.ID.String(),
		"event_id":    event.ID.String(),
		"expires_at":  expiresAt.UTC().Format(time.RFC3339),
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	link, err := s.gateway.CreateAuthorization(callCtx, event.Price, event.Currency, metadata)
	cancel()
	if err != nil {
		return nil, domain.NewGatewayError("create_authorization", err)
	}

	auth := &domain.PaymentAuthorization{
		ID:         uuid.New(),
		Ref:        link.Ref,
		URL:        link.URL,
		AttendeeID: attendee.ID,
		EventID:    event.ID,
		Amount:     event.Price,
		Currency:   event.Currency,
		State:      domain.AuthorizationActive,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.payments.CreateAuthorization(ctx, auth); err != nil {
		if revokeErr := s.revoke(ctx, link.Ref); revokeErr != nil {
			log.Error().Err(revokeErr).Str("ref", link.Ref).Msg("orphaned payment link could not be revoked")
		}
		return nil, fmt.Errorf("record authorization %s: %w", link.Ref, err)
	}

	return auth, nil
}

// InvalidateUnused revokes every active authorization of eventID whose owner
// is not in except. Failures are collected per authorization and never stop
// the sweep.
func (s *PaymentLinkService) InvalidateUnused(ctx context.Context, eventID uuid.UUID, except []uuid.UUID) (domain.SweepResult, error) {
	result := domain.SweepResult{Failed: map[string]string{}}

	active, err := s.payments.ListActiveByEvent(ctx, eventID)
	if err != nil {
		return result, fmt.Errorf("list active authorizations: %w", err)
	}

	skip := make(map[uuid.UUID]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}

	for _, auth := range active {
		if _, ok := skip[auth.AttendeeID]; ok {
			continue
		}

		changed, err := s.invalidate(ctx, &auth)
		if err != nil {
			log.Warn().Err(err).
				Str("event_id", eventID.String()).
				Str("ref", auth.Ref).
				Msg("failed to invalidate payment authorization")
			result.Failed[auth.Ref] = err.Error()
			continue
		}
		if changed {
			result.Invalidated = append(result.Invalidated, auth.Ref)
		}
	}

	log.Info().
		Str("event_id", eventID.String()).
		Int("invalidated", len(result.Invalidated)).
		Int("failed", len(result.Failed)).
		Msg("unused payment authorizations swept")

	return result, nil
}

// InvalidateForAttendee retires the attendee's active authorization, if any.
func (s *PaymentLinkService) InvalidateForAttendee(ctx context.Context, attendeeID uuid.UUID) error {
	auth, err := s.payments.GetActiveByAttendee(ctx, attendeeID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get active authorization: %w", err)
	}

	_, err = s.invalidate(ctx, auth)
	return err
}

func (s *PaymentLinkService) invalidate(ctx context.Context, auth *domain.PaymentAuthorization) (bool, error) {
	if err := s.revoke(ctx, auth.Ref); err != nil {
		return false, err
	}

	changed, err := s.payments.TransitionState(ctx, auth.ID, domain.AuthorizationActive, domain.AuthorizationInvalidated, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("mark authorization %s invalidated: %w", auth.Ref, err)
	}
	return changed, nil
}

func (s *PaymentLinkService) revoke(ctx context.Context, ref string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.gateway.Revoke(callCtx, ref); err != nil {
		return domain.NewGatewayError("revoke", err)
	}
	return nil
}

// ExpireStale moves every active authorization past its expiry to EXPIRED.
func (s *PaymentLinkService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	n, err := s.payments.ExpireStale(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale authorizations: %w", err)
	}

	if n > 0 {
		log.Info().Int("expired", n).Msg("stale payment authorizations expired")
	}
	return n, nil
}

// Confirm records an external payment confirmation against ref.
func (s *PaymentLinkService) Confirm(ctx context.Context, ref, paymentRef string) (*domain.PaymentAuthorization, error) {
	if ref == "" {
		return nil, &domain.ValidationError{Field: "ref", Reason: "required"}
	}

	auth, err := s.payments.GetAuthorizationByRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("get authorization %s: %w", ref, err)
	}

	now := s.clock.Now()
	if auth.IsStale(now) {
		if _, err := s.payments.TransitionState(ctx, auth.ID, domain.AuthorizationActive, domain.AuthorizationExpired, now); err != nil {
			return nil, fmt.Errorf("expire authorization %s: %w", ref, err)
		}
		auth.State = domain.AuthorizationExpired
	}

	if auth.State != domain.AuthorizationActive {
		return nil, &domain.InvalidTransitionError{Entity: "payment authorization", From: string(auth.State), To: string(domain.AuthorizationConsumed)}
	}

	if paymentRef == "" {
		paymentRef = ref
	}

	applied, err := s.payments.Consume(ctx, ports.ConsumePayment{
		AuthorizationID: auth.ID,
		AttendeeID:      auth.AttendeeID,
		PaymentRef:      paymentRef,
		PaidAt:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("consume authorization %s: %w", ref, err)
	}
	if !applied {
		return nil, &domain.InvalidTransitionError{Entity: "payment authorization", From: "changed concurrently", To: string(domain.AuthorizationConsumed)}
	}

	auth.State = domain.AuthorizationConsumed
	auth.UpdatedAt = now
	return auth, nil
}

// RunExpirySweeper runs ExpireStale on a fixed interval until ctx is done.
func (s *PaymentLinkService) RunExpirySweeper(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		return fmt.Errorf("create expiry scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.sweepInterval),
		gocron.NewTask(func() {
			if _, err := s.ExpireStale(ctx, s.clock.Now()); err != nil {
				log.Error().Err(err).Msg("expiry sweep failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}

	log.Info().Dur("interval", s.sweepInterval).Msg("payment expiry sweeper started")
	scheduler.Start()

	<-ctx.Done()

	log.Info().Msg("payment expiry sweeper stopped")
	return scheduler.Shutdown()
}
