package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports"
)

type CoolOffState string

const (
	CoolOffIdle  CoolOffState = "IDLE"
	CoolOffArmed CoolOffState = "ARMED"
	CoolOffFired CoolOffState = "FIRED"
	CoolOffDone  CoolOffState = "DONE"
)

type coolOff struct {
	state CoolOffState
	timer clockwork.Timer
	delay time.Duration
	// gen changes on every arm and cancel; a timer whose gen is stale is a no-op.
	gen uint64
}

// CoolOffScheduler re-runs batches for an event after its cool-off delay while
// slots remain.
type CoolOffScheduler struct {
	mu     sync.Mutex
	runner BatchRunner
	events ports.EventRepository
	clock  clockwork.Clock
	ctx    context.Context
	cancel context.CancelFunc
	timers map[uuid.UUID]*coolOff
}

func NewCoolOffScheduler(runner BatchRunner, events ports.EventRepository, clock clockwork.Clock) *CoolOffScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &CoolOffScheduler{
		runner: runner,
		events: events,
		clock:  clock,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[uuid.UUID]*coolOff),
	}
}

func (s *CoolOffScheduler) State(eventID uuid.UUID) CoolOffState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.timers[eventID]; ok {
		return c.state
	}
	return CoolOffIdle
}

// Start runs the first batch for a freshly published event and arms the timer
// if the event still has room.
func (s *CoolOffScheduler) Start(ctx context.Context, eventID uuid.UUID) (*domain.BatchResult, error) {
	s.mu.Lock()
	gen := s.slot(eventID).gen
	s.mu.Unlock()

	result, err := s.runner.RunBatch(ctx, eventID)
	if err != nil {
		return nil, err
	}

	s.settle(ctx, eventID, gen, result)
	return result, nil
}

// FireNow runs an armed event's pending batch immediately.
func (s *CoolOffScheduler) FireNow(eventID uuid.UUID) bool {
	s.mu.Lock()
	c, ok := s.timers[eventID]
	if !ok || c.state != CoolOffArmed {
		s.mu.Unlock()
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	gen := c.gen
	s.mu.Unlock()

	s.fire(eventID, gen)
	return true
}

// Cancel stops a pending timer and retires the event. A timer that already
// fired sees the new generation and drops its result.
func (s *CoolOffScheduler) Cancel(eventID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.slot(eventID)
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	c.state = CoolOffDone

	log.Info().Str("event_id", eventID.String()).Msg("cool-off cancelled")
}

// Stop cancels every pending timer. In-flight batches see a cancelled context.
func (s *CoolOffScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.timers {
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.gen++
	}
	s.cancel()
}

func (s *CoolOffScheduler) fire(eventID uuid.UUID, gen uint64) {
	s.mu.Lock()
	c, ok := s.timers[eventID]
	if !ok || c.gen != gen || c.state != CoolOffArmed || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	c.state = CoolOffFired
	c.timer = nil
	s.mu.Unlock()

	ctx := s.ctx
	logger := log.With().Str("event_id", eventID.String()).Logger()

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		logger.Error().Err(err).Msg("cool-off fired but event could not be read, re-arming")
		s.rearm(eventID, gen)
		return
	}

	if event.Status != domain.EventPublished {
		logger.Info().Str("status", string(event.Status)).Msg("cool-off fired for an event that is no longer published")
		s.finish(eventID, gen)
		return
	}

	result, err := s.runner.RunBatch(ctx, eventID)
	switch {
	case errors.Is(err, domain.ErrConcurrencyConflict):
		logger.Info().Msg("batch already running, re-arming cool-off")
		s.rearm(eventID, gen)
		return
	case err != nil:
		logger.Error().Err(err).Msg("cool-off batch failed")
		s.finish(eventID, gen)
		return
	}

	for _, f := range result.Failed {
		logger.Warn().Err(f.Err).Str("entry_id", f.EntryID.String()).Str("kind", string(f.Kind)).Msg("entry not invited")
	}

	s.settle(ctx, eventID, gen, result)
}

// settle decides what follows a batch: another cool-off or done.
func (s *CoolOffScheduler) settle(ctx context.Context, eventID uuid.UUID, gen uint64, result *domain.BatchResult) {
	if result.SlotsRemaining <= 0 || result.EventStatus != domain.EventPublished {
		s.finish(eventID, gen)
		return
	}

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("cannot read cool-off for event")
		s.finish(eventID, gen)
		return
	}
	if event.Status != domain.EventPublished {
		s.finish(eventID, gen)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.slot(eventID)
	if c.gen != gen {
		return
	}
	c.delay = event.CoolOff
	s.arm(eventID, c)
}

func (s *CoolOffScheduler) rearm(eventID uuid.UUID, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.slot(eventID)
	if c.gen != gen {
		return
	}
	s.arm(eventID, c)
}

func (s *CoolOffScheduler) finish(eventID uuid.UUID, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.slot(eventID)
	if c.gen != gen {
		return
	}
	c.state = CoolOffDone
}

// arm must be called with s.mu held.
func (s *CoolOffScheduler) arm(eventID uuid.UUID, c *coolOff) {
	if s.ctx.Err() != nil {
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.state = CoolOffArmed
	c.timer = s.clock.AfterFunc(c.delay, func() {
		s.fire(eventID, gen)
	})

	log.Info().
		Str("event_id", eventID.String()).
		Dur("delay", c.delay).
		Msg("cool-off armed")
}

// slot must be called with s.mu held.
func (s *CoolOffScheduler) slot(eventID uuid.UUID) *coolOff {
	c, ok := s.timers[eventID]
	if !ok {
		c = &coolOff{state: CoolOffIdle}
		s.timers[eventID] = c
	}
	return c
}
