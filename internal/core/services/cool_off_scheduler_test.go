package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// scriptedRunner replays canned batch outcomes in order.
type scriptedRunner struct {
	mu      sync.Mutex
	results []scripted
	calls   int
}

type scripted struct {
	result *domain.BatchResult
	err    error
}

func (r *scriptedRunner) RunBatch(ctx context.Context, eventID uuid.UUID) (*domain.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.calls
	r.calls++
	if i >= len(r.results) {
		return &domain.BatchResult{EventID: eventID, NoOp: true, EventStatus: domain.EventPublished}, nil
	}
	return r.results[i].result, r.results[i].err
}

func (r *scriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func slotsLeft(slots int) *domain.BatchResult {
	return &domain.BatchResult{SlotsRemaining: slots, EventStatus: domain.EventPublished}
}

func TestCoolOff_ArmsUntilFull(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()
	h.gateway.On("Revoke", mock.Anything, mock.Anything).Return(nil).Maybe()
	ctx := context.Background()

	event := h.event(t, 4, 2)
	h.entries(t, 5)

	result, err := h.scheduler.Start(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, result.Invited, 2)
	assert.Equal(t, services.CoolOffArmed, h.scheduler.State(event.ID))

	h.clock.Advance(9 * time.Minute)
	assert.Equal(t, services.CoolOffArmed, h.scheduler.State(event.ID))
	assert.Equal(t, 2, h.occupying(t, event.ID))

	h.clock.Advance(time.Minute)

	assert.Eventually(t, func() bool {
		return h.scheduler.State(event.ID) == services.CoolOffDone
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 4, h.occupying(t, event.ID))

	stored, err := h.store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventFull, stored.Status)
}

func TestCoolOff_CancelBeforeFireHasNoEffect(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()
	ctx := context.Background()

	event := h.event(t, 4, 1)
	h.entries(t, 4)

	_, err := h.scheduler.Start(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, services.CoolOffArmed, h.scheduler.State(event.ID))

	require.NoError(t, h.engine.OnEventStatusChanged(ctx, event.ID, domain.EventCancelled))
	assert.Equal(t, services.CoolOffDone, h.scheduler.State(event.ID))

	h.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, h.occupying(t, event.ID))
	h.gateway.AssertNumberOfCalls(t, "CreateAuthorization", 1)
}

func TestCoolOff_FiredForUnpublishedEventIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()
	ctx := context.Background()

	event := h.event(t, 4, 1)
	h.entries(t, 4)

	_, err := h.scheduler.Start(ctx, event.ID)
	require.NoError(t, err)

	// Status moved behind the scheduler's back; the timer must notice on fire.
	require.NoError(t, h.store.UpdateEventStatus(ctx, event.ID, domain.EventFinished))
	h.clock.Advance(10 * time.Minute)

	assert.Eventually(t, func() bool {
		return h.scheduler.State(event.ID) == services.CoolOffDone
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, h.occupying(t, event.ID))
}

func TestCoolOff_FireNow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	runner := &scriptedRunner{results: []scripted{{result: slotsLeft(3)}, {result: slotsLeft(0)}}}
	scheduler := services.NewCoolOffScheduler(runner, h.store, h.clock)
	t.Cleanup(scheduler.Stop)

	event := h.event(t, 4, 1)

	assert.False(t, scheduler.FireNow(event.ID), "nothing armed yet")

	_, err := scheduler.Start(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, services.CoolOffArmed, scheduler.State(event.ID))

	assert.True(t, scheduler.FireNow(event.ID))
	assert.Equal(t, services.CoolOffDone, scheduler.State(event.ID))
	assert.Equal(t, 2, runner.Calls())

	h.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, runner.Calls(), "the replaced timer never fires")
}

func TestCoolOff_ConflictRearms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	runner := &scriptedRunner{results: []scripted{
		{result: slotsLeft(2)},
		{err: domain.ErrConcurrencyConflict},
		{result: slotsLeft(0)},
	}}
	scheduler := services.NewCoolOffScheduler(runner, h.store, h.clock)
	t.Cleanup(scheduler.Stop)

	event := h.event(t, 4, 1)

	_, err := scheduler.Start(ctx, event.ID)
	require.NoError(t, err)

	require.True(t, scheduler.FireNow(event.ID))
	assert.Equal(t, services.CoolOffArmed, scheduler.State(event.ID), "a conflicting run backs off and re-arms")

	h.clock.Advance(10 * time.Minute)
	assert.Eventually(t, func() bool {
		return scheduler.State(event.ID) == services.CoolOffDone
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 3, runner.Calls())
}

func TestCoolOff_StartError(t *testing.T) {
	h := newHarness(t)
	runner := &scriptedRunner{results: []scripted{{err: domain.ErrConcurrencyConflict}}}
	scheduler := services.NewCoolOffScheduler(runner, h.store, h.clock)
	t.Cleanup(scheduler.Stop)

	eventID := uuid.New()
	_, err := scheduler.Start(context.Background(), eventID)

	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Equal(t, services.CoolOffIdle, scheduler.State(eventID))
}

func TestCoolOff_StopDropsTimers(t *testing.T) {
	h := newHarness(t)
	runner := &scriptedRunner{results: []scripted{{result: slotsLeft(2)}}}
	scheduler := services.NewCoolOffScheduler(runner, h.store, h.clock)

	event := h.event(t, 4, 1)
	_, err := scheduler.Start(context.Background(), event.ID)
	require.NoError(t, err)

	scheduler.Stop()
	h.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, runner.Calls())
}
