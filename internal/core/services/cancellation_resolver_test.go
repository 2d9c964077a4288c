package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/srgjo27/batch_invite/internal/adapter/repository/memory"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports"
	"github.com/srgjo27/batch_invite/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// invite seats entry and hands it an active payment link.
func (h *harness) invite(t *testing.T, event *domain.Event, entry *domain.WaitlistEntry) (*domain.Attendee, *domain.PaymentAuthorization) {
	t.Helper()
	ctx := context.Background()

	a := h.seat(t, event, entry, domain.AttendeeInvited)
	auth, err := h.links.Issue(ctx, a, event)
	require.NoError(t, err)
	require.NoError(t, h.store.SetPaymentLink(ctx, a.ID, auth.Ref))
	return a, auth
}

// paid invites entry and confirms its payment as paymentRef.
func (h *harness) paid(t *testing.T, event *domain.Event, entry *domain.WaitlistEntry, paymentRef string) *domain.Attendee {
	t.Helper()
	a, auth := h.invite(t, event, entry)
	_, err := h.links.Confirm(context.Background(), auth.Ref, paymentRef)
	require.NoError(t, err)
	return a
}

func TestResolve_RefundAndWaitlist(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()
	ctx := context.Background()

	event := h.event(t, 3, 3)
	entry := h.entries(t, 1)[0]
	a := h.paid(t, event, entry, "pay_1")

	h.gateway.On("Refund", mock.Anything, "pay_1", int64(4000)).Return("re_1", nil).Once()

	outcome, err := h.resolver.Resolve(ctx, a.ID, domain.RefundAndWaitlist{})

	require.NoError(t, err)
	assert.True(t, outcome.FreedSlot)
	assert.Equal(t, "refund_and_waitlist", outcome.Decision)
	require.NotNil(t, outcome.Refund)
	assert.Equal(t, domain.RefundSucceeded, outcome.Refund.Outcome)

	refunds := h.store.Refunds(a.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundSucceeded, refunds[0].Outcome)
	require.NotNil(t, refunds[0].ExternalRefundRef)
	assert.Equal(t, "re_1", *refunds[0].ExternalRefundRef)

	attendee, err := h.store.GetAttendee(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttendeeCancelled, attendee.Status)
	assert.Equal(t, 0, h.occupying(t, event.ID))

	got, err := h.store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityCancelled, got.Priority)
	assert.True(t, got.Excludes(event.ID))
	assert.False(t, got.HasUnusedCredit)
	assert.False(t, got.Removed)
}

func TestResolve_RefundAndRemoveNeverReappears(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()
	ctx := context.Background()

	event := h.event(t, 3, 3)
	later := h.event(t, 3, 3)
	entry := h.entries(t, 1)[0]
	h.entries(t, 2)
	a := h.paid(t, event, entry, "pay_2")

	h.gateway.On("Refund", mock.Anything, "pay_2", int64(4000)).Return("re_2", nil).Once()

	_, err := h.resolver.Resolve(ctx, a.ID, domain.RefundAndRemove{})
	require.NoError(t, err)

	got, err := h.store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, got.Removed)
	assert.Contains(t, got.Notes, "refund_and_remove")

	for _, e := range []*domain.Event{event, later, h.event(t, 10, 10)} {
		next, err := h.waitlist.NextEligible(ctx, e.ID, 10)
		require.NoError(t, err)
		for _, n := range next {
			assert.NotEqual(t, entry.ID, n.ID)
		}
	}

	result, err := h.inviter.RunBatch(ctx, later.ID)
	require.NoError(t, err)
	assert.NotContains(t, invitedEntryIDs(h, later.ID), entry.ID)
	assert.Len(t, result.Invited, 2)
}

func TestResolve_CreditAndWaitlistDecaysOnce(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()
	ctx := context.Background()

	event := h.event(t, 3, 3)
	entry := h.entries(t, 1)[0]
	a, auth := h.invite(t, event, entry)

	h.gateway.On("Revoke", mock.Anything, auth.Ref).Return(nil).Once()

	outcome, err := h.engine.OnCancellationRequested(ctx, a.ID, domain.CreditAndWaitlist{})
	require.NoError(t, err)
	assert.Nil(t, outcome.Refund)
	h.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)

	stored, err := h.store.GetAuthorizationByRef(ctx, auth.Ref)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationInvalidated, stored.State, "an unpaid link dies with the invitation")

	got, err := h.store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityCancelled, got.Priority)
	assert.True(t, got.HasUnusedCredit)

	require.NoError(t, h.engine.OnEventStatusChanged(ctx, event.ID, domain.EventFinished))

	got, err = h.store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, got.Priority)
	notes := got.Notes

	require.NoError(t, h.engine.OnEventStatusChanged(ctx, event.ID, domain.EventFinished))
	n, err := h.waitlist.DecayExpiredPriorities(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err = h.store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, got.Priority)
	assert.Equal(t, notes, got.Notes)
	assert.True(t, got.HasUnusedCredit)
}

func TestResolve_RemoveOnly(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()
	ctx := context.Background()

	event := h.event(t, 3, 3)
	entry := h.entries(t, 1)[0]
	a := h.paid(t, event, entry, "pay_3")

	outcome, err := h.resolver.Resolve(ctx, a.ID, domain.RemoveOnly{})

	require.NoError(t, err)
	assert.Nil(t, outcome.Refund, "remove_only never refunds")
	got, err := h.store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, got.Removed)
	assert.Equal(t, domain.PriorityNormal, got.Priority)
	assert.Equal(t, 0, h.occupying(t, event.ID))
}

func TestResolve_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := h.event(t, 3, 3)
	signups := h.entries(t, 2)
	attended := h.seat(t, event, signups[0], domain.AttendeeAttended)
	cancelled := h.seat(t, event, signups[1], domain.AttendeeCancelled)

	for _, a := range []*domain.Attendee{attended, cancelled} {
		_, err := h.resolver.Resolve(ctx, a.ID, domain.RefundAndWaitlist{})

		var transition *domain.InvalidTransitionError
		require.ErrorAs(t, err, &transition)
		assert.Equal(t, string(a.Status), transition.From)
	}

	_, err := h.resolver.Resolve(ctx, attended.ID, nil)
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)

	assert.Equal(t, 1, h.occupying(t, event.ID))
}

func TestResolve_RefundFailureLeavesAttendee(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()
	ctx := context.Background()

	event := h.event(t, 3, 3)
	entry := h.entries(t, 1)[0]
	a := h.paid(t, event, entry, "pay_4")

	h.gateway.On("Refund", mock.Anything, "pay_4", int64(4000)).Return("", errors.New("insufficient balance")).Once()

	outcome, err := h.resolver.Resolve(ctx, a.ID, domain.RefundAndWaitlist{})

	assert.Nil(t, outcome)
	var gwErr *domain.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "refund", gwErr.Op)

	attendee, err := h.store.GetAttendee(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttendeeConfirmed, attendee.Status)

	refunds := h.store.Refunds(a.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundFailed, refunds[0].Outcome)

	got, err := h.store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, got.Priority)
	assert.Empty(t, got.ExcludedEventIDs)
}

func TestResolve_ConcurrentRequestsRefundOnce(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()
	ctx := context.Background()

	event := h.event(t, 3, 3)
	entry := h.entries(t, 1)[0]
	a := h.paid(t, event, entry, "pay_1")

	entered := make(chan struct{})
	proceed := make(chan struct{})
	h.gateway.On("Refund", mock.Anything, "pay_1", int64(4000)).
		Run(func(args mock.Arguments) {
			close(entered)
			<-proceed
		}).
		Return("re_1", nil).Once()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = h.resolver.Resolve(ctx, a.ID, domain.RefundAndRemove{})
	}()

	<-entered
	_, err := h.resolver.Resolve(ctx, a.ID, domain.RefundAndRemove{})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	close(proceed)
	wg.Wait()
	require.NoError(t, firstErr)

	refunds := h.store.Refunds(a.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundSucceeded, refunds[0].Outcome)

	_, err = h.resolver.Resolve(ctx, a.ID, domain.RefundAndRemove{})
	var transition *domain.InvalidTransitionError
	assert.ErrorAs(t, err, &transition, "a cancelled attendee is not refunded again")
	assert.Len(t, h.store.Refunds(a.ID), 1)
}

func TestResolve_HeldLockRejectsWithoutRefund(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()

	event := h.event(t, 3, 3)
	entry := h.entries(t, 1)[0]
	a := h.paid(t, event, entry, "pay_1")

	release, err := h.locker.TryLock(context.Background(), services.CancelLockKey(a.ID))
	require.NoError(t, err)
	defer release()

	_, err = h.resolver.Resolve(context.Background(), a.ID, domain.RefundAndWaitlist{})

	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Empty(t, h.store.Refunds(a.ID))
	h.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

// flakyCancel fails the first failures CancelAttendance calls.
type flakyCancel struct {
	*memory.Store
	failures int
}

func (f *flakyCancel) CancelAttendance(ctx context.Context, c ports.CancelAttendance) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset by peer")
	}
	return f.Store.CancelAttendance(ctx, c)
}

func TestResolve_RetryAfterStoreFailureReusesRefund(t *testing.T) {
	h := newHarness(t)
	h.issueLinks()
	ctx := context.Background()

	event := h.event(t, 3, 3)
	entry := h.entries(t, 1)[0]
	a := h.paid(t, event, entry, "pay_1")

	h.gateway.On("Refund", mock.Anything, "pay_1", int64(4000)).Return("re_1", nil).Once()

	attendees := &flakyCancel{Store: h.store, failures: 1}
	resolver := services.NewCancellationResolver(attendees, h.store, h.store, h.store, h.links, h.gateway, h.locker, h.clock)

	_, err := resolver.Resolve(ctx, a.ID, domain.RefundAndWaitlist{})
	require.Error(t, err)

	stored, err := h.store.GetAttendee(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttendeeConfirmed, stored.Status)

	refunds := h.store.Refunds(a.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundSucceeded, refunds[0].Outcome)

	outcome, err := resolver.Resolve(ctx, a.ID, domain.RefundAndWaitlist{})

	require.NoError(t, err)
	require.NotNil(t, outcome.Refund)
	assert.Equal(t, refunds[0].ID, outcome.Refund.ID)
	assert.Len(t, h.store.Refunds(a.ID), 1)

	stored, err = h.store.GetAttendee(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttendeeCancelled, stored.Status)
}

func TestCancelLockKey(t *testing.T) {
	id := uuid.MustParse("0b7e9d4c-2f61-4c1a-8f0e-5d3a9b2c7e41")
	assert.Equal(t, "cancel:attendee:0b7e9d4c-2f61-4c1a-8f0e-5d3a9b2c7e41", services.CancelLockKey(id))
}
