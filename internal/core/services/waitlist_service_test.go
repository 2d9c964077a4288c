package services_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   services.JoinWaitlistRequest
		field string
	}{
		{"BadParticipant", services.JoinWaitlistRequest{ParticipantID: "42", Email: "a@example.com"}, "participant_id"},
		{"BadEmail", services.JoinWaitlistRequest{ParticipantID: uuid.NewString(), Email: "not-an-email"}, "email"},
		{"MissingEmail", services.JoinWaitlistRequest{ParticipantID: uuid.NewString()}, "email"},
		{"MissingParticipant", services.JoinWaitlistRequest{Email: "a@example.com"}, "participant_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.waitlist.Join(ctx, tt.req)

			var validation *domain.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tt.field, validation.Field)
		})
	}
}

func TestJoin_NormalisesInput(t *testing.T) {
	h := newHarness(t)
	participant := uuid.New()

	entry, err := h.waitlist.Join(context.Background(), services.JoinWaitlistRequest{
		ParticipantID: " " + strings.ToUpper(participant.String()) + " ",
		Email:         "  Ada@Example.COM ",
		Notes:         " front row please ",
	})

	require.NoError(t, err)
	assert.Equal(t, participant, entry.ParticipantID)
	assert.Equal(t, "ada@example.com", entry.Email)
	assert.Equal(t, "front row please", entry.Notes)
	assert.Equal(t, domain.PriorityNormal, entry.Priority)
}

func TestNextEligible_SkipsHoldersAndExclusions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := h.event(t, 10, 10)
	signups := h.entries(t, 5)

	h.seat(t, event, signups[0], domain.AttendeeInvited)
	h.seat(t, event, signups[1], domain.AttendeeCancelled)

	excluded := signups[2]
	excluded.ApplyCancellationPriority(event.ID, true, false)
	require.NoError(t, h.store.UpdateEntry(ctx, excluded))

	removed := signups[3]
	removed.Remove(h.clock.Now(), "refund_and_remove")
	require.NoError(t, h.store.UpdateEntry(ctx, removed))

	got, err := h.waitlist.NextEligible(ctx, event.ID, 10)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, signups[4].ID, got[0].ID)

	other := h.event(t, 10, 10)
	got, err = h.waitlist.NextEligible(ctx, other.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, excluded.ID, got[0].ID, "cancellation priority ranks first elsewhere")
}

func TestNextEligible_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := h.event(t, 10, 10)
	h.entries(t, 6)

	first, err := h.waitlist.NextEligible(ctx, event.ID, 4)
	require.NoError(t, err)
	second, err := h.waitlist.NextEligible(ctx, event.ID, 4)
	require.NoError(t, err)

	assert.Len(t, first, 4)
	assert.Equal(t, first, second)

	none, err := h.waitlist.NextEligible(ctx, event.ID, 0)
	assert.NoError(t, err)
	assert.Empty(t, none)
}

func TestDecayExpiredPriorities(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	source := h.event(t, 10, 10)
	signups := h.entries(t, 3)

	require.NoError(t, h.waitlist.ApplyCancellationPriority(ctx, signups[0], source.ID, true, true))
	require.NoError(t, h.waitlist.ApplyCancellationPriority(ctx, signups[1], source.ID, true, false))
	manual, err := h.waitlist.SetManualPriority(ctx, signups[2].ID)
	require.NoError(t, err)

	_, err = h.waitlist.DecayExpiredPriorities(ctx, source.ID)
	var stateErr *domain.InvalidStateError
	require.ErrorAs(t, err, &stateErr, "decay waits for the event to finish")

	require.NoError(t, h.store.UpdateEventStatus(ctx, source.ID, domain.EventFinished))

	n, err := h.waitlist.DecayExpiredPriorities(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.waitlist.DecayExpiredPriorities(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, e := range signups[:2] {
		got, err := h.store.GetEntry(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PriorityNormal, got.Priority)
		assert.True(t, got.Excludes(source.ID))
	}

	got, err := h.store.GetEntry(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityManual, got.Priority)
}

func TestSetManualPriority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	entry := h.entries(t, 1)[0]

	got, err := h.waitlist.SetManualPriority(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityManual, got.Priority)
	assert.Contains(t, got.Notes, "manual priority granted")

	again, err := h.waitlist.SetManualPriority(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Notes, again.Notes)

	_, err = h.waitlist.SetManualPriority(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
