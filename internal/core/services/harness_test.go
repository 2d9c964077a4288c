package services_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/srgjo27/batch_invite/internal/adapter/lock"
	"github.com/srgjo27/batch_invite/internal/adapter/repository/memory"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports/mocks"
	"github.com/srgjo27/batch_invite/internal/core/services"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	store     *memory.Store
	gateway   *mocks.PaymentGateway
	notifier  *mocks.Notifier
	clock     *clockwork.FakeClock
	locker    *lock.LocalLocker
	waitlist  *services.WaitlistService
	links     *services.PaymentLinkService
	inviter   *services.BatchInviter
	scheduler *services.CoolOffScheduler
	resolver  *services.CancellationResolver
	engine    *services.Engine

	refs atomic.Int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    memory.NewStore(),
		gateway:  mocks.NewPaymentGateway(t),
		notifier: mocks.NewNotifier(t),
		clock:    clockwork.NewFakeClockAt(epoch),
		locker:   lock.NewLocalLocker(),
	}

	h.waitlist = services.NewWaitlistService(h.store, h.store, h.clock)
	h.links = services.NewPaymentLinkService(h.store, h.gateway, h.clock, services.WithGatewayTimeout(time.Second))
	h.inviter = services.NewBatchInviter(h.store, h.store, h.waitlist, h.links, h.notifier, h.locker, h.clock)
	h.scheduler = services.NewCoolOffScheduler(h.inviter, h.store, h.clock)
	h.resolver = services.NewCancellationResolver(h.store, h.store, h.store, h.store, h.links, h.gateway, h.locker, h.clock)
	h.engine = services.NewEngine(h.store, h.waitlist, h.links, h.scheduler, h.resolver, h.clock)
	t.Cleanup(h.engine.Shutdown)

	return h
}

// issueLinks makes the gateway mint a fresh reference for every call and the
// notifier accept every message.
func (h *harness) issueLinks() {
	h.gateway.On("CreateAuthorization", mock.Anything, mock.AnythingOfType("int64"), mock.AnythingOfType("string"), mock.Anything).
		Return(func(ctx context.Context, amount int64, currency string, md map[string]string) (domain.PaymentLink, error) {
			return h.nextLink(), nil
		}, nil).Maybe()
	h.notifier.On("Enqueue", mock.Anything, mock.AnythingOfType("string"), "batch_invite", mock.Anything).Return(nil).Maybe()
}

func (h *harness) nextLink() domain.PaymentLink {
	n := h.refs.Add(1)
	return domain.PaymentLink{
		Ref: fmt.Sprintf("auth_%d", n),
		URL: fmt.Sprintf("https://pay.example.com/a/auth_%d", n),
	}
}

func (h *harness) event(t *testing.T, capacity, batchSize int) *domain.Event {
	t.Helper()
	e := &domain.Event{
		ID:        uuid.New(),
		Name:      "Intro to Go",
		Capacity:  capacity,
		BatchSize: batchSize,
		CoolOff:   10 * time.Minute,
		StartsAt:  epoch.Add(14 * 24 * time.Hour),
		Price:     4000,
		Currency:  "EUR",
		Status:    domain.EventPublished,
	}
	require.NoError(t, h.store.CreateEvent(context.Background(), e))
	return e
}

// entries signs up n participants one second apart, oldest first.
func (h *harness) entries(t *testing.T, n int) []*domain.WaitlistEntry {
	t.Helper()
	out := make([]*domain.WaitlistEntry, 0, n)
	for i := 0; i < n; i++ {
		h.clock.Advance(time.Second)
		e, err := h.waitlist.Join(context.Background(), services.JoinWaitlistRequest{
			ParticipantID: uuid.NewString(),
			Email:         fmt.Sprintf("p%d@example.com", i),
		})
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

// seat writes an attendee row for entry directly, bypassing the batch.
func (h *harness) seat(t *testing.T, event *domain.Event, entry *domain.WaitlistEntry, status domain.AttendeeStatus) *domain.Attendee {
	t.Helper()
	a := &domain.Attendee{
		ID:            uuid.New(),
		EventID:       event.ID,
		EntryID:       entry.ID,
		ParticipantID: entry.ParticipantID,
		Status:        status,
		Priority:      entry.Priority,
		InvitedAt:     h.clock.Now(),
	}
	require.NoError(t, h.store.CreateInvited(context.Background(), a, event.Capacity))
	return a
}

func (h *harness) occupying(t *testing.T, eventID uuid.UUID) int {
	t.Helper()
	n, err := h.store.CountOccupying(context.Background(), eventID)
	require.NoError(t, err)
	return n
}

func entryIDs(entries []*domain.WaitlistEntry) []uuid.UUID {
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func invitedEntryIDs(h *harness, eventID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for _, a := range h.store.Attendees(eventID) {
		if a.Status == domain.AttendeeInvited {
			ids = append(ids, a.EntryID)
		}
	}
	return ids
}
