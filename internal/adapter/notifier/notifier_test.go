package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/go-redis/redismock/v9"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRedisNotifier_Enqueue(t *testing.T) {
	db, mockRedis := redismock.NewClientMock()
	n := NewRedisNotifier(db, "notifications", clockwork.NewFakeClockAt(fixedNow))

	payload := map[string]string{"payment_url": "https://pay.example/abc"}
	want, err := encode("ana@example.com", "batch_invite", payload, fixedNow)
	require.NoError(t, err)

	mockRedis.ExpectRPush("notifications", string(want)).SetVal(1)

	err = n.Enqueue(context.Background(), "ana@example.com", "batch_invite", payload)

	assert.NoError(t, err)
	assert.NoError(t, mockRedis.ExpectationsWereMet())
}

func TestRedisNotifier_EnqueueError(t *testing.T) {
	db, mockRedis := redismock.NewClientMock()
	n := NewRedisNotifier(db, "notifications", clockwork.NewFakeClockAt(fixedNow))

	want, err := encode("ana@example.com", "batch_invite", nil, fixedNow)
	require.NoError(t, err)
	mockRedis.ExpectRPush("notifications", string(want)).SetErr(errors.New("READONLY"))

	err = n.Enqueue(context.Background(), "ana@example.com", "batch_invite", nil)

	assert.ErrorContains(t, err, "push notification")
}

type fakeSender struct {
	sent []*azservicebus.Message
	err  error
}

func (f *fakeSender) SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeSender) Close(ctx context.Context) error { return nil }

func TestServiceBusNotifier_Enqueue(t *testing.T) {
	sender := &fakeSender{}
	n := &ServiceBusNotifier{sender: sender, clock: clockwork.NewFakeClockAt(fixedNow)}

	err := n.Enqueue(context.Background(), "ana@example.com", "batch_invite", map[string]string{"event_name": "Pottery"})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	var msg Message
	require.NoError(t, json.Unmarshal(sender.sent[0].Body, &msg))
	assert.Equal(t, "ana@example.com", msg.Recipient)
	assert.Equal(t, "batch_invite", msg.TemplateID)
	assert.Equal(t, "Pottery", msg.Payload["event_name"])
	assert.Equal(t, "batch_invite", *sender.sent[0].Subject)
}

func TestNewServiceBusNotifier_RequiresConnectionString(t *testing.T) {
	_, err := NewServiceBusNotifier("", "invites", clockwork.NewRealClock())
	assert.Error(t, err)
}
