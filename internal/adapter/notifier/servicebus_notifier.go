package notifier

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/jonboulle/clockwork"
)

type messageSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// ServiceBusNotifier sends each message to an Azure Service Bus queue.
type ServiceBusNotifier struct {
	client *azservicebus.Client
	sender messageSender
	clock  clockwork.Clock
}

func NewServiceBusNotifier(connStr, queue string, clock clockwork.Clock) (*ServiceBusNotifier, error) {
	if connStr == "" {
		return nil, fmt.Errorf("service bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, fmt.Errorf("create service bus client: %w", err)
	}

	sender, err := client.NewSender(queue, nil)
	if err != nil {
		return nil, fmt.Errorf("create service bus sender: %w", err)
	}

	return &ServiceBusNotifier{client: client, sender: sender, clock: clock}, nil
}

func (n *ServiceBusNotifier) Enqueue(ctx context.Context, recipient, templateID string, payload map[string]string) error {
	data, err := encode(recipient, templateID, payload, n.clock.Now())
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	contentType := "application/json"
	msg := &azservicebus.Message{
		Body:        data,
		ContentType: &contentType,
		Subject:     &templateID,
		ApplicationProperties: map[string]interface{}{
			"template_id": templateID,
		},
	}

	if err := n.sender.SendMessage(ctx, msg, nil); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func (n *ServiceBusNotifier) Close(ctx context.Context) error {
	if n.sender != nil {
		if err := n.sender.Close(ctx); err != nil {
			return err
		}
	}
	if n.client != nil {
		return n.client.Close(ctx)
	}
	return nil
}
