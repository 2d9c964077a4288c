// Package notifier delivers invite and cancellation messages to the channel
// that sends them on (email, chat). Delivery is fire-and-forget.
package notifier

import (
	"encoding/json"
	"time"
)

type Message struct {
	Recipient  string            `json:"recipient"`
	TemplateID string            `json:"template_id"`
	Payload    map[string]string `json:"payload"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

func encode(recipient, templateID string, payload map[string]string, at time.Time) ([]byte, error) {
	return json.Marshal(Message{
		Recipient:  recipient,
		TemplateID: templateID,
		Payload:    payload,
		EnqueuedAt: at.UTC(),
	})
}
