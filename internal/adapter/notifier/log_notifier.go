package notifier

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogNotifier only logs. Used when no delivery channel is configured.
type LogNotifier struct{}

func (LogNotifier) Enqueue(ctx context.Context, recipient, templateID string, payload map[string]string) error {
	log.Info().
		Str("recipient", recipient).
		Str("template_id", templateID).
		Interface("payload", payload).
		Msg("notification (log only)")
	return nil
}
