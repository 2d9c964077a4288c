package ports

import (
	"context"

	"github.com/srgjo27/batch_invite/internal/core/domain"
)

type PaymentGateway interface {
	CreateAuthorization(ctx context.Context, amount int64, currency string, metadata map[string]string) (domain.PaymentLink, error)
	Revoke(ctx context.Context, ref string) error
	Refund(ctx context.Context, paymentRef string, amount int64) (string, error)
}

// Notifier hands a message to the delivery channel. Callers log failures and
// carry on.
type Notifier interface {
	Enqueue(ctx context.Context, recipient, templateID string, payload map[string]string) error
}

// Locker grants a mutual-exclusion token per key. TryLock never waits: a held
// key yields domain.ErrConcurrencyConflict.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), err error)
}
