package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports"
)

const authorizationColumns = `id, ref, url, attendee_id, event_id, amount, currency, state, expires_at, created_at, updated_at`

// uniqueViolation is the SQLSTATE Postgres reports for a duplicate key.
const uniqueViolation = "23505"

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) CreateAuthorization(ctx context.Context, auth *domain.PaymentAuthorization) error {
	query := `
	INSERT INTO payment_authorizations (` + authorizationColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		auth.ID, auth.Ref, auth.URL, auth.AttendeeID, auth.EventID, auth.Amount, auth.Currency,
		auth.State, auth.ExpiresAt, auth.CreatedAt, auth.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("authorization ref %s already recorded: %w", auth.Ref, err)
		}
		return fmt.Errorf("insert authorization: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetAuthorizationByRef(ctx context.Context, ref string) (*domain.PaymentAuthorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM payment_authorizations WHERE ref = $1`
	return r.get(ctx, query, ref)
}

func (r *PaymentRepository) GetActiveByAttendee(ctx context.Context, attendeeID uuid.UUID) (*domain.PaymentAuthorization, error) {
	query := `
	SELECT ` + authorizationColumns + `
	FROM payment_authorizations
	WHERE attendee_id = $1 AND state = $2
	ORDER BY created_at DESC
	LIMIT 1
	`
	return r.get(ctx, query, attendeeID, domain.AuthorizationActive)
}

func (r *PaymentRepository) ListActiveByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.PaymentAuthorization, error) {
	query := `
	SELECT ` + authorizationColumns + `
	FROM payment_authorizations
	WHERE event_id = $1 AND state = $2
	ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, eventID, domain.AuthorizationActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auths []domain.PaymentAuthorization
	for rows.Next() {
		auth, err := scanAuthorization(rows)
		if err != nil {
			return nil, err
		}
		auths = append(auths, *auth)
	}

	return auths, rows.Err()
}

func (r *PaymentRepository) TransitionState(ctx context.Context, authID uuid.UUID, from, to domain.AuthorizationState, at time.Time) (bool, error) {
	query := `
	UPDATE payment_authorizations
	SET state = $1, updated_at = $2
	WHERE id = $3 AND state = $4
	`

	result, err := r.db.ExecContext(ctx, query, to, at, authID, from)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var exists bool
		err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payment_authorizations WHERE id = $1)`, authID).Scan(&exists)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, domain.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (r *PaymentRepository) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	query := `
	UPDATE payment_authorizations
	SET state = $1, updated_at = $2
	WHERE state = $3 AND expires_at < $2
	`

	result, err := r.db.ExecContext(ctx, query, domain.AuthorizationExpired, now, domain.AuthorizationActive)
	if err != nil {
		return 0, fmt.Errorf("expire stale authorizations: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Consume flips the authorization to CONSUMED and the attendee to CONFIRMED in
// one transaction. It reports false when either row moved on already.
func (r *PaymentRepository) Consume(ctx context.Context, c ports.ConsumePayment) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE payment_authorizations SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`,
		domain.AuthorizationConsumed, c.PaidAt, c.AuthorizationID, domain.AuthorizationActive,
	)
	if err != nil {
		return false, fmt.Errorf("consume authorization: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE attendees SET status = $1, paid_at = $2, payment_ref = $3 WHERE id = $4 AND status = $5`,
		domain.AttendeeConfirmed, c.PaidAt, c.PaymentRef, c.AttendeeID, domain.AttendeeInvited,
	)
	if err != nil {
		return false, fmt.Errorf("confirm attendee: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *PaymentRepository) get(ctx context.Context, query string, args ...any) (*domain.PaymentAuthorization, error) {
	auth, err := scanAuthorization(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return auth, nil
}

func scanAuthorization(row rowScanner) (*domain.PaymentAuthorization, error) {
	var a domain.PaymentAuthorization
	err := row.Scan(
		&a.ID,
		&a.Ref,
		&a.URL,
		&a.AttendeeID,
		&a.EventID,
		&a.Amount,
		&a.Currency,
		&a.State,
		&a.ExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
