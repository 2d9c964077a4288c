package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/srgjo27/batch_invite/internal/core/domain"
)

type RefundRepository struct {
	db *sql.DB
}

func NewRefundRepository(db *sql.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) CreateRefund(ctx context.Context, refund *domain.RefundRecord) error {
	query := `
	INSERT INTO refunds (id, attendee_id, payment_ref, amount, requested_at, external_refund_ref, outcome)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		refund.ID, refund.AttendeeID, refund.PaymentRef, refund.Amount,
		refund.RequestedAt, refund.ExternalRefundRef, refund.Outcome,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (r *RefundRepository) UpdateRefund(ctx context.Context, refund *domain.RefundRecord) error {
	result, err := updateRefund(ctx, r.db, refund)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func (r *RefundRepository) GetSucceededRefund(ctx context.Context, attendeeID uuid.UUID) (*domain.RefundRecord, error) {
	query := `
	SELECT id, attendee_id, payment_ref, amount, requested_at, external_refund_ref, outcome
	FROM refunds
	WHERE attendee_id = $1 AND outcome = $2
	ORDER BY requested_at DESC
	LIMIT 1
	`

	var refund domain.RefundRecord
	var external sql.NullString
	err := r.db.QueryRowContext(ctx, query, attendeeID, domain.RefundSucceeded).Scan(
		&refund.ID, &refund.AttendeeID, &refund.PaymentRef, &refund.Amount,
		&refund.RequestedAt, &external, &refund.Outcome,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refund for attendee %s: %w", attendeeID, err)
	}

	if external.Valid {
		refund.ExternalRefundRef = &external.String
	}
	return &refund, nil
}

// updateRefund only touches the mutable columns of an existing record.
func updateRefund(ctx context.Context, db execer, refund *domain.RefundRecord) (sql.Result, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE refunds SET external_refund_ref = $1, outcome = $2 WHERE id = $3`,
		refund.ExternalRefundRef, refund.Outcome, refund.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update refund %s: %w", refund.ID, err)
	}
	return result, nil
}
