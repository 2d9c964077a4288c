package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/ports"
)

type AttendeeRepository struct {
	db *sql.DB
}

func NewAttendeeRepository(db *sql.DB) *AttendeeRepository {
	return &AttendeeRepository{db: db}
}

func occupyingStatuses() any {
	out := make([]string, len(domain.OccupyingStatuses))
	for i, s := range domain.OccupyingStatuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

// CreateInvited locks the event row so concurrent writers cannot push the
// occupied count past capacity.
func (r *AttendeeRepository) CreateInvited(ctx context.Context, attendee *domain.Attendee, capacity int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, attendee.EventID); err != nil {
		return fmt.Errorf("lock event: %w", err)
	}

	var occupied int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendees WHERE event_id = $1 AND status = ANY($2)`,
		attendee.EventID, occupyingStatuses(),
	).Scan(&occupied)
	if err != nil {
		return fmt.Errorf("count attendees: %w", err)
	}
	if occupied >= capacity {
		return domain.ErrEventFull
	}

	query := `
	INSERT INTO attendees (id, event_id, entry_id, participant_id, status, priority, invited_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (event_id, entry_id) DO UPDATE
	SET status = EXCLUDED.status,
		priority = EXCLUDED.priority,
		invited_at = EXCLUDED.invited_at,
		payment_link_ref = NULL
	WHERE attendees.status = $8
	RETURNING id
	`

	var id uuid.UUID
	err = tx.QueryRowContext(ctx, query,
		attendee.ID, attendee.EventID, attendee.EntryID, attendee.ParticipantID,
		domain.AttendeeInvited, int(attendee.Priority), attendee.InvitedAt,
		domain.AttendeeInviteFailed,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("entry %s already holds an attendee for event %s", attendee.EntryID, attendee.EventID)
		}
		return fmt.Errorf("insert attendee: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	attendee.ID = id
	return nil
}

func (r *AttendeeRepository) GetAttendee(ctx context.Context, attendeeID uuid.UUID) (*domain.Attendee, error) {
	query := `
	SELECT id, event_id, entry_id, participant_id, status, priority, invited_at, payment_link_ref, paid_at, payment_ref
	FROM attendees
	WHERE id = $1
	`

	var a domain.Attendee
	var priority int
	var linkRef, paymentRef sql.NullString
	var paidAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, attendeeID).Scan(
		&a.ID,
		&a.EventID,
		&a.EntryID,
		&a.ParticipantID,
		&a.Status,
		&priority,
		&a.InvitedAt,
		&linkRef,
		&paidAt,
		&paymentRef,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	a.Priority = domain.PriorityTier(priority)
	if linkRef.Valid {
		a.PaymentLinkRef = &linkRef.String
	}
	if paidAt.Valid {
		a.PaidAt = &paidAt.Time
	}
	if paymentRef.Valid {
		a.PaymentRef = &paymentRef.String
	}

	return &a, nil
}

func (r *AttendeeRepository) SetPaymentLink(ctx context.Context, attendeeID uuid.UUID, ref string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE attendees SET payment_link_ref = $1 WHERE id = $2`, ref, attendeeID)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func (r *AttendeeRepository) MarkInviteFailed(ctx context.Context, attendeeID uuid.UUID) error {
	query := `
	UPDATE attendees
	SET status = $1, payment_link_ref = NULL
	WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, domain.AttendeeInviteFailed, attendeeID, domain.AttendeeInvited)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		a, err := r.GetAttendee(ctx, attendeeID)
		if err != nil {
			return err
		}
		return &domain.InvalidTransitionError{Entity: "attendee", From: string(a.Status), To: string(domain.AttendeeInviteFailed)}
	}
	return nil
}

func (r *AttendeeRepository) CountOccupying(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendees WHERE event_id = $1 AND status = ANY($2)`,
		eventID, occupyingStatuses(),
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// CancelAttendance commits the status change, the entry update and the refund
// record in one transaction.
func (r *AttendeeRepository) CancelAttendance(ctx context.Context, c ports.CancelAttendance) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status domain.AttendeeStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM attendees WHERE id = $1 FOR UPDATE`, c.AttendeeID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("lock attendee: %w", err)
	}
	if status != domain.AttendeeInvited && status != domain.AttendeeConfirmed {
		return &domain.InvalidTransitionError{Entity: "attendee", From: string(status), To: string(domain.AttendeeCancelled)}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE attendees SET status = $1, cancelled_at = $2 WHERE id = $3`,
		domain.AttendeeCancelled, c.CancelledAt, c.AttendeeID,
	)
	if err != nil {
		return fmt.Errorf("cancel attendee: %w", err)
	}

	if c.Entry != nil {
		result, err := updateEntry(ctx, tx, c.Entry)
		if err != nil {
			return err
		}
		if err := expectOne(result); err != nil {
			return err
		}
	}

	if c.Refund != nil {
		if _, err := updateRefund(ctx, tx, c.Refund); err != nil {
			return err
		}
	}

	return tx.Commit()
}
