package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/batch_invite/internal/core/domain"
)

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) CreateEvent(ctx context.Context, event *domain.Event) error {
	query := `
	INSERT INTO events (id, name, capacity, batch_size, cool_off_ms, starts_at, price, currency, status, manual_override, full_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.Name, event.Capacity, event.BatchSize, event.CoolOff.Milliseconds(),
		event.StartsAt, event.Price, event.Currency, event.Status, event.ManualOverride, event.FullAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *EventRepository) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	query := `
	SELECT id, name, capacity, batch_size, cool_off_ms, starts_at, price, currency, status, manual_override, full_at
	FROM events
	WHERE id = $1
	`

	var e domain.Event
	var coolOffMs int64
	var fullAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&e.ID,
		&e.Name,
		&e.Capacity,
		&e.BatchSize,
		&coolOffMs,
		&e.StartsAt,
		&e.Price,
		&e.Currency,
		&e.Status,
		&e.ManualOverride,
		&fullAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	e.CoolOff = time.Duration(coolOffMs) * time.Millisecond
	if fullAt.Valid {
		e.FullAt = &fullAt.Time
	}

	return &e, nil
}

// UpdateEventStatus sets status. Moving back to PUBLISHED clears full_at so
// links issued after a reopen get the cutoff as expiry.
func (r *EventRepository) UpdateEventStatus(ctx context.Context, eventID uuid.UUID, status domain.EventStatus) error {
	query := `
	UPDATE events
	SET status = $1,
		full_at = CASE WHEN $1::text = $2::text THEN NULL ELSE full_at END
	WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, status, domain.EventPublished, eventID)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func (r *EventRepository) MarkEventFull(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	query := `
	UPDATE events
	SET status = $1,
		full_at = COALESCE(full_at, $2)
	WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, domain.EventFull, at, eventID)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func (r *EventRepository) SetManualOverride(ctx context.Context, eventID uuid.UUID, enabled bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE events SET manual_override = $1 WHERE id = $2`, enabled, eventID)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func expectOne(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
