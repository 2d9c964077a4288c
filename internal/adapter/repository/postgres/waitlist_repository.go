package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/srgjo27/batch_invite/internal/core/domain"
)

const entryColumns = `w.id, w.participant_id, w.email, w.priority, w.created_at, w.excluded_event_ids,
	w.has_unused_credit, w.notes, w.priority_source_event_id, w.decayed_for_event_id, w.removed`

type WaitlistRepository struct {
	db *sql.DB
}

func NewWaitlistRepository(db *sql.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

func (r *WaitlistRepository) CreateEntry(ctx context.Context, entry *domain.WaitlistEntry) error {
	query := `
	INSERT INTO waitlist_entries (id, participant_id, email, priority, created_at, excluded_event_ids,
		has_unused_credit, notes, priority_source_event_id, decayed_for_event_id, removed)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.ParticipantID, entry.Email, int(entry.Priority), entry.CreatedAt,
		uuidArray(entry.ExcludedEventIDs), entry.HasUnusedCredit, entry.Notes,
		nullUUID(entry.PrioritySourceEventID), nullUUID(entry.DecayedForEventID), entry.Removed,
	)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

func (r *WaitlistRepository) GetEntry(ctx context.Context, entryID uuid.UUID) (*domain.WaitlistEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM waitlist_entries w WHERE w.id = $1`

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (r *WaitlistRepository) UpdateEntry(ctx context.Context, entry *domain.WaitlistEntry) error {
	result, err := updateEntry(ctx, r.db, entry)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func (r *WaitlistRepository) ListEligible(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.WaitlistEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	SELECT ` + entryColumns + `
	FROM waitlist_entries w
	WHERE NOT w.removed
		AND NOT ($1 = ANY (w.excluded_event_ids))
		AND NOT EXISTS (
			SELECT 1 FROM attendees a
			WHERE a.event_id = $1 AND a.entry_id = w.id AND a.status <> $2
		)
	ORDER BY w.priority DESC, w.created_at ASC, w.id ASC
	LIMIT $3
	`

	return r.list(ctx, query, eventID, domain.AttendeeInviteFailed, limit)
}

func (r *WaitlistRepository) ListByPrioritySource(ctx context.Context, eventID uuid.UUID) ([]domain.WaitlistEntry, error) {
	query := `
	SELECT ` + entryColumns + `
	FROM waitlist_entries w
	WHERE w.priority_source_event_id = $1
	ORDER BY w.priority DESC, w.created_at ASC, w.id ASC
	`

	return r.list(ctx, query, eventID)
}

func (r *WaitlistRepository) list(ctx context.Context, query string, args ...any) ([]domain.WaitlistEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.WaitlistEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanEntry(row rowScanner) (*domain.WaitlistEntry, error) {
	var e domain.WaitlistEntry
	var priority int
	var excluded pq.StringArray
	var source, decayed uuid.NullUUID

	err := row.Scan(
		&e.ID,
		&e.ParticipantID,
		&e.Email,
		&priority,
		&e.CreatedAt,
		&excluded,
		&e.HasUnusedCredit,
		&e.Notes,
		&source,
		&decayed,
		&e.Removed,
	)
	if err != nil {
		return nil, err
	}

	e.Priority = domain.PriorityTier(priority)
	for _, s := range excluded {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("excluded event id %q: %w", s, err)
		}
		e.ExcludedEventIDs = append(e.ExcludedEventIDs, id)
	}
	if source.Valid {
		e.PrioritySourceEventID = &source.UUID
	}
	if decayed.Valid {
		e.DecayedForEventID = &decayed.UUID
	}

	return &e, nil
}

func updateEntry(ctx context.Context, db execer, entry *domain.WaitlistEntry) (sql.Result, error) {
	query := `
	UPDATE waitlist_entries
	SET priority = $1,
		excluded_event_ids = $2,
		has_unused_credit = $3,
		notes = $4,
		priority_source_event_id = $5,
		decayed_for_event_id = $6,
		removed = $7
	WHERE id = $8
	`

	result, err := db.ExecContext(ctx, query,
		int(entry.Priority), uuidArray(entry.ExcludedEventIDs), entry.HasUnusedCredit, entry.Notes,
		nullUUID(entry.PrioritySourceEventID), nullUUID(entry.DecayedForEventID), entry.Removed, entry.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update waitlist entry %s: %w", entry.ID, err)
	}
	return result, nil
}

func uuidArray(ids []uuid.UUID) any {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return pq.Array(out)
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
