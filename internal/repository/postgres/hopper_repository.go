package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/repository"
)

// HopperRepository persists dialing work items in Postgres.
type HopperRepository struct {
	db *sqlx.DB
}

// NewHopperRepository constructs the repository.
func NewHopperRepository(db *sqlx.DB) *HopperRepository {
	return &HopperRepository{db: db}
}

// Rows locked by a concurrent claimer are skipped rather than waited on.
const claimNextQuery = `UPDATE hopper
	SET status = $1, updated_at = NOW()
	WHERE id = (
		SELECT id
		FROM hopper
		WHERE status = $2
		ORDER BY hopper_entry_timestamp ASC, priority ASC NULLS LAST
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, lead_id, status, hopper_entry_timestamp, priority, initial_call_provider_sid, requeue_count, updated_at`

// ClaimNext atomically claims the oldest pending entry.
func (r *HopperRepository) ClaimNext(ctx context.Context) (domain.HopperEntry, bool, error) {
	var rec hopperRecord
	err := r.db.QueryRowxContext(ctx, claimNextQuery, domain.HopperStatusProcessing, domain.HopperStatusPending).StructScan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HopperEntry{}, false, nil
	}
	if err != nil {
		return domain.HopperEntry{}, false, fmt.Errorf("hopper: claim next: %w", err)
	}
	return rec.toModel(), true, nil
}

// StampTracking records the tracking id before the provider is contacted.
func (r *HopperRepository) StampTracking(ctx context.Context, id int64, trackingID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE hopper SET initial_call_provider_sid = $1, updated_at = NOW() WHERE id = $2`, trackingID, id)
	if err != nil {
		return fmt.Errorf("hopper: stamp tracking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("hopper: stamp tracking %d: %w", id, repository.ErrNotFound)
	}
	return nil
}

// MarkOutcome applies a guarded status transition.
func (r *HopperRepository) MarkOutcome(ctx context.Context, id int64, expected, next domain.HopperStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE hopper SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`, next, id, expected)
	if err != nil {
		return false, fmt.Errorf("hopper: mark outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("hopper: mark outcome rows: %w", err)
	}
	return n == 1, nil
}

// ListStale lists entries that have sat in a status since before filter.OlderThan.
func (r *HopperRepository) ListStale(ctx context.Context, filter repository.StaleFilter) ([]domain.HopperEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, lead_id, status, hopper_entry_timestamp, priority, initial_call_provider_sid, requeue_count, updated_at
		FROM hopper
		WHERE status = $1 AND updated_at < $2`
	args := []any{filter.Status, filter.OlderThan}
	switch filter.Tracking {
	case repository.TrackingAbsent:
		query += ` AND initial_call_provider_sid IS NULL`
	case repository.TrackingPresent:
		query += ` AND initial_call_provider_sid IS NOT NULL`
	}
	if filter.BelowRequeues > 0 {
		args = append(args, filter.BelowRequeues)
		query += fmt.Sprintf(` AND requeue_count < $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY updated_at ASC LIMIT $%d`, len(args))

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hopper: list stale: %w", err)
	}
	defer rows.Close()

	var results []domain.HopperEntry
	for rows.Next() {
		var rec hopperRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("hopper: scan: %w", err)
		}
		results = append(results, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hopper: rows err: %w", err)
	}
	return results, nil
}

// Requeue moves an entry back to pending while it has requeues left.
func (r *HopperRepository) Requeue(ctx context.Context, id int64, from domain.HopperStatus, maxRequeues int) (bool, error) {
	var requeued bool
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var count int
		err := tx.GetContext(ctx, &count, `SELECT requeue_count FROM hopper WHERE id = $1 AND status = $2 FOR UPDATE SKIP LOCKED`, id, from)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("hopper: lock for requeue: %w", err)
		}
		if count >= maxRequeues {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE hopper
			SET status = $1, requeue_count = requeue_count + 1, initial_call_provider_sid = NULL, updated_at = NOW()
			WHERE id = $2`, domain.HopperStatusPending, id); err != nil {
			return fmt.Errorf("hopper: requeue: %w", err)
		}
		requeued = true
		return nil
	})
	return requeued, err
}

type hopperRecord struct {
	ID           int64          `db:"id"`
	LeadID       string         `db:"lead_id"`
	Status       string         `db:"status"`
	EnqueuedAt   time.Time      `db:"hopper_entry_timestamp"`
	Priority     sql.NullInt32  `db:"priority"`
	TrackingID   sql.NullString `db:"initial_call_provider_sid"`
	RequeueCount int            `db:"requeue_count"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r hopperRecord) toModel() domain.HopperEntry {
	entry := domain.HopperEntry{
		ID:           r.ID,
		LeadID:       r.LeadID,
		Status:       domain.HopperStatus(r.Status),
		EnqueuedAt:   r.EnqueuedAt,
		RequeueCount: r.RequeueCount,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Priority.Valid {
		p := int(r.Priority.Int32)
		entry.Priority = &p
	}
	if r.TrackingID.Valid {
		id := r.TrackingID.String
		entry.TrackingID = &id
	}
	return entry
}
