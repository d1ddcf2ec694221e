package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/repository"
)

// HopperRepo is an in-memory hopper for tests and local development.
// Each entry carries its own lock; ClaimNext skips entries another caller
// holds, mirroring FOR UPDATE SKIP LOCKED.
type HopperRepo struct {
	mu     sync.RWMutex
	rows   []*hopperRow
	byID   map[int64]*hopperRow
	nextID int64
	now    func() time.Time
}

type hopperRow struct {
	mu    sync.Mutex
	entry domain.HopperEntry
}

// NewHopperRepo creates an empty hopper.
func NewHopperRepo() *HopperRepo {
	return &HopperRepo{byID: make(map[int64]*hopperRow), now: time.Now}
}

// Enqueue adds a pending entry and returns its id.
func (r *HopperRepo) Enqueue(leadID string, enqueuedAt time.Time, priority *int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	row := &hopperRow{entry: domain.HopperEntry{
		ID:         r.nextID,
		LeadID:     leadID,
		Status:     domain.HopperStatusPending,
		EnqueuedAt: enqueuedAt,
		Priority:   priority,
		UpdatedAt:  enqueuedAt,
	}}
	r.rows = append(r.rows, row)
	sort.SliceStable(r.rows, func(i, j int) bool {
		return claimOrderLess(r.rows[i].entry, r.rows[j].entry)
	})
	r.byID[row.entry.ID] = row
	return row.entry.ID
}

// Entry returns a snapshot of an entry.
func (r *HopperRepo) Entry(id int64) (domain.HopperEntry, bool) {
	row, ok := r.row(id)
	if !ok {
		return domain.HopperEntry{}, false
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.entry, true
}

// ClaimNext claims the first pending entry in enqueue-time, priority order.
func (r *HopperRepo) ClaimNext(ctx context.Context) (domain.HopperEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.HopperEntry{}, false, err
	}

	r.mu.RLock()
	candidates := make([]*hopperRow, len(r.rows))
	copy(candidates, r.rows)
	r.mu.RUnlock()

	for _, row := range candidates {
		if !row.mu.TryLock() {
			continue
		}
		if row.entry.Status != domain.HopperStatusPending {
			row.mu.Unlock()
			continue
		}
		row.entry.Status = domain.HopperStatusProcessing
		row.entry.UpdatedAt = r.now()
		claimed := row.entry
		row.mu.Unlock()
		return claimed, true, nil
	}
	return domain.HopperEntry{}, false, nil
}

// StampTracking records the tracking id on an entry.
func (r *HopperRepo) StampTracking(ctx context.Context, id int64, trackingID string) error {
	row, ok := r.row(id)
	if !ok {
		return fmt.Errorf("hopper: stamp tracking %d: %w", id, repository.ErrNotFound)
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	row.entry.TrackingID = &trackingID
	row.entry.UpdatedAt = r.now()
	return nil
}

// MarkOutcome transitions the entry only while it is in expected.
func (r *HopperRepo) MarkOutcome(ctx context.Context, id int64, expected, next domain.HopperStatus) (bool, error) {
	row, ok := r.row(id)
	if !ok {
		return false, nil
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.entry.Status != expected {
		return false, nil
	}
	row.entry.Status = next
	row.entry.UpdatedAt = r.now()
	return true, nil
}

// ListStale returns entries matching filter, oldest update first.
func (r *HopperRepo) ListStale(ctx context.Context, filter repository.StaleFilter) ([]domain.HopperEntry, error) {
	r.mu.RLock()
	rows := make([]*hopperRow, len(r.rows))
	copy(rows, r.rows)
	r.mu.RUnlock()

	var out []domain.HopperEntry
	for _, row := range rows {
		row.mu.Lock()
		entry := row.entry
		row.mu.Unlock()
		if matchesStale(entry, filter) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesStale(entry domain.HopperEntry, filter repository.StaleFilter) bool {
	if entry.Status != filter.Status || !entry.UpdatedAt.Before(filter.OlderThan) {
		return false
	}
	switch filter.Tracking {
	case repository.TrackingAbsent:
		if entry.TrackingID != nil {
			return false
		}
	case repository.TrackingPresent:
		if entry.TrackingID == nil {
			return false
		}
	}
	return filter.BelowRequeues <= 0 || entry.RequeueCount < filter.BelowRequeues
}

// Requeue moves an entry in from back to pending while it has requeues left.
func (r *HopperRepo) Requeue(ctx context.Context, id int64, from domain.HopperStatus, maxRequeues int) (bool, error) {
	row, ok := r.row(id)
	if !ok {
		return false, nil
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.entry.Status != from || row.entry.RequeueCount >= maxRequeues {
		return false, nil
	}
	row.entry.Status = domain.HopperStatusPending
	row.entry.RequeueCount++
	row.entry.TrackingID = nil
	row.entry.UpdatedAt = r.now()
	return true, nil
}

// SetClock overrides the time source used for UpdatedAt.
func (r *HopperRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *HopperRepo) row(id int64) (*hopperRow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.byID[id]
	return row, ok
}

// claimOrderLess orders by enqueue time, then priority with nil last.
func claimOrderLess(a, b domain.HopperEntry) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	switch {
	case a.Priority == nil:
		return false
	case b.Priority == nil:
		return true
	default:
		return *a.Priority < *b.Priority
	}
}
