package repository

import (
	"context"
	"time"

	"github.com/acme/outbound-dialer/internal/domain"
	apperrors "github.com/acme/outbound-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a concurrent modification won the race.
	ErrConflict = apperrors.ErrConflict
	// ErrUnavailable indicates the backing store could not serve the request.
	ErrUnavailable = apperrors.ErrUnavailable
)

// HopperRepository is the claim/release protocol over pending hopper entries.
type HopperRepository interface {
	// ClaimNext moves the oldest pending entry to PROCESSING_INITIAL_CALL.
	// It returns false, without error, when nothing is pending.
	ClaimNext(ctx context.Context) (domain.HopperEntry, bool, error)
	StampTracking(ctx context.Context, id int64, trackingID string) error
	// MarkOutcome transitions the entry only while it is still in expected.
	MarkOutcome(ctx context.Context, id int64, expected, next domain.HopperStatus) (bool, error)
	// ListStale returns the oldest entries matching filter, by updated_at.
	ListStale(ctx context.Context, filter StaleFilter) ([]domain.HopperEntry, error)
	Requeue(ctx context.Context, id int64, from domain.HopperStatus, maxRequeues int) (bool, error)
}

// Tracking narrows a stale listing by whether a tracking id was stamped.
type Tracking int

const (
	TrackingAny Tracking = iota
	TrackingAbsent
	TrackingPresent
)

// StaleFilter selects hopper entries sitting in Status since before OlderThan.
// Filters are applied before Limit so a full batch of non-matching rows cannot
// hide matching ones.
type StaleFilter struct {
	Status    domain.HopperStatus
	OlderThan time.Time
	Limit     int
	Tracking  Tracking
	// BelowRequeues, when positive, keeps entries with fewer requeues.
	BelowRequeues int
}

// LeadRepository reads lead records.
type LeadRepository interface {
	Get(ctx context.Context, id string) (*domain.Lead, error)
}

// ContactStateStore persists cadence state keyed by phone number.
type ContactStateStore interface {
	Get(ctx context.Context, phoneNumber string) (*domain.ContactCadenceState, error)
	// Put writes the state only if the stored version still equals state.Version,
	// then bumps the version. A version of zero means "must not exist yet".
	Put(ctx context.Context, state *domain.ContactCadenceState) error
}
