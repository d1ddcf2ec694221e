package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/repository"
)

// ContactStateStore persists contact cadence state in Scylla, using
// lightweight transactions on the version column for conditional writes.
type ContactStateStore struct {
	session *gocql.Session
}

// NewContactStateStore creates a new store.
func NewContactStateStore(session *gocql.Session) *ContactStateStore {
	return &ContactStateStore{session: session}
}

// Get retrieves the state for a phone number.
func (s *ContactStateStore) Get(ctx context.Context, phoneNumber string) (*domain.ContactCadenceState, error) {
	var (
		attemptCount int
		status       string
		lastCallSID  string
		disposition  string
		lastAttempt  *time.Time
		nextCall     *time.Time
		priority     *int
		metadataJSON string
		leadID       *string
		version      int64
		updatedAt    time.Time
	)

	err := s.session.Query(`SELECT attempt_count, status, last_call_sid, last_call_disposition, last_attempt_at, next_call_at, hopper_priority, metadata, lead_id, version, updated_at
		FROM contact_cadence_state WHERE phone_number = ?`, phoneNumber).
		WithContext(ctx).
		Scan(&attemptCount, &status, &lastCallSID, &disposition, &lastAttempt, &nextCall, &priority, &metadataJSON, &leadID, &version, &updatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("contact state: get %s: %w", phoneNumber, classify(err))
	}

	state := &domain.ContactCadenceState{
		PhoneNumber:         phoneNumber,
		AttemptCount:        attemptCount,
		Status:              domain.CadenceStatus(status),
		LastCallSID:         lastCallSID,
		LastCallDisposition: disposition,
		LastAttemptAt:       lastAttempt,
		NextCallAt:          nextCall,
		HopperPriority:      priority,
		LeadID:              leadID,
		Version:             version,
		UpdatedAt:           updatedAt,
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &state.Metadata); err != nil {
			return nil, fmt.Errorf("contact state: decode metadata: %w", err)
		}
	}
	return state, nil
}

// Put performs a versioned write and bumps state.Version on success.
func (s *ContactStateStore) Put(ctx context.Context, state *domain.ContactCadenceState) error {
	metadata, err := json.Marshal(state.Metadata)
	if err != nil {
		return fmt.Errorf("contact state: encode metadata: %w", err)
	}

	now := time.Now().UTC()
	next := state.Version + 1
	existing := make(map[string]interface{})

	var applied bool
	if state.Version == 0 {
		applied, err = s.session.Query(`INSERT INTO contact_cadence_state (phone_number, attempt_count, status, last_call_sid, last_call_disposition, last_attempt_at, next_call_at, hopper_priority, metadata, lead_id, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			state.PhoneNumber, state.AttemptCount, string(state.Status), state.LastCallSID, state.LastCallDisposition,
			state.LastAttemptAt, state.NextCallAt, state.HopperPriority, string(metadata), state.LeadID, next, now,
		).WithContext(ctx).MapScanCAS(existing)
	} else {
		applied, err = s.session.Query(`UPDATE contact_cadence_state
			SET attempt_count = ?, status = ?, last_call_sid = ?, last_call_disposition = ?, last_attempt_at = ?, next_call_at = ?, hopper_priority = ?, metadata = ?, lead_id = ?, version = ?, updated_at = ?
			WHERE phone_number = ? IF version = ?`,
			state.AttemptCount, string(state.Status), state.LastCallSID, state.LastCallDisposition,
			state.LastAttemptAt, state.NextCallAt, state.HopperPriority, string(metadata), state.LeadID, next, now,
			state.PhoneNumber, state.Version,
		).WithContext(ctx).MapScanCAS(existing)
	}
	if err != nil {
		return fmt.Errorf("contact state: put %s: %w", state.PhoneNumber, classify(err))
	}
	if !applied {
		return fmt.Errorf("contact state: put %s at version %d: %w", state.PhoneNumber, state.Version, repository.ErrConflict)
	}

	state.Version = next
	state.UpdatedAt = now
	return nil
}

// classify marks cluster availability failures so callers can answer 503.
func classify(err error) error {
	var unavailable *gocql.RequestErrUnavailable
	if errors.Is(err, gocql.ErrNoConnections) || errors.As(err, &unavailable) {
		return fmt.Errorf("%w: %w", repository.ErrUnavailable, err)
	}
	return err
}
