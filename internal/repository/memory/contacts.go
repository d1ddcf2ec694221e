package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/repository"
)

// LeadRepo is an in-memory lead repository.
type LeadRepo struct {
	mu    sync.RWMutex
	leads map[string]domain.Lead
}

// NewLeadRepo creates a lead repository seeded with leads.
func NewLeadRepo(leads ...domain.Lead) *LeadRepo {
	r := &LeadRepo{leads: make(map[string]domain.Lead, len(leads))}
	for _, l := range leads {
		r.leads[l.ID] = l
	}
	return r
}

func (r *LeadRepo) Get(ctx context.Context, id string) (*domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lead, ok := r.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &lead, nil
}

// ContactStateStore is an in-memory versioned contact state store.
type ContactStateStore struct {
	mu     sync.Mutex
	states map[string]domain.ContactCadenceState
}

// NewContactStateStore creates an empty store.
func NewContactStateStore() *ContactStateStore {
	return &ContactStateStore{states: make(map[string]domain.ContactCadenceState)}
}

func (s *ContactStateStore) Get(ctx context.Context, phoneNumber string) (*domain.ContactCadenceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[phoneNumber]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := state.Clone()
	return &out, nil
}

func (s *ContactStateStore) Put(ctx context.Context, state *domain.ContactCadenceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.states[state.PhoneNumber]
	switch {
	case state.Version == 0 && exists,
		state.Version != 0 && (!exists || current.Version != state.Version):
		return fmt.Errorf("contact state: put %s at version %d: %w", state.PhoneNumber, state.Version, repository.ErrConflict)
	}

	state.Version++
	state.UpdatedAt = time.Now().UTC()
	s.states[state.PhoneNumber] = state.Clone()
	return nil
}
