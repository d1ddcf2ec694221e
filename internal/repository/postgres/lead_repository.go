package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/repository"
)

// LeadRepository reads leads from Postgres.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Get fetches a lead by id, returning repository.ErrNotFound when absent.
func (r *LeadRepository) Get(ctx context.Context, id string) (*domain.Lead, error) {
	var rec leadRecord
	err := r.db.QueryRowxContext(ctx, `SELECT id, phone_number, first_name, last_name FROM leads WHERE id = $1`, id).StructScan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leads: get: %w", err)
	}
	return rec.toModel(), nil
}

type leadRecord struct {
	ID          string         `db:"id"`
	PhoneNumber string         `db:"phone_number"`
	FirstName   sql.NullString `db:"first_name"`
	LastName    sql.NullString `db:"last_name"`
}

func (r leadRecord) toModel() *domain.Lead {
	lead := &domain.Lead{ID: r.ID, PhoneNumber: r.PhoneNumber}
	if r.FirstName.Valid {
		v := r.FirstName.String
		lead.FirstName = &v
	}
	if r.LastName.Valid {
		v := r.LastName.String
		lead.LastName = &v
	}
	return lead
}
