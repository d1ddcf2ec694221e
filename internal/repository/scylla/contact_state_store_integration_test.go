//go:build integration

package scylla

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/repository"
)

const testKeyspace = "outbound_it"

// Run with: OUTBOUND_TEST_SCYLLA_HOSTS=127.0.0.1 go test -tags integration ./internal/repository/scylla/
func openTestSession(t *testing.T) *gocql.Session {
	t.Helper()
	hosts := os.Getenv("OUTBOUND_TEST_SCYLLA_HOSTS")
	if hosts == "" {
		t.Skip("OUTBOUND_TEST_SCYLLA_HOSTS not set")
	}

	cluster := gocql.NewCluster(strings.Split(hosts, ",")...)
	cluster.Timeout = 10 * time.Second
	admin, err := cluster.CreateSession()
	if err != nil {
		t.Fatalf("admin session: %v", err)
	}
	defer admin.Close()

	stmts := []string{
		`CREATE KEYSPACE IF NOT EXISTS ` + testKeyspace + ` WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
		`CREATE TABLE IF NOT EXISTS ` + testKeyspace + `.contact_cadence_state (
			phone_number text PRIMARY KEY, attempt_count int, status text, last_call_sid text,
			last_call_disposition text, last_attempt_at timestamp, next_call_at timestamp,
			hopper_priority int, metadata text, lead_id text, version bigint, updated_at timestamp)`,
		`TRUNCATE ` + testKeyspace + `.contact_cadence_state`,
	}
	for _, stmt := range stmts {
		if err := admin.Query(stmt).Exec(); err != nil {
			t.Fatalf("setup %q: %v", stmt, err)
		}
	}

	cluster.Keyspace = testKeyspace
	cluster.Consistency = gocql.One
	cluster.SerialConsistency = gocql.LocalSerial
	session, err := cluster.CreateSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(session.Close)
	return session
}

func TestVersionedPut(t *testing.T) {
	store := NewContactStateStore(openTestSession(t))
	ctx := context.Background()
	phone := "+15551234567"

	if _, err := store.Get(ctx, phone); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	next := time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC)
	priority := 5
	state := &domain.ContactCadenceState{
		PhoneNumber:    phone,
		AttemptCount:   1,
		Status:         domain.CadenceStatusActive,
		NextCallAt:     &next,
		HopperPriority: &priority,
		Metadata:       map[string]any{"customer_name": "Ada"},
	}
	if err := store.Put(ctx, state); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if state.Version != 1 {
		t.Fatalf("expected version 1, got %d", state.Version)
	}

	// a second first-write loses
	if err := store.Put(ctx, &domain.ContactCadenceState{PhoneNumber: phone, AttemptCount: 1}); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	stored, err := store.Get(ctx, phone)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Version != 1 || stored.Metadata["customer_name"] != "Ada" || !stored.NextCallAt.Equal(next) {
		t.Fatalf("unexpected stored state %+v", stored)
	}

	stale := stored.Clone()
	stored.AttemptCount = 2
	if err := store.Put(ctx, stored); err != nil {
		t.Fatalf("update: %v", err)
	}
	stale.AttemptCount = 9
	if err := store.Put(ctx, &stale); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}

	final, err := store.Get(ctx, phone)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.AttemptCount != 2 || final.Version != 2 {
		t.Fatalf("stale write leaked: %+v", final)
	}
}
