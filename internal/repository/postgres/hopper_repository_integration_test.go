//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/repository"
)

// Run with: OUTBOUND_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/repository/postgres/
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("OUTBOUND_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("OUTBOUND_TEST_POSTGRES_DSN not set")
	}
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	schema, err := os.ReadFile("../../../migrations/postgres/0001_hopper.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE hopper, leads RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func seedEntries(t *testing.T, db *sqlx.DB, n int) []int64 {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		leadID := fmt.Sprintf("lead-%d", i)
		if _, err := db.ExecContext(ctx, `INSERT INTO leads (id, phone_number) VALUES ($1, $2)`, leadID, fmt.Sprintf("+1555000%04d", i)); err != nil {
			t.Fatalf("seed lead: %v", err)
		}
		var id int64
		if err := db.GetContext(ctx, &id, `INSERT INTO hopper (lead_id, hopper_entry_timestamp) VALUES ($1, $2) RETURNING id`,
			leadID, start.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("seed hopper: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestClaimNextConcurrentClaimsAreDistinct(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db, 50)
	repo := NewHopperRepository(db)

	var (
		mu      sync.Mutex
		claimed = make(map[int64]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				entry, ok, err := repo.ClaimNext(context.Background())
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				claimed[entry.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != 50 {
		t.Fatalf("expected 50 distinct claims, got %d", len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Fatalf("entry %d claimed %d times", id, n)
		}
	}
}

func TestGuardedTransitionsAndStaleListing(t *testing.T) {
	db := openTestDB(t)
	ids := seedEntries(t, db, 3)
	repo := NewHopperRepository(db)
	ctx := context.Background()

	for range ids {
		if _, ok, err := repo.ClaimNext(ctx); err != nil || !ok {
			t.Fatalf("claim: ok=%v err=%v", ok, err)
		}
	}
	if err := repo.StampTracking(ctx, ids[0], "initial_H1_Llead-0_1"); err != nil {
		t.Fatalf("stamp: %v", err)
	}

	untracked, err := repo.ListStale(ctx, repository.StaleFilter{
		Status:    domain.HopperStatusProcessing,
		OlderThan: time.Now().Add(time.Minute),
		Limit:     10,
		Tracking:  repository.TrackingAbsent,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(untracked) != 2 {
		t.Fatalf("expected 2 untracked entries, got %d", len(untracked))
	}

	ok, err := repo.MarkOutcome(ctx, ids[1], domain.HopperStatusProcessing, domain.HopperStatusErrorInitiatingCall)
	if err != nil || !ok {
		t.Fatalf("mark: ok=%v err=%v", ok, err)
	}
	if ok, _ := repo.MarkOutcome(ctx, ids[1], domain.HopperStatusProcessing, domain.HopperStatusErrorStale); ok {
		t.Fatalf("guarded transition applied to a terminal entry")
	}

	if ok, err := repo.Requeue(ctx, ids[1], domain.HopperStatusErrorInitiatingCall, 1); err != nil || !ok {
		t.Fatalf("requeue: ok=%v err=%v", ok, err)
	}
	entry, ok, err := repo.ClaimNext(ctx)
	if err != nil || !ok || entry.ID != ids[1] || entry.RequeueCount != 1 {
		t.Fatalf("expected requeued entry claimable, got %+v ok=%v err=%v", entry, ok, err)
	}
	_, _ = repo.MarkOutcome(ctx, ids[1], domain.HopperStatusProcessing, domain.HopperStatusErrorInitiatingCall)

	spent, err := repo.ListStale(ctx, repository.StaleFilter{
		Status:        domain.HopperStatusErrorInitiatingCall,
		OlderThan:     time.Now().Add(time.Minute),
		BelowRequeues: 1,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(spent) != 0 {
		t.Fatalf("entry past its requeue budget listed: %+v", spent)
	}
}
