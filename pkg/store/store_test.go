package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// newTestStore connects to the database named by TEST_DATABASE_URL,
// applies migrations and truncates the crawler tables. Tests are
// skipped when the variable is unset so the suite stays runnable
// without infrastructure.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	if err := Migrate(ctx, url); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := New(ctx, url, 4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Close)

	for _, table := range []string{"responses", "events", "domains"} {
		if _, err := s.pool.Exec(ctx, "TRUNCATE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncating %s: %v", table, err)
		}
	}
	return s
}

func seedDomain(t *testing.T, s *Store, hostname string) string {
	t.Helper()
	ctx := context.Background()
	if err := s.InsertDomain(ctx, hostname, "test"); err != nil {
		t.Fatal(err)
	}
	var id string
	if err := s.pool.QueryRow(ctx,
		"SELECT id FROM domains WHERE hostname = $1", hostname,
	).Scan(&id); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestClaimLeasesAndExcludes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDomain(t, s, "a.com")
	seedDomain(t, s, "b.com")

	claimed, err := s.ClaimDomains(ctx, "owner-1", 10, "test", time.Minute)
	if err != nil {
		t.Fatalf("ClaimDomains() error = %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d domains, want 2", len(claimed))
	}

	// Everything is leased; a second claimer gets nothing.
	again, err := s.ClaimDomains(ctx, "owner-2", 10, "test", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second claim got %d domains, want 0", len(again))
	}

	counts, err := s.CountByStatus(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}
	if counts[StatusProcessing] != 2 {
		t.Errorf("status counts = %v", counts)
	}
}

func TestClaimScopedBySource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.InsertDomain(ctx, "theirs.com", "other-deployment"); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimDomains(ctx, "owner-1", 10, "test", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d foreign domains, want 0", len(claimed))
	}
}

func TestCompleteRequiresLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedDomain(t, s, "a.com")

	if _, err := s.ClaimDomains(ctx, "owner-1", 1, "test", time.Minute); err != nil {
		t.Fatal(err)
	}

	if err := s.CompleteDomain(ctx, id, "impostor", false); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("CompleteDomain by non-owner = %v, want ErrLeaseLost", err)
	}
	if err := s.CompleteDomain(ctx, id, "owner-1", false); err != nil {
		t.Fatalf("CompleteDomain by owner error = %v", err)
	}

	counts, _ := s.CountByStatus(ctx, "test")
	if counts[StatusCompleted] != 1 {
		t.Errorf("status counts = %v", counts)
	}
}

func TestRequeueParksAfterThreeStrikes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedDomain(t, s, "flaky.com")

	for round := 1; round <= maxConsecutiveErrors; round++ {
		claimed, err := s.ClaimDomains(ctx, "owner-1", 1, "test", time.Minute)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("round %d claim: %v (%d)", round, err, len(claimed))
		}
		parked, err := s.RequeueDomain(ctx, id, "owner-1")
		if err != nil {
			t.Fatalf("round %d requeue: %v", round, err)
		}
		if want := round == maxConsecutiveErrors; parked != want {
			t.Errorf("round %d parked = %v, want %v", round, parked, want)
		}
	}

	counts, _ := s.CountByStatus(ctx, "test")
	if counts[StatusError] != 1 {
		t.Errorf("status counts = %v, want one parked domain", counts)
	}
}

func TestCompletionResetsErrorStreak(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedDomain(t, s, "recovering.com")

	for i := 0; i < 2; i++ {
		if _, err := s.ClaimDomains(ctx, "o", 1, "test", time.Minute); err != nil {
			t.Fatal(err)
		}
		if _, err := s.RequeueDomain(ctx, id, "o"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.ClaimDomains(ctx, "o", 1, "test", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteDomain(ctx, id, "o", false); err != nil {
		t.Fatal(err)
	}

	var streak int
	if err := s.pool.QueryRow(ctx,
		"SELECT consecutive_errors FROM domains WHERE id = $1", id,
	).Scan(&streak); err != nil {
		t.Fatal(err)
	}
	if streak != 0 {
		t.Errorf("consecutive_errors = %d after completion, want 0", streak)
	}
}

func TestSweepExpiredLeases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDomain(t, s, "stuck.com")

	if _, err := s.ClaimDomains(ctx, "crashed-worker", 1, "test", -time.Second); err != nil {
		t.Fatal(err)
	}

	swept, err := s.SweepExpiredLeases(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredLeases() error = %v", err)
	}
	if len(swept) != 1 {
		t.Fatalf("swept %d leases, want 1", len(swept))
	}

	counts, _ := s.CountByStatus(ctx, "test")
	if counts[StatusPending] != 1 {
		t.Errorf("status counts = %v, domain should be pending again", counts)
	}
}

func TestInsertResponseIdempotentPerMinute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedDomain(t, s, "a.com")

	at := time.Now().UTC()
	row := &Response{
		DomainID:         id,
		Provider:         "openai",
		Model:            "gpt-4o",
		PromptTemplateID: "brand_memory_v1",
		PromptText:       "What do you know about a.com?",
		ResponseText:     "A domain.",
		PromptTokens:     10,
		CompletionTokens: 3,
		TotalCostUSD:     0.0001,
		LatencyMS:        420,
		CapturedAt:       at,
	}
	inserted, err := s.InsertResponse(ctx, row)
	if err != nil || !inserted {
		t.Fatalf("first insert = %v, %v", inserted, err)
	}

	// Same tuple in the same minute bucket: suppressed.
	row.CapturedAt = at.Add(10 * time.Second)
	inserted, err = s.InsertResponse(ctx, row)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("replay within the minute bucket must not insert")
	}

	// Next minute is a new observation.
	row.CapturedAt = at.Add(2 * time.Minute)
	inserted, err = s.InsertResponse(ctx, row)
	if err != nil || !inserted {
		t.Errorf("next-minute insert = %v, %v", inserted, err)
	}

	tuples, err := s.SuccessfulTuples(ctx, id, at.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !tuples[[2]string{"openai", "brand_memory_v1"}] {
		t.Errorf("tuples = %v", tuples)
	}
}

func TestMarkPendingWhereRespectsPredicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedDomain(t, s, "done.com")
	seedDomain(t, s, "fresh.com")

	// Move one domain to completed.
	if _, err := s.ClaimDomains(ctx, "o", 2, "test", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteDomain(ctx, id, "o", false); err != nil {
		t.Fatal(err)
	}

	n, err := s.MarkPendingWhere(ctx, "test", "d.hostname = 'done.com'", 0)
	if err != nil {
		t.Fatalf("MarkPendingWhere() error = %v", err)
	}
	if n != 1 {
		t.Errorf("marked %d domains, want 1", n)
	}
}

func TestAppendEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedDomain(t, s, "a.com")

	if err := s.AppendEvent(ctx, EventClaim, id, map[string]string{"owner": "o"}); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	// Events without a domain are fine too.
	if err := s.AppendEvent(ctx, EventSchedulerTick, "", map[string]string{"tier": "cheap"}); err != nil {
		t.Fatalf("AppendEvent() without domain error = %v", err)
	}

	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM events").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("event count = %d, want 2", n)
	}
}

func TestActiveTemplatesSeeded(t *testing.T) {
	s := newTestStore(t)

	templates, err := s.ActiveTemplates(context.Background())
	if err != nil {
		t.Fatalf("ActiveTemplates() error = %v", err)
	}
	if len(templates) < 3 {
		t.Fatalf("seeded templates = %d, want at least 3", len(templates))
	}
	for _, tmpl := range templates {
		if err := ValidateTemplateBody(tmpl.Body); err != nil {
			t.Errorf("template %s: %v", tmpl.ID, err)
		}
	}
}
