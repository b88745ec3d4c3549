package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"contactbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bot.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunMigrations_FreshAndIdempotent(t *testing.T) {
	s := testStore(t)
	if err := RunMigrations(s.db, testLogger()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	version, err := SchemaVersion(s.db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRouting_DestinationLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Destination(ctx, "4155550100"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetDestination(ctx, "4155550100", "+14155550123"); err != nil {
		t.Fatal(err)
	}
	dest, err := s.Destination(ctx, "4155550100")
	if err != nil || dest != "+14155550123" {
		t.Fatalf("got %q, %v", dest, err)
	}
	numbers, err := s.NumbersFor(ctx, "+14155550123")
	if err != nil || len(numbers) != 1 || numbers[0] != "4155550100" {
		t.Fatalf("got %v, %v", numbers, err)
	}
	if err := s.Delete(ctx, "4155550100"); err != nil {
		t.Fatal(err)
	}
	if numbers, _ := s.NumbersFor(ctx, "+14155550123"); len(numbers) != 0 {
		t.Fatalf("expected no numbers after delete, got %v", numbers)
	}
}

func TestRouting_ClaimAvailable(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.AddAvailable(ctx, "4155550100")
	s.AddAvailable(ctx, "6505550100")

	if _, err := s.ClaimAvailable(ctx, "212"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unmatched prefix, got %v", err)
	}
	got, err := s.ClaimAvailable(ctx, "415")
	if err != nil || got != "4155550100" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := s.ClaimAvailable(ctx, "415"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("a claimed number must not be handed out twice, got %v", err)
	}
}

func TestRouting_ConcurrentClaimsAreExclusive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, n := range []string{"4155550100", "4155550101", "4155550102"} {
		s.AddAvailable(ctx, n)
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n, err := s.ClaimAvailable(ctx, "415"); err == nil {
				mu.Lock()
				claimed[n]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != 3 {
		t.Fatalf("expected all 3 numbers claimed, got %v", claimed)
	}
	for n, c := range claimed {
		if c != 1 {
			t.Errorf("%s claimed %d times", n, c)
		}
	}
}

func TestRouting_SweepExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now.Add(-time.Hour) }
	s.IntendToBuy(ctx, "4155550100")
	s.now = func() time.Time { return now }
	s.IntendToBuy(ctx, "4155550101")

	n, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one stale intent swept, got %d", n)
	}
	got, err := s.ClaimAvailable(ctx, "415")
	if err != nil || got != "4155550100" {
		t.Fatalf("swept number should be available again, got %q, %v", got, err)
	}
}

func TestRouting_MarkBought(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.MarkBought(ctx, "4155550100"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	s.IntendToBuy(ctx, "4155550100")
	if err := s.MarkBought(ctx, "4155550100"); err != nil {
		t.Fatal(err)
	}
	records, _ := s.ListNumbers(ctx)
	if len(records) != 1 || records[0].Status != StatusBought {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestRouting_NormalizeDestinations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.SetDestination(ctx, "4155550100", "4155550123")
	s.SetDestination(ctx, "4155550101", "+14155550124")
	s.SetDestination(ctx, "4155550102", "bogus")

	normalize := func(v string) (string, error) {
		switch v {
		case "4155550123":
			return "+14155550123", nil
		case "bogus":
			return "", errors.New("invalid")
		}
		return v, nil
	}
	n, err := s.NormalizeDestinations(ctx, normalize)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 destination changed, got %d", n)
	}
	if dest, _ := s.Destination(ctx, "4155550100"); dest != "+14155550123" {
		t.Errorf("got %q", dest)
	}
}

func TestGroupRoutes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.RouteForGroup(ctx, "g1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	route := domain.GroupRoute{GroupID: "g1", Their: "4155550123", Our: "4155550100"}
	if err := s.SetGroupRoute(ctx, route); err != nil {
		t.Fatal(err)
	}
	got, err := s.RouteForGroup(ctx, "g1")
	if err != nil || got != route {
		t.Fatalf("got %+v, %v", got, err)
	}

	// A newer group for the same pair replaces the old one.
	s.SetGroupRoute(ctx, domain.GroupRoute{GroupID: "g2", Their: "4155550123", Our: "4155550100"})
	id, err := s.GroupForRoute(ctx, "4155550123", "4155550100")
	if err != nil || id != "g2" {
		t.Fatalf("got %q, %v", id, err)
	}
	if _, err := s.RouteForGroup(ctx, "g1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("old group should be gone, got %v", err)
	}
}

func TestPayments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.FindPayment(ctx, 1000); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	p := domain.Payment{TransactionLogID: "tx1", AccountID: "acct", ValuePicoMOB: 1071428570000, FinalizedBlockIndex: 42}
	if err := s.PutPayment(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.PutPayment(ctx, p); err != nil {
		t.Fatalf("duplicate put should be ignored: %v", err)
	}
	if ok, _ := s.HasPayment(ctx, "tx1"); !ok {
		t.Error("expected tx1 recorded")
	}

	got, err := s.FindPayment(ctx, 1071428570000)
	if err != nil || got.TransactionLogID != "tx1" || got.FinalizedBlockIndex != 42 {
		t.Fatalf("got %+v, %v", got, err)
	}

	if err := s.RecordUserPayment(ctx, "+14155550123", "tx1"); err != nil {
		t.Fatal(err)
	}
	tx, err := s.UserPayment(ctx, "+14155550123")
	if err != nil || tx != "tx1" {
		t.Fatalf("got %q, %v", tx, err)
	}
	if _, err := s.FindPayment(ctx, 1071428570000); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("an attributed payment must not match again, got %v", err)
	}
}

func TestAccounts_ClaimIsExclusive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Claim(ctx, "+14155550100", "host-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Claim(ctx, "+14155550100", "host-b"); !errors.Is(err, domain.ErrIdentityInUse) {
		t.Fatalf("expected ErrIdentityInUse, got %v", err)
	}
	if err := s.MarkFreed(ctx, "+14155550100"); err != nil {
		t.Fatal(err)
	}
	if err := s.Claim(ctx, "+14155550100", "host-b"); err != nil {
		t.Fatalf("claim after free should succeed: %v", err)
	}
}

func TestAccounts_UploadDownload(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	empty := t.TempDir()
	if err := s.Download(ctx, "+14155550100", empty); err != nil {
		t.Fatalf("download of unknown identity should be a no-op: %v", err)
	}

	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "account.db"), []byte("keys"), 0o600)
	if err := s.Upload(ctx, "+14155550100", src); err != nil {
		t.Fatal(err)
	}
	if err := s.Upload(ctx, "+14155550100", src); err != nil {
		t.Fatalf("unchanged upload: %v", err)
	}

	dst := t.TempDir()
	if err := s.Download(ctx, "+14155550100", dst); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dst, "account.db"))
	if err != nil || string(got) != "keys" {
		t.Fatalf("got %q, %v", got, err)
	}
}
