package baseline

import (
	"context"
	"testing"

	"listing-core/pkg/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(database)
}

func TestColdStartBaselineIsEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Empty() {
		t.Fatal("fresh baseline should be empty")
	}
}

func TestAddPersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s := NewStore(database)
	if err := s.Add(ctx, "SAFEUSDT_UMCBL", "NEWXUSDT_UMCBL"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Fresh store over the same database sees the persisted set.
	s2 := NewStore(database)
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s2.Contains("SAFEUSDT_UMCBL") || !s2.Contains("NEWXUSDT_UMCBL") {
		t.Fatal("reloaded baseline missing persisted symbols")
	}
	if s2.Size() != 2 {
		t.Fatalf("size = %d, want 2", s2.Size())
	}
}

func TestAddIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Add(ctx, "SAFEUSDT_UMCBL"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, "SAFEUSDT_UMCBL"); err != nil {
		t.Fatalf("repeat Add: %v", err)
	}
	if s.Size() != 1 {
		t.Fatalf("size = %d, want 1", s.Size())
	}
}

func TestDiffReturnsOnlyUnknownSymbols(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Add(ctx, "BTCUSDT_UMCBL", "ETHUSDT_UMCBL"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fresh := s.Diff([]string{"BTCUSDT_UMCBL", "SAFEUSDT_UMCBL", "ETHUSDT_UMCBL", "NEWXUSDT_UMCBL"})
	if len(fresh) != 2 || fresh[0] != "SAFEUSDT_UMCBL" || fresh[1] != "NEWXUSDT_UMCBL" {
		t.Fatalf("Diff = %v", fresh)
	}
}
