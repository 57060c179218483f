package db

import (
	"context"
	"testing"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestQueriesRequireUserID(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	t.Run("GetProfile requires userID", func(t *testing.T) {
		if _, err := d.GetProfile(ctx, ""); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})

	t.Run("GetCredentials requires userID", func(t *testing.T) {
		if _, err := d.GetCredentials(ctx, ""); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})

	t.Run("GetPositionsByUser requires userID", func(t *testing.T) {
		if _, err := d.GetPositionsByUser(ctx, ""); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
}

func TestClaimPositionIdempotency(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	first := Position{ID: "pos-1", UserID: "user-a", Symbol: "SAFEUSDT_UMCBL", EventID: "evt-1", Leverage: 10}
	claimed, err := d.ClaimPosition(ctx, first)
	if err != nil {
		t.Fatalf("ClaimPosition: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}

	// Same (user, symbol, event) triple: must be a no-op, not an error.
	second := Position{ID: "pos-2", UserID: "user-a", Symbol: "SAFEUSDT_UMCBL", EventID: "evt-1", Leverage: 10}
	claimed, err = d.ClaimPosition(ctx, second)
	if err != nil {
		t.Fatalf("ClaimPosition duplicate: %v", err)
	}
	if claimed {
		t.Error("duplicate claim must not succeed")
	}

	// A different event for the same symbol opens a fresh claim.
	third := Position{ID: "pos-3", UserID: "user-a", Symbol: "SAFEUSDT_UMCBL", EventID: "evt-2", Leverage: 10}
	claimed, err = d.ClaimPosition(ctx, third)
	if err != nil {
		t.Fatalf("ClaimPosition new event: %v", err)
	}
	if !claimed {
		t.Error("claim for a new event should succeed")
	}

	// The surviving row is the original one.
	pos, err := d.GetPositionByKey(ctx, "user-a", "SAFEUSDT_UMCBL", "evt-1")
	if err != nil {
		t.Fatalf("GetPositionByKey: %v", err)
	}
	if pos == nil || pos.ID != "pos-1" {
		t.Errorf("expected pos-1 to survive, got %+v", pos)
	}
}

func TestPositionLifecycleUpdates(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	p := Position{ID: "pos-1", UserID: "user-a", Symbol: "NEWUSDT_UMCBL", EventID: "evt-1", Leverage: 20}
	if _, err := d.ClaimPosition(ctx, p); err != nil {
		t.Fatalf("ClaimPosition: %v", err)
	}

	if err := d.MarkPositionOpen(ctx, "pos-1", 1.00, 950); err != nil {
		t.Fatalf("MarkPositionOpen: %v", err)
	}
	open, err := d.GetOpenPositionsByUser(ctx, "user-a")
	if err != nil {
		t.Fatalf("GetOpenPositionsByUser: %v", err)
	}
	if len(open) != 1 || open[0].Status != PositionOpen {
		t.Fatalf("expected one open position, got %+v", open)
	}
	if open[0].EntryPrice != 1.00 || open[0].Size != 950 {
		t.Errorf("fill not recorded: %+v", open[0])
	}

	if err := d.ClosePosition(ctx, "pos-1", 12.5); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	open, _ = d.GetOpenPositionsByUser(ctx, "user-a")
	if len(open) != 0 {
		t.Errorf("closed position still reported open: %+v", open)
	}
	all, _ := d.GetPositionsByUser(ctx, "user-a")
	if len(all) != 1 || all[0].Status != PositionClosed || all[0].RealizedPnL != 12.5 {
		t.Errorf("close not archived: %+v", all)
	}
}

func TestListEligibleUsers(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	profiles := []Profile{
		{UserID: "u-on", TradeAmount: 50, Leverage: 10, TakeProfitRatio: 1.2, AutoTrading: true},
		{UserID: "u-off", TradeAmount: 50, Leverage: 10, TakeProfitRatio: 1.2, AutoTrading: false},
		{UserID: "u-stopped", TradeAmount: 50, Leverage: 10, TakeProfitRatio: 1.2, AutoTrading: true, EmergencyStop: true},
		{UserID: "u-nocreds", TradeAmount: 50, Leverage: 10, TakeProfitRatio: 1.2, AutoTrading: true},
	}
	for _, p := range profiles {
		if err := d.UpsertProfile(ctx, p); err != nil {
			t.Fatalf("UpsertProfile(%s): %v", p.UserID, err)
		}
	}
	for _, id := range []string{"u-on", "u-off", "u-stopped"} {
		if err := d.SaveCredentials(ctx, Credentials{UserID: id, APIKey: "k", APISecret: "s", Passphrase: "p"}); err != nil {
			t.Fatalf("SaveCredentials(%s): %v", id, err)
		}
	}

	ids, err := d.ListEligibleUsers(ctx)
	if err != nil {
		t.Fatalf("ListEligibleUsers: %v", err)
	}
	if len(ids) != 1 || ids[0] != "u-on" {
		t.Errorf("expected [u-on], got %v", ids)
	}
}

func TestBaselineAddIsIdempotent(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if err := d.BaselineAdd(ctx, []string{"AAA", "BBB", "CCC"}); err != nil {
		t.Fatalf("BaselineAdd: %v", err)
	}
	if err := d.BaselineAdd(ctx, []string{"BBB", "DDD"}); err != nil {
		t.Fatalf("BaselineAdd second: %v", err)
	}

	n, err := d.BaselineCount(ctx)
	if err != nil {
		t.Fatalf("BaselineCount: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 baseline symbols, got %d", n)
	}
}
