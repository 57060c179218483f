package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"listing-core/internal/coordinator"
	"listing-core/internal/events"
	"listing-core/internal/monitor"
	"listing-core/internal/notify"
	"listing-core/internal/queue"
	"listing-core/internal/settings"
	"listing-core/pkg/breaker"
	"listing-core/pkg/db"
	exchange "listing-core/pkg/exchanges/common"
)

type nilProvider struct{}

func (nilProvider) Get(ctx context.Context, userID string) (exchange.Gateway, error) {
	return nil, errors.New("no gateway in this test")
}
func (nilProvider) Invalidate(userID string) {}

// stubGateway is a minimal venue double for supervisor-level tests.
type stubGateway struct {
	mu         sync.Mutex
	tickerLast float64
	closeAll   int
}

func (g *stubGateway) SetLeverage(ctx context.Context, symbol string, lev int) error { return nil }
func (g *stubGateway) MaxLeverage(ctx context.Context, symbol string) (int, error)   { return 20, nil }
func (g *stubGateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	return exchange.Balance{MarginCoin: "USDT", Available: 1000}, nil
}
func (g *stubGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return exchange.OrderResult{OrderID: "ord-1", ClientOID: req.ClientOID}, nil
}
func (g *stubGateway) GetOrderFills(ctx context.Context, symbol, orderID string) ([]exchange.Fill, error) {
	return nil, nil
}
func (g *stubGateway) GetTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return exchange.Ticker{Symbol: symbol, Last: g.tickerLast}, nil
}
func (g *stubGateway) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	return nil, nil
}
func (g *stubGateway) CloseAllPositions(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeAll++
	return nil
}
func (g *stubGateway) closeCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closeAll
}

type stubProvider struct{ gw exchange.Gateway }

func (p *stubProvider) Get(ctx context.Context, userID string) (exchange.Gateway, error) {
	return p.gw, nil
}
func (p *stubProvider) Invalidate(userID string) {}

func seedUser(t *testing.T, database *db.Database, id string, autoTrading bool) {
	t.Helper()
	ctx := context.Background()
	if err := database.CreateUser(ctx, db.User{ID: id, Email: id + "@example.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := database.UpsertProfile(ctx, db.Profile{
		UserID: id, TradeAmount: 100, Leverage: 10, TakeProfitRatio: 1.1, AutoTrading: autoTrading,
	}); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if err := database.SaveCredentials(ctx, db.Credentials{
		UserID: id, APIKey: "k", APISecret: "s", Passphrase: "p",
	}); err != nil {
		t.Fatalf("credentials: %v", err)
	}
}

func newTestSupervisorWith(t *testing.T, pool coordinator.GatewayProvider, cfg coordinator.Config) (*Supervisor, *db.Database, *queue.Queue) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	q, err := queue.New(t.TempDir(), 2, "test-machine:1")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	retry := breaker.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	s := New(q, settings.NewStore(database), pool, database, notify.LogSink{},
		events.NewBus(), monitor.NewMetrics(), breaker.New(3, time.Minute), retry,
		cfg, time.Minute, time.Second)
	return s, database, q
}

func newTestSupervisor(t *testing.T) (*Supervisor, *db.Database, *queue.Queue) {
	t.Helper()
	return newTestSupervisorWith(t, nilProvider{}, coordinator.DefaultConfig())
}

// fastConfig keeps lifecycle polling quick enough for tests.
func fastConfig() coordinator.Config {
	cfg := coordinator.DefaultConfig()
	cfg.FillTimeout = 200 * time.Millisecond
	cfg.FillPollEvery = 10 * time.Millisecond
	cfg.MarkPollEvery = 10 * time.Millisecond
	return cfg
}

func TestReconcileTracksEligibility(t *testing.T) {
	s, database, _ := newTestSupervisor(t)
	seedUser(t, database, "user-a", true)
	seedUser(t, database, "user-b", true)
	seedUser(t, database, "user-off", false)

	ctx := context.Background()
	if err := s.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := len(s.ActiveUsers()); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}

	// user-b drops out; its coordinator is drained, not killed.
	if err := database.SetAutoTrading(ctx, "user-b", false); err != nil {
		t.Fatal(err)
	}
	if err := s.reconcile(ctx); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	active := s.ActiveUsers()
	if len(active) != 1 || active[0] != "user-a" {
		t.Fatalf("active = %v, want [user-a]", active)
	}
}

func TestDispatchFansListingEventToAllCoordinators(t *testing.T) {
	s, database, q := newTestSupervisor(t)
	seedUser(t, database, "user-a", true)
	seedUser(t, database, "user-b", true)

	ctx := context.Background()
	if err := s.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	ev := events.ListingEvent{ID: "ev-1", Symbol: "SAFEUSDT_UMCBL", Source: "market-list", DetectedAt: time.Now()}
	if _, err := q.Enqueue(queue.KindListingEvent, ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := s.dispatch(ctx, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
}

func TestDispatchManualTradeNeedsActiveCoordinator(t *testing.T) {
	s, database, q := newTestSupervisor(t)
	seedUser(t, database, "user-a", true)

	ctx := context.Background()
	if err := s.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if err := s.EnqueueManualTrade("user-a", "SAFEUSDT_UMCBL"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := s.dispatch(ctx, msg); err != nil {
		t.Fatalf("dispatch to active user: %v", err)
	}
	q.Complete(msg)

	// A manual trade for an unknown user is a dispatch failure, so the
	// message goes back for retry instead of being dropped.
	if err := s.EnqueueManualTrade("ghost", "SAFEUSDT_UMCBL"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg, err = q.DequeueNext()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := s.dispatch(ctx, msg); err == nil {
		t.Fatal("expected dispatch error for unknown user")
	}
}

func TestStartResumesOpenPositions(t *testing.T) {
	gw := &stubGateway{tickerLast: 100} // far above any take-profit
	s, database, _ := newTestSupervisorWith(t, &stubProvider{gw: gw}, fastConfig())
	seedUser(t, database, "user-a", true)

	// A previous run opened this position and died while monitoring it.
	ctx := context.Background()
	claimed, err := database.ClaimPosition(ctx, db.Position{
		ID: "pos-old", UserID: "user-a", Symbol: "SAFEUSDT_UMCBL",
		EventID: "ev-old", Status: db.PositionOpening,
	})
	if err != nil || !claimed {
		t.Fatalf("claim: %v", err)
	}
	if err := database.MarkPositionOpen(ctx, "pos-old", 1.0, 10); err != nil {
		t.Fatalf("mark open: %v", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		pos, err := database.GetPositionByKey(ctx, "user-a", "SAFEUSDT_UMCBL", "ev-old")
		if err != nil {
			t.Fatalf("position lookup: %v", err)
		}
		if pos != nil && pos.Status == db.PositionClosed {
			if pos.RealizedPnL <= 0 {
				t.Fatalf("pnl = %v, want > 0", pos.RealizedPnL)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("open position not closed after restart: pos=%+v closeCalls=%d",
				pos, gw.closeCalls())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if gw.closeCalls() == 0 {
		t.Fatal("venue positions never flattened for resumed take-profit")
	}
}

func TestListingClaimIsDurableBeforeAck(t *testing.T) {
	s, database, q := newTestSupervisor(t)
	seedUser(t, database, "user-a", true)

	ctx := context.Background()
	if err := s.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	ev := events.ListingEvent{ID: "ev-claim", Symbol: "SAFEUSDT_UMCBL", Source: "market-list", DetectedAt: time.Now()}
	if _, err := q.Enqueue(queue.KindListingEvent, ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := s.dispatch(ctx, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// The position row must exist before the message could be acked, so a
	// crash in this window is recoverable instead of a lost listing.
	pos, err := database.GetPositionByKey(ctx, "user-a", "SAFEUSDT_UMCBL", "ev-claim")
	if err != nil {
		t.Fatalf("position lookup: %v", err)
	}
	if pos == nil {
		t.Fatal("no position row claimed at dispatch time")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s, _, _ := newTestSupervisor(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop() // a second call must be a no-op, not a panic
}

func TestScopedEmergencyStopReachesOfflineUser(t *testing.T) {
	gw := &stubGateway{tickerLast: 1.0}
	s, database, q := newTestSupervisorWith(t, &stubProvider{gw: gw}, fastConfig())
	// Auto-trading already off (say, after an auth failure), so no
	// coordinator exists — but venue positions may still be open.
	seedUser(t, database, "user-off", false)

	ctx := context.Background()
	if err := s.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := len(s.ActiveUsers()); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}

	if err := s.EnqueueEmergencyStop("user-off"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := s.dispatch(ctx, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if gw.closeCalls() != 1 {
		t.Fatalf("close calls = %d, want 1", gw.closeCalls())
	}
	profile, err := database.GetProfile(ctx, "user-off")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !profile.EmergencyStop {
		t.Fatal("emergency stop flag not persisted")
	}
}

func TestEmergencyStopMessageOrdersFirst(t *testing.T) {
	_, _, q := newTestSupervisor(t)

	if _, err := q.Enqueue(queue.KindListingEvent, events.ListingEvent{ID: "ev"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := q.Enqueue(queue.KindEmergencyStop, EmergencyStop{UserID: "user-a"}); err != nil {
		t.Fatal(err)
	}

	msg, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if msg.Kind != queue.KindEmergencyStop {
		t.Fatalf("first message kind = %s, want emergency_stop", msg.Kind)
	}
}
