// Package coordinator drives one user's order lifecycle: leverage, balance,
// entry order, fill confirmation, take-profit monitoring, close.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"listing-core/internal/events"
	"listing-core/internal/monitor"
	"listing-core/internal/notify"
	"listing-core/internal/settings"
	"listing-core/pkg/breaker"
	"listing-core/pkg/db"
	"listing-core/pkg/exchanges/bitget"
	exchange "listing-core/pkg/exchanges/common"
)

// Config bounds one lifecycle run.
type Config struct {
	SafetyBuffer  float64       // fraction of available balance usable
	MinNotional   float64       // venue minimum order notional in USDT
	FillTimeout   time.Duration // how long to wait for a full fill
	FillPollEvery time.Duration
	MarkPollEvery time.Duration
	MarginCoin    string
}

// DefaultConfig mirrors the venue's USDT-margined futures limits.
func DefaultConfig() Config {
	return Config{
		SafetyBuffer:  0.95,
		MinNotional:   5.0,
		FillTimeout:   2 * time.Minute,
		FillPollEvery: 2 * time.Second,
		MarkPollEvery: 3 * time.Second,
		MarginCoin:    "USDT",
	}
}

// entry limit prices are padded above last so the order crosses immediately
// even while the book is moving.
const limitPricePadding = 1.015

// GatewayProvider supplies per-user venue gateways. *gateway.Pool is the
// production implementation.
type GatewayProvider interface {
	Get(ctx context.Context, userID string) (exchange.Gateway, error)
	Invalidate(userID string)
}

// Coordinator owns one user's lifecycle runs. Events arrive through Submit;
// at most one lifecycle is in flight at a time, so a user can never race
// two entries for the same balance.
type Coordinator struct {
	userID   string
	inbox    chan events.ListingEvent
	pool     GatewayProvider
	settings *settings.Store
	db       *db.Database
	notifier notify.Notifier
	bus      *events.Bus
	metrics  *monitor.Metrics
	breaker  *breaker.Breaker
	retry    breaker.RetryPolicy
	cfg      Config

	emergency atomic.Bool
	cancelMu  sync.Mutex
	cancelRun context.CancelFunc

	draining atomic.Bool
	wg       sync.WaitGroup
}

// New creates a coordinator for one user. The breaker is shared across
// coordinators: the venue is one dependency regardless of who calls it.
func New(userID string, pool GatewayProvider, st *settings.Store, database *db.Database, notifier notify.Notifier, bus *events.Bus, metrics *monitor.Metrics, brk *breaker.Breaker, retry breaker.RetryPolicy, cfg Config) *Coordinator {
	return &Coordinator{
		userID:   userID,
		inbox:    make(chan events.ListingEvent, 16),
		pool:     pool,
		settings: st,
		db:       database,
		notifier: notifier,
		bus:      bus,
		metrics:  metrics,
		breaker:  brk,
		retry:    retry,
		cfg:      cfg,
	}
}

// UserID returns the owning user.
func (c *Coordinator) UserID() string { return c.userID }

// Start launches the run loop. It exits when ctx is cancelled or, when
// draining, once the inbox is empty.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Claim durably records that this event was delivered to this user,
// before any lifecycle work runs. The (user, symbol, event) row is the
// delivery state: if the process dies after the queue message is acked,
// Resume finds the row and the position is never silently lost. Reports
// false when the key was already claimed.
func (c *Coordinator) Claim(ctx context.Context, ev events.ListingEvent) (bool, error) {
	return c.db.ClaimPosition(ctx, db.Position{
		ID:      uuid.NewString(),
		UserID:  c.userID,
		Symbol:  ev.Symbol,
		EventID: ev.ID,
		Status:  db.PositionOpening,
	})
}

// Resume picks up positions a previous process left behind. Open positions
// go back under take-profit monitoring, interrupted closes finish at the
// current mark, and entries cut off mid-flight are parked for a human
// because the venue order state is unknown. Call before Start so the
// snapshot cannot race new claims.
func (c *Coordinator) Resume(ctx context.Context) {
	positions, err := c.db.GetOpenPositionsByUser(ctx, c.userID)
	if err != nil {
		log.Printf("⚠️ user %s: loading positions for resume: %v", c.userID, err)
		return
	}
	if len(positions) == 0 {
		return
	}

	profile, err := c.settings.Snapshot(ctx, c.userID)
	if err != nil || profile == nil {
		log.Printf("⚠️ user %s: profile unavailable for resume: %v", c.userID, err)
		return
	}
	gw, err := c.pool.Get(ctx, c.userID)
	if err != nil {
		log.Printf("⚠️ user %s: gateway unavailable for resume: %v", c.userID, err)
		return
	}

	for i := range positions {
		pos := positions[i]
		switch pos.Status {
		case db.PositionOpen:
			log.Printf("🔄 user %s: resuming take-profit watch on %s (entry=%.6f)", c.userID, pos.Symbol, pos.EntryPrice)
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				if err := c.monitorAndClose(ctx, gw, &pos, profile.TakeProfitRatio); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("⚠️ user %s: resumed monitor for %s: %v", c.userID, pos.Symbol, err)
				}
			}()
		case db.PositionClosing:
			log.Printf("🔄 user %s: finishing interrupted close of %s", c.userID, pos.Symbol)
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				t, terr := c.getTicker(ctx, gw, pos.Symbol)
				if terr != nil {
					log.Printf("⚠️ user %s: mark for interrupted close of %s: %v", c.userID, pos.Symbol, terr)
					return
				}
				if err := c.close(ctx, gw, &pos, t.Last); err != nil {
					log.Printf("⚠️ user %s: finishing close of %s: %v", c.userID, pos.Symbol, err)
				}
			}()
		case db.PositionOpening:
			// The entry was interrupted somewhere between claim and fill
			// confirmation; an order may or may not be resting at the venue.
			c.review(ctx, &pos, pos.Size, errors.New("entry interrupted by restart"))
		}
	}
}

// Submit hands a listing event to the coordinator. Returns ErrInboxFull
// when the inbox cannot take it; the message stays queued for a later
// attempt.
func (c *Coordinator) Submit(ev events.ListingEvent) error {
	if c.draining.Load() {
		return ErrInboxFull
	}
	select {
	case c.inbox <- ev:
		return nil
	default:
		return ErrInboxFull
	}
}

// Drain stops accepting new events; the run loop exits after finishing
// what is already inboxed. Wait blocks until then.
func (c *Coordinator) Drain() {
	c.draining.Store(true)
}

// Wait blocks until the run loop has exited.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// EmergencyStop aborts any in-flight lifecycle, flattens the user's venue
// positions and disables auto-trading. Safe to call from any goroutine.
func (c *Coordinator) EmergencyStop(ctx context.Context) error {
	c.emergency.Store(true)

	c.cancelMu.Lock()
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.cancelMu.Unlock()

	gw, err := c.pool.Get(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("emergency stop for %s: %w", c.userID, err)
	}
	if err := c.venueCall(ctx, func() error {
		return gw.CloseAllPositions(ctx)
	}); err != nil {
		return fmt.Errorf("emergency close for %s: %w", c.userID, err)
	}

	if err := c.settings.DisableAutoTrading(ctx, c.userID, "emergency stop"); err != nil {
		return err
	}
	c.bus.Publish(events.TopicEmergencyStop, c.userID)
	log.Printf("🛑 emergency stop executed for user %s", c.userID)
	return nil
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.inbox:
			c.handle(ctx, ev)
		default:
			if c.draining.Load() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case ev := <-c.inbox:
				c.handle(ctx, ev)
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
}

func (c *Coordinator) handle(parent context.Context, ev events.ListingEvent) {
	if c.emergency.Load() {
		log.Printf("user %s: dropping event %s, emergency stop active", c.userID, ev.ID)
		return
	}

	ctx, cancel := context.WithCancel(parent)
	c.cancelMu.Lock()
	c.cancelRun = cancel
	c.cancelMu.Unlock()
	defer func() {
		cancel()
		c.cancelMu.Lock()
		c.cancelRun = nil
		c.cancelMu.Unlock()
	}()

	if err := c.runLifecycle(ctx, ev); err != nil {
		c.metrics.Failure()
		log.Printf("❌ user %s lifecycle for %s failed: %v", c.userID, ev.Symbol, err)
	}
	c.metrics.MessageHandled()
}

// runLifecycle executes one full run for one listing event. Terminal
// outcomes notify exactly once, from here.
func (c *Coordinator) runLifecycle(ctx context.Context, ev events.ListingEvent) error {
	// Profile snapshot: edits made mid-run apply to future runs only.
	profile, err := c.settings.Snapshot(ctx, c.userID)
	if err != nil {
		return err
	}
	if profile == nil || !profile.AutoTrading || profile.EmergencyStop {
		return nil
	}

	gw, err := c.pool.Get(ctx, c.userID)
	if err != nil {
		return err
	}

	// Claim before any venue call: (user, symbol, event) is at-most-once.
	pos := db.Position{
		ID:      uuid.NewString(),
		UserID:  c.userID,
		Symbol:  ev.Symbol,
		EventID: ev.ID,
		Status:  db.PositionOpening,
	}
	claimed, err := c.db.ClaimPosition(ctx, pos)
	if err != nil {
		return err
	}
	if !claimed {
		existing, err := c.db.GetPositionByKey(ctx, c.userID, ev.Symbol, ev.ID)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			return nil
		case existing.Status == db.PositionOpen:
			// An earlier run opened this position; pick the watch back up.
			return c.monitorAndClose(ctx, gw, existing, profile.TakeProfitRatio)
		case existing.Status == db.PositionOpening && existing.EntryPrice == 0:
			// Claimed at dispatch time; the entry itself starts here.
			pos = *existing
		default:
			log.Printf("user %s: duplicate event %s for %s, skipping", c.userID, ev.ID, ev.Symbol)
			return nil
		}
	}

	// ResolveLeverage: operator override > profile > venue max cap.
	leverage, err := c.resolveLeverage(ctx, gw, ev.Symbol, profile)
	if err != nil {
		return c.fail(ctx, &pos, err)
	}
	pos.Leverage = leverage

	// CheckBalance.
	notional, err := c.checkBalance(ctx, gw, profile.TradeAmount)
	if err != nil {
		return c.fail(ctx, &pos, err)
	}

	// PlaceOrder: padded limit so it fills like a market order but with a
	// known worst-case price.
	ticker, err := c.getTicker(ctx, gw, ev.Symbol)
	if err != nil {
		return c.fail(ctx, &pos, err)
	}
	price := roundPrice(ticker.Last * limitPricePadding)
	size := roundSize(notional * float64(leverage) / price)

	order := exchange.OrderRequest{
		Symbol:      ev.Symbol,
		MarginCoin:  c.cfg.MarginCoin,
		Side:        exchange.SideOpenLong,
		Type:        exchange.OrderTypeLimit,
		Price:       price,
		Size:        size,
		ClientOID:   clientOID(c.userID, ev.ID),
		TimeInForce: "normal",
	}
	var placed exchange.OrderResult
	if err := c.venueCall(ctx, func() error {
		var perr error
		placed, perr = gw.PlaceOrder(ctx, order)
		return perr
	}); err != nil {
		return c.fail(ctx, &pos, err)
	}
	c.metrics.OrderPlaced()
	c.bus.Publish(events.TopicOrderPlaced, events.PositionUpdate{
		UserID: c.userID, Symbol: ev.Symbol, EventID: ev.ID,
		Status: "order_placed", Price: price, Size: size, Timestamp: time.Now(),
	})

	// AwaitFill.
	entryPrice, filledSize, err := c.awaitFill(ctx, gw, ev.Symbol, placed.OrderID, size)
	if err != nil {
		if errors.Is(err, ErrPartialFillTimeout) {
			return c.review(ctx, &pos, filledSize, err)
		}
		return c.fail(ctx, &pos, err)
	}

	if err := c.db.MarkPositionOpen(ctx, pos.ID, entryPrice, filledSize); err != nil {
		return err
	}
	pos.EntryPrice = entryPrice
	pos.Size = filledSize
	pos.Status = db.PositionOpen
	c.metrics.PositionOpened()
	c.metrics.AddNotional(entryPrice * filledSize)
	c.recordTrade(ctx, pos.ID, ev.Symbol, string(exchange.SideOpenLong), entryPrice, filledSize)
	c.bus.Publish(events.TopicPositionOpened, events.PositionUpdate{
		UserID: c.userID, Symbol: ev.Symbol, EventID: ev.ID,
		Status: "opened", Price: entryPrice, Size: filledSize, Timestamp: time.Now(),
	})
	log.Printf("✓ user %s opened %s: entry=%.6f size=%.4f lev=%dx", c.userID, ev.Symbol, entryPrice, filledSize, leverage)

	return c.monitorAndClose(ctx, gw, &pos, profile.TakeProfitRatio)
}

func (c *Coordinator) resolveLeverage(ctx context.Context, gw exchange.Gateway, symbol string, profile *db.Profile) (int, error) {
	leverage := profile.Leverage
	if profile.LeverageOverride > 0 {
		leverage = profile.LeverageOverride
	}

	var venueMax int
	if err := c.venueCall(ctx, func() error {
		var merr error
		venueMax, merr = gw.MaxLeverage(ctx, symbol)
		return merr
	}); err != nil {
		return 0, err
	}
	if leverage <= 0 || leverage > venueMax {
		leverage = venueMax
	}

	if err := c.venueCall(ctx, func() error {
		return gw.SetLeverage(ctx, symbol, leverage)
	}); err != nil {
		return 0, c.classifyAuth(ctx, err)
	}
	return leverage, nil
}

func (c *Coordinator) checkBalance(ctx context.Context, gw exchange.Gateway, tradeAmount float64) (float64, error) {
	var bal exchange.Balance
	if err := c.venueCall(ctx, func() error {
		var berr error
		bal, berr = gw.GetBalance(ctx)
		return berr
	}); err != nil {
		return 0, c.classifyAuth(ctx, err)
	}

	usable := bal.Available * c.cfg.SafetyBuffer
	notional := math.Min(tradeAmount, usable)
	if notional < c.cfg.MinNotional {
		return 0, fmt.Errorf("%w: usable=%.2f min=%.2f", ErrInsufficientBalance, usable, c.cfg.MinNotional)
	}
	return notional, nil
}

func (c *Coordinator) getTicker(ctx context.Context, gw exchange.Gateway, symbol string) (exchange.Ticker, error) {
	var t exchange.Ticker
	err := c.venueCall(ctx, func() error {
		var terr error
		t, terr = gw.GetTicker(ctx, symbol)
		return terr
	})
	return t, err
}

// awaitFill polls fills until the order is fully filled or the timeout
// expires. Returns the VWAP entry price and filled size.
func (c *Coordinator) awaitFill(ctx context.Context, gw exchange.Gateway, symbol, orderID string, wantSize float64) (price, filled float64, err error) {
	deadline := time.Now().Add(c.cfg.FillTimeout)
	ticker := time.NewTicker(c.cfg.FillPollEvery)
	defer ticker.Stop()

	for {
		var fills []exchange.Fill
		if err := c.venueCall(ctx, func() error {
			var ferr error
			fills, ferr = gw.GetOrderFills(ctx, symbol, orderID)
			return ferr
		}); err != nil {
			return 0, 0, err
		}

		var notional, size float64
		for _, f := range fills {
			notional += f.Price * f.Size
			size += f.Size
		}
		// Venue size precision can leave crumbs; 99.9% counts as full.
		if size >= wantSize*0.999 && size > 0 {
			return notional / size, size, nil
		}
		if time.Now().After(deadline) {
			return 0, size, fmt.Errorf("%w: filled %.4f of %.4f", ErrPartialFillTimeout, size, wantSize)
		}

		select {
		case <-ctx.Done():
			return 0, size, ctx.Err()
		case <-ticker.C:
		}
	}
}

// monitorAndClose polls the mark price until the take-profit ratio is hit,
// then flattens the position. The transition fires at most once.
func (c *Coordinator) monitorAndClose(ctx context.Context, gw exchange.Gateway, pos *db.Position, takeProfitRatio float64) error {
	c.bus.Publish(events.TopicTakeProfitArmed, events.PositionUpdate{
		UserID: c.userID, Symbol: pos.Symbol, EventID: pos.EventID,
		Status: "monitoring", Price: pos.EntryPrice, Timestamp: time.Now(),
	})

	ticker := time.NewTicker(c.cfg.MarkPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Cancellation here is either shutdown (position stays open,
			// Resume picks it up next run) or emergency stop (positions
			// already closed).
			return ctx.Err()
		case <-ticker.C:
		}
		if c.emergency.Load() {
			// The stop already flattened everything at the venue.
			return nil
		}

		t, err := c.getTicker(ctx, gw, pos.Symbol)
		if err != nil {
			if errors.Is(err, breaker.ErrCircuitOpen) {
				continue // keep the position; try again next poll
			}
			log.Printf("⚠️ user %s: mark poll for %s: %v", c.userID, pos.Symbol, err)
			continue
		}
		if t.Last <= 0 || pos.EntryPrice <= 0 {
			continue
		}
		if t.Last/pos.EntryPrice >= takeProfitRatio {
			return c.close(ctx, gw, pos, t.Last)
		}
	}
}

func (c *Coordinator) close(ctx context.Context, gw exchange.Gateway, pos *db.Position, exitPrice float64) error {
	if err := c.db.SetPositionStatus(ctx, pos.ID, db.PositionClosing); err != nil {
		return err
	}
	if err := c.venueCall(ctx, func() error {
		return gw.CloseAllPositions(ctx)
	}); err != nil {
		return c.fail(ctx, pos, err)
	}

	pnl := (exitPrice - pos.EntryPrice) * pos.Size
	if err := c.db.ClosePosition(ctx, pos.ID, pnl); err != nil {
		return err
	}
	c.recordTrade(ctx, pos.ID, pos.Symbol, string(exchange.SideCloseLong), exitPrice, pos.Size)
	c.metrics.PositionClosed()

	update := events.PositionUpdate{
		UserID: c.userID, Symbol: pos.Symbol, EventID: pos.EventID,
		Status: "closed", Price: exitPrice, Size: pos.Size, PnL: pnl, Timestamp: time.Now(),
	}
	c.bus.Publish(events.TopicPositionClosed, update)
	c.notifier.Notify(update)
	log.Printf("💰 user %s closed %s: exit=%.6f pnl=%.4f", c.userID, pos.Symbol, exitPrice, pnl)
	return nil
}

// fail marks the position failed and notifies once.
func (c *Coordinator) fail(ctx context.Context, pos *db.Position, cause error) error {
	if err := c.db.SetPositionStatus(ctx, pos.ID, db.PositionFailed); err != nil {
		log.Printf("⚠️ user %s: marking position %s failed: %v", c.userID, pos.ID, err)
	}
	update := events.PositionUpdate{
		UserID: c.userID, Symbol: pos.Symbol, EventID: pos.EventID,
		Status: "failed", Reason: cause.Error(), Timestamp: time.Now(),
	}
	c.bus.Publish(events.TopicPositionFailed, update)
	c.notifier.Notify(update)
	return cause
}

// review parks a partially filled position for a human and notifies once.
func (c *Coordinator) review(ctx context.Context, pos *db.Position, filledSize float64, cause error) error {
	if err := c.db.SetPositionStatus(ctx, pos.ID, db.PositionReview); err != nil {
		log.Printf("⚠️ user %s: marking position %s for review: %v", c.userID, pos.ID, err)
	}
	update := events.PositionUpdate{
		UserID: c.userID, Symbol: pos.Symbol, EventID: pos.EventID,
		Status: db.PositionReview, Size: filledSize, Reason: cause.Error(), Timestamp: time.Now(),
	}
	c.bus.Publish(events.TopicManualReview, update)
	c.notifier.Notify(update)
	return cause
}

// classifyAuth turns a venue auth rejection into a user-level action:
// credentials are bad, so trading for this user stops until they are fixed.
func (c *Coordinator) classifyAuth(ctx context.Context, err error) error {
	var apiErr *bitget.APIError
	if errors.As(err, &apiErr) && apiErr.IsAuth() {
		c.pool.Invalidate(c.userID)
		if derr := c.settings.DisableAutoTrading(ctx, c.userID, "venue rejected credentials"); derr != nil {
			log.Printf("⚠️ user %s: disabling auto-trading: %v", c.userID, derr)
		}
		c.bus.Publish(events.TopicUserDisabled, c.userID)
	}
	return err
}

// venueCall wraps a venue operation with the shared breaker, retry policy
// and latency recording.
func (c *Coordinator) venueCall(ctx context.Context, fn func() error) error {
	start := time.Now()
	err := breaker.Retry(ctx, c.retry, transientVenue, func() error {
		return c.breaker.Do(fn)
	})
	c.metrics.VenueLatency.Record(float64(time.Since(start).Milliseconds()))
	return err
}

// transientVenue retries network-level trouble; definite venue rejections
// (bad params, auth) are final.
func transientVenue(err error) bool {
	var apiErr *bitget.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (c *Coordinator) recordTrade(ctx context.Context, positionID, symbol, side string, price, qty float64) {
	err := c.db.CreateTrade(ctx, db.Trade{
		ID:         uuid.NewString(),
		PositionID: positionID,
		UserID:     c.userID,
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Qty:        qty,
	})
	if err != nil {
		log.Printf("⚠️ user %s: recording trade: %v", c.userID, err)
	}
}

func clientOID(userID, eventID string) string {
	// Venue caps client ids at 40 chars; both ids are uuids, so keep the
	// halves that stay unique together.
	u := userID
	if len(u) > 8 {
		u = u[:8]
	}
	e := eventID
	if len(e) > 30 {
		e = e[:30]
	}
	return u + "-" + e
}

func roundPrice(p float64) float64 {
	return math.Round(p*10000) / 10000
}

func roundSize(s float64) float64 {
	return math.Floor(s*1000) / 1000
}
