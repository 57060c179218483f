// Package supervisor keeps exactly one coordinator per eligible user and
// feeds them from the durable queue.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"listing-core/internal/coordinator"
	"listing-core/internal/events"
	"listing-core/internal/monitor"
	"listing-core/internal/notify"
	"listing-core/internal/queue"
	"listing-core/internal/settings"
	"listing-core/pkg/breaker"
	"listing-core/pkg/db"
)

// ManualTrade is the payload of a manual-trade queue message.
type ManualTrade struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
}

// EmergencyStop is the payload of an emergency-stop queue message. An empty
// UserID stops every user.
type EmergencyStop struct {
	UserID string `json:"user_id"`
}

// Supervisor reconciles the coordinator set against user eligibility and
// dispatches queue messages.
type Supervisor struct {
	queue    *queue.Queue
	settings *settings.Store
	pool     coordinator.GatewayProvider
	db       *db.Database
	notifier notify.Notifier
	bus      *events.Bus
	metrics  *monitor.Metrics
	breaker  *breaker.Breaker
	retry    breaker.RetryPolicy
	coordCfg coordinator.Config

	interval time.Duration
	grace    time.Duration

	mu     sync.Mutex
	coords map[string]*coordinator.Coordinator

	cancel   context.CancelFunc
	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires a supervisor. interval is the eligibility poll period; grace is
// how long shutdown waits for in-flight lifecycles.
func New(q *queue.Queue, st *settings.Store, pool coordinator.GatewayProvider, database *db.Database, notifier notify.Notifier, bus *events.Bus, metrics *monitor.Metrics, brk *breaker.Breaker, retry breaker.RetryPolicy, coordCfg coordinator.Config, interval, grace time.Duration) *Supervisor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Supervisor{
		queue:    q,
		settings: st,
		pool:     pool,
		db:       database,
		notifier: notifier,
		bus:      bus,
		metrics:  metrics,
		breaker:  brk,
		retry:    retry,
		coordCfg: coordCfg,
		interval: interval,
		grace:    grace,
		coords:   make(map[string]*coordinator.Coordinator),
		stopped:  make(chan struct{}),
	}
}

// Start launches the reconcile and consume loops.
func (s *Supervisor) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	if err := s.reconcile(ctx); err != nil {
		cancel()
		return fmt.Errorf("initial reconcile: %w", err)
	}

	s.wg.Add(2)
	go s.reconcileLoop(ctx)
	go s.consumeLoop(ctx)
	log.Printf("supervisor started: %d coordinators", s.coordinatorCount())
	return nil
}

// Stop drains coordinators and waits up to the grace period for in-flight
// lifecycles before returning. Pending messages stay on disk for the next
// run. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })

	s.mu.Lock()
	coords := make([]*coordinator.Coordinator, 0, len(s.coords))
	for _, c := range s.coords {
		c.Drain()
		coords = append(coords, c)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, c := range coords {
			c.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		log.Println("✓ supervisor: all coordinators drained")
	case <-time.After(s.grace):
		log.Println("⚠️ supervisor: grace period expired with lifecycles in flight")
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Supervisor) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case <-ticker.C:
			if err := s.reconcile(ctx); err != nil {
				log.Printf("⚠️ supervisor reconcile: %v", err)
			}
		}
	}
}

// reconcile creates coordinators for newly eligible users and drains the
// ones whose users dropped out. Draining lets an in-flight lifecycle finish;
// nothing is hard-killed.
func (s *Supervisor) reconcile(ctx context.Context) error {
	eligible, err := s.settings.EligibleUsers(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(eligible))
	for _, id := range eligible {
		want[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range want {
		if _, ok := s.coords[id]; ok {
			continue
		}
		c := coordinator.New(id, s.pool, s.settings, s.db, s.notifier, s.bus, s.metrics, s.breaker, s.retry, s.coordCfg)
		// Resume before the coordinator is visible to dispatch, so the
		// restart snapshot cannot race a fresh claim for the same user.
		c.Resume(ctx)
		c.Start(ctx)
		s.coords[id] = c
		log.Printf("✓ coordinator started for user %s", id)
	}

	for id, c := range s.coords {
		if want[id] {
			continue
		}
		c.Drain()
		delete(s.coords, id)
		log.Printf("coordinator draining for user %s (no longer eligible)", id)
	}
	return nil
}

func (s *Supervisor) consumeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		default:
		}

		msg, err := s.queue.DequeueNext()
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) {
				log.Printf("⚠️ supervisor dequeue: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-s.stopped:
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		if err := s.dispatch(ctx, msg); err != nil {
			if ferr := s.queue.Fail(msg, err); ferr != nil {
				log.Printf("⚠️ supervisor: failing message %s: %v", msg.ID, ferr)
			}
			continue
		}
		if err := s.queue.Complete(msg); err != nil {
			log.Printf("⚠️ supervisor: completing message %s: %v", msg.ID, err)
		}
	}
}

// dispatch routes one message. Listing events fan out to every coordinator;
// a single full inbox fails the whole message so no user misses a listing.
func (s *Supervisor) dispatch(ctx context.Context, msg *queue.Message) error {
	switch msg.Kind {
	case queue.KindListingEvent:
		var ev events.ListingEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode listing event: %w", err)
		}
		return s.fanOut(ctx, ev)

	case queue.KindManualTrade:
		var mt ManualTrade
		if err := json.Unmarshal(msg.Payload, &mt); err != nil {
			return fmt.Errorf("decode manual trade: %w", err)
		}
		// The message ID doubles as the event ID so a redelivered manual
		// trade hits the same idempotency key instead of opening twice.
		return s.submitTo(ctx, mt.UserID, events.ListingEvent{
			ID:         msg.ID,
			Symbol:     mt.Symbol,
			Source:     "manual",
			Confidence: "high",
			DetectedAt: time.Now(),
		})

	case queue.KindEmergencyStop:
		var es EmergencyStop
		if err := json.Unmarshal(msg.Payload, &es); err != nil {
			return fmt.Errorf("decode emergency stop: %w", err)
		}
		return s.emergencyStop(ctx, es.UserID)

	default:
		log.Printf("supervisor: ignoring message kind %s", msg.Kind)
		return nil
	}
}

// fanOut delivers one listing event to every coordinator. Each delivery is
// claimed in the database before the event is buffered, so by the time the
// queue message is acked every user has a durable position row; a crash
// after the ack surfaces through Resume instead of losing the listing.
func (s *Supervisor) fanOut(ctx context.Context, ev events.ListingEvent) error {
	s.mu.Lock()
	coords := make([]*coordinator.Coordinator, 0, len(s.coords))
	for _, c := range s.coords {
		coords = append(coords, c)
	}
	s.mu.Unlock()

	for _, c := range coords {
		if _, err := c.Claim(ctx, ev); err != nil {
			return fmt.Errorf("claim %s for user %s: %w", ev.Symbol, c.UserID(), err)
		}
		if err := c.Submit(ev); err != nil {
			return fmt.Errorf("submit %s to user %s: %w", ev.Symbol, c.UserID(), err)
		}
	}
	return nil
}

func (s *Supervisor) submitTo(ctx context.Context, userID string, ev events.ListingEvent) error {
	s.mu.Lock()
	c, ok := s.coords[userID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active coordinator for user %s", userID)
	}
	if _, err := c.Claim(ctx, ev); err != nil {
		return fmt.Errorf("claim %s for user %s: %w", ev.Symbol, userID, err)
	}
	return c.Submit(ev)
}

func (s *Supervisor) emergencyStop(ctx context.Context, userID string) error {
	s.mu.Lock()
	targets := make([]*coordinator.Coordinator, 0, 1)
	if userID == "" {
		for _, c := range s.coords {
			targets = append(targets, c)
		}
	} else if c, ok := s.coords[userID]; ok {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	// A user can hold positions with no live coordinator, for example after
	// an auth failure disabled auto-trading. The stop still has to flatten
	// their venue positions.
	if userID != "" && len(targets) == 0 {
		return s.emergencyStopOffline(ctx, userID)
	}

	for _, c := range targets {
		if err := s.settings.SetEmergencyStop(ctx, c.UserID(), true); err != nil {
			return err
		}
		if err := c.EmergencyStop(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) emergencyStopOffline(ctx context.Context, userID string) error {
	if err := s.settings.SetEmergencyStop(ctx, userID, true); err != nil {
		return err
	}
	if s.pool == nil {
		return fmt.Errorf("no gateway pool to flatten positions for user %s", userID)
	}
	gw, err := s.pool.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("emergency stop for offline user %s: %w", userID, err)
	}
	if err := s.breaker.Do(func() error {
		return gw.CloseAllPositions(ctx)
	}); err != nil {
		return fmt.Errorf("emergency close for offline user %s: %w", userID, err)
	}
	if err := s.settings.DisableAutoTrading(ctx, userID, "emergency stop"); err != nil {
		return err
	}
	s.bus.Publish(events.TopicEmergencyStop, userID)
	log.Printf("🛑 emergency stop executed for offline user %s", userID)
	return nil
}

// EnqueueManualTrade queues a manual trade for one user.
func (s *Supervisor) EnqueueManualTrade(userID, symbol string) error {
	_, err := s.queue.Enqueue(queue.KindManualTrade, ManualTrade{UserID: userID, Symbol: symbol})
	return err
}

// EnqueueEmergencyStop queues an emergency stop; empty userID means all
// users.
func (s *Supervisor) EnqueueEmergencyStop(userID string) error {
	_, err := s.queue.Enqueue(queue.KindEmergencyStop, EmergencyStop{UserID: userID})
	return err
}

// ActiveUsers lists users with a running coordinator.
func (s *Supervisor) ActiveUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.coords))
	for id := range s.coords {
		users = append(users, id)
	}
	return users
}

func (s *Supervisor) coordinatorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.coords)
}
