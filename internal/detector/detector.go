// Package detector polls the listing source and turns baseline misses into
// durable listing events.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"listing-core/internal/baseline"
	"listing-core/internal/events"
	"listing-core/internal/monitor"
	"listing-core/internal/queue"
	"listing-core/pkg/breaker"
	pkglisting "listing-core/pkg/listing"
)

// Source supplies the current symbol universe. *listing.Client satisfies it.
type Source interface {
	FetchSymbols(ctx context.Context) ([]string, error)
}

// NoticeSource supplies recent announcement titles. *listing.NoticeClient
// satisfies it.
type NoticeSource interface {
	FetchNotices(ctx context.Context) ([]pkglisting.Notice, error)
}

// Detector diffs the universe against the baseline on a fixed interval.
type Detector struct {
	source   Source
	store    *baseline.Store
	queue    *queue.Queue
	bus      *events.Bus
	metrics  *monitor.Metrics
	breaker  *breaker.Breaker
	retry    breaker.RetryPolicy
	interval time.Duration

	notices     NoticeSource
	seenNotices map[int64]bool
}

// New creates a detector. The breaker guards the listing source; venue
// calls have their own.
func New(source Source, store *baseline.Store, q *queue.Queue, bus *events.Bus, metrics *monitor.Metrics, brk *breaker.Breaker, retry breaker.RetryPolicy, interval time.Duration) *Detector {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Detector{
		source:   source,
		store:    store,
		queue:    q,
		bus:      bus,
		metrics:  metrics,
		breaker:  brk,
		retry:    retry,
		interval: interval,
	}
}

// WithAnnouncements attaches an announcement board as a secondary source.
// Symbols pulled out of notice titles are published low-confidence only;
// they never trade automatically and never touch the baseline.
func (d *Detector) WithAnnouncements(src NoticeSource) *Detector {
	d.notices = src
	d.seenNotices = make(map[int64]bool)
	return d
}

// Run polls until ctx is cancelled. The first tick happens immediately.
func (d *Detector) Run(ctx context.Context) {
	log.Printf("detector started: interval=%s", d.interval)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.Tick(ctx); err != nil {
			if !errors.Is(err, breaker.ErrCircuitOpen) {
				log.Printf("⚠️ detector: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			log.Println("detector stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one poll cycle: fetch, seed-or-diff, enqueue.
func (d *Detector) Tick(ctx context.Context) error {
	var universe []string
	err := breaker.Retry(ctx, d.retry, transientFetch, func() error {
		return d.breaker.Do(func() error {
			var ferr error
			universe, ferr = d.source.FetchSymbols(ctx)
			return ferr
		})
	})
	if err != nil {
		// Source faults never mutate the baseline.
		return fmt.Errorf("fetch universe: %w", err)
	}

	// Cold start: adopt the whole universe silently. Everything already
	// listed predates us and must not fire events.
	if d.store.Empty() {
		if err := d.store.Add(ctx, universe...); err != nil {
			return err
		}
		log.Printf("✓ baseline seeded with %d symbols", len(universe))
		return nil
	}

	fresh := d.store.Diff(universe)
	for _, symbol := range fresh {
		ev := events.ListingEvent{
			ID:         uuid.NewString(),
			Symbol:     symbol,
			Source:     "market-list",
			Confidence: string(pkglisting.ConfidenceHigh),
			DetectedAt: time.Now(),
		}
		// Enqueue before committing to the baseline: a crash in between
		// re-detects the symbol next tick and the queue deduplicates
		// nothing, but coordinators do (idempotency key), so the failure
		// mode is a duplicate event, never a lost one.
		if _, err := d.queue.Enqueue(queue.KindListingEvent, ev); err != nil {
			return fmt.Errorf("enqueue listing event for %s: %w", symbol, err)
		}
		if err := d.store.Add(ctx, symbol); err != nil {
			return fmt.Errorf("commit %s to baseline: %w", symbol, err)
		}
		d.metrics.ListingDetected()
		d.bus.Publish(events.TopicListingDetected, ev)
		log.Printf("🚀 new listing detected: %s (event %s)", symbol, ev.ID)
	}

	if d.notices != nil {
		if err := d.tickNotices(ctx); err != nil {
			// Best-effort source: a broken notice board never fails a tick.
			log.Printf("⚠️ notice poll: %v", err)
		}
	}
	return nil
}

// tickNotices scans unseen announcement titles for listing notices and
// publishes any extracted symbols as low-confidence events. Operators act
// on these through the manual trade endpoint after confirming them.
func (d *Detector) tickNotices(ctx context.Context) error {
	notices, err := d.notices.FetchNotices(ctx)
	if err != nil {
		return err
	}
	for _, n := range notices {
		if d.seenNotices[n.ID] {
			continue
		}
		d.seenNotices[n.ID] = true
		if !pkglisting.IsListingAnnouncement(n.Title) {
			continue
		}
		for _, base := range pkglisting.ExtractSymbols(n.Title) {
			symbol, ok := pkglisting.PerpSymbol("USDT-" + base)
			if !ok || d.store.Contains(symbol) {
				continue
			}
			ev := events.ListingEvent{
				ID:         uuid.NewString(),
				Symbol:     symbol,
				Source:     "announcement",
				Confidence: string(pkglisting.ConfidenceLow),
				DetectedAt: time.Now(),
			}
			d.bus.Publish(events.TopicListingDetected, ev)
			log.Printf("📢 announcement hints at listing: %s (notice %d, awaiting confirmation)", symbol, n.ID)
		}
	}
	return nil
}

// transientFetch treats every source error as retryable; the source is
// read-only so repeating a fetch is always safe.
func transientFetch(err error) bool {
	return !errors.Is(err, pkglisting.ErrEmptyUniverse)
}
