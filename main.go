package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"listing-core/internal/api"
	"listing-core/internal/baseline"
	"listing-core/internal/coordinator"
	"listing-core/internal/detector"
	"listing-core/internal/engine"
	"listing-core/internal/events"
	"listing-core/internal/gateway"
	"listing-core/internal/monitor"
	"listing-core/internal/notify"
	"listing-core/internal/queue"
	"listing-core/internal/settings"
	"listing-core/internal/supervisor"
	"listing-core/pkg/breaker"
	"listing-core/pkg/config"
	"listing-core/pkg/crypto"
	"listing-core/pkg/db"
	"listing-core/pkg/listing"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}

	keys, err := crypto.NewKeyManager()
	if err != nil {
		log.Fatalf("❌ encryption keys: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ migrations: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable queue: recover orphans from a previous run before consuming.
	q, err := queue.New(cfg.QueueDir, cfg.QueueMaxAttempts, queue.Owner())
	if err != nil {
		log.Fatalf("❌ queue: %v", err)
	}
	if _, err := q.Recover(); err != nil {
		log.Fatalf("❌ queue recovery: %v", err)
	}

	base := baseline.NewStore(database)
	if err := base.Load(ctx); err != nil {
		log.Fatalf("❌ baseline: %v", err)
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics()
	st := settings.NewStore(database)
	hub := notify.NewHub()
	notifier := notify.Multi{notify.LogSink{}, hub}

	// Forward listing detections to operator consoles. Low-confidence
	// announcement events surface here so an operator can confirm them
	// through the manual trade endpoint.
	listingCh, unsubListing := bus.Subscribe(events.TopicListingDetected, 32)
	defer unsubListing()
	go func() {
		for raw := range listingCh {
			ev, ok := raw.(events.ListingEvent)
			if !ok {
				continue
			}
			hub.Notify(events.PositionUpdate{
				Symbol:    ev.Symbol,
				EventID:   ev.ID,
				Status:    "listing-detected",
				Reason:    ev.Source + "/" + ev.Confidence,
				Timestamp: ev.DetectedAt,
			})
		}
	}()

	// One breaker per upstream dependency.
	sourceBreaker := breaker.New(cfg.BreakerThreshold, cfg.BreakerTimeout)
	venueBreaker := breaker.New(cfg.BreakerThreshold, cfg.BreakerTimeout)
	retry := breaker.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}

	pool := gateway.NewPool(database, keys, gateway.BitgetFactory(cfg.VenueBaseURL), 30*time.Minute)
	pool.Start(ctx)
	defer pool.Stop()

	coordCfg := engineCoordinatorConfig(cfg)
	sup := supervisor.New(q, st, pool, database, notifier, bus, metrics,
		venueBreaker, retry, coordCfg, cfg.SupervisorInterval, cfg.ShutdownGrace)
	if err := sup.Start(ctx); err != nil {
		log.Fatalf("❌ supervisor: %v", err)
	}

	source := listing.NewClient(cfg.ListingSourceURL)
	det := detector.New(source, base, q, bus, metrics, sourceBreaker, retry, cfg.DetectorInterval)
	if cfg.AnnouncementURL != "" {
		det.WithAnnouncements(listing.NewNoticeClient(cfg.AnnouncementURL))
	}
	go det.Run(ctx)

	svc := &engine.Service{
		DB:            database,
		Keys:          keys,
		Queue:         q,
		Baseline:      base,
		Settings:      st,
		Supervisor:    sup,
		Pool:          pool,
		Metrics:       metrics,
		SourceBreaker: sourceBreaker,
		VenueBreaker:  venueBreaker,
	}
	server := api.NewServer(svc, hub, cfg.JWTSecret)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}
	go func() {
		log.Printf("🚀 listing-core listening on :%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ http server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("received %s, shutting down", sig)

	// Stop intake first, then let in-flight lifecycles finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ http shutdown: %v", err)
	}
	sup.Stop()
	cancel()
	log.Println("✓ shutdown complete")
}

func engineCoordinatorConfig(cfg *config.Config) coordinator.Config {
	return coordinator.Config{
		SafetyBuffer:  cfg.SafetyBuffer,
		MinNotional:   cfg.MinNotional,
		FillTimeout:   cfg.FillTimeout,
		FillPollEvery: cfg.FillPollEvery,
		MarkPollEvery: cfg.MarkPollEvery,
		MarginCoin:    "USDT",
	}
}
