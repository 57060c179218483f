// Package engine bundles the running components behind one facade for the
// API layer.
package engine

import (
	"context"

	"listing-core/internal/baseline"
	"listing-core/internal/coordinator"
	"listing-core/internal/monitor"
	"listing-core/internal/queue"
	"listing-core/internal/settings"
	"listing-core/internal/supervisor"
	"listing-core/pkg/breaker"
	"listing-core/pkg/crypto"
	"listing-core/pkg/db"
)

// Service exposes engine state and operator actions to the API.
type Service struct {
	DB            *db.Database
	Keys          *crypto.KeyManager
	Queue         *queue.Queue
	Baseline      *baseline.Store
	Settings      *settings.Store
	Supervisor    *supervisor.Supervisor
	Pool          coordinator.GatewayProvider
	Metrics       *monitor.Metrics
	SourceBreaker *breaker.Breaker
	VenueBreaker  *breaker.Breaker
}

// Status is the engine-level view for the status endpoint.
type Status struct {
	QueueDepth    int              `json:"queue_depth"`
	QueueMetrics  queue.Metrics    `json:"queue_metrics"`
	BaselineSize  int              `json:"baseline_size"`
	ActiveUsers   []string         `json:"active_users"`
	SourceBreaker breaker.State    `json:"source_breaker"`
	VenueBreaker  breaker.State    `json:"venue_breaker"`
	Metrics       monitor.Snapshot `json:"metrics"`
}

// GetStatus collects the current engine status.
func (s *Service) GetStatus() (Status, error) {
	depth, err := s.Queue.Depth()
	if err != nil {
		return Status{}, err
	}
	return Status{
		QueueDepth:    depth,
		QueueMetrics:  s.Queue.GetMetrics(),
		BaselineSize:  s.Baseline.Size(),
		ActiveUsers:   s.Supervisor.ActiveUsers(),
		SourceBreaker: s.SourceBreaker.State(),
		VenueBreaker:  s.VenueBreaker.State(),
		Metrics:       s.Metrics.GetSnapshot(),
	}, nil
}

// ManualTrade queues a manual entry for one user.
func (s *Service) ManualTrade(userID, symbol string) error {
	return s.Supervisor.EnqueueManualTrade(userID, symbol)
}

// EmergencyStop queues an emergency stop; empty userID stops everyone.
func (s *Service) EmergencyStop(userID string) error {
	return s.Supervisor.EnqueueEmergencyStop(userID)
}

// SaveCredentials encrypts and stores a user's venue credentials, then
// invalidates any cached gateway built from the old ones.
func (s *Service) SaveCredentials(ctx context.Context, userID, apiKey, apiSecret, passphrase string) error {
	encKey, err := s.Keys.Encrypt(apiKey)
	if err != nil {
		return err
	}
	encSecret, err := s.Keys.Encrypt(apiSecret)
	if err != nil {
		return err
	}
	encPass, err := s.Keys.Encrypt(passphrase)
	if err != nil {
		return err
	}
	if err := s.DB.SaveCredentials(ctx, db.Credentials{
		UserID:     userID,
		APIKey:     encKey,
		APISecret:  encSecret,
		Passphrase: encPass,
	}); err != nil {
		return err
	}
	if s.Pool != nil {
		s.Pool.Invalidate(userID)
	}
	return nil
}
