// Package settings mediates access to user trade profiles for the engine.
// Coordinators read snapshots; the engine writes only to disable trading on
// auth failures and emergency stops.
package settings

import (
	"context"
	"fmt"
	"log"

	"listing-core/pkg/db"
)

// Store is a thin domain wrapper over the profile tables.
type Store struct {
	db *db.Database
}

// NewStore wraps the database.
func NewStore(database *db.Database) *Store {
	return &Store{db: database}
}

// Snapshot returns the user's profile as it stands right now. Lifecycles
// take one snapshot at start; later edits affect future runs only.
func (s *Store) Snapshot(ctx context.Context, userID string) (*db.Profile, error) {
	p, err := s.db.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", userID, err)
	}
	return p, nil
}

// EligibleUsers lists users with auto-trading on, no emergency stop, and
// stored venue credentials.
func (s *Store) EligibleUsers(ctx context.Context) ([]string, error) {
	return s.db.ListEligibleUsers(ctx)
}

// DisableAutoTrading turns the user's auto-trading off. Reason is logged,
// not persisted.
func (s *Store) DisableAutoTrading(ctx context.Context, userID, reason string) error {
	if err := s.db.SetAutoTrading(ctx, userID, false); err != nil {
		return fmt.Errorf("disable auto-trading for %s: %w", userID, err)
	}
	log.Printf("⚠️ auto-trading disabled for user %s: %s", userID, reason)
	return nil
}

// SetEmergencyStop flips the user's emergency-stop flag.
func (s *Store) SetEmergencyStop(ctx context.Context, userID string, stopped bool) error {
	return s.db.SetEmergencyStop(ctx, userID, stopped)
}

// UpdateProfile persists operator edits to trade parameters.
func (s *Store) UpdateProfile(ctx context.Context, p db.Profile) error {
	return s.db.UpsertProfile(ctx, p)
}
