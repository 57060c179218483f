// Package gateway manages per-user venue Gateway instances. Credentials are
// stored encrypted; the pool decrypts them on first use, caches the built
// gateway, and evicts entries that go idle or fail authentication.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"listing-core/pkg/crypto"
	"listing-core/pkg/db"
	exchange "listing-core/pkg/exchanges/common"
)

var (
	// ErrNoCredentials means the user has no stored venue credentials.
	ErrNoCredentials = errors.New("no venue credentials for user")
)

// Factory builds a Gateway from decrypted credentials.
type Factory func(apiKey, apiSecret, passphrase string) exchange.Gateway

// cached holds one user's gateway with usage metadata.
type cached struct {
	gateway  exchange.Gateway
	userID   string
	lastUsed time.Time
}

// Pool caches one Gateway per user.
type Pool struct {
	mu       sync.RWMutex
	gateways map[string]*cached

	idleTimeout time.Duration
	keys        *crypto.KeyManager
	db          *db.Database
	factory     Factory

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates a gateway pool. idleTimeout controls how long an unused
// gateway is kept before the cleanup sweep drops it.
func NewPool(database *db.Database, keys *crypto.KeyManager, factory Factory, idleTimeout time.Duration) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Pool{
		gateways:    make(map[string]*cached),
		idleTimeout: idleTimeout,
		keys:        keys,
		db:          database,
		factory:     factory,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the idle-cleanup goroutine.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.idleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.cleanupIdle()
			}
		}
	}()
}

// Stop shuts down the cleanup goroutine and drops all cached gateways.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.gateways = make(map[string]*cached)
}

// Get returns the user's gateway, building it from stored credentials on
// first use.
func (p *Pool) Get(ctx context.Context, userID string) (exchange.Gateway, error) {
	p.mu.RLock()
	c, ok := p.gateways[userID]
	p.mu.RUnlock()
	if ok {
		p.touch(userID)
		return c.gateway, nil
	}

	return p.build(ctx, userID)
}

func (p *Pool) build(ctx context.Context, userID string) (exchange.Gateway, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring the write lock.
	if c, ok := p.gateways[userID]; ok {
		c.lastUsed = time.Now()
		return c.gateway, nil
	}

	creds, err := p.db.GetCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil {
		return nil, ErrNoCredentials
	}

	apiKey, err := p.keys.Decrypt(creds.APIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := p.keys.Decrypt(creds.APISecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt api secret: %w", err)
	}
	passphrase, err := p.keys.Decrypt(creds.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt passphrase: %w", err)
	}

	gw := p.factory(apiKey, apiSecret, passphrase)
	p.gateways[userID] = &cached{
		gateway:  gw,
		userID:   userID,
		lastUsed: time.Now(),
	}
	return gw, nil
}

// Invalidate drops a user's cached gateway. Called when credentials change
// or the venue rejects them.
func (p *Pool) Invalidate(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.gateways, userID)
}

// Size returns the number of cached gateways.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.gateways)
}

func (p *Pool) touch(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.gateways[userID]; ok {
		c.lastUsed = time.Now()
	}
}

func (p *Pool) cleanupIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for id, c := range p.gateways {
		if now.Sub(c.lastUsed) > p.idleTimeout {
			delete(p.gateways, id)
		}
	}
}
