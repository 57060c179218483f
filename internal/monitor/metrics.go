// Package monitor tracks engine-wide counters and venue call latency for
// the status API.
package monitor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks overall engine activity.
type Metrics struct {
	// Venue call latency, sliding window.
	VenueLatency *LatencyHistogram

	listingsDetected uint64
	messagesHandled  uint64
	ordersPlaced     uint64
	positionsOpened  uint64
	positionsClosed  uint64
	failures         uint64

	notionalMu    sync.Mutex
	notionalTotal float64

	startedAt time.Time
}

// NewMetrics creates a metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		VenueLatency: NewLatencyHistogram(1000),
		startedAt:    time.Now(),
	}
}

func (m *Metrics) ListingDetected() { atomic.AddUint64(&m.listingsDetected, 1) }
func (m *Metrics) MessageHandled()  { atomic.AddUint64(&m.messagesHandled, 1) }
func (m *Metrics) OrderPlaced()     { atomic.AddUint64(&m.ordersPlaced, 1) }
func (m *Metrics) PositionOpened()  { atomic.AddUint64(&m.positionsOpened, 1) }
func (m *Metrics) PositionClosed()  { atomic.AddUint64(&m.positionsClosed, 1) }
func (m *Metrics) Failure()         { atomic.AddUint64(&m.failures, 1) }

// AddNotional accumulates opened notional (entry price * size).
func (m *Metrics) AddNotional(v float64) {
	m.notionalMu.Lock()
	m.notionalTotal += v
	m.notionalMu.Unlock()
}

// Snapshot is a point-in-time view for the status endpoint.
type Snapshot struct {
	UptimeSeconds    float64      `json:"uptime_seconds"`
	ListingsDetected uint64       `json:"listings_detected"`
	MessagesHandled  uint64       `json:"messages_handled"`
	OrdersPlaced     uint64       `json:"orders_placed"`
	PositionsOpened  uint64       `json:"positions_opened"`
	PositionsClosed  uint64       `json:"positions_closed"`
	Failures         uint64       `json:"failures"`
	NotionalTotal    float64      `json:"notional_total"`
	VenueLatency     LatencyStats `json:"venue_latency"`
}

// GetSnapshot returns current counter values.
func (m *Metrics) GetSnapshot() Snapshot {
	m.notionalMu.Lock()
	notional := m.notionalTotal
	m.notionalMu.Unlock()

	return Snapshot{
		UptimeSeconds:    time.Since(m.startedAt).Seconds(),
		ListingsDetected: atomic.LoadUint64(&m.listingsDetected),
		MessagesHandled:  atomic.LoadUint64(&m.messagesHandled),
		OrdersPlaced:     atomic.LoadUint64(&m.ordersPlaced),
		PositionsOpened:  atomic.LoadUint64(&m.positionsOpened),
		PositionsClosed:  atomic.LoadUint64(&m.positionsClosed),
		Failures:         atomic.LoadUint64(&m.failures),
		NotionalTotal:    notional,
		VenueLatency:     m.VenueLatency.Stats(),
	}
}

// LatencyHistogram tracks latency samples in a sliding window.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
}

// NewLatencyHistogram creates a sliding-window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
}

// LatencyStats summarizes the current window.
type LatencyStats struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

// Stats computes percentiles over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	pct := func(p float64) float64 {
		idx := int(p * float64(n-1))
		return sorted[idx]
	}
	return LatencyStats{
		Count: n,
		P50:   pct(0.50),
		P95:   pct(0.95),
		P99:   pct(0.99),
		Max:   sorted[n-1],
	}
}
