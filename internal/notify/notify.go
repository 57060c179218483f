// Package notify delivers lifecycle notifications to operators. Delivery is
// fire-and-forget: a slow or absent sink never blocks the trading path.
package notify

import (
	"log"

	"listing-core/internal/events"
)

// Notifier receives one notification per terminal lifecycle outcome plus
// selected progress updates.
type Notifier interface {
	Notify(update events.PositionUpdate)
}

// LogSink writes notifications to the process log. Always present, so a
// terminal outcome is recorded even with no console connected.
type LogSink struct{}

// Notify implements Notifier.
func (LogSink) Notify(u events.PositionUpdate) {
	switch u.Status {
	case "closed":
		log.Printf("💰 user %s %s closed: pnl=%.4f", u.UserID, u.Symbol, u.PnL)
	case "failed", "needs-manual-review":
		log.Printf("❌ user %s %s %s: %s", u.UserID, u.Symbol, u.Status, u.Reason)
	default:
		log.Printf("✓ user %s %s %s", u.UserID, u.Symbol, u.Status)
	}
}

// Multi fans a notification out to several sinks.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(u events.PositionUpdate) {
	for _, n := range m {
		n.Notify(u)
	}
}
