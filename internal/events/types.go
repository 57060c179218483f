package events

import "time"

// Topic enumerates high-level topics inside the execution core.
type Topic string

const (
	TopicListingDetected  Topic = "listing.detected"
	TopicPositionOpened   Topic = "position.opened"
	TopicPositionClosed   Topic = "position.closed"
	TopicPositionFailed   Topic = "position.failed"
	TopicOrderPlaced      Topic = "order.placed"
	TopicOrderFilled      Topic = "order.filled"
	TopicTakeProfitArmed  Topic = "takeprofit.armed"
	TopicEmergencyStop    Topic = "emergency.stop"
	TopicBreakerOpened    Topic = "breaker.opened"
	TopicBreakerClosed    Topic = "breaker.closed"
	TopicUserDisabled     Topic = "user.disabled"
	TopicManualReview     Topic = "position.manual_review"
	TopicQueueBacklogHigh Topic = "queue.backlog_high"
)

// ListingEvent is the unit of work flowing from the detector through the
// queue to per-user coordinators.
type ListingEvent struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Source     string    `json:"source"`
	Confidence string    `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

// PositionUpdate carries position lifecycle state for subscribers
// (notifications, websocket clients).
type PositionUpdate struct {
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	EventID   string    `json:"event_id"`
	Status    string    `json:"status"`
	Price     float64   `json:"price,omitempty"`
	Size      float64   `json:"size,omitempty"`
	PnL       float64   `json:"pnl,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
