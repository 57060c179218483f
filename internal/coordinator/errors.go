package coordinator

import "errors"

var (
	// ErrInsufficientBalance aborts a lifecycle when usable balance is below
	// the venue minimum notional. Not retried: balance does not recover on
	// a retry timescale.
	ErrInsufficientBalance = errors.New("insufficient balance for minimum notional")

	// ErrPartialFillTimeout marks a lifecycle whose entry order did not fill
	// completely in time. The position needs a human; a blind retry could
	// double the exposure.
	ErrPartialFillTimeout = errors.New("order not fully filled before timeout")

	// ErrInboxFull is returned by Submit when the coordinator cannot accept
	// more work; the caller should leave the message queued.
	ErrInboxFull = errors.New("coordinator inbox is full")
)
