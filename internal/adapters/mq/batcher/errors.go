package batcher

import "errors"

// Sentinel kinds for batch delivery.
var (
	ErrDelivery = errors.New("batch delivery failed")
	ErrClosed   = errors.New("batcher closed")
)
