package confidence

import "errors"

// Sentinel kinds for policy errors.
var (
	ErrInvalidThreshold = errors.New("invalid confidence threshold")
	ErrUnknownType      = errors.New("unknown field type")
)
