package model

import "errors"

// Sentinel kinds for model errors.
var (
	ErrInvalidCard      = errors.New("invalid card symbol")
	ErrUnknownFieldType = errors.New("unknown field type")
	ErrInvalidPayload   = errors.New("invalid payload")
)
