package repository

import "errors"

// Sentinel kinds for persistence errors.
var (
	ErrSave = errors.New("snapshot save failed")
	ErrLoad = errors.New("snapshot load failed")
)
