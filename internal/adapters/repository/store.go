// Package repository persists table snapshots so a restarted pipeline can
// resume from the last accepted state.
package repository

import (
	"context"

	"github.com/okian/tablewatch/internal/domain/model"
)

// SchemaVersion is written into every persisted envelope. Later versions
// only add fields, so any version from 1 on decodes; unknown fields are
// ignored.
const SchemaVersion = 1

// Store saves and restores snapshots.
type Store interface {
	// Save durably replaces the stored snapshot. A failed save leaves the
	// previous snapshot intact.
	Save(ctx context.Context, s model.Snapshot) error

	// Load returns the stored snapshot, or nil when nothing usable is stored.
	// Missing and corrupt data are not errors; I/O failures are.
	Load(ctx context.Context) (*model.Snapshot, error)
}

// envelope is the on-disk format.
type envelope struct {
	SchemaVersion int            `json:"schema_version"`
	SavedAt       string         `json:"saved_at"`
	Snapshot      model.Snapshot `json:"snapshot"`
}
