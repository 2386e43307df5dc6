package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/pkg/logger"
	"github.com/okian/tablewatch/pkg/metrics"
)

// FileStore keeps the snapshot in a single JSON file. Saves write a
// temporary file in the same directory, sync it and rename it over the
// target, so readers only ever see a complete snapshot.
type FileStore struct {
	path string
	log  logger.Logger
	now  func() time.Time

	mu sync.Mutex
}

// NewFileStore creates a store for path.
func NewFileStore(path string, opts ...Option) *FileStore {
	s := &FileStore{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("repository")
	}
	return s
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string { return s.path }

// Save writes snap atomically.
func (s *FileStore) Save(ctx context.Context, snap model.Snapshot) error { //nolint:gocritic // hugeParam: snapshots are values
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(envelope{
		SchemaVersion: SchemaVersion,
		SavedAt:       s.now().UTC().Format(time.RFC3339Nano),
		Snapshot:      snap,
	})
	if err != nil {
		return s.saveFailed(ctx, "encode", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.saveFailed(ctx, "mkdir", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return s.saveFailed(ctx, "create temp", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return s.saveFailed(ctx, "write", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return s.saveFailed(ctx, "sync", err)
	}
	if err := tmp.Close(); err != nil {
		return s.saveFailed(ctx, "close", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return s.saveFailed(ctx, "rename", err)
	}
	committed = true
	syncDir(dir)

	metrics.RecordPersistenceSave(float64(time.Since(start).Microseconds())/1000, s.now().Unix())
	s.log.Debug(ctx, "snapshot saved", logger.String("path", s.path), logger.Int("bytes", len(data)))
	return nil
}

func (s *FileStore) saveFailed(ctx context.Context, step string, err error) error {
	metrics.RecordPersistenceError("save")
	s.log.Error(ctx, "snapshot save failed",
		logger.String("path", s.path),
		logger.String("step", step),
		logger.Error(err),
	)
	return fmt.Errorf("%w: %s: %w", ErrSave, step, err)
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Load reads the stored snapshot. A missing file yields nil; an unreadable
// file or one without a valid schema version is logged and also yields nil.
func (s *FileStore) Load(ctx context.Context) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info(ctx, "no stored snapshot", logger.String("path", s.path))
		return nil, nil
	}
	if err != nil {
		metrics.RecordPersistenceError("load")
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return s.corrupt(ctx, "decode", err)
	}
	if env.SchemaVersion < 1 {
		return s.corrupt(ctx, "schema", fmt.Errorf("schema version %d is not a valid version", env.SchemaVersion))
	}
	if env.SchemaVersion > SchemaVersion {
		s.log.Info(ctx, "loading snapshot written by a newer schema",
			logger.Int("schema_version", env.SchemaVersion),
			logger.Int("known_version", SchemaVersion),
		)
	}
	return &env.Snapshot, nil
}

func (s *FileStore) corrupt(ctx context.Context, step string, err error) (*model.Snapshot, error) {
	metrics.RecordPersistenceError("corrupt")
	s.log.Warn(ctx, "ignoring unusable snapshot",
		logger.String("path", s.path),
		logger.String("step", step),
		logger.Error(err),
	)
	return nil, nil
}
