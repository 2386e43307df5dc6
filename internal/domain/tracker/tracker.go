// Package tracker aggregates per-field detection statistics.
package tracker

import (
	"sort"
	"sync"

	"github.com/okian/tablewatch/internal/domain/model"
)

// Sample is one detection outcome.
type Sample struct {
	Type       model.FieldType
	Success    bool
	Confidence float64
	DurationMS float64
	Cached     bool
	// NoReading marks a failure that produced no value. It counts as an
	// attempt but stays out of the confidence and duration aggregates.
	NoReading bool
}

// Record is a read-only snapshot of the statistics of one field type.
// Duration aggregates cover fresh recognitions only; cache hits are counted
// separately so they do not skew latency.
type Record struct {
	Type          model.FieldType `json:"type"`
	Count         int64           `json:"count"`
	SuccessCount  int64           `json:"success_count"`
	CacheHits     int64           `json:"cache_hits"`
	ConfidenceMin float64         `json:"confidence_min"`
	ConfidenceMax float64         `json:"confidence_max"`
	ConfidenceAvg float64         `json:"confidence_avg"`
	DurationMinMS float64         `json:"duration_min_ms"`
	DurationMaxMS float64         `json:"duration_max_ms"`
	DurationAvgMS float64         `json:"duration_avg_ms"`
}

// SuccessRate returns SuccessCount/Count, or 0 when nothing was recorded.
func (r Record) SuccessRate() float64 {
	if r.Count == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.Count)
}

type entry struct {
	mu      sync.Mutex
	rec     Record
	confSum float64
	durSum  float64
	reads   int64
	fresh   int64
}

// Tracker is safe for concurrent use. Each field type has its own lock so
// unrelated fields never contend.
type Tracker struct {
	mu      sync.RWMutex
	entries map[model.FieldType]*entry
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[model.FieldType]*entry)}
}

func (t *Tracker) entry(ft model.FieldType) *entry {
	t.mu.RLock()
	e, ok := t.entries[ft]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[ft]; !ok {
		e = &entry{rec: Record{Type: ft}}
		t.entries[ft] = e
	}
	return e
}

// Record folds s into the statistics of its type. It never panics; a nil
// tracker ignores the sample.
func (t *Tracker) Record(s Sample) {
	if t == nil {
		return
	}
	defer func() { _ = recover() }()

	e := t.entry(s.Type)
	e.mu.Lock()
	defer e.mu.Unlock()

	r := &e.rec
	r.Count++
	if s.Success {
		r.SuccessCount++
	}
	if s.NoReading {
		return
	}
	e.reads++
	if e.reads == 1 || s.Confidence < r.ConfidenceMin {
		r.ConfidenceMin = s.Confidence
	}
	if e.reads == 1 || s.Confidence > r.ConfidenceMax {
		r.ConfidenceMax = s.Confidence
	}
	e.confSum += s.Confidence
	r.ConfidenceAvg = e.confSum / float64(e.reads)

	if s.Cached {
		r.CacheHits++
		return
	}
	e.fresh++
	if e.fresh == 1 || s.DurationMS < r.DurationMinMS {
		r.DurationMinMS = s.DurationMS
	}
	if e.fresh == 1 || s.DurationMS > r.DurationMaxMS {
		r.DurationMaxMS = s.DurationMS
	}
	e.durSum += s.DurationMS
	r.DurationAvgMS = e.durSum / float64(e.fresh)
}

// Get returns the statistics of ft and whether any sample was recorded.
func (t *Tracker) Get(ft model.FieldType) (Record, bool) {
	if t == nil {
		return Record{}, false
	}
	t.mu.RLock()
	e, ok := t.entries[ft]
	t.mu.RUnlock()
	if !ok {
		return Record{Type: ft}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// All returns a snapshot of every tracked type ordered by type name.
func (t *Tracker) All() []Record {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	types := make([]model.FieldType, 0, len(t.entries))
	for ft := range t.entries {
		types = append(types, ft)
	}
	t.mu.RUnlock()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	out := make([]Record, 0, len(types))
	for _, ft := range types {
		if r, ok := t.Get(ft); ok {
			out = append(out, r)
		}
	}
	return out
}

// Reset drops all statistics.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.entries = make(map[model.FieldType]*entry)
	t.mu.Unlock()
}
