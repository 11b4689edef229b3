// Package buffer holds the in-memory time series collected during a live session.
//
// Two stores are provided:
//   - Readings: live meter readings with their per-source splits
//   - GridSamples: national grid demand and frequency samples
//
// Both keep parallel sequences with equivalent indices: the third date goes
// with the third value. Appends are the only mutation during a session and
// run inside a short critical section so that ingestion never blocks a
// redraw for long. Snapshot returns copies that are safe to read without
// holding any lock.
package buffer

import (
	"sync"
	"time"

	"github.com/tejusbharadwaj/currentcost/internal/models"
)

// Splitter attributes a reading to generation sources.
type Splitter interface {
	SplitBySource(kw float64) models.SourceSplit
}

// Readings is the ordered store of live meter readings.
type Readings struct {
	mu         sync.RWMutex
	splitter   Splitter
	dates      []time.Time
	values     []float64
	splits     []models.SourceSplit
	generation uint64
}

// ReadingsSnapshot is a read-only copy of the readings store. Generation
// identifies the buffer contents it was taken from; together with Len it
// names a unique version of the store.
type ReadingsSnapshot struct {
	Dates      []time.Time
	Values     []float64
	Splits     []models.SourceSplit
	Generation uint64
}

// NewReadings creates an empty store. splitter may be nil, in which case no
// per-source split is recorded beyond an empty map.
func NewReadings(splitter Splitter) *Readings {
	return &Readings{splitter: splitter}
}

// Append stores a reading taken at ts. Zero and negative readings are sensor
// noise and are discarded; Append reports whether the reading was stored.
func (r *Readings) Append(ts time.Time, kw float64) bool {
	if kw <= 0 {
		return false
	}

	split := models.SourceSplit{}
	if r.splitter != nil {
		split = r.splitter.SplitBySource(kw)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.dates = append(r.dates, ts.UTC())
	r.values = append(r.values, kw)
	r.splits = append(r.splits, split)
	return true
}

// Len returns the number of stored readings.
func (r *Readings) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dates)
}

// Snapshot returns a copy of the stored sequences.
func (r *Readings) Snapshot() ReadingsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := ReadingsSnapshot{
		Dates:      make([]time.Time, len(r.dates)),
		Values:     make([]float64, len(r.values)),
		Splits:     make([]models.SourceSplit, len(r.splits)),
		Generation: r.generation,
	}
	copy(snap.Dates, r.dates)
	copy(snap.Values, r.values)
	copy(snap.Splits, r.splits)
	return snap
}

// Reset discards every stored reading and starts a new generation. Only an
// explicit reconnect calls this.
func (r *Readings) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dates = nil
	r.values = nil
	r.splits = nil
	r.generation++
}

// Len returns the number of readings in the snapshot.
func (s ReadingsSnapshot) Len() int {
	return len(s.Dates)
}

// Readings converts the snapshot into a slice of models.Reading.
func (s ReadingsSnapshot) Readings() []models.Reading {
	out := make([]models.Reading, len(s.Dates))
	for i := range s.Dates {
		out[i] = models.Reading{Time: s.Dates[i], KW: s.Values[i]}
	}
	return out
}
