package buffer

import (
	"sync"
	"time"

	"github.com/tejusbharadwaj/currentcost/internal/models"
)

// GridSamples is the ordered store of national grid demand and frequency.
type GridSamples struct {
	mu        sync.RWMutex
	dates     []time.Time
	demand    []float64
	frequency []float64
	zeroLine  []float64
}

// GridSnapshot is a read-only copy of the grid store.
type GridSnapshot struct {
	Dates     []time.Time
	Demand    []float64
	Frequency []float64
	ZeroLine  []float64
}

// NewGridSamples creates an empty store.
func NewGridSamples() *GridSamples {
	return &GridSamples{}
}

// Append stores one demand/frequency sample. The zero line is always the
// nominal grid frequency.
func (g *GridSamples) Append(ts time.Time, demandMW, frequencyHz float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dates = append(g.dates, ts.UTC())
	g.demand = append(g.demand, demandMW)
	g.frequency = append(g.frequency, frequencyHz)
	g.zeroLine = append(g.zeroLine, models.FrequencyZero)
}

// Len returns the number of stored samples.
func (g *GridSamples) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.dates)
}

// Snapshot returns a copy of the stored sequences.
func (g *GridSamples) Snapshot() GridSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := GridSnapshot{
		Dates:     make([]time.Time, len(g.dates)),
		Demand:    make([]float64, len(g.demand)),
		Frequency: make([]float64, len(g.frequency)),
		ZeroLine:  make([]float64, len(g.zeroLine)),
	}
	copy(snap.Dates, g.dates)
	copy(snap.Demand, g.demand)
	copy(snap.Frequency, g.frequency)
	copy(snap.ZeroLine, g.zeroLine)
	return snap
}

// Len returns the number of samples in the snapshot.
func (s GridSnapshot) Len() int {
	return len(s.Dates)
}

// Samples converts the snapshot into a slice of models.GridSample.
func (s GridSnapshot) Samples() []models.GridSample {
	out := make([]models.GridSample, len(s.Dates))
	for i := range s.Dates {
		out[i] = models.GridSample{
			Time:        s.Dates[i],
			DemandMW:    s.Demand[i],
			FrequencyHz: s.Frequency[i],
			ZeroLine:    s.ZeroLine[i],
		}
	}
	return out
}
