// Package generation tracks where national electricity is coming from and
// attributes live readings to generation sources.
package generation

import (
	"sync"

	"github.com/tejusbharadwaj/currentcost/internal/models"
)

// Mix holds the latest known energy mix. The generation feed replaces it
// wholesale on every successful poll; the acquisition path reads it when
// splitting a new reading.
type Mix struct {
	mu  sync.RWMutex
	mix models.EnergyMix
}

func NewMix() *Mix {
	return &Mix{mix: models.DefaultEnergyMix()}
}

// Set replaces the current mix. Sources missing from mix keep a negligible
// share so every source is always present.
func (m *Mix) Set(mix models.EnergyMix) {
	next := models.DefaultEnergyMix()
	next[models.SourceUnknown] = models.NegligibleShare
	for _, s := range models.Sources {
		if v, ok := mix[s]; ok {
			next[s] = v
		}
	}

	m.mu.Lock()
	m.mix = next
	m.mu.Unlock()
}

// Get returns a copy of the current mix.
func (m *Mix) Get() models.EnergyMix {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mix.Clone()
}

// Reset restores the default mix, attributing everything to UNKNOWN.
func (m *Mix) Reset() {
	m.mu.Lock()
	m.mix = models.DefaultEnergyMix()
	m.mu.Unlock()
}

// SplitBySource estimates how much of a reading came from each source.
func (m *Mix) SplitBySource(kw float64) models.SourceSplit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	split := make(models.SourceSplit, len(models.Sources))
	for _, s := range models.Sources {
		split[s] = (m.mix[s] / 100) * kw
	}
	return split
}
