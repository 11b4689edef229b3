package models

import "time"

// Reading represents a single live power measurement from the meter
type Reading struct {
	Time time.Time `json:"time"`
	KW   float64   `json:"kw"`
}

// GridSample represents one poll of national grid demand and frequency
type GridSample struct {
	Time        time.Time `json:"time"`
	DemandMW    float64   `json:"demand_mw"`
	FrequencyHz float64   `json:"frequency_hz"`
	ZeroLine    float64   `json:"zero_line"`
}

// Likely limits for national grid frequency data
const (
	FrequencyMin  = 49.8
	FrequencyZero = 50.00
	FrequencyMax  = 50.2
)

// Source identifies how a share of the national electricity supply was generated
type Source string

const (
	SourceCCGT    Source = "CCGT"
	SourceOCGT    Source = "OCGT"
	SourceOil     Source = "OIL"
	SourceCoal    Source = "COAL"
	SourceNuclear Source = "NUCLEAR"
	SourceWind    Source = "WIND"
	SourcePS      Source = "PS"
	SourceNPSHYD  Source = "NPSHYD"
	SourceOther   Source = "OTHER"
	SourceINTFR   Source = "INTFR"
	SourceINTIRL  Source = "INTIRL"
	SourceUnknown Source = "UNKNOWN"
)

// Sources lists every generation source in display order
var Sources = []Source{
	SourceCCGT,
	SourceOCGT,
	SourceOil,
	SourceCoal,
	SourceNuclear,
	SourceWind,
	SourcePS,
	SourceNPSHYD,
	SourceOther,
	SourceINTFR,
	SourceINTIRL,
	SourceUnknown,
}

// EnergyMix maps a generation source to its percentage (0-100) of national supply
type EnergyMix map[Source]float64

// SourceSplit maps a generation source to its estimated share of one reading in kW
type SourceSplit map[Source]float64

// NegligibleShare stands in for "no contribution" so that stacked graphs never divide by zero
const NegligibleShare = 0.0000000000000000000000000001

// DefaultEnergyMix attributes everything to UNKNOWN until real data arrives
func DefaultEnergyMix() EnergyMix {
	mix := make(EnergyMix, len(Sources))
	for _, s := range Sources {
		mix[s] = NegligibleShare
	}
	mix[SourceUnknown] = 100
	return mix
}

// Clone returns an independent copy of the mix
func (m EnergyMix) Clone() EnergyMix {
	out := make(EnergyMix, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TransportKind identifies where live readings are coming from
type TransportKind string

const (
	TransportNone   TransportKind = "none"
	TransportSerial TransportKind = "serial"
	TransportMQTT   TransportKind = "mqtt"
	TransportNATS   TransportKind = "nats"
)

// ParseTransportKind converts a user supplied name into a TransportKind
func ParseTransportKind(s string) (TransportKind, bool) {
	switch TransportKind(s) {
	case TransportSerial, TransportMQTT, TransportNATS:
		return TransportKind(s), true
	}
	return TransportNone, false
}
