// Package chart defines the graphics surface the live graphs are drawn on.
//
// A Surface owns one page made of a primary set of axes and at most one
// secondary set sharing its time axis. Axes handles belong to the page they
// were created on: after Reset every previously returned handle is stale and
// all of its methods fail with ErrStaleAxes, so holders must fetch new ones.
//
// Not every backend can drop a secondary axis from a page. Capabilities
// reports whether RemoveSecondary is supported; when it is not, callers
// have to tear the whole page down with Reset instead.
package chart

import (
	"errors"
	"time"
)

var (
	// ErrStaleAxes is returned by handles that outlived a page reset.
	ErrStaleAxes = errors.New("axes handle belongs to a page that has been reset")

	// ErrUnsupported is returned by operations outside the surface capabilities.
	ErrUnsupported = errors.New("operation not supported by this surface")
)

// Series is one line drawn against a time axis.
type Series struct {
	Name   string
	Color  string // hex RGB, e.g. "FF0000"
	Times  []time.Time
	Values []float64
}

// TimeFormatter renders x-axis tick labels.
type TimeFormatter func(time.Time) string

// ValueFormatter renders y-axis tick labels.
type ValueFormatter func(float64) string

// Capabilities describes what a Surface can do incrementally.
type Capabilities struct {
	IncrementalAxisRemoval bool
}

// Canvas is the drawable area behind one or more axes.
type Canvas interface {
	Draw() error
}

// Axes is a handle on one set of axes of the current page.
type Axes interface {
	// Plot replaces the series drawn on these axes.
	Plot(series ...Series) error
	SetYLabel(label string) error
	SetGrid(on bool) error
	SetAutoscale(on bool) error
	RotateXTickLabels(degrees float64) error
	SetXLim(min, max time.Time) error
	SetYLim(min, max float64) error
	SetXFormatter(f TimeFormatter) error
	SetYFormatter(f ValueFormatter) error
	Canvas() Canvas
}

// Surface is the page the live graphs are drawn on.
type Surface interface {
	// Primary returns the primary axes of the current page.
	Primary() (Axes, error)
	// AddSecondary creates a secondary y axis sharing the primary time axis.
	AddSecondary(label string) (Axes, error)
	// RemoveSecondary drops a secondary axis. Only valid when
	// Capabilities().IncrementalAxisRemoval is true.
	RemoveSecondary(a Axes) error
	// Reset tears the page down and recreates an empty one.
	Reset() error
	Capabilities() Capabilities
}
