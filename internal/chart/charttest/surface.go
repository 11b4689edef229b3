// Package charttest provides an in-memory chart.Surface that records every
// call, for tests of code that drives the live graphs.
package charttest

import (
	"fmt"
	"sync"
	"time"

	"github.com/tejusbharadwaj/currentcost/internal/chart"
)

// Step names usable with FailOn.
const (
	StepPlot      = "plot"
	StepAutoscale = "autoscale"
	StepRotate    = "rotate"
	StepXLim      = "xlim"
	StepYLim      = "ylim"
	StepFormat    = "format"
	StepDraw      = "draw"
)

// Surface records calls made through its axes.
type Surface struct {
	mu        sync.Mutex
	caps      chart.Capabilities
	page      int
	nextID    int
	primary   *Axes
	secondary *Axes
	failOn    map[string]error

	Resets     int
	Removals   int
	Draws      int
	StaleCalls int
}

// Axes is a recording chart.Axes.
type Axes struct {
	ID        int
	Label     string
	Secondary bool

	surface *Surface
	page    int

	Series     []chart.Series
	Autoscale  bool
	Grid       bool
	Rotation   float64
	XMin, XMax time.Time
	YMin, YMax float64
	HasYLim    bool
	XFormatter chart.TimeFormatter
	YFormatter chart.ValueFormatter
	PlotCalls  int
}

func NewSurface(caps chart.Capabilities) *Surface {
	s := &Surface{caps: caps, failOn: map[string]error{}}
	s.primary = s.newAxes("", false)
	return s
}

func (s *Surface) newAxes(label string, secondary bool) *Axes {
	s.nextID++
	return &Axes{ID: s.nextID, Label: label, Secondary: secondary, surface: s, page: s.page, Autoscale: true}
}

// FailOn makes every subsequent call of the named step return err.
// A nil err clears the failure.
func (s *Surface) FailOn(step string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, step)
		return
	}
	s.failOn[step] = err
}

func (s *Surface) Primary() (chart.Axes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary, nil
}

func (s *Surface) AddSecondary(label string) (chart.Axes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secondary != nil {
		return nil, fmt.Errorf("secondary axis %q already present", s.secondary.Label)
	}
	s.secondary = s.newAxes(label, true)
	return s.secondary, nil
}

func (s *Surface) RemoveSecondary(a chart.Axes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.caps.IncrementalAxisRemoval {
		return chart.ErrUnsupported
	}
	if s.secondary == nil || chart.Axes(s.secondary) != a {
		return chart.ErrStaleAxes
	}
	s.secondary.page = -1
	s.secondary = nil
	s.Removals++
	return nil
}

func (s *Surface) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page++
	s.Resets++
	s.primary = s.newAxes("", false)
	s.secondary = nil
	return nil
}

func (s *Surface) Capabilities() chart.Capabilities {
	return s.caps
}

// Secondary returns the current secondary axes, if any.
func (s *Surface) Secondary() *Axes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secondary
}

// PrimaryAxes returns the current primary axes.
func (s *Surface) PrimaryAxes() *Axes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

// Stats returns the draw count and the number of calls made on stale handles.
func (s *Surface) Stats() (draws, stale int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Draws, s.StaleCalls
}

func (a *Axes) call(step string, fn func()) error {
	s := a.surface
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.page != s.page || (a.Secondary && s.secondary != a) {
		s.StaleCalls++
		return chart.ErrStaleAxes
	}
	if err, ok := s.failOn[step]; ok {
		return err
	}
	fn()
	return nil
}

func (a *Axes) Plot(series ...chart.Series) error {
	return a.call(StepPlot, func() {
		a.Series = append([]chart.Series(nil), series...)
		a.PlotCalls++
	})
}

func (a *Axes) SetYLabel(label string) error {
	return a.call("label", func() { a.Label = label })
}

func (a *Axes) SetGrid(on bool) error {
	return a.call("grid", func() { a.Grid = on })
}

func (a *Axes) SetAutoscale(on bool) error {
	return a.call(StepAutoscale, func() { a.Autoscale = on })
}

func (a *Axes) RotateXTickLabels(degrees float64) error {
	return a.call(StepRotate, func() { a.Rotation = degrees })
}

func (a *Axes) SetXLim(min, max time.Time) error {
	return a.call(StepXLim, func() { a.XMin, a.XMax = min, max })
}

func (a *Axes) SetYLim(min, max float64) error {
	return a.call(StepYLim, func() {
		a.YMin, a.YMax = min, max
		a.HasYLim = true
	})
}

func (a *Axes) SetXFormatter(f chart.TimeFormatter) error {
	return a.call(StepFormat, func() { a.XFormatter = f })
}

func (a *Axes) SetYFormatter(f chart.ValueFormatter) error {
	return a.call(StepFormat, func() { a.YFormatter = f })
}

func (a *Axes) Canvas() chart.Canvas {
	return canvas{a.surface}
}

type canvas struct{ s *Surface }

func (c canvas) Draw() error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err, ok := c.s.failOn[StepDraw]; ok {
		return err
	}
	c.s.Draws++
	return nil
}
