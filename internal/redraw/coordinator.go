// Package redraw keeps the live graphs in step with the buffered data.
//
// Every producer (acquisition, grid feeds, user toggles) funnels through one
// Coordinator. A redraw pass holds a single lock for its whole
// read-plot-scale-render cycle, so two passes never interleave partial
// draws and the axes handles are never mutated while a pass is running.
//
// Producers do not render directly: they call Request, a coalescing signal
// consumed by the goroutine running Run. Redraw may still be called
// synchronously, and is what Run calls.
//
// The primary axes carry the live readings. At most one secondary axis
// (demand or frequency) shares their time axis. Because the surface may not
// support removing a secondary axis, switching between the two can tear down
// the whole page; the Coordinator re-fetches every handle when that happens.
package redraw

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/currentcost/internal/buffer"
	"github.com/tejusbharadwaj/currentcost/internal/chart"
	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/models"
)

// Mode is the secondary data shown alongside the live readings.
type Mode int

const (
	ModeNone Mode = iota
	ModeDemand
	ModeFrequency
)

func (m Mode) String() string {
	switch m {
	case ModeDemand:
		return "demand"
	case ModeFrequency:
		return "frequency"
	}
	return "none"
}

const (
	demandLabel    = "UK electricity demand (MW)"
	frequencyLabel = "UK national electricity supply vs demand"
)

// Redraw steps, reported in RenderError.
const (
	StepPlotLive      = "plot live data"
	StepPlotDemand    = "plot demand data"
	StepPlotFrequency = "plot frequency data"
	StepAutoscale     = "disable auto-scaling"
	StepRotate        = "rotate x-axis labels"
	StepScale         = "set axis limits"
	StepFormat        = "assign axis formatters"
	StepDraw          = "redraw canvas"
)

// RenderError reports the redraw step that failed.
type RenderError struct {
	Step string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("redraw failed to %s: %v", e.Step, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used for the right edge of the time axis.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithTimeFormat sets the layout of the time axis labels.
func WithTimeFormat(layout string) Option {
	return func(c *Coordinator) { c.timeFormat = layout }
}

// Coordinator serialises every redraw and every axes mutation.
type Coordinator struct {
	mu sync.Mutex

	surface  chart.Surface
	readings *buffer.Readings
	grid     *buffer.GridSamples
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	now        func() time.Time
	timeFormat string

	live      chart.Axes
	demand    chart.Axes
	frequency chart.Axes
	mode      Mode
	start     time.Time

	closing  atomic.Bool
	paused   atomic.Int32
	requests chan struct{}
}

func New(
	surface chart.Surface,
	readings *buffer.Readings,
	grid *buffer.GridSamples,
	logger *logrus.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		surface:    surface,
		readings:   readings,
		grid:       grid,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		timeFormat: "15:04.05",
		requests:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach fetches and prepares the primary axes for live data.
func (c *Coordinator) Attach() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachLocked()
}

func (c *Coordinator) attachLocked() error {
	live, err := c.surface.Primary()
	if err != nil {
		return fmt.Errorf("failed to get primary axes: %w", err)
	}
	if err := live.SetYLabel("kW"); err != nil {
		return err
	}
	if err := live.SetGrid(true); err != nil {
		return err
	}
	if err := live.SetAutoscale(false); err != nil {
		return err
	}
	c.live = live
	return nil
}

// StartSession sets the left edge of the shared time axis. With keep set, an
// existing start time is left alone.
func (c *Coordinator) StartSession(at time.Time, keep bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if keep && !c.start.IsZero() {
		return
	}
	c.start = at.UTC()
}

// SessionStart returns the left edge of the shared time axis.
func (c *Coordinator) SessionStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start
}

// ShowDemand puts national demand on the secondary axis.
func (c *Coordinator) ShowDemand() error {
	return c.showSecondary(ModeDemand)
}

// ShowFrequency puts national frequency on the secondary axis.
func (c *Coordinator) ShowFrequency() error {
	return c.showSecondary(ModeFrequency)
}

func (c *Coordinator) showSecondary(mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == mode {
		return nil
	}
	if c.live == nil {
		if err := c.attachLocked(); err != nil {
			return err
		}
	}
	if c.mode != ModeNone {
		if err := c.dropSecondaryLocked(); err != nil {
			return err
		}
	}

	label := demandLabel
	if mode == ModeFrequency {
		label = frequencyLabel
	}
	axes, err := c.surface.AddSecondary(label)
	if err != nil {
		return fmt.Errorf("failed to create %s axes: %w", mode, err)
	}
	if mode == ModeFrequency {
		c.frequency = axes
	} else {
		c.demand = axes
	}
	c.mode = mode
	c.logger.WithField("mode", mode.String()).Debug("secondary axis shown")
	return nil
}

// HideSecondary removes whichever secondary axis is shown.
func (c *Coordinator) HideSecondary() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeNone {
		return nil
	}
	return c.dropSecondaryLocked()
}

// dropSecondaryLocked removes the secondary axis, tearing the page down when
// the surface cannot remove it incrementally. Every cached handle is
// replaced in that case.
func (c *Coordinator) dropSecondaryLocked() error {
	secondary := c.demand
	if c.mode == ModeFrequency {
		secondary = c.frequency
	}

	if c.surface.Capabilities().IncrementalAxisRemoval {
		if err := c.surface.RemoveSecondary(secondary); err != nil {
			return fmt.Errorf("failed to remove %s axes: %w", c.mode, err)
		}
	} else {
		c.logger.WithField("mode", c.mode.String()).Debug("surface cannot remove axes, recreating page")
		if err := c.surface.Reset(); err != nil {
			return fmt.Errorf("failed to reset chart page: %w", err)
		}
		c.live = nil
		if err := c.attachLocked(); err != nil {
			return err
		}
	}

	c.demand = nil
	c.frequency = nil
	c.mode = ModeNone
	return nil
}

// Mode returns the secondary data currently shown.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Handles returns the cached axes handles. Any of them may be nil.
func (c *Coordinator) Handles() (live, demand, frequency chart.Axes) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live, c.demand, c.frequency
}

// SetClosing marks the session as shutting down, which demotes redraw
// failures to debug logging.
func (c *Coordinator) SetClosing(closing bool) {
	c.closing.Store(closing)
}

func (c *Coordinator) Closing() bool {
	return c.closing.Load()
}

// Pause stops redraws while a modal dialog is open. Redraws resume once
// every caller has called its resume func; calling it twice is harmless.
func (c *Coordinator) Pause() (resume func()) {
	c.paused.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { c.paused.Add(-1) })
	}
}

func (c *Coordinator) Paused() bool {
	return c.paused.Load() > 0
}

// Request asks for a redraw without blocking. Requests made while one is
// already pending are merged into it.
func (c *Coordinator) Request() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// Run performs requested redraws until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.requests:
			_ = c.Redraw()
		}
	}
}

// Redraw applies every buffered series to the graphs in one pass.
func (c *Coordinator) Redraw() error {
	if c.Paused() {
		c.logger.Debug("dialog is open, skipping redraw")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	began := time.Now()
	err := c.redrawLocked()
	c.metrics.RedrawDuration.Observe(time.Since(began).Seconds())

	if err == nil {
		c.metrics.Redraws.Inc()
		return nil
	}

	step := "unknown"
	var re *RenderError
	if errors.As(err, &re) {
		step = re.Step
	}
	c.metrics.RedrawFailures.WithLabelValues(step).Inc()

	entry := c.logger.WithFields(logrus.Fields{
		"step":     step,
		"readings": c.readings.Len(),
		"samples":  c.grid.Len(),
	})
	if c.closing.Load() {
		entry.WithError(err).Debug("redraw failed while closing")
	} else {
		entry.WithError(err).Error("Failed to redraw live graph")
	}
	return err
}

func (c *Coordinator) redrawLocked() error {
	if c.live == nil {
		return nil
	}

	readings := c.readings.Snapshot()
	grid := c.grid.Snapshot()

	active := []chart.Axes{c.live}
	if c.demand != nil {
		active = append(active, c.demand)
	}
	if c.frequency != nil {
		active = append(active, c.frequency)
	}

	// Step 1: plot whatever has data
	if readings.Len() > 0 {
		err := c.live.Plot(chart.Series{
			Name:   "live",
			Color:  "FF0000",
			Times:  readings.Dates,
			Values: readings.Values,
		})
		if err != nil {
			return &RenderError{Step: StepPlotLive, Err: err}
		}
	}
	if c.demand != nil && grid.Len() > 0 {
		err := c.demand.Plot(chart.Series{
			Name:   "demand",
			Color:  "0000FF",
			Times:  grid.Dates,
			Values: grid.Demand,
		})
		if err != nil {
			return &RenderError{Step: StepPlotDemand, Err: err}
		}
	}
	if c.frequency != nil && grid.Len() > 0 {
		err := c.frequency.Plot(
			chart.Series{Name: "frequency", Color: "0000FF", Times: grid.Dates, Values: grid.Frequency},
			chart.Series{Name: "supply = demand", Color: "00FF00", Times: grid.Dates, Values: grid.ZeroLine},
		)
		if err != nil {
			return &RenderError{Step: StepPlotFrequency, Err: err}
		}
	}

	// Step 2: axes sharing an x range drift apart when each autoscales, so
	// every axis is scaled by hand
	for _, a := range active {
		if err := a.SetAutoscale(false); err != nil {
			return &RenderError{Step: StepAutoscale, Err: err}
		}
	}

	// Step 3
	for _, a := range active {
		if err := a.RotateXTickLabels(90); err != nil {
			return &RenderError{Step: StepRotate, Err: err}
		}
	}

	// Step 4: keep every x axis on the same range
	end := c.now().UTC()
	if c.start.IsZero() {
		c.start = end
	}
	for _, a := range active {
		if err := a.SetXLim(c.start, end); err != nil {
			return &RenderError{Step: StepScale, Err: err}
		}
	}
	if c.frequency != nil {
		if err := c.frequency.SetYLim(models.FrequencyMin, models.FrequencyMax); err != nil {
			return &RenderError{Step: StepScale, Err: err}
		}
	}

	// Step 5
	layout := c.timeFormat
	timeLabels := func(t time.Time) string { return t.Format(layout) }
	for _, a := range active {
		if err := a.SetXFormatter(timeLabels); err != nil {
			return &RenderError{Step: StepFormat, Err: err}
		}
	}
	if c.frequency != nil {
		if err := c.frequency.SetYFormatter(FormatFrequency); err != nil {
			return &RenderError{Step: StepFormat, Err: err}
		}
	}

	// Step 6: axes sharing a canvas are flushed once
	drawn := make(map[chart.Canvas]bool, len(active))
	for _, a := range active {
		cv := a.Canvas()
		if drawn[cv] {
			continue
		}
		drawn[cv] = true
		if err := cv.Draw(); err != nil {
			return &RenderError{Step: StepDraw, Err: err}
		}
	}
	return nil
}

// FormatFrequency labels a grid frequency by what it says about national
// supply and demand.
func FormatFrequency(hz float64) string {
	switch math.Round(hz*100) / 100 {
	case 50.00:
		return "supply = demand"
	case 49.90:
		return "supply > demand"
	case 50.10:
		return "supply < demand"
	}
	return ""
}
