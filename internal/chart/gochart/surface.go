// Package gochart implements chart.Surface with go-chart, rendering each
// draw to a PNG frame kept in memory and optionally mirrored to a file.
package gochart

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/tejusbharadwaj/currentcost/internal/chart"
)

// Options configures a Surface.
type Options struct {
	Width  int
	Height int
	Title  string
	// Output, when set, receives a copy of every rendered frame.
	Output string
	// IncrementalAxisRemoval is reported through Capabilities.
	IncrementalAxisRemoval bool
}

// Surface is a single go-chart page with a primary and an optional
// secondary y axis.
type Surface struct {
	mu        sync.Mutex
	opts      Options
	logger    *logrus.Logger
	page      uint64
	primary   *axes
	secondary *axes
	frame     []byte
	rendered  time.Time
}

func NewSurface(opts Options, logger *logrus.Logger) *Surface {
	if opts.Width == 0 {
		opts.Width = 1024
	}
	if opts.Height == 0 {
		opts.Height = 480
	}
	s := &Surface{opts: opts, logger: logger}
	s.primary = &axes{surface: s, page: s.page, autoscale: true}
	return s
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
		return nil, fmt.Errorf("page already has a secondary axis %q", s.secondary.label)
	}
	s.secondary = &axes{surface: s, page: s.page, secondary: true, label: label, autoscale: true}
	return s.secondary, nil
}

func (s *Surface) RemoveSecondary(a chart.Axes) error {
	if !s.opts.IncrementalAxisRemoval {
		return chart.ErrUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secondary == nil || chart.Axes(s.secondary) != a {
		return chart.ErrStaleAxes
	}
	s.secondary.page = math.MaxUint64
	s.secondary = nil
	return nil
}

func (s *Surface) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page++
	s.primary = &axes{surface: s, page: s.page, autoscale: true}
	s.secondary = nil
	return nil
}

func (s *Surface) Capabilities() chart.Capabilities {
	return chart.Capabilities{IncrementalAxisRemoval: s.opts.IncrementalAxisRemoval}
}

// Frame returns the most recently rendered PNG and when it was rendered.
func (s *Surface) Frame() ([]byte, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, time.Time{}
	}
	out := make([]byte, len(s.frame))
	copy(out, s.frame)
	return out, s.rendered
}

// Draw renders the whole page. It is the canvas shared by all axes.
func (s *Surface) Draw() error {
	s.mu.Lock()
	ch, err := s.buildLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := ch.Render(gochart.PNG, &buf); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}

	s.mu.Lock()
	s.frame = buf.Bytes()
	s.rendered = time.Now()
	s.mu.Unlock()

	if s.opts.Output != "" {
		if err := writeFileAtomic(s.opts.Output, buf.Bytes()); err != nil {
			return fmt.Errorf("failed to write chart output: %w", err)
		}
	}
	return nil
}

func (s *Surface) buildLocked() (gochart.Chart, error) {
	p := s.primary
	var series []gochart.Series
	for _, sr := range p.series {
		series = append(series, toTimeSeries(sr, gochart.YAxisPrimary, p.xmax))
	}
	if s.secondary != nil {
		for _, sr := range s.secondary.series {
			series = append(series, toTimeSeries(sr, gochart.YAxisSecondary, p.xmax))
		}
	}
	if len(series) == 0 {
		return gochart.Chart{}, fmt.Errorf("nothing plotted on the page")
	}

	ch := gochart.Chart{
		Title:  s.opts.Title,
		Width:  s.opts.Width,
		Height: s.opts.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 20, Left: 16, Right: 16, Bottom: 60},
		},
		XAxis:  p.xAxis(),
		YAxis:  p.yAxis(),
		Series: series,
	}
	if s.secondary != nil {
		ch.YAxisSecondary = s.secondary.yAxis()
	}
	return ch, nil
}

func toTimeSeries(sr chart.Series, axis gochart.YAxisType, xmax time.Time) gochart.TimeSeries {
	xs, ys := sr.Times, sr.Values
	// go-chart cannot draw a single point; stretch it to the right edge
	if len(xs) == 1 && !xmax.IsZero() && xmax.After(xs[0]) {
		xs = []time.Time{xs[0], xmax}
		ys = []float64{ys[0], ys[0]}
	}
	col := drawing.ColorRed
	if sr.Color != "" {
		col = drawing.ColorFromHex(sr.Color)
	}
	return gochart.TimeSeries{
		Name:    sr.Name,
		Style:   gochart.Style{StrokeColor: col, StrokeWidth: 1.5},
		YAxis:   axis,
		XValues: xs,
		YValues: ys,
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chart-*.png")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
