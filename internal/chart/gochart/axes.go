package gochart

import (
	"math"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/tejusbharadwaj/currentcost/internal/chart"
)

type axes struct {
	surface   *Surface
	page      uint64
	secondary bool

	label     string
	grid      bool
	autoscale bool
	rotation  float64
	series    []chart.Series
	xmin      time.Time
	xmax      time.Time
	ylim      *gochart.ContinuousRange
	xfmt      chart.TimeFormatter
	yfmt      chart.ValueFormatter
}

// with runs fn under the surface lock if the handle is still attached.
func (a *axes) with(fn func()) error {
	a.surface.mu.Lock()
	defer a.surface.mu.Unlock()
	if a.page != a.surface.page {
		return chart.ErrStaleAxes
	}
	if a.secondary && a.surface.secondary != a {
		return chart.ErrStaleAxes
	}
	fn()
	return nil
}

func (a *axes) Plot(series ...chart.Series) error {
	return a.with(func() {
		a.series = append([]chart.Series(nil), series...)
	})
}

func (a *axes) SetYLabel(label string) error {
	return a.with(func() { a.label = label })
}

func (a *axes) SetGrid(on bool) error {
	return a.with(func() { a.grid = on })
}

func (a *axes) SetAutoscale(on bool) error {
	return a.with(func() { a.autoscale = on })
}

func (a *axes) RotateXTickLabels(degrees float64) error {
	return a.with(func() { a.rotation = degrees })
}

func (a *axes) SetXLim(min, max time.Time) error {
	return a.with(func() {
		a.xmin, a.xmax = min, max
	})
}

func (a *axes) SetYLim(min, max float64) error {
	return a.with(func() {
		a.ylim = &gochart.ContinuousRange{Min: min, Max: max}
	})
}

func (a *axes) SetXFormatter(f chart.TimeFormatter) error {
	return a.with(func() { a.xfmt = f })
}

func (a *axes) SetYFormatter(f chart.ValueFormatter) error {
	return a.with(func() { a.yfmt = f })
}

func (a *axes) Canvas() chart.Canvas {
	return a.surface
}

func (a *axes) xAxis() gochart.XAxis {
	xa := gochart.XAxis{
		TickStyle: gochart.Style{TextRotationDegrees: a.rotation},
	}
	if !a.xmin.IsZero() && a.xmax.After(a.xmin) {
		xa.Range = &gochart.ContinuousRange{
			Min: gochart.TimeToFloat64(a.xmin),
			Max: gochart.TimeToFloat64(a.xmax),
		}
	}
	if a.xfmt != nil {
		f := a.xfmt
		xa.ValueFormatter = func(v interface{}) string {
			switch t := v.(type) {
			case time.Time:
				return f(t)
			case float64:
				return f(gochart.TimeFromFloat64(t))
			}
			return ""
		}
	}
	if a.grid {
		xa.GridMajorStyle = gridStyle()
	}
	return xa
}

func (a *axes) yAxis() gochart.YAxis {
	ya := gochart.YAxis{Name: a.label}
	switch {
	case a.ylim != nil:
		ya.Range = a.ylim
	case !a.autoscale:
		ya.Range = a.dataRange()
	}
	if a.yfmt != nil {
		f := a.yfmt
		ya.ValueFormatter = func(v interface{}) string {
			if fv, ok := v.(float64); ok {
				return f(fv)
			}
			return ""
		}
	}
	if a.grid {
		ya.GridMajorStyle = gridStyle()
	}
	return ya
}

// dataRange is the manual y range used once autoscaling is off: it always
// has a non-zero span so flat series still render.
func (a *axes) dataRange() *gochart.ContinuousRange {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range a.series {
		for _, v := range s.Values {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return &gochart.ContinuousRange{Min: 0, Max: 1}
	}
	if lo > 0 && !a.secondary {
		lo = 0
	}
	pad := (hi - lo) * 0.1
	if pad == 0 {
		pad = math.Max(math.Abs(hi)*0.1, 0.5)
	}
	return &gochart.ContinuousRange{Min: lo - pad*boolToFloat(lo != 0), Max: hi + pad}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func gridStyle() gochart.Style {
	return gochart.Style{
		StrokeColor: drawing.ColorFromHex("E0E0E0"),
		StrokeWidth: 1,
	}
}
