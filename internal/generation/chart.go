package generation

import (
	"errors"
	"io"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/tejusbharadwaj/currentcost/internal/buffer"
	"github.com/tejusbharadwaj/currentcost/internal/models"
)

// ErrNotEnoughData is returned when there are fewer than two readings to stack.
var ErrNotEnoughData = errors.New("not enough readings to draw a generation graph")

var sourceColors = map[models.Source]string{
	models.SourceCCGT:    "0000FF",
	models.SourceOCGT:    "00FF00",
	models.SourceOil:     "FF0000",
	models.SourceCoal:    "00FFFF",
	models.SourceNuclear: "2277AA",
	models.SourceWind:    "9911BB",
	models.SourcePS:      "FFFF00",
	models.SourceNPSHYD:  "FF00FF",
	models.SourceOther:   "550011",
	models.SourceINTFR:   "110066",
	models.SourceINTIRL:  "CCCCCC",
	models.SourceUnknown: "F0F0F0",
}

// ChartOptions controls the size and time labels of the generation graph.
type ChartOptions struct {
	Width      int
	Height     int
	TimeFormat string
}

// RenderChart draws the live readings as a stack of per-source contributions
// and writes the PNG to w.
func RenderChart(w io.Writer, snap buffer.ReadingsSnapshot, opts ChartOptions) error {
	if snap.Len() < 2 {
		return ErrNotEnoughData
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = "15:04.05"
	}

	stacks := Stack(snap.Splits)

	// the tallest stack is drawn first so each lower band paints over it
	series := make([]chart.Series, 0, len(models.Sources))
	for i := len(models.Sources) - 1; i >= 0; i-- {
		src := models.Sources[i]
		col := drawing.ColorFromHex(sourceColors[src])
		series = append(series, chart.TimeSeries{
			Name: string(src),
			Style: chart.Style{
				StrokeColor: drawing.ColorBlack,
				StrokeWidth: 0.1,
				FillColor:   col,
			},
			XValues: snap.Dates,
			YValues: stacks[i],
		})
	}

	ch := chart.Chart{
		Title:  "Where did your electricity come from?",
		Width:  opts.Width,
		Height: opts.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 60},
		},
		XAxis: chart.XAxis{
			ValueFormatter: timeFormatter(opts.TimeFormat),
			TickStyle:      chart.Style{TextRotationDegrees: 90},
		},
		YAxis:  chart.YAxis{Name: "kW"},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.LegendLeft(&ch)}

	return ch.Render(chart.PNG, w)
}

// Stack turns per-reading splits into cumulative bands in source order, so
// band i is the sum of sources 0..i at each reading.
func Stack(splits []models.SourceSplit) [][]float64 {
	stacks := make([][]float64, len(models.Sources))
	for i := range stacks {
		stacks[i] = make([]float64, len(splits))
	}
	for j, split := range splits {
		total := 0.0
		for i, src := range models.Sources {
			total += split[src]
			stacks[i][j] = total
		}
	}
	return stacks
}

func timeFormatter(layout string) chart.ValueFormatter {
	return func(v interface{}) string {
		switch t := v.(type) {
		case time.Time:
			return t.Format(layout)
		case float64:
			return chart.TimeFromFloat64(t).Format(layout)
		}
		return ""
	}
}
