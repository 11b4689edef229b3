// Package span answers "how much electricity did I use between these two
// times" for a region selected on the live graph.
package span

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/currentcost/internal/buffer"
	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/settings"
)

var ErrInvalidSpan = errors.New("span end is before its start")

const (
	DefaultCacheSize = 256
	dateLayout       = "02/01/06 15:04.05"
)

// Summary is the usage over a selected span.
type Summary struct {
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	UsageKWh    float64          `json:"usage_kwh"`
	UnitCost    *decimal.Decimal `json:"unit_cost_pence,omitempty"`
	Cost        *decimal.Decimal `json:"cost_pence,omitempty"`
	HasReadings bool             `json:"has_readings"`
}

// Message renders the summary for the user.
func (s Summary) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Between %s and %s\n", s.From.Format(dateLayout), s.To.Format(dateLayout))
	switch {
	case !s.HasReadings:
		b.WriteString(" you used 0 units of electricity \n which cost you 0p")
	case s.Cost == nil:
		fmt.Fprintf(&b, " you used %.5f units of electricity", s.UsageKWh)
	default:
		fmt.Fprintf(&b, " you used %.5f units of electricity \n which cost you approximately %sp",
			s.UsageKWh, s.Cost.StringFixed(3))
	}
	return b.String()
}

type cacheKey struct {
	from, to   int64
	length     int
	generation uint64
	unitCost   string
}

// Engine computes span summaries, pricing them from the settings store.
type Engine struct {
	store   settings.Store
	cache   *lru.Cache
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an Engine. store may be nil, in which case summaries
// carry no cost.
func NewEngine(store settings.Store, cacheSize int, logger *logrus.Logger, m *metrics.Metrics) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create span cache: %w", err)
	}
	return &Engine{
		store:   store,
		cache:   cache,
		logger:  logger,
		metrics: m,
	}, nil
}

// Query summarises the readings in snap over [xmin, xmax).
//
// Within one generation the buffer only grows, so generation and length
// together with the span and the unit cost identify a result; repeated
// queries are served from a cache.
func (e *Engine) Query(ctx context.Context, snap buffer.ReadingsSnapshot, xmin, xmax time.Time) (Summary, error) {
	if xmax.Before(xmin) {
		return Summary{}, fmt.Errorf("%w: %s < %s", ErrInvalidSpan, xmax.Format(time.RFC3339), xmin.Format(time.RFC3339))
	}

	unit := e.unitCost(ctx)
	key := cacheKey{from: xmin.UnixNano(), to: xmax.UnixNano(), length: snap.Len(), generation: snap.Generation}
	if unit != nil {
		key.unitCost = unit.String()
	}
	if v, ok := e.cache.Get(key); ok {
		e.metrics.SpanQueries.WithLabelValues("hit").Inc()
		return v.(Summary), nil
	}
	e.metrics.SpanQueries.WithLabelValues("miss").Inc()

	summary := Summary{From: xmin, To: xmax}
	usage, lo, hi, ok := Usage(snap, xmin, xmax)
	if ok {
		summary.From = snap.Dates[lo]
		summary.To = snap.Dates[hi]
		summary.UsageKWh = usage
		summary.HasReadings = true
		if unit != nil {
			cost := decimal.NewFromFloat(usage).Mul(*unit)
			summary.UnitCost = unit
			summary.Cost = &cost
		}
	}

	e.logger.WithFields(logrus.Fields{
		"from":     xmin,
		"to":       xmax,
		"usage":    usage,
		"readings": snap.Len(),
	}).Debug("span query")

	e.cache.Add(key, summary)
	return summary, nil
}

func (e *Engine) unitCost(ctx context.Context) *decimal.Decimal {
	if e.store == nil {
		return nil
	}
	raw, err := e.store.Get(ctx, settings.KeyKWhCost)
	if err != nil {
		if !errors.Is(err, settings.ErrNotFound) {
			e.logger.WithError(err).Warn("Failed to read unit cost, reporting usage only")
		}
		return nil
	}
	unit, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		e.logger.WithField("value", raw).Warn("Unit cost setting is not a number, reporting usage only")
		return nil
	}
	return &unit
}

// Usage integrates the readings over [xmin, xmax) in kWh. Each reading holds
// its value until the next reading; the last reading covers no time.
//
// lo is the last reading before xmin (or the first reading when there is
// none) and hi the reading after the last one inside the span, clamped to the
// end of the buffer. ok is false when no reading lies inside the span.
func Usage(snap buffer.ReadingsSnapshot, xmin, xmax time.Time) (kwh float64, lo, hi int, ok bool) {
	n := snap.Len()
	first := sort.Search(n, func(i int) bool { return !snap.Dates[i].Before(xmin) })
	end := sort.Search(n, func(i int) bool { return !snap.Dates[i].Before(xmax) })
	if first >= end {
		return 0, 0, 0, false
	}

	lo = first
	if first > 0 {
		lo = first - 1
	}
	hi = end
	if hi > n-1 {
		hi = n - 1
	}

	for i := lo; i < end && i+1 < n; i++ {
		start, stop := snap.Dates[i], snap.Dates[i+1]
		if start.Before(xmin) {
			start = xmin
		}
		if stop.After(xmax) {
			stop = xmax
		}
		if !stop.After(start) {
			continue
		}
		kwh += snap.Values[i] * stop.Sub(start).Hours()
	}
	return kwh, lo, hi, true
}
