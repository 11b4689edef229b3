package livedata

import (
	"time"

	"github.com/tejusbharadwaj/currentcost/internal/generation"
	"github.com/tejusbharadwaj/currentcost/internal/gridfeed"
	"github.com/tejusbharadwaj/currentcost/internal/parser"
	"github.com/tejusbharadwaj/currentcost/internal/transport"
)

type sessionPollers struct {
	demand     gridfeed.DemandSource
	demandOpts []gridfeed.PollerOption
	mix        gridfeed.MixSource
	mixOpts    []gridfeed.PollerOption
}

// Option customises a Session.
type Option func(*Session, *sessionPollers)

// WithClock overrides the live clock used to timestamp readings.
func WithClock(now func() time.Time) Option {
	return func(s *Session, _ *sessionPollers) { s.now = now }
}

// WithTransports sets how meter clients are created.
func WithTransports(f transport.Factory) Option {
	return func(s *Session, _ *sessionPollers) { s.transports = f }
}

// WithParser sets the payload parser used for every transport.
func WithParser(p parser.Parser) Option {
	return func(s *Session, _ *sessionPollers) { s.parser = p }
}

// WithDemandFeed enables the national demand and frequency feed.
func WithDemandFeed(src gridfeed.DemandSource, opts ...gridfeed.PollerOption) Option {
	return func(_ *Session, p *sessionPollers) {
		p.demand = src
		p.demandOpts = opts
	}
}

// WithGenerationFeed enables the generation mix feed. With onConnect set it
// is started by every Connect.
func WithGenerationFeed(src gridfeed.MixSource, onConnect bool, opts ...gridfeed.PollerOption) Option {
	return func(s *Session, p *sessionPollers) {
		p.mix = src
		p.mixOpts = opts
		s.generationOnLive = onConnect
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Session, _ *sessionPollers) { s.notifier = n }
}

func WithStatusReporter(r StatusReporter) Option {
	return func(s *Session, _ *sessionPollers) { s.reporter = r }
}

// WithChartOptions sets the size and time format of rendered graphs.
func WithChartOptions(opts generation.ChartOptions) Option {
	return func(s *Session, _ *sessionPollers) { s.chartOpts = opts }
}
