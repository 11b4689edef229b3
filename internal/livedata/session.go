// Package livedata owns a live-data session: the buffers, the redraw
// coordinator, the acquisition goroutines and the grid feed pollers.
//
// It is the single entry point used by the host (HTTP API, command line),
// by acquisition (UpdateGraph) and by the demand feed (UpdateNationalGrid).
// Host calls may arrive on any goroutine.
package livedata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/currentcost/internal/acquisition"
	"github.com/tejusbharadwaj/currentcost/internal/buffer"
	"github.com/tejusbharadwaj/currentcost/internal/chart"
	"github.com/tejusbharadwaj/currentcost/internal/generation"
	"github.com/tejusbharadwaj/currentcost/internal/gridfeed"
	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/models"
	"github.com/tejusbharadwaj/currentcost/internal/parser"
	"github.com/tejusbharadwaj/currentcost/internal/redraw"
	"github.com/tejusbharadwaj/currentcost/internal/span"
	"github.com/tejusbharadwaj/currentcost/internal/transport"
)

// Components reported to the health checker.
const (
	ComponentLive       = "currentcost.live"
	ComponentGrid       = "currentcost.grid"
	ComponentGeneration = "currentcost.generation"
)

var (
	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrNoDemandFeed         = errors.New("no national grid feed configured")
)

// Notifier shows messages to the user.
type Notifier interface {
	DisplayLiveConnectFailure(msg string)
	// DisplaySpanSummary may block while the summary is on screen; redraws
	// are paused until it returns.
	DisplaySpanSummary(summary span.Summary)
}

// StatusReporter receives the serving state of each component.
type StatusReporter interface {
	SetServing(component string, serving bool)
}

type nopNotifier struct{}

func (nopNotifier) DisplayLiveConnectFailure(string) {}
func (nopNotifier) DisplaySpanSummary(span.Summary)  {}

type nopReporter struct{}

func (nopReporter) SetServing(string, bool) {}

// Status describes the session for the host.
type Status struct {
	SessionID         string               `json:"session_id"`
	Transport         models.TransportKind `json:"transport"`
	Connected         bool                 `json:"connected"`
	ShowDemand        bool                 `json:"show_demand"`
	ShowFrequency     bool                 `json:"show_frequency"`
	DemandPolling     bool                 `json:"demand_polling"`
	GenerationPolling bool                 `json:"generation_polling"`
	Mode              string               `json:"mode"`
	Readings          int                  `json:"readings"`
	GridSamples       int                  `json:"grid_samples"`
	Paused            bool                 `json:"paused"`
	SessionStart      time.Time            `json:"session_start"`
	EnergyMix         models.EnergyMix     `json:"energy_mix"`
}

// Session is the live-data component.
type Session struct {
	id      string
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	readings *buffer.Readings
	grid     *buffer.GridSamples
	mix      *generation.Mix
	coord    *redraw.Coordinator
	spans    *span.Engine

	acquirers  *acquisition.Registry
	transports transport.Factory
	parser     parser.Parser

	demandPoller     *gridfeed.Poller
	mixPoller        *gridfeed.Poller
	generationOnLive bool
	chartOpts        generation.ChartOptions

	notifier Notifier
	reporter StatusReporter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	kind          models.TransportKind
	showDemand    bool
	showFrequency bool
}

// New builds a session drawing on surface. Background goroutines are tied
// to ctx; Close stops them.
func New(
	ctx context.Context,
	surface chart.Surface,
	spans *span.Engine,
	logger *logrus.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Session {
	s := &Session{
		id:       uuid.New().String(),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		grid:     buffer.NewGridSamples(),
		mix:      generation.NewMix(),
		spans:    spans,
		parser:   parser.Auto{},
		notifier: nopNotifier{},
		reporter: nopReporter{},
		kind:     models.TransportNone,
		chartOpts: generation.ChartOptions{
			Width:      1024,
			Height:     600,
			TimeFormat: "15:04.05",
		},
	}
	var pollerOpts sessionPollers
	for _, opt := range opts {
		opt(s, &pollerOpts)
	}

	s.readings = buffer.NewReadings(s.mix)
	s.acquirers = acquisition.NewRegistry(logger, m)
	s.coord = redraw.New(surface, s.readings, s.grid, logger, m,
		redraw.WithClock(s.now),
		redraw.WithTimeFormat(s.chartOpts.TimeFormat))

	if pollerOpts.demand != nil {
		s.demandPoller = gridfeed.NewDemandPoller(pollerOpts.demand, s.UpdateNationalGrid, logger, m, pollerOpts.demandOpts...)
	}
	if pollerOpts.mix != nil {
		s.mixPoller = gridfeed.NewMixPoller(pollerOpts.mix, s.mix.Set, logger, m, pollerOpts.mixOpts...)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.coord.Run(s.ctx)
	}()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithField("session", s.id)
}

// Coordinator exposes the redraw coordinator driving the live graph.
func (s *Session) Coordinator() *redraw.Coordinator {
	return s.coord
}

// Connect starts reading from a meter over kind. Any previous connection of
// the same kind is stopped first. Connection failures are reported through
// the Notifier, since the connection is made in the background.
func (s *Session) Connect(kind models.TransportKind, target transport.Target) error {
	if _, ok := models.ParseTransportKind(string(kind)); !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedTransport, kind)
	}
	if s.transports == nil {
		return fmt.Errorf("%w: no transports configured", ErrUnsupportedTransport)
	}
	client, err := s.transports(kind)
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", kind, err)
	}

	// the old connection must not append into the new session's buffer
	s.acquirers.Stop(kind)

	s.readings.Reset()
	s.coord.StartSession(s.now(), true)
	if err := s.coord.Attach(); err != nil {
		return fmt.Errorf("failed to prepare live graph: %w", err)
	}

	if s.generationOnLive && s.mixPoller != nil {
		if s.mixPoller.Start(s.ctx) {
			s.reporter.SetServing(ComponentGeneration, true)
		}
	}

	// recorded first, as a failing connection disconnects from its own
	// goroutine
	s.mu.Lock()
	s.kind = kind
	s.mu.Unlock()
	s.reporter.SetServing(ComponentLive, true)

	s.acquirers.Start(s.ctx, acquisition.Config{
		Kind:    kind,
		Client:  client,
		Target:  target,
		Parser:  s.parser,
		Sink:    s,
		OnError: s.ExitOnError,
	})

	s.log().WithFields(logrus.Fields{
		"transport": kind,
		"address":   target.Address,
		"topic":     target.Topic,
	}).Info("Connecting to meter")
	return nil
}

// Disconnect stops every acquisition and feed goroutine. The graphs are left
// as they are. It is safe to call when not connected.
func (s *Session) Disconnect() {
	s.coord.SetClosing(true)
	// the transports stop before closing is cleared, so a redraw racing
	// with shutdown logs quietly
	defer s.coord.SetClosing(false)

	s.acquirers.StopAll()

	if s.demandPoller != nil {
		s.demandPoller.Stop()
	}
	if s.mixPoller != nil {
		s.mixPoller.Stop()
	}
	s.mix.Reset()

	s.mu.Lock()
	kind := s.kind
	s.kind = models.TransportNone
	s.showDemand = false
	s.showFrequency = false
	s.mu.Unlock()

	s.reporter.SetServing(ComponentLive, false)
	s.reporter.SetServing(ComponentGrid, false)
	s.reporter.SetServing(ComponentGeneration, false)

	if kind != models.TransportNone {
		s.log().WithField("transport", kind).Info("Disconnected from meter")
	}
}

// ExitOnError disconnects, then tells the user why.
func (s *Session) ExitOnError(msg string) {
	s.log().WithField("reason", msg).Error("Live connection failed")
	s.Disconnect()
	s.notifier.DisplayLiveConnectFailure(msg)
}

// UpdateGraph stores a new live reading and asks for a redraw.
func (s *Session) UpdateGraph(kw float64) {
	if !s.readings.Append(s.now(), kw) {
		s.metrics.ReadingsDiscarded.Inc()
		s.log().WithField("kw", kw).Debug("ignoring zero reading")
		return
	}
	s.coord.Request()
}

// UpdateNationalGrid stores a national demand and frequency sample and asks
// for a redraw.
func (s *Session) UpdateNationalGrid(demandMW, frequencyHz float64) {
	s.grid.Append(s.now(), demandMW, frequencyHz)
	s.coord.Request()
}

// StartDemand shows national demand on the live graph, starting the feed if
// needed. Frequency display is paused, as only one can be shown.
func (s *Session) StartDemand() error {
	return s.startGrid(redraw.ModeDemand)
}

// StartFrequency shows national frequency on the live graph, starting the
// feed if needed. Demand display is paused.
func (s *Session) StartFrequency() error {
	return s.startGrid(redraw.ModeFrequency)
}

func (s *Session) startGrid(mode redraw.Mode) error {
	if s.demandPoller == nil {
		return ErrNoDemandFeed
	}

	s.mu.Lock()
	if (mode == redraw.ModeDemand && s.showDemand) || (mode == redraw.ModeFrequency && s.showFrequency) {
		s.mu.Unlock()
		return nil
	}
	s.showDemand = mode == redraw.ModeDemand
	s.showFrequency = mode == redraw.ModeFrequency
	s.mu.Unlock()

	s.coord.StartSession(s.now(), true)
	var err error
	if mode == redraw.ModeDemand {
		err = s.coord.ShowDemand()
	} else {
		err = s.coord.ShowFrequency()
	}
	if err != nil {
		s.mu.Lock()
		s.showDemand, s.showFrequency = false, false
		s.mu.Unlock()
		return err
	}

	if s.demandPoller.Start(s.ctx) {
		s.reporter.SetServing(ComponentGrid, true)
	}
	s.log().WithField("mode", mode.String()).Info("Showing national grid data")
	s.coord.Request()
	return nil
}

// StopDemand stops showing and downloading national demand.
func (s *Session) StopDemand() {
	s.stopGrid(redraw.ModeDemand, true)
}

// PauseDemand stops showing national demand, leaving the feed running.
func (s *Session) PauseDemand() {
	s.stopGrid(redraw.ModeDemand, false)
}

func (s *Session) StopFrequency() {
	s.stopGrid(redraw.ModeFrequency, true)
}

func (s *Session) PauseFrequency() {
	s.stopGrid(redraw.ModeFrequency, false)
}

func (s *Session) stopGrid(mode redraw.Mode, stopFeed bool) {
	s.mu.Lock()
	shown := s.showDemand
	if mode == redraw.ModeFrequency {
		shown = s.showFrequency
	}
	if !shown {
		s.mu.Unlock()
		return
	}
	if mode == redraw.ModeDemand {
		s.showDemand = false
	} else {
		s.showFrequency = false
	}
	s.mu.Unlock()

	if s.coord.Mode() == mode {
		if err := s.coord.HideSecondary(); err != nil {
			s.log().WithError(err).Warn("Failed to hide national grid axis")
		}
		s.coord.Request()
	}
	if stopFeed && s.demandPoller != nil {
		s.demandPoller.Stop()
		s.reporter.SetServing(ComponentGrid, false)
	}
	s.log().WithFields(logrus.Fields{
		"mode":    mode.String(),
		"stopped": stopFeed,
	}).Info("Stopped showing national grid data")
}

// StartGeneration starts the generation mix feed without a meter connection.
func (s *Session) StartGeneration() bool {
	if s.mixPoller == nil {
		return false
	}
	if s.mixPoller.Start(s.ctx) {
		s.reporter.SetServing(ComponentGeneration, true)
	}
	return true
}

// OnSelect summarises usage over [xmin, xmax) and shows it to the user.
// Redraws are paused while the summary is displayed.
func (s *Session) OnSelect(ctx context.Context, xmin, xmax time.Time) (span.Summary, error) {
	resume := s.coord.Pause()
	defer func() {
		resume()
		s.coord.Request()
	}()

	summary, err := s.spans.Query(ctx, s.readings.Snapshot(), xmin, xmax)
	if err != nil {
		return span.Summary{}, err
	}
	s.notifier.DisplaySpanSummary(summary)
	return summary, nil
}

// ExportLiveData writes every reading to a CSV file at path.
func (s *Session) ExportLiveData(path string) error {
	return writeCSVFile(path, s.readings.Snapshot())
}

// WriteLiveData writes every reading as CSV to w.
func (s *Session) WriteLiveData(w io.Writer) error {
	return writeCSV(w, s.readings.Snapshot())
}

// RenderGeneration draws the "where did your electricity come from" graph.
func (s *Session) RenderGeneration(w io.Writer) error {
	return generation.RenderChart(w, s.readings.Snapshot(), s.chartOpts)
}

// Redraw redraws the live graph now.
func (s *Session) Redraw() error {
	return s.coord.Redraw()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		SessionID:     s.id,
		Transport:     s.kind,
		ShowDemand:    s.showDemand,
		ShowFrequency: s.showFrequency,
	}
	s.mu.Unlock()

	st.Connected = st.Transport != models.TransportNone && s.acquirers.Active(st.Transport)
	st.DemandPolling = s.demandPoller != nil && s.demandPoller.Running()
	st.GenerationPolling = s.mixPoller != nil && s.mixPoller.Running()
	st.Mode = s.coord.Mode().String()
	st.Readings = s.readings.Len()
	st.GridSamples = s.grid.Len()
	st.Paused = s.coord.Paused()
	st.SessionStart = s.coord.SessionStart()
	st.EnergyMix = s.mix.Get()
	return st
}

// Close disconnects and stops the redraw goroutine.
func (s *Session) Close() {
	s.Disconnect()
	s.cancel()
	s.wg.Wait()
}
