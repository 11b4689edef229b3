// Package acquisition runs the goroutines that read live updates from a meter
// transport and hand parsed readings to the live-data sink.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/models"
	"github.com/tejusbharadwaj/currentcost/internal/parser"
	"github.com/tejusbharadwaj/currentcost/internal/transport"
)

// Sink receives every parsed reading in kW.
type Sink interface {
	UpdateGraph(kw float64)
}

// Config describes one acquisition session.
type Config struct {
	Kind   models.TransportKind
	Client transport.Client
	Target transport.Target
	Parser parser.Parser
	Sink   Sink
	// OnError is called once, after the acquirer has finished, when the
	// connection fails. It may stop the acquirer.
	OnError func(msg string)
}

// Acquirer reads from one transport until stopped or until the transport
// fails.
type Acquirer struct {
	cfg     Config
	logger  *logrus.Logger
	metrics *metrics.Metrics

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newAcquirer(cfg Config, logger *logrus.Logger, m *metrics.Metrics) *Acquirer {
	if cfg.Parser == nil {
		cfg.Parser = parser.Auto{}
	}
	return &Acquirer{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Start connects and reads on a new goroutine.
func Start(ctx context.Context, cfg Config, logger *logrus.Logger, m *metrics.Metrics) *Acquirer {
	a := newAcquirer(cfg, logger, m)
	ctx, a.cancel = context.WithCancel(ctx)
	go a.run(ctx)
	return a
}

func (a *Acquirer) Kind() models.TransportKind {
	return a.cfg.Kind
}

// Done is closed once the read loop has exited.
func (a *Acquirer) Done() <-chan struct{} {
	return a.done
}

func (a *Acquirer) Finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Stop disconnects the transport and waits for the read loop to exit. It is
// safe to call more than once and from OnError.
func (a *Acquirer) Stop() {
	a.stopOnce.Do(func() {
		a.cancel()
		if err := a.cfg.Client.Disconnect(); err != nil {
			a.logger.WithError(err).WithField("transport", a.cfg.Kind).Warn("Failed to disconnect transport")
		}
	})
	<-a.done
}

func (a *Acquirer) run(ctx context.Context) {
	log := a.logger.WithField("transport", a.cfg.Kind)

	var failure string
	defer func() {
		close(a.done)
		if failure != "" && a.cfg.OnError != nil {
			a.cfg.OnError(failure)
		}
	}()

	if err := a.cfg.Client.Connect(ctx, a.cfg.Target); err != nil {
		if ctx.Err() != nil {
			return
		}
		a.metrics.TransportErrors.WithLabelValues(string(a.cfg.Kind)).Inc()
		log.WithError(err).Error("Failed to connect to meter")
		failure = fmt.Sprintf("Unable to connect (%v)", err)
		return
	}
	log.WithField("address", a.cfg.Target.Address).Info("Live data connection established")

	for {
		raw, err := a.cfg.Client.ReadUpdate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("Live data connection stopped")
				return
			}
			var terr *transport.Error
			if errors.As(err, &terr) {
				log.WithError(err).Error("Live data connection failed")
			} else {
				log.WithError(err).Error("Unexpected error reading live data")
			}
			a.metrics.TransportErrors.WithLabelValues(string(a.cfg.Kind)).Inc()
			failure = fmt.Sprintf("Connection to meter lost (%v)", err)
			if derr := a.cfg.Client.Disconnect(); derr != nil {
				log.WithError(derr).Debug("Disconnect after failure")
			}
			return
		}

		kw, err := a.cfg.Parser.Parse(raw)
		if err != nil {
			a.metrics.ParseErrors.WithLabelValues(string(a.cfg.Kind)).Inc()
			log.WithError(err).WithField("bytes", len(raw)).Warn("Ignoring unparsable update")
			continue
		}
		if kw > 0 {
			a.metrics.ReadingsIngested.WithLabelValues(string(a.cfg.Kind)).Inc()
		}
		a.cfg.Sink.UpdateGraph(kw)
	}
}
