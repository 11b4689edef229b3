// Package gridfeed polls the national grid feeds: demand and frequency, and
// the generation mix.
//
// Each feed runs on its own goroutine in a poll, publish, wait loop. Stop
// cancels the loop's context, which wakes a waiting poller straight away
// instead of letting it sleep out the interval.
package gridfeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/models"
)

const (
	DefaultDemandInterval = 5 * time.Second
	DefaultMixInterval    = 180 * time.Second
)

// PollFunc performs one poll and publishes its result.
type PollFunc func(ctx context.Context) error

type PollerOption func(*Poller)

// WithInterval sleeps for d after every poll.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithLimiter waits on l before every poll.
func WithLimiter(l *rate.Limiter) PollerOption {
	return func(p *Poller) { p.limiter = l }
}

// Poller runs a PollFunc until stopped.
type Poller struct {
	name     string
	poll     PollFunc
	interval time.Duration
	limiter  *rate.Limiter
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(name string, poll PollFunc, logger *logrus.Logger, m *metrics.Metrics, opts ...PollerOption) *Poller {
	p := &Poller{
		name:    name,
		poll:    poll,
		logger:  logger,
		metrics: m,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Name() string {
	return p.name
}

// Start launches the loop. It returns false if the poller is already running.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		select {
		case <-p.done:
		default:
			return false
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)

	p.logger.WithField("feed", p.name).Info("Started feed poller")
	return true
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	log := p.logger.WithField("feed", p.name)

	for {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				break
			}
		}

		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			result := "error"
			if errors.Is(err, ErrParse) {
				result = "parse_error"
			}
			p.metrics.FeedPolls.WithLabelValues(p.name, result).Inc()
			log.WithError(err).Warn("Feed poll failed")
		} else {
			p.metrics.FeedPolls.WithLabelValues(p.name, "ok").Inc()
		}

		if p.interval > 0 {
			timer := time.NewTimer(p.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	log.Debug("Feed poller stopped")
}

// NewDemandPoller polls src and passes every demand and frequency pair to
// publish.
func NewDemandPoller(
	src DemandSource,
	publish func(demandMW, frequencyHz float64),
	logger *logrus.Logger,
	m *metrics.Metrics,
	opts ...PollerOption,
) *Poller {
	poll := func(ctx context.Context) error {
		raw, err := src.Download(ctx)
		if err != nil {
			return err
		}
		demand, freq, err := src.Parse(raw)
		if err != nil {
			return err
		}
		publish(demand, freq)
		return nil
	}
	return NewPoller("demand", poll, logger, m, opts...)
}

// NewMixPoller polls src and passes every generation mix to publish. A mix
// that fails to parse is not published, so the last good one stays in use.
func NewMixPoller(
	src MixSource,
	publish func(models.EnergyMix),
	logger *logrus.Logger,
	m *metrics.Metrics,
	opts ...PollerOption,
) *Poller {
	poll := func(ctx context.Context) error {
		raw, err := src.Download(ctx)
		if err != nil {
			return err
		}
		mix, err := src.Parse(raw)
		if err != nil {
			return err
		}
		publish(mix)
		return nil
	}
	return NewPoller("generation", poll, logger, m, opts...)
}
