package acquisition

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/models"
)

// Registry keeps at most one Acquirer per transport kind.
type Registry struct {
	mu      sync.Mutex
	active  map[models.TransportKind]*Acquirer
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func NewRegistry(logger *logrus.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		active:  make(map[models.TransportKind]*Acquirer),
		logger:  logger,
		metrics: m,
	}
}

// Start stops any acquirer already running for cfg.Kind, then starts a new
// one.
func (r *Registry) Start(ctx context.Context, cfg Config) *Acquirer {
	r.mu.Lock()
	prev := r.active[cfg.Kind]
	delete(r.active, cfg.Kind)
	r.mu.Unlock()

	if prev != nil {
		r.logger.WithField("transport", cfg.Kind).Info("Replacing running acquirer")
		prev.Stop()
	}

	a := Start(ctx, cfg, r.logger, r.metrics)

	r.mu.Lock()
	r.active[cfg.Kind] = a
	r.mu.Unlock()
	return a
}

// Stop stops the acquirer for kind, if any.
func (r *Registry) Stop(kind models.TransportKind) {
	r.mu.Lock()
	a := r.active[kind]
	delete(r.active, kind)
	r.mu.Unlock()

	if a != nil {
		a.Stop()
	}
}

func (r *Registry) StopAll() {
	r.mu.Lock()
	running := make([]*Acquirer, 0, len(r.active))
	for kind, a := range r.active {
		running = append(running, a)
		delete(r.active, kind)
	}
	r.mu.Unlock()

	for _, a := range running {
		a.Stop()
	}
}

// Active reports whether an acquirer for kind is still reading.
func (r *Registry) Active(kind models.TransportKind) bool {
	r.mu.Lock()
	a := r.active[kind]
	r.mu.Unlock()
	return a != nil && !a.Finished()
}
