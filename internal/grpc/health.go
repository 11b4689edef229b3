package server

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// HealthChecker implements the gRPC health checking protocol. The empty
// service name reports the daemon itself, which serves while it is up.
type HealthChecker struct {
	grpc_health_v1.UnimplementedHealthServer
	mu       sync.RWMutex
	status   map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
	watchers map[string][]chan grpc_health_v1.HealthCheckResponse_ServingStatus
}

// NewHealthChecker registers every component as NOT_SERVING.
func NewHealthChecker(components ...string) *HealthChecker {
	h := &HealthChecker{
		status:   map[string]grpc_health_v1.HealthCheckResponse_ServingStatus{"": grpc_health_v1.HealthCheckResponse_SERVING},
		watchers: make(map[string][]chan grpc_health_v1.HealthCheckResponse_ServingStatus),
	}
	for _, c := range components {
		h.status[c] = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return h
}

func (h *HealthChecker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if st, ok := h.status[req.Service]; ok {
		return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
	}
	return nil, status.Error(codes.NotFound, "unknown service")
}

// Watch streams the status of a service, starting with the current one.
// Unknown services report SERVICE_UNKNOWN until they are registered.
func (h *HealthChecker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	updates := make(chan grpc_health_v1.HealthCheckResponse_ServingStatus, 1)

	h.mu.Lock()
	current, ok := h.status[req.Service]
	if !ok {
		current = grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
	}
	updates <- current
	h.watchers[req.Service] = append(h.watchers[req.Service], updates)
	h.mu.Unlock()

	defer h.unwatch(req.Service, updates)

	var last grpc_health_v1.HealthCheckResponse_ServingStatus = -1
	for {
		select {
		case <-stream.Context().Done():
			return status.FromContextError(stream.Context().Err()).Err()
		case st := <-updates:
			if st == last {
				continue
			}
			last = st
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: st}); err != nil {
				return err
			}
		}
	}
}

func (h *HealthChecker) unwatch(service string, ch chan grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws := h.watchers[service]
	for i, w := range ws {
		if w == ch {
			h.watchers[service] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

// SetServingStatus sets the serving status of a service
func (h *HealthChecker) SetServingStatus(service string, st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[service] = st
	for _, w := range h.watchers[service] {
		// keep only the newest status for slow watchers
		select {
		case <-w:
		default:
		}
		w <- st
	}
}

// SetServing records whether a live-data component is running.
func (h *HealthChecker) SetServing(component string, serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.SetServingStatus(component, st)
}

// Statuses returns a copy of every registered status, keyed by service.
func (h *HealthChecker) Statuses() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.status))
	for svc, st := range h.status {
		if svc == "" {
			continue
		}
		out[svc] = st.String()
	}
	return out
}
