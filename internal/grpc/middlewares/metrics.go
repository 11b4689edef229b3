package middleware

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"

	"github.com/tejusbharadwaj/currentcost/internal/metrics"
)

// NewMetricsInterceptor counts calls and observes their latency per method.
func NewMetricsInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		method := path.Base(info.FullMethod)
		m.Requests.WithLabelValues(method).Inc()
		m.Latency.WithLabelValues(method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}
