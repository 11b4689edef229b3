// Package server exposes the daemon over gRPC: the standard health service,
// reporting each live-data component, and server reflection.
package server

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	middleware "github.com/tejusbharadwaj/currentcost/internal/grpc/middlewares"
	"github.com/tejusbharadwaj/currentcost/internal/metrics"
)

// ServerConfig holds configuration options for the gRPC server
type ServerConfig struct {
	RateLimit      float64 // Requests per second
	RateLimitBurst int     // Maximum burst size for rate limiting
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RateLimit:      5.0,
		RateLimitBurst: 10,
	}
}

// SetupServer initializes and configures the gRPC server with all middleware
func SetupServer(config ServerConfig, health *HealthChecker, logger *logrus.Logger, m *metrics.Metrics) *grpc.Server {
	if config.RateLimit <= 0 {
		config.RateLimit = DefaultServerConfig().RateLimit
	}
	if config.RateLimitBurst <= 0 {
		config.RateLimitBurst = DefaultServerConfig().RateLimitBurst
	}
	limiter := rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimitBurst)

	server := grpc.NewServer(
		grpc.UnaryInterceptor(
			chainUnaryInterceptors(
				middleware.ContextMiddleware,                   // Add request ID first
				middleware.NewRateLimitingInterceptor(limiter), // Rate limit early
				middleware.NewLoggingInterceptor(logger),
				middleware.NewMetricsInterceptor(m),
			),
		),
	)

	grpc_health_v1.RegisterHealthServer(server, health)
	reflection.Register(server)

	return server
}

// chainUnaryInterceptors creates a single interceptor from multiple interceptors
func chainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			next := chain
			chain = func(ctx context.Context, req interface{}) (interface{}, error) {
				return interceptor(ctx, req, info, next)
			}
		}
		return chain(ctx, req)
	}
}
