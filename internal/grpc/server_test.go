package server_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	server "github.com/tejusbharadwaj/currentcost/internal/grpc"
	"github.com/tejusbharadwaj/currentcost/internal/livedata"
	"github.com/tejusbharadwaj/currentcost/internal/metrics"
)

// compile-time check that the checker can receive session status
var _ livedata.StatusReporter = (*server.HealthChecker)(nil)

func startServer(t *testing.T, cfg server.ServerConfig) (grpc_health_v1.HealthClient, *server.HealthChecker, *metrics.Metrics) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := metrics.New(prometheus.NewRegistry())
	health := server.NewHealthChecker(livedata.ComponentLive, livedata.ComponentGrid)

	srv := server.SetupServer(cfg, health, logger, m)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return grpc_health_v1.NewHealthClient(conn), health, m
}

func TestHealthCheck(t *testing.T) {
	client, health, m := startServer(t, server.DefaultServerConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name    string
		service string
		setup   func()
		want    grpc_health_v1.HealthCheckResponse_ServingStatus
		code    codes.Code
	}{
		{
			name:    "daemon",
			service: "",
			want:    grpc_health_v1.HealthCheckResponse_SERVING,
		},
		{
			name:    "live not connected",
			service: livedata.ComponentLive,
			want:    grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		},
		{
			name:    "live connected",
			service: livedata.ComponentLive,
			setup:   func() { health.SetServing(livedata.ComponentLive, true) },
			want:    grpc_health_v1.HealthCheckResponse_SERVING,
		},
		{
			name:    "unknown component",
			service: "currentcost.history",
			code:    codes.NotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: tt.service})
			if tt.code != codes.OK {
				assert.Equal(t, tt.code, status.Code(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Status)
		})
	}

	assert.Equal(t, 4.0, testutil.ToFloat64(m.Requests.WithLabelValues("Check")))
}

func TestHealthWatchFollowsComponent(t *testing.T) {
	client, health, _ := startServer(t, server.DefaultServerConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Watch(ctx, &grpc_health_v1.HealthCheckRequest{Service: livedata.ComponentGrid})
	require.NoError(t, err)

	resp, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)

	health.SetServing(livedata.ComponentGrid, true)
	resp, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}

func TestRateLimitedServer(t *testing.T) {
	client, _, _ := startServer(t, server.ServerConfig{RateLimit: 0.001, RateLimitBurst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)

	_, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestStatuses(t *testing.T) {
	health := server.NewHealthChecker(livedata.ComponentLive)
	health.SetServing(livedata.ComponentGeneration, true)

	assert.Equal(t, map[string]string{
		livedata.ComponentLive:       "NOT_SERVING",
		livedata.ComponentGeneration: "SERVING",
	}, health.Statuses())
}
