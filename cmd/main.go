package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tejusbharadwaj/currentcost/internal/chart/gochart"
	"github.com/tejusbharadwaj/currentcost/internal/config"
	"github.com/tejusbharadwaj/currentcost/internal/generation"
	"github.com/tejusbharadwaj/currentcost/internal/gridfeed"
	server "github.com/tejusbharadwaj/currentcost/internal/grpc"
	"github.com/tejusbharadwaj/currentcost/internal/httpapi"
	"github.com/tejusbharadwaj/currentcost/internal/livedata"
	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/models"
	"github.com/tejusbharadwaj/currentcost/internal/parser"
	"github.com/tejusbharadwaj/currentcost/internal/scheduler"
	"github.com/tejusbharadwaj/currentcost/internal/settings"
	"github.com/tejusbharadwaj/currentcost/internal/span"
	"github.com/tejusbharadwaj/currentcost/internal/transport"
)

// Command currentcost reads live power readings from a CurrentCost meter and
// graphs them against national grid demand, frequency and generation mix.
//
// Usage:
//
//	currentcost [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
//	-connect string
//	      transport to connect with at startup: serial, mqtt or nats
func main() {
	flags := parseFlags()

	appConfig, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(appConfig.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, appConfig, flags, logger); err != nil {
		logger.WithError(err).Fatal("Service error")
	}
	logger.Info("Shutdown complete")
}

type Flags struct {
	ConfigPath string
	Connect    string
}

func parseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "config.yaml", "Path to the config file")
	flag.StringVar(&f.Connect, "connect", "", "Transport to connect with at startup (serial, mqtt or nats)")

	flag.Parse()

	return f
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	// already validated by config.Load
	level, _ := logrus.ParseLevel(cfg.Level)
	logger.SetLevel(level)
	return logger
}

func run(ctx context.Context, cfg *config.Config, flags *Flags, logger *logrus.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := settings.Open(ctx, cfg.Settings.Driver, cfg.Settings.DSN)
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}
	defer store.Close()

	spans, err := span.NewEngine(store, cfg.Span.CacheSize, logger, m)
	if err != nil {
		return err
	}

	payloads, err := parser.ForFormat(cfg.Parser.Format)
	if err != nil {
		return err
	}

	surface := gochart.NewSurface(gochart.Options{
		Width:                  cfg.Chart.Width,
		Height:                 cfg.Chart.Height,
		Title:                  "Live electricity usage",
		Output:                 cfg.Chart.Output,
		IncrementalAxisRemoval: cfg.Chart.IncrementalRemoval,
	}, logger)

	health := server.NewHealthChecker(livedata.ComponentLive, livedata.ComponentGrid, livedata.ComponentGeneration)

	opts := []livedata.Option{
		livedata.WithTransports(transport.NewFactory(transportOptions(cfg), logger)),
		livedata.WithParser(payloads),
		livedata.WithNotifier(logNotifier{logger: logger}),
		livedata.WithStatusReporter(health),
		livedata.WithChartOptions(generation.ChartOptions{
			Width:      cfg.Chart.Width,
			Height:     cfg.Chart.Height,
			TimeFormat: cfg.Chart.TimeFormat,
		}),
	}
	downloader := gridfeed.NewDownloader(nil, cfg.Grid.Timeout)
	if cfg.Grid.URL != "" {
		pollerOpts := []gridfeed.PollerOption{gridfeed.WithInterval(cfg.Grid.Interval)}
		if cfg.Grid.RateLimit > 0 {
			pollerOpts = append(pollerOpts, gridfeed.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Grid.RateLimit), 1)))
		}
		feed := gridfeed.NewJSONDemandFeed(cfg.Grid.URL, cfg.Grid.DemandPath, cfg.Grid.FrequencyPath, downloader)
		opts = append(opts, livedata.WithDemandFeed(feed, pollerOpts...))
	}
	if cfg.Generation.URL != "" {
		feed := gridfeed.NewFuelInstFeed(cfg.Generation.URL, downloader)
		opts = append(opts, livedata.WithGenerationFeed(feed, cfg.Generation.OnConnect,
			gridfeed.WithInterval(cfg.Generation.Interval)))
	}

	session := livedata.New(ctx, surface, spans, logger, m, opts...)
	defer session.Close()
	logger.WithField("session", session.ID()).Info("Live data session created")

	if flags.Connect != "" {
		kind, ok := models.ParseTransportKind(flags.Connect)
		if !ok {
			return fmt.Errorf("%w: %q", livedata.ErrUnsupportedTransport, flags.Connect)
		}
		if err := session.Connect(kind, targetFor(kind, cfg)); err != nil {
			return err
		}
	}

	if cfg.Export.Schedule != "" {
		exports := scheduler.NewScheduler(session, cfg.Export.Dir, cfg.Export.Schedule, logger)
		if err := exports.Start(); err != nil {
			return err
		}
		defer exports.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	api := httpapi.NewServer(httpapi.Deps{
		Live:           session,
		Frames:         surface,
		Health:         health,
		Store:          store,
		Gatherer:       reg,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger, m)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := server.SetupServer(server.ServerConfig{
		RateLimit:      cfg.Server.RateLimit,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, health, logger, m)
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	errChan := make(chan error, 2)
	go func() {
		logger.WithField("port", cfg.Server.GRPCPort).Info("Starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			errChan <- fmt.Errorf("grpc server error: %w", err)
		}
	}()
	go func() {
		logger.WithField("port", cfg.Server.HTTPPort).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-errChan:
		logger.WithError(runErr).Error("Server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	// health watchers stream until cancelled, so a graceful stop gets the same
	// deadline as the HTTP server
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	session.Disconnect()
	return runErr
}

func transportOptions(cfg *config.Config) transport.Options {
	return transport.Options{
		Serial: transport.SerialOptions{
			Port:        cfg.Serial.Port,
			BaudRate:    cfg.Serial.BaudRate,
			ReadTimeout: cfg.Serial.ReadTimeout,
		},
		MQTT: transport.MQTTOptions{
			Broker:         cfg.MQTT.Broker,
			Topic:          cfg.MQTT.Topic,
			QoS:            byte(cfg.MQTT.QoS),
			ClientPrefix:   cfg.MQTT.ClientPrefix,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		},
		NATS: transport.NATSOptions{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Name:    cfg.NATS.Name,
		},
	}
}

func targetFor(kind models.TransportKind, cfg *config.Config) transport.Target {
	switch kind {
	case models.TransportSerial:
		return transport.Target{Address: cfg.Serial.Port}
	case models.TransportMQTT:
		return transport.Target{Address: cfg.MQTT.Broker, Topic: cfg.MQTT.Topic}
	case models.TransportNATS:
		return transport.Target{Address: cfg.NATS.URL, Topic: cfg.NATS.Subject}
	}
	return transport.Target{}
}

// logNotifier shows user messages in the log, as the daemon has no screen.
type logNotifier struct {
	logger *logrus.Logger
}

func (n logNotifier) DisplayLiveConnectFailure(msg string) {
	n.logger.WithField("reason", msg).Warn("Live data connection closed")
}

func (n logNotifier) DisplaySpanSummary(summary span.Summary) {
	n.logger.WithFields(logrus.Fields{
		"from":  summary.From,
		"to":    summary.To,
		"usage": summary.UsageKWh,
	}).Info(summary.Message())
}
