// Package metrics defines the Prometheus collectors exported by the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector. It is built once and handed to the
// components that record into it.
type Metrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec

	HTTPRequests *prometheus.CounterVec

	ReadingsIngested  *prometheus.CounterVec
	ReadingsDiscarded prometheus.Counter
	ParseErrors       *prometheus.CounterVec
	TransportErrors   *prometheus.CounterVec

	Redraws        prometheus.Counter
	RedrawFailures *prometheus.CounterVec
	RedrawDuration prometheus.Histogram

	FeedPolls   *prometheus.CounterVec
	SpanQueries *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grpc_requests_total",
				Help: "Total number of gRPC requests",
			},
			[]string{"method"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grpc_request_duration_seconds",
				Help:    "Latency of gRPC requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of control API requests",
			},
			[]string{"route", "status"},
		),
		ReadingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "currentcost_readings_ingested_total",
				Help: "Live readings stored in the reading buffer",
			},
			[]string{"transport"},
		),
		ReadingsDiscarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "currentcost_readings_discarded_total",
				Help: "Zero or negative readings ignored as sensor noise",
			},
		),
		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "currentcost_parse_errors_total",
				Help: "Payloads that could not be parsed",
			},
			[]string{"source"},
		),
		TransportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "currentcost_transport_errors_total",
				Help: "Fatal transport failures",
			},
			[]string{"transport"},
		),
		Redraws: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "currentcost_redraws_total",
				Help: "Completed graph redraws",
			},
		),
		RedrawFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "currentcost_redraw_failures_total",
				Help: "Redraw passes aborted by a rendering error",
			},
			[]string{"step"},
		),
		RedrawDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "currentcost_redraw_duration_seconds",
				Help:    "Time spent holding the redraw lock",
				Buckets: prometheus.DefBuckets,
			},
		),
		FeedPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "currentcost_feed_polls_total",
				Help: "Grid feed polls by outcome",
			},
			[]string{"feed", "result"},
		),
		SpanQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "currentcost_span_queries_total",
				Help: "Span usage queries by cache outcome",
			},
			[]string{"cache"},
		),
	}

	reg.MustRegister(
		m.Requests,
		m.Latency,
		m.HTTPRequests,
		m.ReadingsIngested,
		m.ReadingsDiscarded,
		m.ParseErrors,
		m.TransportErrors,
		m.Redraws,
		m.RedrawFailures,
		m.RedrawDuration,
		m.FeedPolls,
		m.SpanQueries,
	)
	return m
}
