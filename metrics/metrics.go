// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

// Package metrics implements OpenTelemetry and Prometheus metrics collection
// for the DNS responder. It tracks messages built and parsed, codec errors by
// kind, and per-query latency.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics manages OpenTelemetry and Prometheus metric collection for the
// codec-facing operations a responder performs: messages parsed off the
// wire, messages built in response, and the errors either step raised.
type Metrics struct {
	parsedCounter    metric.Int64Counter
	builtCounter     metric.Int64Counter
	codecErrCounter  metric.Int64Counter
	latencyRecorder  metric.Float64Histogram
	prometheusAddr   string
	prometheusServer *http.Server
}

// New initializes metrics with OpenTelemetry and/or Prometheus endpoints.
func New(otelEndpoint string, prometheusEndpoint string) (*Metrics, error) {
	m := &Metrics{
		prometheusAddr: prometheusEndpoint,
	}

	// Metrics are enabled if at least one endpoint is provided
	if otelEndpoint == "" && prometheusEndpoint == "" {
		return m, nil
	}

	ctx := context.Background()

	var readers []sdkmetric.Reader

	// Set up OTLP HTTP exporter if endpoint provided
	if otelEndpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(otelEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			slog.Warn("failed to create OTLP exporter", "error", err)
		} else {
			readers = append(readers, sdkmetric.NewPeriodicReader(exporter))
			slog.Info("OTLP exporter configured", "endpoint", otelEndpoint)
		}
	}

	// Set up Prometheus exporter if endpoint provided
	if prometheusEndpoint != "" {
		promExporter, err := prometheus.New()
		if err != nil {
			slog.Warn("failed to create Prometheus exporter", "error", err)
		} else {
			readers = append(readers, promExporter)
			slog.Info("Prometheus exporter configured", "endpoint", prometheusEndpoint)
		}
	}

	// Build meter provider with all readers
	if len(readers) == 0 {
		slog.Warn("no metric exporters configured")
		return m, nil
	}

	var opts []sdkmetric.Option
	for _, reader := range readers {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	meter := otel.Meter("dnswire-serve")

	parsedCounter, err := meter.Int64Counter(
		"dnswire.messages.parsed",
		metric.WithDescription("Total DNS messages successfully parsed off the wire"),
	)
	if err != nil {
		slog.Warn("failed to create parsed-message counter", "error", err)
		return m, nil
	}

	builtCounter, err := meter.Int64Counter(
		"dnswire.messages.built",
		metric.WithDescription("Total DNS response messages built"),
	)
	if err != nil {
		slog.Warn("failed to create built-message counter", "error", err)
		return m, nil
	}

	codecErrCounter, err := meter.Int64Counter(
		"dnswire.codec.errors",
		metric.WithDescription("Total codec errors, by kind"),
	)
	if err != nil {
		slog.Warn("failed to create codec error counter", "error", err)
		return m, nil
	}

	latencyRecorder, err := meter.Float64Histogram(
		"dnswire.query.latency_ms",
		metric.WithDescription("Query handling latency in milliseconds"),
	)
	if err != nil {
		slog.Warn("failed to create latency recorder", "error", err)
		return m, nil
	}

	m.parsedCounter = parsedCounter
	m.builtCounter = builtCounter
	m.codecErrCounter = codecErrCounter
	m.latencyRecorder = latencyRecorder

	// Start Prometheus HTTP server if configured
	if m.prometheusAddr != "" {
		if err := m.startPrometheusServer(); err != nil {
			slog.Warn("failed to start Prometheus server", "error", err)
		}
	}

	return m, nil
}

// RecordParsed records one successfully parsed incoming message.
func (m *Metrics) RecordParsed(zone string) {
	if m.parsedCounter == nil {
		return
	}
	m.parsedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("zone", zone)),
	)
}

// RecordBuilt records one response message built for zone.
func (m *Metrics) RecordBuilt(zone string, found bool) {
	if m.builtCounter == nil {
		return
	}
	m.builtCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("zone", zone),
			attribute.Bool("found", found),
		),
	)
}

// RecordCodecError records a failure tagged with a kind label (an
// ErrorKind's name, or a caller-chosen label such as "acl_denied" or
// "unknown") so operators can see which failure mode dominates.
func (m *Metrics) RecordCodecError(zone string, kind string) {
	if m.codecErrCounter == nil {
		return
	}
	m.codecErrCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("zone", zone),
			attribute.String("kind", kind),
		),
	)
}

// RecordLatency records query-handling latency in milliseconds.
func (m *Metrics) RecordLatency(zone string, latencyMs float64) {
	if m.latencyRecorder == nil {
		return
	}
	m.latencyRecorder.Record(context.Background(), latencyMs,
		metric.WithAttributes(
			attribute.String("zone", zone),
		),
	)
}

// startPrometheusServer starts the HTTP server for Prometheus metrics
func (m *Metrics) startPrometheusServer() error {
	// Create a new ServeMux to avoid conflicts with default http.DefaultServeMux
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := m.prometheusAddr
	m.prometheusServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		slog.Info("Starting Prometheus metrics server", "endpoint", addr+"/metrics")
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Prometheus metrics server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the Prometheus metrics server
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// StartPrometheus starts a Prometheus metrics endpoint
// DEPRECATED: Use New() with prometheusEndpoint parameter instead
func StartPrometheus(port int) error {
	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	currentProvider := otel.GetMeterProvider()
	if _, ok := currentProvider.(*sdkmetric.MeterProvider); ok {
		slog.Warn("MeterProvider already set. Prometheus may not receive all metrics.")
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	go func() {
		slog.Info("Starting Prometheus metrics server", "endpoint", addr+"/metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("Prometheus metrics server error", "error", err)
		}
	}()

	return nil
}
