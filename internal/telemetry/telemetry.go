package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Telemetry owns the meter provider and every instrument the service records
// against. A disabled instance carries a noop tracer and nil instruments, so
// callers never branch on whether telemetry is on.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics for the history API.
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Transfer pipeline metrics.
	transfersTotal        metric.Int64Counter
	transfersActive       metric.Int64UpDownCounter
	transferBytes         metric.Int64Counter
	torrentsTracked       metric.Int64Gauge
	clientOperationsTotal metric.Int64Counter
	clientErrors          metric.Int64Counter
	dbOperationsTotal     metric.Int64Counter
	dbOperationDuration   metric.Float64Histogram

	systemErrors metric.Int64Counter
	systemUptime metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint, when set, pushes metrics over OTLP gRPC in addition to
	// exposing the Prometheus endpoint.
	OTLPEndpoint string
}

// New builds the telemetry stack: a Prometheus pull reader, an optional OTLP
// push reader, Go runtime instrumentation and the service instruments.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		// Noop tracer, nil instruments: every recording call stays safe.
		return &Telemetry{
			tracer: noop.NewTracerProvider().Tracer(cfg.ServiceName),
		}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	options := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		options = append(options, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(options...)
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(otelruntime.WithMinimumReadMemStatsInterval(15 * time.Second)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	go t.trackUptime(ctx)

	return t, nil
}

func (t *Telemetry) initInstruments() error {
	var errs []error

	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := t.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)

		return c
	}
	updown := func(name, desc string) metric.Int64UpDownCounter {
		c, err := t.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		errs = append(errs, err)

		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		h, err := t.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)

		return h
	}

	t.httpRequestsTotal = counter("http_requests_total", "Total number of HTTP requests", "1")
	t.httpRequestDuration = histogram("http_request_duration_seconds", "HTTP request duration in seconds")
	t.httpRequestsInFlight = updown("http_requests_in_flight", "Number of HTTP requests currently being processed")

	t.transfersTotal = counter("transfers_total", "Total number of transfer attempts", "1")
	t.transfersActive = updown("transfers_active", "Number of transfers currently running")
	t.transferBytes = counter("transfer_bytes_total", "Payload bytes moved to the remote host", "By")
	t.clientOperationsTotal = counter("client_operations_total", "Total number of download client operations", "1")
	t.clientErrors = counter("client_errors_total", "Total number of download client errors", "1")
	t.dbOperationsTotal = counter("db_operations_total", "Total number of database operations", "1")
	t.dbOperationDuration = histogram("db_operation_duration_seconds", "Database operation duration in seconds")
	t.systemErrors = counter("system_errors_total", "Total number of system errors", "1")

	tracked, err := t.meter.Int64Gauge("torrents_tracked",
		metric.WithDescription("Torrents in the registry by lifecycle state"),
		metric.WithUnit("1"),
	)
	errs = append(errs, err)
	t.torrentsTracked = tracked

	uptime, err := t.meter.Float64Gauge("system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)
	t.systemUptime = uptime

	return errors.Join(errs...)
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// RecordHTTPRequest feeds the history API RED metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

func (t *Telemetry) IncrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

func (t *Telemetry) DecrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordTransfer counts one finished transfer attempt by outcome.
func (t *Telemetry) RecordTransfer(operation, status string) {
	if t.transfersTotal != nil {
		t.transfersTotal.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		))
	}
}

// RecordTransferBytes accumulates payload bytes moved to the remote host.
func (t *Telemetry) RecordTransferBytes(bytes int64) {
	if t.transferBytes != nil {
		t.transferBytes.Add(context.Background(), bytes)
	}
}

func (t *Telemetry) IncrementActiveTransfers() {
	if t.transfersActive != nil {
		t.transfersActive.Add(context.Background(), 1)
	}
}

func (t *Telemetry) DecrementActiveTransfers() {
	if t.transfersActive != nil {
		t.transfersActive.Add(context.Background(), -1)
	}
}

// RecordTrackedTorrents records the registry size by lifecycle state.
func (t *Telemetry) RecordTrackedTorrents(state string, count int64) {
	if t.torrentsTracked != nil {
		t.torrentsTracked.Record(context.Background(), count,
			metric.WithAttributes(attribute.String("state", state)))
	}
}

// RecordClientOperation counts one download client RPC. Errors are tallied
// separately so alerting can key off the error counter alone.
func (t *Telemetry) RecordClientOperation(client, operation, status string) {
	if t.clientOperationsTotal != nil {
		t.clientOperationsTotal.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("client", client),
			attribute.String("operation", operation),
			attribute.String("status", status),
		))
	}

	if status == "error" && t.clientErrors != nil {
		t.clientErrors.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("client", client),
			attribute.String("operation", operation),
		))
	}
}

// RecordDBOperation counts one history store call and records its duration.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordSystemError counts a failure outside the per-request and per-transfer
// paths, such as a failed orchestrator tick.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("error_type", errorType),
		))
	}
}

// Handler serves the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) trackUptime(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.systemUptime != nil {
				t.systemUptime.Record(context.Background(), time.Since(start).Seconds())
			}
		}
	}
}
