package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes stay low-cardinality: operation types, status values and
// component names only. Torrent names, record ids and paths belong in logs.

// InstrumentedFunc is the unit of work wrapped by the instrumentation helpers.
type InstrumentedFunc func(ctx context.Context) error

// instrument traces fn as one span and reports the outcome label and
// duration the metric recorders expect.
func (t *Telemetry) instrument(ctx context.Context, name string, attrs []attribute.KeyValue, fn InstrumentedFunc) (string, time.Duration, error) {
	start := time.Now()

	ctx, span := t.tracer.Start(ctx, name)
	defer span.End()

	span.SetAttributes(attrs...)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(attribute.String("status", status))

	return status, time.Since(start), err
}

// InstrumentDBOperation wraps one history store call.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	status, duration, err := t.instrument(ctx, "db_"+operation, []attribute.KeyValue{
		attribute.String("component", "database"),
		attribute.String("operation", operation),
	}, fn)

	t.RecordDBOperation(operation, status, duration)

	return err
}

// InstrumentClientOperation wraps one download client RPC.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, client, operation string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	status, _, err := t.instrument(ctx, "client_"+operation, []attribute.KeyValue{
		attribute.String("component", "download_client"),
		attribute.String("client.name", client),
		attribute.String("client.operation", operation),
	}, fn)

	t.RecordClientOperation(client, operation, status)

	return err
}

// InstrumentTransfer wraps one full run of the transfer protocol, tracking the
// number of transfers in flight alongside the outcome counter.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	t.IncrementActiveTransfers()
	defer t.DecrementActiveTransfers()

	status, _, err := t.instrument(ctx, "transfer_"+operation, []attribute.KeyValue{
		attribute.String("component", "transfer"),
		attribute.String("operation", operation),
	}, fn)

	t.RecordTransfer(operation, status)

	return err
}
