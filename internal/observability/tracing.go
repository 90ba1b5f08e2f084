package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartCameraSpan starts a span for a camera-server HTTP call
func StartCameraSpan(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("camera %s", endpoint),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("net.peer.service", "asg-camera-server"),
			attribute.String("http.route", endpoint),
		),
	)
}

// StartEngineSpan starts a span for a sync-engine phase
func StartEngineSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("engine.%s", phase),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("engine.phase", phase),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SyncMetrics holds the engine's metric instruments
type SyncMetrics struct {
	downloadedFiles metric.Int64Counter
	downloadedBytes metric.Int64Counter
	failedFiles     metric.Int64Counter
	probeCount      metric.Int64Counter
}

// NewSyncMetrics creates the engine's metric instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	downloadedFiles, err := meter.Int64Counter(
		"sync.downloaded.files",
		metric.WithDescription("Files downloaded from the glasses"),
	)
	if err != nil {
		return nil, err
	}

	downloadedBytes, err := meter.Int64Counter(
		"sync.downloaded.bytes",
		metric.WithDescription("Bytes downloaded from the glasses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	failedFiles, err := meter.Int64Counter(
		"sync.failed.files",
		metric.WithDescription("Per-file download failures"),
	)
	if err != nil {
		return nil, err
	}

	probeCount, err := meter.Int64Counter(
		"connectivity.probes",
		metric.WithDescription("Reachability probes against the camera server"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		downloadedFiles: downloadedFiles,
		downloadedBytes: downloadedBytes,
		failedFiles:     failedFiles,
		probeCount:      probeCount,
	}, nil
}

// RecordDownload records one successful file download
func (m *SyncMetrics) RecordDownload(ctx context.Context, bytes int64) {
	if m == nil {
		return
	}
	m.downloadedFiles.Add(ctx, 1)
	m.downloadedBytes.Add(ctx, bytes)
}

// RecordFailure records one per-file download failure
func (m *SyncMetrics) RecordFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.failedFiles.Add(ctx, 1)
}

// RecordProbe records one reachability probe and its outcome
func (m *SyncMetrics) RecordProbe(ctx context.Context, reachable bool) {
	if m == nil {
		return
	}
	m.probeCount.Add(ctx, 1, metric.WithAttributes(attribute.Bool("reachable", reachable)))
}
