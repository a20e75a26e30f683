// Package observe provides application-wide observability primitives for
// voxlog: OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed on
// /metrics through the Prometheus exporter bridge set up by [InitProvider].
// [DefaultMetrics] uses the global meter provider; tests should call
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voxlog"

// Metrics holds all OpenTelemetry instruments of the application.
type Metrics struct {
	// MonitorTransitions counts capture state changes ("from", "to").
	MonitorTransitions metric.Int64Counter

	// ProbeRecycles counts probe sessions closed and reopened while waiting
	// for speech.
	ProbeRecycles metric.Int64Counter

	// CaptureOpenFailures counts failed session opens ("target": probe|segment).
	CaptureOpenFailures metric.Int64Counter

	// Segments counts closed segments ("outcome": persisted|discarded|failed).
	Segments metric.Int64Counter

	// SegmentDuration is the length of persisted segments.
	SegmentDuration metric.Float64Histogram

	// EnrichmentJobs counts finished jobs ("kind", "status").
	EnrichmentJobs metric.Int64Counter

	// EnrichmentDuration is the run time of enrichment jobs ("kind").
	EnrichmentDuration metric.Float64Histogram

	// EnrichmentInFlight is the number of jobs currently running or waiting
	// for a worker.
	EnrichmentInFlight metric.Int64UpDownCounter

	// BreakerTransitions counts circuit breaker state changes ("name", "to").
	BreakerTransitions metric.Int64Counter

	// StatusSubscribers is the number of attached status observers.
	StatusSubscribers metric.Int64UpDownCounter

	// ToolCalls counts MCP tool invocations ("tool", "status").
	ToolCalls metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request latency ("method", "path").
	HTTPRequestDuration metric.Float64Histogram
}

// jobBuckets covers sub-second title generation up to multi-minute
// transcription on slow hardware.
var jobBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// segmentBuckets covers the minimum recording length up to long meetings.
var segmentBuckets = []float64{2, 5, 10, 30, 60, 300, 600, 1800, 3600}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.MonitorTransitions, err = m.Int64Counter("voxlog.monitor.transitions",
		metric.WithDescription("Capture state transitions by from/to state."),
	); err != nil {
		return nil, err
	}
	if met.ProbeRecycles, err = m.Int64Counter("voxlog.monitor.probe_recycles",
		metric.WithDescription("Probe sessions recycled after a quiet period."),
	); err != nil {
		return nil, err
	}
	if met.CaptureOpenFailures, err = m.Int64Counter("voxlog.capture.open_failures",
		metric.WithDescription("Failed capture session opens by target."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("voxlog.segments",
		metric.WithDescription("Closed recording segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("voxlog.segment.duration",
		metric.WithDescription("Duration of persisted recording segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentJobs, err = m.Int64Counter("voxlog.enrichment.jobs",
		metric.WithDescription("Finished enrichment jobs by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentDuration, err = m.Float64Histogram("voxlog.enrichment.duration",
		metric.WithDescription("Run time of enrichment jobs by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentInFlight, err = m.Int64UpDownCounter("voxlog.enrichment.in_flight",
		metric.WithDescription("Enrichment jobs running or waiting for a worker."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxlog.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.StatusSubscribers, err = m.Int64UpDownCounter("voxlog.status.subscribers",
		metric.WithDescription("Attached status stream observers."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxlog.mcp.tool_calls",
		metric.WithDescription("MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxlog.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider] at first use. Call [InitProvider] before the first
// call so the instruments land on the Prometheus bridge.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition counts a capture state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.MonitorTransitions.Add(ctx, 1, metric.WithAttributes(Attr("from", from), Attr("to", to)))
}

// RecordOpenFailure counts a failed probe or segment open.
func (m *Metrics) RecordOpenFailure(ctx context.Context, target string) {
	m.CaptureOpenFailures.Add(ctx, 1, metric.WithAttributes(Attr("target", target)))
}

// RecordSegment counts a closed segment. d is only observed for persisted
// segments.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string, d time.Duration) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	if outcome == "persisted" {
		m.SegmentDuration.Record(ctx, d.Seconds())
	}
}

// RecordJob counts a finished enrichment job and observes its duration.
func (m *Metrics) RecordJob(ctx context.Context, kind, status string, d time.Duration) {
	m.EnrichmentJobs.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind), Attr("status", status)))
	m.EnrichmentDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("kind", kind)))
}

// RecordBreaker counts a circuit breaker transition.
func (m *Metrics) RecordBreaker(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("name", name), Attr("to", to)))
}

// RecordToolCall counts an MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(Attr("tool", tool), Attr("status", status)))
}
