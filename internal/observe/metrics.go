// Package observe provides application-wide observability primitives for
// roledraft: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all roledraft metrics.
const meterName = "github.com/roledraft/roledraft"

// Merge source attribute values, one per update path into the document store.
const (
	SourceBaseline = "baseline"
	SourcePoll     = "poll"
	SourcePush     = "push"
	SourceUser     = "user"
)

// Poll tick outcome attribute values.
const (
	TickMerged    = "merged"    // status advanced, document fetched and merged
	TickNoop      = "noop"      // status unchanged, nothing fetched
	TickThrottled = "throttled" // tick body skipped under push-healthy throttling
	TickFailed    = "failed"    // status or document request failed
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StatusDuration tracks status-check latency against the extraction
	// backend.
	StatusDuration metric.Float64Histogram

	// FetchDuration tracks full-document fetch latency against the
	// extraction backend.
	FetchDuration metric.Float64Histogram

	// --- Counters ---

	// Merges counts document merges. Use with attribute:
	//   attribute.String("source", ...) — one of the Source* constants.
	Merges metric.Int64Counter

	// ChangedFields counts individual field changes across all merges.
	ChangedFields metric.Int64Counter

	// PollTicks counts poll-timer ticks. Use with attribute:
	//   attribute.String("outcome", ...) — one of the Tick* constants.
	PollTicks metric.Int64Counter

	// PushEvents counts push-channel notifications by event type.
	PushEvents metric.Int64Counter

	// TranscriptAppends counts transcript append attempts. Use with:
	//   attribute.Bool("accepted", ...)
	TranscriptAppends metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts failed extraction-backend requests by operation
	// ("status" or "document").
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// EventStreamClients tracks the number of connected UI event-stream
	// subscribers.
	EventStreamClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// backend round-trips on a local network.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StatusDuration, err = m.Float64Histogram("roledraft.status.duration",
		metric.WithDescription("Latency of status checks against the extraction backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FetchDuration, err = m.Float64Histogram("roledraft.fetch.duration",
		metric.WithDescription("Latency of full-document fetches from the extraction backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Merges, err = m.Int64Counter("roledraft.document.merges",
		metric.WithDescription("Total document merges by update source."),
	); err != nil {
		return nil, err
	}
	if met.ChangedFields, err = m.Int64Counter("roledraft.document.changed_fields",
		metric.WithDescription("Total individual field changes across all merges."),
	); err != nil {
		return nil, err
	}
	if met.PollTicks, err = m.Int64Counter("roledraft.poll.ticks",
		metric.WithDescription("Total poll-timer ticks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PushEvents, err = m.Int64Counter("roledraft.push.events",
		metric.WithDescription("Total push-channel notifications by event type."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptAppends, err = m.Int64Counter("roledraft.transcript.appends",
		metric.WithDescription("Total transcript append attempts by acceptance."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("roledraft.backend.errors",
		metric.WithDescription("Total failed extraction-backend requests by operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.EventStreamClients, err = m.Int64UpDownCounter("roledraft.event_stream.clients",
		metric.WithDescription("Number of connected UI event-stream subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("roledraft.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordMerge is a convenience method that records one document merge from
// the given source together with the number of fields it changed.
func (m *Metrics) RecordMerge(ctx context.Context, source string, changedFields int) {
	m.Merges.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
	if changedFields > 0 {
		m.ChangedFields.Add(ctx, int64(changedFields),
			metric.WithAttributes(attribute.String("source", source)),
		)
	}
}

// RecordPollTick is a convenience method that records one poll-timer tick
// with its outcome.
func (m *Metrics) RecordPollTick(ctx context.Context, outcome string) {
	m.PollTicks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordPushEvent is a convenience method that records one push-channel
// notification.
func (m *Metrics) RecordPushEvent(ctx context.Context, eventType string) {
	m.PushEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordTranscriptAppend is a convenience method that records one transcript
// append attempt.
func (m *Metrics) RecordTranscriptAppend(ctx context.Context, accepted bool) {
	m.TranscriptAppends.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("accepted", accepted)),
	)
}

// RecordBackendError is a convenience method that records one failed request
// to the extraction backend.
func (m *Metrics) RecordBackendError(ctx context.Context, op string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
