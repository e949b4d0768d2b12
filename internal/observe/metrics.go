// Package observe provides application-wide observability primitives for
// the decoder daemon: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all decoder metrics.
const meterName = "github.com/kurenai-lab/lvcsr"

// Metrics holds all OpenTelemetry metric instruments for the decoder. All
// fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per search pass ---

	// FirstPassFrameDuration tracks the cost of a single FSBeam.Step call
	// (token expansion, LM factoring, output-prob, rank pruning) for one
	// frame.
	FirstPassFrameDuration metric.Float64Histogram

	// SecondPassDuration tracks the cost of one full StackDecode.Run call
	// (the time-reversed search over a finalized utterance).
	SecondPassDuration metric.Float64Histogram

	// FeaturePushDuration tracks the cost of one feature Pipeline.Push
	// call (windowing, base extraction, deltas, CMN/CVN).
	FeaturePushDuration metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts frames advanced through the first pass. Use
	// with attribute.String("input_kind", ...).
	FramesProcessed metric.Int64Counter

	// UtterancesFinalized counts calls to Session.Finalize, by result
	// status. Use with attribute.String("status", ...).
	UtterancesFinalized metric.Int64Counter

	// SecondPassHyposPopped counts hypotheses popped off the stack-search
	// priority queue, across all utterances.
	SecondPassHyposPopped metric.Int64Counter

	// Rejections counts utterances rejected before search, by reason. Use
	// with attribute.String("reason", ...) (e.g. "short", "long", "gmm").
	Rejections metric.Int64Counter

	// --- Gauges ---

	// BeamWidth reports the configured first-pass rank-pruning width,
	// recorded once per session at construction.
	BeamWidth metric.Int64Gauge

	// ActiveSessions tracks the number of Session values currently open
	// (created but not yet finalized).
	ActiveSessions metric.Int64UpDownCounter

	// TokensAlive reports the number of surviving tokens after pruning,
	// sampled once per frame by the first pass.
	TokensAlive metric.Int64Histogram

	// TrellisAtoms reports the number of word-end atoms accumulated in
	// the back trellis by the time a session finalizes.
	TrellisAtoms metric.Int64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time on the
	// control surface (/metrics, /healthz, /readyz). Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame and per-utterance decoder latencies, which run orders of
// magnitude faster than the voice-pipeline latencies these buckets used to
// measure.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FirstPassFrameDuration, err = m.Float64Histogram("lvcsr.firstpass.frame.duration",
		metric.WithDescription("Latency of a single first-pass frame step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SecondPassDuration, err = m.Float64Histogram("lvcsr.secondpass.duration",
		metric.WithDescription("Latency of one full second-pass stack search."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FeaturePushDuration, err = m.Float64Histogram("lvcsr.feature.push.duration",
		metric.WithDescription("Latency of one feature pipeline Push call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("lvcsr.frames.processed",
		metric.WithDescription("Total frames advanced through the first pass, by input kind."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesFinalized, err = m.Int64Counter("lvcsr.utterances.finalized",
		metric.WithDescription("Total utterances finalized, by result status."),
	); err != nil {
		return nil, err
	}
	if met.SecondPassHyposPopped, err = m.Int64Counter("lvcsr.secondpass.hypos_popped",
		metric.WithDescription("Total stack-search hypotheses popped across all utterances."),
	); err != nil {
		return nil, err
	}
	if met.Rejections, err = m.Int64Counter("lvcsr.rejections",
		metric.WithDescription("Total utterances rejected before search, by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.BeamWidth, err = m.Int64Gauge("lvcsr.firstpass.beam_width",
		metric.WithDescription("Configured first-pass rank-pruning width."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lvcsr.active_sessions",
		metric.WithDescription("Number of Session values currently open."),
	); err != nil {
		return nil, err
	}
	if met.TokensAlive, err = m.Int64Histogram("lvcsr.firstpass.tokens_alive",
		metric.WithDescription("Surviving first-pass tokens after pruning, sampled per frame."),
	); err != nil {
		return nil, err
	}
	if met.TrellisAtoms, err = m.Int64Histogram("lvcsr.trellis.atoms",
		metric.WithDescription("Word-end atoms accumulated in the trellis by utterance end."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lvcsr.http.request.duration",
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

// RecordFrameProcessed is a convenience method that records one
// frames-processed counter increment for the given input kind.
func (m *Metrics) RecordFrameProcessed(ctx context.Context, inputKind string) {
	m.FramesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("input_kind", inputKind)))
}

// RecordUtteranceFinalized is a convenience method that records one
// utterance-finalized counter increment for the given result status.
func (m *Metrics) RecordUtteranceFinalized(ctx context.Context, status string) {
	m.UtterancesFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRejection is a convenience method that records one rejection counter
// increment for the given reason.
func (m *Metrics) RecordRejection(ctx context.Context, reason string) {
	m.Rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
