// Package observe provides application-wide observability primitives for
// Vitrola: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so the admin server can
// expose them on the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vitrola metrics.
const meterName = "github.com/MrWong99/vitrola"

// Status attribute values shared by the Record helpers.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Track resolution ---

	// ResolveDuration tracks end-to-end resolution latency. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	ResolveDuration metric.Float64Histogram

	// ResolveErrors counts failed resolutions by backend and kind.
	ResolveErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by backend and
	// the state entered.
	BreakerTransitions metric.Int64Counter

	// --- Playback ---

	// TracksStarted counts tracks handed to the transport, by source backend.
	TracksStarted metric.Int64Counter

	// PlaybackFailures counts playbacks that ended in an error, by kind.
	PlaybackFailures metric.Int64Counter

	// IdleDisconnects counts sessions torn down by the inactivity supervisor.
	IdleDisconnects metric.Int64Counter

	// ActiveSessions tracks the number of live guild sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Chat surface ---

	// Commands counts handled chat commands by name and outcome.
	Commands metric.Int64Counter

	// Notifications counts outbound messages by status (sent, retried, dropped).
	Notifications metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request processing time. Use with
	// attributes: attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// resolveBuckets spans fast cache-like hits up to the resolver timeout.
var resolveBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ResolveDuration, err = m.Float64Histogram("vitrola.resolve.duration",
		metric.WithDescription("Latency of track resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(resolveBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResolveErrors, err = m.Int64Counter("vitrola.resolve.errors",
		metric.WithDescription("Failed track resolutions by backend and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("vitrola.resolver.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by backend and new state."),
	); err != nil {
		return nil, err
	}

	if met.TracksStarted, err = m.Int64Counter("vitrola.tracks.started",
		metric.WithDescription("Tracks started on a voice connection, by source."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("vitrola.playback.failures",
		metric.WithDescription("Playbacks that ended in an error, by kind."),
	); err != nil {
		return nil, err
	}
	if met.IdleDisconnects, err = m.Int64Counter("vitrola.idle_disconnects",
		metric.WithDescription("Sessions disconnected after the idle grace period."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("vitrola.active_sessions",
		metric.WithDescription("Number of live guild playback sessions."),
	); err != nil {
		return nil, err
	}

	if met.Commands, err = m.Int64Counter("vitrola.commands",
		metric.WithDescription("Chat commands handled, by command and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Notifications, err = m.Int64Counter("vitrola.notifications",
		metric.WithDescription("Outbound chat messages by status."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vitrola.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordResolve records one resolution attempt. kind classifies failures and
// is ignored when err is nil.
func (m *Metrics) RecordResolve(ctx context.Context, backend string, d time.Duration, err error, kind string) {
	status := StatusOK
	if err != nil {
		status = StatusError
		m.ResolveErrors.Add(ctx, 1, metric.WithAttributes(
			Attr("backend", backend),
			Attr("kind", kind),
		))
	}
	m.ResolveDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		Attr("backend", backend),
		Attr("status", status),
	))
}

// RecordBreakerTransition records a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("backend", backend),
		Attr("state", state),
	))
}

// RecordTrackStarted records a track handed to the transport.
func (m *Metrics) RecordTrackStarted(ctx context.Context, source string) {
	m.TracksStarted.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
}

// RecordPlaybackFailure records a failed playback of the given kind
// ("stream" or "connection").
func (m *Metrics) RecordPlaybackFailure(ctx context.Context, kind string) {
	m.PlaybackFailures.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordIdleDisconnect records an inactivity teardown.
func (m *Metrics) RecordIdleDisconnect(ctx context.Context) {
	m.IdleDisconnects.Add(ctx, 1)
}

// RecordCommand records a handled chat command.
func (m *Metrics) RecordCommand(ctx context.Context, command, outcome string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(
		Attr("command", command),
		Attr("outcome", outcome),
	))
}

// RecordNotification records the delivery status of an outbound message.
func (m *Metrics) RecordNotification(ctx context.Context, status string) {
	m.Notifications.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}
