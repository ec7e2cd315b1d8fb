package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/vitrola/internal/observe"
	"github.com/MrWong99/vitrola/internal/resilience"
)

// DefaultTimeout bounds one resolution including catalog lookup.
const DefaultTimeout = 30 * time.Second

// catalogBackend labels catalog failures in metrics.
const catalogBackend = "catalog"

// Option configures a [Resolver].
type Option func(*Resolver)

// WithCatalog enables catalog links. Without a catalog they fail with
// [ErrCatalogUnavailable].
func WithCatalog(c Catalog) Option {
	return func(r *Resolver) { r.catalog = c }
}

// WithExtractor appends a backend to the chain. Backends are tried in the
// order they are added.
func WithExtractor(name string, e Extractor) Option {
	return func(r *Resolver) {
		r.extractors = append(r.extractors, namedExtractor{name: name, ext: e})
	}
}

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBreaker overrides the per-backend circuit breaker settings. Name,
// IsFailure and OnStateChange are always set by the resolver.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Resolver) { r.breaker = cfg }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

type namedExtractor struct {
	name string
	ext  Extractor
}

// Resolver implements the query → [Track] pipeline. It is safe for
// concurrent use.
type Resolver struct {
	catalog    Catalog
	extractors []namedExtractor
	timeout    time.Duration
	breaker    resilience.CircuitBreakerConfig
	metrics    *observe.Metrics

	backends *resilience.FallbackGroup[Extractor]
	flight   singleflight.Group
}

// New builds a Resolver. At least one extractor is required.
func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{timeout: DefaultTimeout}
	for _, o := range opts {
		o(r)
	}
	if len(r.extractors) == 0 {
		return nil, errors.New("resolver: at least one extractor is required")
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}

	cb := r.breaker
	cb.IsFailure = countsAgainstBackend
	cb.OnStateChange = func(name string, _, to resilience.State) {
		slog.Info("resolver: backend breaker changed state", "backend", name, "state", to.String())
		r.metrics.RecordBreakerTransition(context.Background(), name, to.String())
	}
	r.backends = resilience.NewFallbackGroup[Extractor](resilience.FallbackConfig{CircuitBreaker: cb})
	for _, e := range r.extractors {
		r.backends.Add(e.name, e.ext)
	}
	return r, nil
}

// countsAgainstBackend keeps "nothing found" answers and caller
// cancellations from opening a backend's breaker.
func countsAgainstBackend(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrNoResults) &&
		!errors.Is(err, ErrUnsupported) &&
		!errors.Is(err, context.Canceled)
}

// BackendStates reports the breaker state of every backend.
func (r *Resolver) BackendStates() map[string]resilience.State {
	return r.backends.States()
}

// Resolve turns query into a playable Track. Every failure is returned as
// *[Error].
func (r *Resolver) Resolve(ctx context.Context, query string) (Track, error) {
	query = strings.TrimSpace(query)

	ctx, span := observe.StartSpan(ctx, "resolver.resolve",
		trace.WithAttributes(attribute.String("resolver.query", query)))
	start := time.Now()

	t, backend, err := r.resolve(ctx, query)

	r.metrics.RecordResolve(ctx, backend, time.Since(start), err, errorKind(err))
	if err == nil {
		span.SetAttributes(
			attribute.String("resolver.backend", backend),
			attribute.String("resolver.title", t.Title),
		)
	}
	observe.EndSpan(span, err)

	if err != nil {
		observe.Logger(ctx).Debug("resolver: resolution failed", "query", query, "backend", backend, "err", err)
		return Track{}, &Error{Query: query, Err: err}
	}
	return t, nil
}

type flightResult struct {
	track   Track
	backend string
}

func (r *Resolver) resolve(ctx context.Context, query string) (Track, string, error) {
	if query == "" {
		return Track{}, "", ErrEmptyQuery
	}

	effective := query
	if id, ok := ParseCatalogLink(query); ok {
		if r.catalog == nil {
			return Track{}, catalogBackend, ErrCatalogUnavailable
		}
		lctx, cancel := context.WithTimeout(ctx, r.timeout)
		q, err := r.catalog.Lookup(lctx, id)
		cancel()
		if err != nil {
			return Track{}, catalogBackend, err
		}
		effective = q
	}

	// The shared extraction outlives any single caller's cancellation.
	ch := r.flight.DoChan(effective, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		t, name, err := resilience.Execute(fctx, r.backends, func(ctx context.Context, e Extractor) (Track, error) {
			return e.Extract(ctx, effective)
		})
		if err != nil {
			return flightResult{backend: name}, err
		}
		if t.Source == "" {
			t.Source = name
		}
		return flightResult{track: t, backend: name}, nil
	})

	select {
	case res := <-ch:
		fr, _ := res.Val.(flightResult)
		if res.Err != nil {
			return Track{}, fr.backend, res.Err
		}
		return fr.track, fr.backend, nil
	case <-ctx.Done():
		return Track{}, "", ctx.Err()
	}
}

// errorKind classifies err for metrics.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyQuery):
		return "empty_query"
	case errors.Is(err, ErrCatalogUnavailable):
		return "catalog_unconfigured"
	case errors.Is(err, ErrNoResults):
		return "no_results"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, resilience.ErrAllFailed):
		return "backends_failed"
	default:
		return "error"
	}
}

// UserMessage returns the text shown to users for a resolution failure.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrEmptyQuery):
		return "nenhuma música informada"
	case errors.Is(err, ErrCatalogUnavailable):
		return "links do Spotify não estão configurados"
	case errors.Is(err, ErrNoResults):
		return "nenhum resultado encontrado"
	case errors.Is(err, context.DeadlineExceeded):
		return "tempo esgotado"
	}
	var re *Error
	if errors.As(err, &re) {
		return fmt.Sprint(re.Err)
	}
	return err.Error()
}
