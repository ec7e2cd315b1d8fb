package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/vitrola/internal/observe"
	"github.com/MrWong99/vitrola/internal/resilience"
)

type fakeExtractor struct {
	mu      sync.Mutex
	queries []string
	track   Track
	err     error
	block   chan struct{}
	calls   atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, query string) (Track, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Track{}, ctx.Err()
		}
	}
	return f.track, f.err
}

type fakeCatalog struct {
	query string
	err   error
	ids   []string
}

func (c *fakeCatalog) Lookup(_ context.Context, id string) (string, error) {
	c.ids = append(c.ids, id)
	return c.query, c.err
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	r, err := New(append([]Option{WithMetrics(testMetrics(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNew_RequiresExtractor(t *testing.T) {
	t.Parallel()
	if _, err := New(WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error without extractors")
	}
}

func TestResolve_FreeText(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{track: Track{Title: "X", StreamURL: "https://s/x"}}
	r := newTestResolver(t, WithExtractor(SourceYTDLP, ext))

	got, err := r.Resolve(t.Context(), "  some song  ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Title != "X" || got.Source != SourceYTDLP {
		t.Errorf("got %+v", got)
	}
	if ext.queries[0] != "some song" {
		t.Errorf("extractor query = %q, want trimmed", ext.queries[0])
	}
}

func TestResolve_CatalogLink(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{track: Track{Title: "Song Artist (Official)", StreamURL: "u"}}
	cat := &fakeCatalog{query: "Song Artist"}
	r := newTestResolver(t, WithCatalog(cat), WithExtractor(SourceYTDLP, ext))

	got, err := r.Resolve(t.Context(), "https://open.spotify.com/track/abc?si=x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cat.ids[0] != "abc" {
		t.Errorf("catalog id = %q, want abc", cat.ids[0])
	}
	if ext.queries[0] != "Song Artist" {
		t.Errorf("effective query = %q, want %q", ext.queries[0], "Song Artist")
	}
	if got.Title != "Song Artist (Official)" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()

	catErr := errors.New("spotify: 503")
	tests := []struct {
		name    string
		opts    []Option
		query   string
		wantErr error
	}{
		{"empty query", nil, "   ", ErrEmptyQuery},
		{"catalog not configured", nil, "https://open.spotify.com/track/abc", ErrCatalogUnavailable},
		{"catalog unreachable", []Option{WithCatalog(&fakeCatalog{err: catErr})}, "https://open.spotify.com/track/abc", catErr},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ext := &fakeExtractor{track: Track{StreamURL: "u"}}
			opts := append(tc.opts, WithExtractor("a", ext))
			r := newTestResolver(t, opts...)

			_, err := r.Resolve(t.Context(), tc.query)
			var re *Error
			if !errors.As(err, &re) {
				t.Fatalf("err = %T %v, want *Error", err, err)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
			if ext.calls.Load() != 0 {
				t.Error("extractor called")
			}
		})
	}
}

// Not parallel: it swaps the global tracer provider.
func TestResolve_RecordsSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ok := &fakeExtractor{track: Track{Title: "Found", StreamURL: "u"}}
	r := newTestResolver(t, WithExtractor(SourceYTDLP, ok))
	if _, err := r.Resolve(t.Context(), "found song"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	none := &fakeExtractor{err: ErrNoResults}
	r = newTestResolver(t, WithExtractor(SourceNative, none))
	if _, err := r.Resolve(t.Context(), "missing song"); err == nil {
		t.Fatal("expected error")
	}

	byQuery := map[string]tracetest.SpanStub{}
	for _, s := range exp.GetSpans() {
		if s.Name != "resolver.resolve" {
			continue
		}
		for _, kv := range s.Attributes {
			if kv.Key == "resolver.query" {
				byQuery[kv.Value.AsString()] = s
			}
		}
	}

	found, okSpan := byQuery["found song"]
	if !okSpan {
		t.Fatal("no span for the successful resolution")
	}
	if found.Status.Code != codes.Unset {
		t.Errorf("success span status = %v", found.Status)
	}
	attrs := map[string]string{}
	for _, kv := range found.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["resolver.backend"] != SourceYTDLP || attrs["resolver.title"] != "Found" {
		t.Errorf("success span attributes = %v", attrs)
	}

	missing, okSpan := byQuery["missing song"]
	if !okSpan {
		t.Fatal("no span for the failed resolution")
	}
	if missing.Status.Code != codes.Error || !strings.Contains(missing.Status.Description, ErrNoResults.Error()) {
		t.Errorf("failure span status = %+v", missing.Status)
	}
	if len(missing.Events) == 0 || missing.Events[0].Name != "exception" {
		t.Errorf("failure span events = %+v, want a recorded error", missing.Events)
	}
}

func TestResolve_FallsBackToSecondBackend(t *testing.T) {
	t.Parallel()

	primary := &fakeExtractor{err: errors.New("yt-dlp: executable not found")}
	secondary := &fakeExtractor{track: Track{Title: "Y", StreamURL: "u"}}
	r := newTestResolver(t, WithExtractor(SourceYTDLP, primary), WithExtractor(SourceNative, secondary))

	got, err := r.Resolve(t.Context(), "song")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Source != SourceNative {
		t.Errorf("source = %q, want %q", got.Source, SourceNative)
	}
}

func TestResolve_NoResultsDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	primary := &fakeExtractor{err: ErrNoResults}
	r := newTestResolver(t,
		WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}),
		WithExtractor(SourceYTDLP, primary),
	)

	for range 3 {
		_, err := r.Resolve(t.Context(), "zzzz unknown")
		if !errors.Is(err, ErrNoResults) {
			t.Fatalf("err = %v, want ErrNoResults", err)
		}
		if got := UserMessage(err); got != "nenhum resultado encontrado" {
			t.Errorf("UserMessage = %q", got)
		}
	}
	if primary.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", primary.calls.Load())
	}
	if s := r.BackendStates()[SourceYTDLP]; s != resilience.StateClosed {
		t.Errorf("breaker = %v, want closed", s)
	}
}

func TestResolve_CoalescesIdenticalQueries(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{track: Track{Title: "Z", StreamURL: "u"}, block: make(chan struct{})}
	r := newTestResolver(t, WithExtractor("a", ext))

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan Track, callers)
	for range callers {
		wg.Go(func() {
			tr, err := r.Resolve(t.Context(), "same song")
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			results <- tr
		})
	}

	// Let every caller join the in-flight call before it completes.
	deadline := time.Now().Add(2 * time.Second)
	for ext.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(ext.block)
	wg.Wait()
	close(results)

	n := 0
	for tr := range results {
		n++
		if tr.Title != "Z" {
			t.Errorf("title = %q", tr.Title)
		}
	}
	if n != callers {
		t.Errorf("results = %d, want %d", n, callers)
	}
	if got := ext.calls.Load(); got != 1 {
		t.Errorf("extractor calls = %d, want 1", got)
	}
}

func TestResolve_CallerCancellation(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{track: Track{StreamURL: "u"}, block: make(chan struct{})}
	defer close(ext.block)
	r := newTestResolver(t, WithExtractor("a", ext))

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "slow")
		errCh <- err
	}()
	for ext.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Resolve did not return after cancellation")
	}
}

func TestResolve_Timeout(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{block: make(chan struct{})}
	defer close(ext.block)
	r := newTestResolver(t, WithTimeout(20*time.Millisecond), WithExtractor("a", ext))

	_, err := r.Resolve(t.Context(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if got := UserMessage(err); got != "tempo esgotado" {
		t.Errorf("UserMessage = %q", got)
	}
}

func TestError(t *testing.T) {
	t.Parallel()
	err := &Error{Query: "q", Err: ErrNoResults}
	if err.Error() != `resolve "q": no playable audio found` {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrNoResults) {
		t.Error("Unwrap broken")
	}
}
