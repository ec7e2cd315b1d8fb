// Package mock provides a scripted stand-in for [resolver.Resolver].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vitrola/internal/resolver"
)

// Resolver returns canned tracks by query. Unknown queries resolve to a
// track titled after the query unless Err is set. Failures are wrapped in
// *[resolver.Error] like the real resolver does.
type Resolver struct {
	mu sync.Mutex

	// Tracks maps a query to the track it resolves to.
	Tracks map[string]resolver.Track

	// Errors maps a query to the error it fails with.
	Errors map[string]error

	// Err, when set, fails every query not listed in Tracks.
	Err error

	// Calls records every query in order.
	Calls []string
}

// Resolve implements the session layer's resolver contract.
func (r *Resolver) Resolve(ctx context.Context, query string) (resolver.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, query)

	if err := ctx.Err(); err != nil {
		return resolver.Track{}, &resolver.Error{Query: query, Err: err}
	}
	if err, ok := r.Errors[query]; ok {
		return resolver.Track{}, &resolver.Error{Query: query, Err: err}
	}
	if t, ok := r.Tracks[query]; ok {
		return t, nil
	}
	if r.Err != nil {
		return resolver.Track{}, &resolver.Error{Query: query, Err: r.Err}
	}
	return resolver.Track{
		Title:     query,
		StreamURL: "https://stream.example/" + query,
		Source:    "mock",
	}, nil
}

// Queries returns a copy of Calls.
func (r *Resolver) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Calls...)
}
