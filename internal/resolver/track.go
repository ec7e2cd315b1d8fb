// Package resolver turns what a user typed after !play into a playable
// [Track].
//
// A query is free text, a direct media URL, or a Spotify track link. Catalog
// links are first looked up through a [Catalog] and replaced by
// "<name> <first artist>"; the effective query then goes to an ordered chain
// of [Extractor] backends (yt-dlp first, a pure-Go YouTube client second),
// each behind a circuit breaker. Concurrent identical queries share one
// extraction.
package resolver

import (
	"errors"
	"fmt"
	"time"
)

// Backend names, also used as [Track.Source].
const (
	SourceYTDLP  = "ytdlp"
	SourceNative = "native"
)

// Track is one resolved, immediately playable item. It is immutable once
// returned by [Resolver.Resolve].
type Track struct {
	// Title is the human-readable title shown in notifications.
	Title string

	// StreamURL is the direct media URL handed to the audio transport. It
	// typically expires after a few hours.
	StreamURL string

	// PageURL is the canonical page of the media, when known.
	PageURL string

	// Duration is zero for live streams or when unknown.
	Duration time.Duration

	// Source names the backend that resolved the track.
	Source string
}

var (
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("empty query")

	// ErrNoResults is returned when a backend finds nothing playable.
	ErrNoResults = errors.New("no playable audio found")

	// ErrCatalogUnavailable is returned for a catalog link when no catalog
	// credentials are configured.
	ErrCatalogUnavailable = errors.New("spotify links are not configured")

	// ErrUnsupported is returned by a backend that cannot handle the query at
	// all, e.g. a non-YouTube URL given to the native backend.
	ErrUnsupported = errors.New("query not supported by backend")
)

// Error is returned by [Resolver.Resolve] for every failure. It never
// affects session state; the caller shows it to the user.
type Error struct {
	// Query is the query as typed by the user.
	Query string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Query, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
