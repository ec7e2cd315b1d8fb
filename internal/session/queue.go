package session

import (
	"slices"

	"github.com/MrWong99/vitrola/internal/resolver"
)

// Queue is a guild's play order. The head is the current or next track.
//
// Queue is not safe for concurrent use; it is owned by a single session
// task loop.
type Queue struct {
	tracks []resolver.Track
}

// Enqueue appends t and returns the new length.
func (q *Queue) Enqueue(t resolver.Track) int {
	q.tracks = append(q.tracks, t)
	return len(q.tracks)
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (resolver.Track, bool) {
	if len(q.tracks) == 0 {
		return resolver.Track{}, false
	}
	return q.tracks[0], true
}

// Advance removes the head, or with loop set moves it to the tail. It is a
// no-op on an empty queue.
func (q *Queue) Advance(loop bool) {
	if len(q.tracks) == 0 {
		return
	}
	head := q.tracks[0]
	q.tracks = slices.Delete(q.tracks, 0, 1)
	if loop {
		q.tracks = append(q.tracks, head)
	}
}

// IsEmpty reports whether the queue holds no tracks.
func (q *Queue) IsEmpty() bool { return len(q.tracks) == 0 }

// Len returns the number of queued tracks, head included.
func (q *Queue) Len() int { return len(q.tracks) }

// Tracks returns a snapshot in play order.
func (q *Queue) Tracks() []resolver.Track { return slices.Clone(q.tracks) }

// Clear drops every track.
func (q *Queue) Clear() { q.tracks = nil }
