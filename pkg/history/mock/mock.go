// Package mock provides an in-memory [history.Store] for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/vitrola/pkg/history"
)

var _ history.Store = (*Store)(nil)

// Store keeps entries in memory. RecordError and RecentError, when set, are
// returned by the corresponding method.
type Store struct {
	mu          sync.Mutex
	entries     []history.Entry
	RecordError error
	RecentError error
}

// Record implements [history.Store].
func (s *Store) Record(_ context.Context, e history.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecordError != nil {
		return s.RecordError
	}
	s.entries = append(s.entries, e)
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(_ context.Context, guildID string, limit int) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentError != nil {
		return nil, s.RecentError
	}
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	var out []history.Entry
	for _, e := range slices.Backward(s.entries) {
		if e.GuildID != guildID {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Entries returns a copy of everything recorded, oldest first.
func (s *Store) Entries() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}
