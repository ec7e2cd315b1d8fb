// Package history defines the play-history contract: a record of the tracks
// that started playing in each guild.
//
// Only started tracks are recorded. Queues themselves are never persisted.
package history

import (
	"context"
	"time"
)

// DefaultLimit is used by [Store.Recent] callers that pass a non-positive
// limit.
const DefaultLimit = 10

// Entry is one track that started playing.
type Entry struct {
	GuildID   string
	SessionID string
	Title     string
	PageURL   string
	Source    string
	Duration  time.Duration
	PlayedAt  time.Time
}

// Store persists history entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record appends e.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit entries for guildID, newest first.
	Recent(ctx context.Context, guildID string, limit int) ([]Entry, error)
}
