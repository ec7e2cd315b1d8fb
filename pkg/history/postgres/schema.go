// Package postgres stores play history in PostgreSQL through a
// [pgxpool.Pool].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Record(ctx, entry)
//	recent, _ := store.Recent(ctx, guildID, 10)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPlayHistory = `
CREATE TABLE IF NOT EXISTS play_history (
    id           BIGSERIAL    PRIMARY KEY,
    guild_id     TEXT         NOT NULL,
    session_id   TEXT         NOT NULL DEFAULT '',
    title        TEXT         NOT NULL,
    page_url     TEXT         NOT NULL DEFAULT '',
    source       TEXT         NOT NULL DEFAULT '',
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    played_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_play_history_guild_played
    ON play_history (guild_id, played_at DESC);
`

// Migrate creates the history table and its index if they do not exist. It
// is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlPlayHistory); err != nil {
		return fmt.Errorf("postgres migrate: play_history: %w", err)
	}
	return nil
}
