package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vitrola/pkg/history"
)

var _ history.Store = (*Store)(nil)

// Store is the PostgreSQL-backed [history.Store]. All operations are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, pings it and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Record implements [history.Store].
func (s *Store) Record(ctx context.Context, e history.Entry) error {
	playedAt := e.PlayedAt
	if playedAt.IsZero() {
		playedAt = time.Now()
	}
	const q = `
		INSERT INTO play_history (guild_id, session_id, title, page_url, source, duration_ns, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q,
		e.GuildID, e.SessionID, e.Title, e.PageURL, e.Source, e.Duration.Nanoseconds(), playedAt)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, guildID string, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	const q = `
		SELECT guild_id, session_id, title, page_url, source, duration_ns, played_at
		FROM   play_history
		WHERE  guild_id = $1
		ORDER  BY played_at DESC, id DESC
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (history.Entry, error) {
	var (
		e  history.Entry
		ns int64
	)
	if err := row.Scan(&e.GuildID, &e.SessionID, &e.Title, &e.PageURL, &e.Source, &ns, &e.PlayedAt); err != nil {
		return history.Entry{}, err
	}
	e.Duration = time.Duration(ns)
	return e, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
