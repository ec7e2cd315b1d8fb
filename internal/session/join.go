package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/vitrola/pkg/audio"
)

// Default voice join parameters.
const (
	defaultJoinAttempts   = 3
	defaultJoinBackoff    = 500 * time.Millisecond
	defaultJoinMaxBackoff = 5 * time.Second
	defaultJoinTimeout    = 20 * time.Second
)

// JoinConfig configures how a session joins its first voice channel.
type JoinConfig struct {
	// Attempts is the number of connect attempts before giving up.
	// Defaults to 3 if zero.
	Attempts int

	// Backoff is the delay after the first failure. Doubles each attempt up
	// to MaxBackoff. Defaults to 500ms if zero.
	Backoff time.Duration

	// MaxBackoff caps the delay between attempts. Defaults to 5s if zero.
	MaxBackoff time.Duration

	// Timeout bounds the whole join, retries included. Defaults to 20s if
	// zero.
	Timeout time.Duration
}

func (c JoinConfig) withDefaults() JoinConfig {
	if c.Attempts <= 0 {
		c.Attempts = defaultJoinAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultJoinBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultJoinMaxBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultJoinTimeout
	}
	return c
}

// joiner connects to a voice channel with exponential backoff. Discord
// voice handshakes fail transiently often enough that a single attempt is
// not worth surfacing to the user.
type joiner struct {
	platform audio.Platform
	cfg      JoinConfig
}

func newJoiner(platform audio.Platform, cfg JoinConfig) *joiner {
	return &joiner{platform: platform, cfg: cfg.withDefaults()}
}

// join returns a connection to channelID or the last connect error.
func (j *joiner) join(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	backoff := j.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= j.cfg.Attempts; attempt++ {
		conn, err := j.platform.Connect(ctx, guildID, channelID)
		if err == nil {
			if attempt > 1 {
				slog.Info("session: voice join succeeded after retry",
					"guild_id", guildID,
					"channel_id", channelID,
					"attempt", attempt,
				)
			}
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			break
		}

		slog.Warn("session: voice join attempt failed",
			"guild_id", guildID,
			"channel_id", channelID,
			"attempt", attempt,
			"max_attempts", j.cfg.Attempts,
			"err", err,
		)
		if attempt == j.cfg.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, j.cfg.MaxBackoff)
	}
	return nil, lastErr
}
