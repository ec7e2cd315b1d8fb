// Package session implements per-guild playback sessions: the queue, the
// inactivity supervisor and the controller that drives a voice transport in
// response to commands and completion events.
//
// Each guild session runs as an actor. One goroutine owns its state and runs
// commands, completion events and idle checks one at a time. Notifications
// leave through a per-session outbox so delivery never blocks the actor.
//
// Sessions are created lazily by [Manager.Play] and destroyed by
// [Manager.Leave], by the inactivity timer, by a lost voice connection or by
// [Manager.Shutdown].
package session

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/vitrola/internal/observe"
	"github.com/MrWong99/vitrola/internal/resolver"
	"github.com/MrWong99/vitrola/pkg/audio"
	"github.com/MrWong99/vitrola/pkg/history"
)

// Defaults applied by [NewManager].
const (
	DefaultVolume     = 50
	DefaultOutboxSize = 64
)

// playAttempts bounds how often Play retries against a session that closed
// between lookup and submit.
const playAttempts = 3

// Resolver turns a user query into a playable track.
type Resolver interface {
	Resolve(ctx context.Context, query string) (resolver.Track, error)
}

// Config holds the tunables of a [Manager].
type Config struct {
	// IdleTimeout is the inactivity grace period. Defaults to
	// [DefaultIdleTimeout].
	IdleTimeout time.Duration

	// DefaultVolume is the starting volume (0–100) of new sessions.
	// Defaults to [DefaultVolume] when zero or out of range.
	DefaultVolume int

	// Join configures the initial voice join.
	Join JoinConfig

	// OutboxSize is the per-session notification buffer. Defaults to
	// [DefaultOutboxSize].
	OutboxSize int
}

// Option configures optional [Manager] collaborators.
type Option func(*Manager)

// WithHistory records every started track in h.
func WithHistory(h history.Store) Option {
	return func(m *Manager) { m.history = h }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// PlayRequest is a parsed play command.
type PlayRequest struct {
	GuildID string

	// TextChannelID receives the session's notifications.
	TextChannelID string

	// VoiceChannelID is the caller's current voice channel, empty when the
	// caller is not in one.
	VoiceChannelID string

	Query string
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	SessionID string
	Current   resolver.Track
	Playing   bool
	Paused    bool
	Loop      bool
	Volume    int
	Queue     []resolver.Track
}

// Manager owns the session registry and routes commands to guild sessions.
// All methods are safe for concurrent use.
type Manager struct {
	platform   audio.Platform
	resolver   Resolver
	notifier   Notifier
	history    history.Store
	metrics    *observe.Metrics
	joiner     *joiner
	supervisor *Supervisor
	outboxSize int

	defaultVolume atomic.Int32

	deliveryCtx    context.Context
	cancelDelivery context.CancelFunc
	outboxes       sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*GuildSession
	closed   bool
}

// NewManager returns a Manager playing through platform.
func NewManager(platform audio.Platform, res Resolver, notifier Notifier, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		platform:   platform,
		resolver:   res,
		notifier:   notifier,
		joiner:     newJoiner(platform, cfg.Join),
		outboxSize: cfg.OutboxSize,
		sessions:   make(map[string]*GuildSession),
	}
	if m.outboxSize <= 0 {
		m.outboxSize = DefaultOutboxSize
	}
	m.SetDefaultVolume(cfg.DefaultVolume)
	m.supervisor = NewSupervisor(cfg.IdleTimeout, m.expire)
	m.deliveryCtx, m.cancelDelivery = context.WithCancel(context.Background())
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// SetIdleTimeout changes the grace period for timers armed from now on.
func (m *Manager) SetIdleTimeout(d time.Duration) { m.supervisor.SetGrace(d) }

// SetDefaultVolume changes the starting volume of sessions created from
// now on. Values outside 0–100 and zero select [DefaultVolume].
func (m *Manager) SetDefaultVolume(v int) {
	if v <= 0 || v > 100 {
		v = DefaultVolume
	}
	m.defaultVolume.Store(int32(v))
}

// Supervisor exposes the inactivity supervisor.
func (m *Manager) Supervisor() *Supervisor { return m.supervisor }

// Lookup returns the live session of guildID.
func (m *Manager) Lookup(guildID string) (*GuildSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) getOrCreate(guildID string) (*GuildSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[guildID]; ok {
		return s, nil
	}
	s := newGuildSession(m, guildID)
	m.sessions[guildID] = s
	// Covers a session whose first play never reaches the task loop.
	m.supervisor.Arm(guildID)
	m.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("session: created", "guild_id", guildID, "session_id", s.id)
	return s, nil
}

// remove unregisters s unless a newer session already took its place.
func (m *Manager) remove(s *GuildSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.guildID] == s {
		delete(m.sessions, s.guildID)
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// expire is the supervisor callback.
func (m *Manager) expire(guildID string) {
	if s, ok := m.Lookup(guildID); ok {
		s.post(s.idleCheck)
	}
}

// do runs fn on the guild's session after recording activity.
func (m *Manager) do(ctx context.Context, guildID string, fn func(s *GuildSession) error) error {
	s, ok := m.Lookup(guildID)
	if !ok {
		return ErrNoSession
	}
	var err error
	serr := s.submit(ctx, func() {
		s.touch()
		err = fn(s)
	})
	if errors.Is(serr, errSessionClosed) {
		return ErrNoSession
	}
	if serr != nil {
		return serr
	}
	return err
}

// Play resolves req.Query and enqueues the track, creating the session and
// joining voice on first use. Resolution happens before anything else, so a
// failed resolution leaves the guild as it was.
func (m *Manager) Play(ctx context.Context, req PlayRequest) error {
	if req.VoiceChannelID == "" {
		return ErrNotInVoice
	}
	m.Touch(ctx, req.GuildID)

	t, err := m.resolver.Resolve(ctx, req.Query)
	if err != nil {
		return err
	}

	for range playAttempts {
		s, err := m.getOrCreate(req.GuildID)
		if err != nil {
			return err
		}
		var playErr error
		err = s.submit(ctx, func() { playErr = s.play(ctx, req, t) })
		if errors.Is(err, errSessionClosed) {
			// Torn down between lookup and submit; wait for it to leave
			// the registry and start over.
			continue
		}
		if err != nil {
			return err
		}
		return playErr
	}
	return ErrNoSession
}

// Pause pauses the current track.
func (m *Manager) Pause(ctx context.Context, guildID string) error {
	return m.do(ctx, guildID, func(s *GuildSession) error {
		if !s.playing {
			return ErrNothingPlaying
		}
		s.conn.Pause()
		s.playing, s.paused = false, true
		return nil
	})
}

// Resume continues a paused track.
func (m *Manager) Resume(ctx context.Context, guildID string) error {
	return m.do(ctx, guildID, func(s *GuildSession) error {
		if !s.paused {
			return ErrNotPaused
		}
		s.conn.Resume()
		s.playing, s.paused = true, false
		return nil
	})
}

// Skip stops the current track. The completion event that follows
// advances the queue like a natural end would.
func (m *Manager) Skip(ctx context.Context, guildID string) error {
	return m.do(ctx, guildID, func(s *GuildSession) error {
		if !s.playing {
			return ErrNothingPlaying
		}
		s.conn.Stop()
		return nil
	})
}

// ToggleLoop flips the loop flag and returns its new value.
func (m *Manager) ToggleLoop(ctx context.Context, guildID string) (bool, error) {
	var enabled bool
	err := m.do(ctx, guildID, func(s *GuildSession) error {
		s.loop = !s.loop
		enabled = s.loop
		return nil
	})
	return enabled, err
}

// Leave disconnects and discards the guild's session.
func (m *Manager) Leave(ctx context.Context, guildID string) error {
	return m.do(ctx, guildID, func(s *GuildSession) error {
		s.teardown(NoticeLeft, nil)
		return nil
	})
}

// SetVolume sets the session volume in percent. It applies to the current
// track and every later track of the session.
func (m *Manager) SetVolume(ctx context.Context, guildID string, percent int) error {
	return m.do(ctx, guildID, func(s *GuildSession) error {
		if percent < 0 || percent > 100 {
			return ErrVolumeRange
		}
		s.volume = percent
		if s.conn != nil {
			s.conn.SetVolume(gain(percent))
		}
		return nil
	})
}

// NowPlaying returns the session state. It fails with [ErrNothingPlaying]
// when no track is playing or paused.
func (m *Manager) NowPlaying(ctx context.Context, guildID string) (Snapshot, error) {
	var snap Snapshot
	err := m.do(ctx, guildID, func(s *GuildSession) error {
		if !s.playing && !s.paused {
			return ErrNothingPlaying
		}
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// Touch records activity on the guild's session, if there is one, and
// reports whether there was.
func (m *Manager) Touch(ctx context.Context, guildID string) bool {
	return m.do(ctx, guildID, func(*GuildSession) error { return nil }) == nil
}

// Shutdown tears down every session without notices, then waits for the
// outboxes to drain. Deliveries still pending when ctx ends are abandoned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := slices.Collect(maps.Values(m.sessions))
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Go(func() {
			_ = s.submit(ctx, func() { s.teardown(NoticeNone, nil) })
		})
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		m.outboxes.Wait()
		close(drained)
	}()

	defer m.cancelDelivery()
	select {
	case <-drained:
		slog.Info("session: all sessions closed", "count", len(sessions))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
