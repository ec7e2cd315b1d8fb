package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vitrola/internal/resolver"
	"github.com/MrWong99/vitrola/pkg/audio"
	"github.com/MrWong99/vitrola/pkg/history"
)

// historyTimeout bounds a single history write.
const historyTimeout = 5 * time.Second

// GuildSession is the playback state of one guild.
//
// Every field below the channels is owned by the session's task loop. Code
// outside the loop reaches the state only through submit and post, so a
// command, a completion event and an idle check never interleave.
type GuildSession struct {
	id      string
	guildID string
	m       *Manager

	tasks      chan func()
	done       chan struct{}
	outbox     chan func(context.Context)
	outboxDone chan struct{}

	queue         Queue
	conn          audio.Connection
	textChannelID string
	loop          bool
	playing       bool
	paused        bool
	volume        int
	gen           uint64
	lastActivity  time.Time
	closed        bool
}

func newGuildSession(m *Manager, guildID string) *GuildSession {
	s := &GuildSession{
		id:           uuid.NewString(),
		guildID:      guildID,
		m:            m,
		tasks:        make(chan func()),
		done:         make(chan struct{}),
		outbox:       make(chan func(context.Context), m.outboxSize),
		outboxDone:   make(chan struct{}),
		volume:       int(m.defaultVolume.Load()),
		lastActivity: time.Now(),
	}
	m.outboxes.Add(1)
	go s.run()
	go s.deliver()
	return s
}

// ID returns the session's unique ID.
func (s *GuildSession) ID() string { return s.id }

// GuildID returns the guild the session belongs to.
func (s *GuildSession) GuildID() string { return s.guildID }

// Done is closed once the session's task loop has stopped.
func (s *GuildSession) Done() <-chan struct{} { return s.done }

func (s *GuildSession) run() {
	defer close(s.done)
	for !s.closed {
		task := <-s.tasks
		task()
	}
}

// deliver runs outbox jobs in order until teardown closes the outbox.
func (s *GuildSession) deliver() {
	defer s.m.outboxes.Done()
	defer close(s.outboxDone)
	for job := range s.outbox {
		job(s.m.deliveryCtx)
	}
}

// submit runs task on the loop and waits for it. It fails with
// errSessionClosed if the loop stops before running task.
func (s *GuildSession) submit(ctx context.Context, task func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		defer close(ran)
		task()
	}
	select {
	case s.tasks <- wrapped:
	case <-s.done:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		select {
		case <-ran:
			return nil
		default:
			return errSessionClosed
		}
	}
}

// post queues task without waiting. Tasks posted after the loop stopped are
// dropped.
func (s *GuildSession) post(task func()) {
	go func() {
		select {
		case s.tasks <- task:
		case <-s.done:
		}
	}()
}

// touch records activity and rearms the inactivity timer.
func (s *GuildSession) touch() {
	s.lastActivity = time.Now()
	s.m.supervisor.Arm(s.guildID)
}

func (s *GuildSession) log() *slog.Logger {
	return slog.With("guild_id", s.guildID, "session_id", s.id)
}

// play joins or moves as needed, enqueues t and starts playback when the
// transport is idle.
func (s *GuildSession) play(ctx context.Context, req PlayRequest, t resolver.Track) error {
	if s.conn != nil && isLost(s.conn) {
		// Dropped from voice before the loss was handled; join again
		// instead of queueing onto a dead link.
		s.log().Info("session: voice connection was lost, rejoining", "channel_id", req.VoiceChannelID)
		if err := s.conn.Disconnect(); err != nil {
			s.log().Debug("session: disconnect of lost connection failed", "err", err)
		}
		s.conn = nil
		s.gen++
		s.playing, s.paused = false, false
	}

	if s.conn == nil {
		conn, err := s.m.joiner.join(ctx, s.guildID, req.VoiceChannelID)
		if err != nil {
			s.log().Warn("session: voice join failed", "channel_id", req.VoiceChannelID, "err", err)
			s.teardown(NoticeNone, nil)
			return &TransportError{Op: "join", Err: err}
		}
		s.attach(conn)
		s.log().Info("session: joined voice channel", "channel_id", req.VoiceChannelID)
	} else if cur := s.conn.ChannelID(); cur != req.VoiceChannelID {
		if err := s.conn.Move(ctx, req.VoiceChannelID); err != nil {
			s.log().Warn("session: move failed, staying in current channel",
				"from", cur, "to", req.VoiceChannelID, "err", err)
		}
	}

	s.textChannelID = req.TextChannelID
	n := s.queue.Enqueue(t)
	s.notify(Notice{Kind: NoticeQueued, Track: t, Position: n})
	s.touch()

	if !s.playing && !s.paused {
		s.startHead()
	}
	return nil
}

// attach makes conn the session's connection and tears the session down
// if conn is later lost while still in use.
func (s *GuildSession) attach(conn audio.Connection) {
	s.conn = conn
	s.conn.SetVolume(gain(s.volume))
	go func() {
		select {
		case <-conn.Lost():
			s.post(func() {
				if s.conn == conn {
					s.connectionLost(audio.ErrConnectionLost)
				}
			})
		case <-s.done:
		}
	}()
}

func isLost(conn audio.Connection) bool {
	select {
	case <-conn.Lost():
		return true
	default:
		return false
	}
}

// startHead hands the queue head to the transport. Tracks that fail to
// start are reported and dropped until one starts or the queue drains.
func (s *GuildSession) startHead() {
	for {
		t, ok := s.queue.Peek()
		if !ok {
			s.goIdle()
			return
		}

		s.gen++
		gen := s.gen
		err := s.conn.Play(t.StreamURL, func(err error) {
			s.post(func() { s.finished(gen, err) })
		})
		if err == nil {
			s.playing, s.paused = true, false
			s.touch()
			s.notify(Notice{Kind: NoticeNowPlaying, Track: t})
			s.record(t)
			s.m.metrics.RecordTrackStarted(context.Background(), t.Source)
			s.log().Info("session: track started", "title", t.Title, "source", t.Source)
			return
		}

		if errors.Is(err, audio.ErrConnectionLost) || errors.Is(err, audio.ErrClosed) {
			s.connectionLost(err)
			return
		}
		s.log().Warn("session: track failed to start", "title", t.Title, "err", err)
		s.m.metrics.RecordPlaybackFailure(context.Background(), "start")
		s.notify(Notice{Kind: NoticePlaybackFailed, Track: t, Err: err})
		s.queue.Advance(false)
	}
}

// finished handles the transport's completion callback for playback gen.
func (s *GuildSession) finished(gen uint64, err error) {
	if s.closed || gen != s.gen || !(s.playing || s.paused) {
		return
	}
	s.playing, s.paused = false, false

	switch {
	case err == nil:
		s.queue.Advance(s.loop)
	case errors.Is(err, audio.ErrConnectionLost):
		s.connectionLost(err)
		return
	default:
		t, _ := s.queue.Peek()
		s.log().Warn("session: track failed during playback", "title", t.Title, "err", err)
		s.m.metrics.RecordPlaybackFailure(context.Background(), "stream")
		s.notify(Notice{Kind: NoticePlaybackFailed, Track: t, Err: err})
		s.queue.Advance(false)
	}

	s.touch()
	s.startHead()
}

func (s *GuildSession) goIdle() {
	s.playing, s.paused = false, false
	s.notify(Notice{Kind: NoticeQueueEmpty, Grace: s.m.supervisor.Grace()})
	s.touch()
}

func (s *GuildSession) connectionLost(err error) {
	s.log().Warn("session: voice connection lost", "err", err)
	s.m.metrics.RecordPlaybackFailure(context.Background(), "connection_lost")
	s.teardown(NoticeConnectionLost, err)
}

// idleCheck runs when the inactivity timer fires.
func (s *GuildSession) idleCheck() {
	if s.closed || s.playing {
		return
	}
	grace := s.m.supervisor.Grace()
	if left := grace - time.Since(s.lastActivity); left > 0 {
		// The grace period grew after this timer was armed; wait out the
		// rest of it, measured from the last activity.
		if !s.m.supervisor.Pending(s.guildID) {
			s.m.supervisor.ArmAfter(s.guildID, left)
		}
		return
	}
	s.log().Info("session: idle timeout", "grace", grace)
	s.m.metrics.RecordIdleDisconnect(context.Background())
	s.teardown(NoticeIdleDisconnect, nil)
}

// teardown disconnects, sends the optional notice and unregisters the
// session. The task loop stops after the current task.
func (s *GuildSession) teardown(kind NoticeKind, cause error) {
	if s.closed {
		return
	}
	s.closed = true
	s.m.supervisor.Cancel(s.guildID)
	s.gen++
	s.playing, s.paused = false, false
	s.queue.Clear()

	if s.conn != nil {
		if err := s.conn.Disconnect(); err != nil {
			s.log().Warn("session: disconnect failed", "err", err)
		}
	}
	if kind != NoticeNone {
		s.notify(Notice{Kind: kind, Err: cause})
	}
	close(s.outbox)
	s.m.remove(s)
	s.log().Info("session: closed", "notice", kind.String())
}

// notify queues n for the text channel of the last play request. A full
// outbox drops the notice rather than stall the loop.
func (s *GuildSession) notify(n Notice) {
	n.GuildID = s.guildID
	n.SessionID = s.id
	channelID := s.textChannelID
	if channelID == "" {
		return
	}
	s.enqueue(func(ctx context.Context) {
		s.m.notifier.Notify(ctx, channelID, n)
	}, n.Kind.String())
}

// record queues a history write for t.
func (s *GuildSession) record(t resolver.Track) {
	if s.m.history == nil {
		return
	}
	e := history.Entry{
		GuildID:   s.guildID,
		SessionID: s.id,
		Title:     t.Title,
		PageURL:   t.PageURL,
		Source:    t.Source,
		Duration:  t.Duration,
		PlayedAt:  time.Now(),
	}
	s.enqueue(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, historyTimeout)
		defer cancel()
		if err := s.m.history.Record(ctx, e); err != nil {
			slog.Warn("session: history record failed", "guild_id", e.GuildID, "err", err)
		}
	}, "history")
}

func (s *GuildSession) enqueue(job func(context.Context), what string) {
	select {
	case s.outbox <- job:
	default:
		s.log().Warn("session: outbox full, dropping", "job", what)
	}
}

// snapshot captures the state shown by the now_playing command.
func (s *GuildSession) snapshot() Snapshot {
	cur, _ := s.queue.Peek()
	return Snapshot{
		SessionID: s.id,
		Current:   cur,
		Playing:   s.playing,
		Paused:    s.paused,
		Loop:      s.loop,
		Volume:    s.volume,
		Queue:     s.queue.Tracks(),
	}
}

// gain converts a 0–100 volume to a transport gain.
func gain(volume int) float64 {
	return float64(volume) / 100
}
