package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/vitrola/internal/observe"
	"github.com/MrWong99/vitrola/internal/resolver"
	resmock "github.com/MrWong99/vitrola/internal/resolver/mock"
	"github.com/MrWong99/vitrola/pkg/audio"
	audiomock "github.com/MrWong99/vitrola/pkg/audio/mock"
	historymock "github.com/MrWong99/vitrola/pkg/history/mock"
)

const (
	testGuild = "g1"
	testText  = "text-1"
	testVoice = "voice-1"
)

type sentNotice struct {
	channelID string
	notice    Notice
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (r *recordingNotifier) Notify(_ context.Context, channelID string, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotice{channelID: channelID, notice: n})
}

func (r *recordingNotifier) kinds() []NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NoticeKind, len(r.sent))
	for i, s := range r.sent {
		out[i] = s.notice.Kind
	}
	return out
}

func (r *recordingNotifier) count(kind NoticeKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recordingNotifier) at(i int) sentNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[i]
}

func (r *recordingNotifier) last() sentNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return sentNotice{}
	}
	return r.sent[len(r.sent)-1]
}

type harness struct {
	m        *Manager
	platform *audiomock.Platform
	res      *resmock.Resolver
	notes    *recordingNotifier
	hist     *historymock.Store
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	h := &harness{
		platform: &audiomock.Platform{},
		res:      &resmock.Resolver{},
		notes:    &recordingNotifier{},
		hist:     &historymock.Store{},
	}
	h.m = NewManager(h.platform, h.res, h.notes, cfg, WithMetrics(met), WithHistory(h.hist))
	return h
}

// shutdown must run before a synctest bubble ends so no session goroutine
// outlives it.
func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	if err := h.m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func (h *harness) play(t *testing.T, query string) error {
	t.Helper()
	return h.m.Play(t.Context(), PlayRequest{
		GuildID:        testGuild,
		TextChannelID:  testText,
		VoiceChannelID: testVoice,
		Query:          query,
	})
}

func (h *harness) mustPlay(t *testing.T, queries ...string) {
	t.Helper()
	for _, q := range queries {
		if err := h.play(t, q); err != nil {
			t.Fatalf("Play(%q): %v", q, err)
		}
	}
}

func (h *harness) conn(t *testing.T) *audiomock.Connection {
	t.Helper()
	c := h.platform.Last()
	if c == nil {
		t.Fatal("no voice connection")
	}
	return c
}

func streamURLs(queries ...string) []string {
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = "https://stream.example/" + q
	}
	return out
}

func TestManager_PlayQueuesThenStarts(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "X")
		synctest.Wait()

		if got, want := h.notes.kinds(), []NoticeKind{NoticeQueued, NoticeNowPlaying}; !slices.Equal(got, want) {
			t.Fatalf("notices = %v, want %v", got, want)
		}
		first := h.notes.at(0)
		if first.channelID != testText || first.notice.Track.Title != "X" || first.notice.Position != 1 {
			t.Errorf("queued notice = %+v", first)
		}
		if got := h.conn(t).Plays(); !slices.Equal(got, streamURLs("X")) {
			t.Errorf("plays = %v", got)
		}
		if calls := h.platform.Calls(); len(calls) != 1 || calls[0].ChannelID != testVoice {
			t.Errorf("connect calls = %+v", calls)
		}
		if s, ok := h.m.Lookup(testGuild); !ok || s.ID() == "" || s.GuildID() != testGuild {
			t.Errorf("Lookup = %v, %v", s, ok)
		}
	})
}

func TestManager_PlaysInOrderThenIdles(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A", "B", "C")
		conn := h.conn(t)
		for range 3 {
			synctest.Wait()
			if !conn.Finish(nil) {
				t.Fatal("no playback to finish")
			}
		}
		synctest.Wait()

		if got := conn.Plays(); !slices.Equal(got, streamURLs("A", "B", "C")) {
			t.Errorf("plays = %v", got)
		}
		if h.notes.count(NoticeQueued) != 3 || h.notes.count(NoticeNowPlaying) != 3 {
			t.Errorf("notices = %v", h.notes.kinds())
		}
		last := h.notes.last().notice
		if last.Kind != NoticeQueueEmpty || last.Grace != DefaultIdleTimeout {
			t.Errorf("last notice = %+v, want queue empty with 3m grace", last)
		}
		if !h.m.Supervisor().Pending(testGuild) {
			t.Error("idle timer not armed after the queue drained")
		}
		if _, err := h.m.NowPlaying(t.Context(), testGuild); !errors.Is(err, ErrNothingPlaying) {
			t.Errorf("NowPlaying err = %v, want ErrNothingPlaying", err)
		}
	})
}

func TestManager_PlayWhileIdleRestarts(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A")
		conn := h.conn(t)
		synctest.Wait()
		conn.Finish(nil)
		synctest.Wait()

		h.mustPlay(t, "B")
		synctest.Wait()
		if got := conn.Plays(); !slices.Equal(got, streamURLs("A", "B")) {
			t.Errorf("plays = %v", got)
		}
		if n := len(h.platform.Calls()); n != 1 {
			t.Errorf("connect calls = %d, want the existing connection reused", n)
		}
	})
}

func TestManager_LoopRotates(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A", "B")
		enabled, err := h.m.ToggleLoop(t.Context(), testGuild)
		if err != nil || !enabled {
			t.Fatalf("ToggleLoop = %v, %v", enabled, err)
		}

		conn := h.conn(t)
		for range 3 {
			synctest.Wait()
			conn.Finish(nil)
		}
		synctest.Wait()

		if got := conn.Plays(); !slices.Equal(got, streamURLs("A", "B", "A", "B")) {
			t.Errorf("plays = %v", got)
		}
		snap, err := h.m.NowPlaying(t.Context(), testGuild)
		if err != nil {
			t.Fatalf("NowPlaying: %v", err)
		}
		if snap.Current.Title != "B" || len(snap.Queue) != 2 || !snap.Loop {
			t.Errorf("snapshot = %+v", snap)
		}

		enabled, _ = h.m.ToggleLoop(t.Context(), testGuild)
		if enabled {
			t.Error("second toggle did not disable loop")
		}
	})
}

func TestManager_SkipAdvancesOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A", "B", "C")
		if err := h.m.Skip(t.Context(), testGuild); err != nil {
			t.Fatalf("Skip: %v", err)
		}
		synctest.Wait()

		conn := h.conn(t)
		if got := conn.Plays(); !slices.Equal(got, streamURLs("A", "B")) {
			t.Errorf("plays = %v", got)
		}
		snap, _ := h.m.NowPlaying(t.Context(), testGuild)
		if got := titles(snap.Queue); !slices.Equal(got, []string{"B", "C"}) {
			t.Errorf("queue = %v, want [B C]", got)
		}
		if conn.CallCountStop != 1 {
			t.Errorf("stop calls = %d", conn.CallCountStop)
		}
	})
}

func TestManager_StaleCompletionIgnored(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A", "B")
		s, _ := h.m.Lookup(testGuild)

		var staleGen uint64
		_ = s.submit(t.Context(), func() { staleGen = s.gen })
		h.conn(t).Finish(nil)
		synctest.Wait()

		// A second completion for A must not advance past B.
		_ = s.submit(t.Context(), func() { s.finished(staleGen, nil) })

		snap, err := h.m.NowPlaying(t.Context(), testGuild)
		if err != nil {
			t.Fatalf("NowPlaying: %v", err)
		}
		if snap.Current.Title != "B" || len(snap.Queue) != 1 {
			t.Errorf("snapshot = %+v", snap)
		}
	})
}

func TestManager_PauseResume(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)
		ctx := t.Context()

		h.mustPlay(t, "A")
		if err := h.m.Resume(ctx, testGuild); !errors.Is(err, ErrNotPaused) {
			t.Errorf("Resume while playing = %v, want ErrNotPaused", err)
		}
		if err := h.m.Pause(ctx, testGuild); err != nil {
			t.Fatalf("Pause: %v", err)
		}
		conn := h.conn(t)
		if conn.CallCountPause != 1 {
			t.Errorf("pause calls = %d", conn.CallCountPause)
		}
		if err := h.m.Pause(ctx, testGuild); !errors.Is(err, ErrNothingPlaying) {
			t.Errorf("Pause while paused = %v, want ErrNothingPlaying", err)
		}
		if err := h.m.Skip(ctx, testGuild); !errors.Is(err, ErrNothingPlaying) {
			t.Errorf("Skip while paused = %v, want ErrNothingPlaying", err)
		}
		snap, err := h.m.NowPlaying(ctx, testGuild)
		if err != nil || !snap.Paused || snap.Playing {
			t.Errorf("snapshot = %+v, %v", snap, err)
		}

		// Queued while paused: stays queued.
		h.mustPlay(t, "B")
		if got := conn.Plays(); len(got) != 1 {
			t.Errorf("plays while paused = %v", got)
		}

		if err := h.m.Resume(ctx, testGuild); err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if conn.CallCountResume != 1 {
			t.Errorf("resume calls = %d", conn.CallCountResume)
		}
	})
}

func TestManager_CommandsWithoutSession(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)
		ctx := t.Context()

		checks := map[string]error{
			"pause":  h.m.Pause(ctx, testGuild),
			"resume": h.m.Resume(ctx, testGuild),
			"skip":   h.m.Skip(ctx, testGuild),
			"leave":  h.m.Leave(ctx, testGuild),
			"volume": h.m.SetVolume(ctx, testGuild, 20),
		}
		_, checks["loop"] = h.m.ToggleLoop(ctx, testGuild)
		_, checks["now_playing"] = h.m.NowPlaying(ctx, testGuild)
		for name, err := range checks {
			if !errors.Is(err, ErrNoSession) {
				t.Errorf("%s: err = %v, want ErrNoSession", name, err)
			}
		}
		if h.m.Touch(ctx, testGuild) {
			t.Error("Touch reported a session")
		}
		if h.m.Len() != 0 || len(h.platform.Calls()) != 0 {
			t.Error("control commands created a session")
		}
	})
}

func TestManager_PlayRejections(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)
		h.res.Errors = map[string]error{"zzzz": resolver.ErrNoResults}

		err := h.m.Play(t.Context(), PlayRequest{GuildID: testGuild, TextChannelID: testText, Query: "A"})
		if !errors.Is(err, ErrNotInVoice) {
			t.Errorf("err = %v, want ErrNotInVoice", err)
		}
		if len(h.res.Queries()) != 0 {
			t.Error("resolved although caller is not in voice")
		}

		err = h.play(t, "zzzz")
		var re *resolver.Error
		if !errors.As(err, &re) || !errors.Is(err, resolver.ErrNoResults) {
			t.Errorf("err = %v, want *resolver.Error wrapping ErrNoResults", err)
		}
		if h.m.Len() != 0 || len(h.platform.Calls()) != 0 {
			t.Error("failed resolution created a session")
		}
	})
}

func TestManager_ResolutionFailureLeavesSessionUntouched(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)
		h.res.Errors = map[string]error{"bad": resolver.ErrNoResults}

		h.mustPlay(t, "A")
		if err := h.play(t, "bad"); err == nil {
			t.Fatal("expected resolution error")
		}
		snap, err := h.m.NowPlaying(t.Context(), testGuild)
		if err != nil || len(snap.Queue) != 1 {
			t.Errorf("snapshot = %+v, %v", snap, err)
		}
	})
}

func TestManager_JoinFailureLeavesNoSession(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{Join: JoinConfig{Attempts: 2, Backoff: time.Second}})
		defer h.shutdown(t)
		h.platform.ConnectError = errors.New("missing permission")

		err := h.play(t, "A")
		var te *TransportError
		if !errors.As(err, &te) || te.Op != "join" {
			t.Fatalf("err = %v, want join TransportError", err)
		}
		if len(h.platform.Calls()) != 2 {
			t.Errorf("connect attempts = %d, want 2", len(h.platform.Calls()))
		}
		if _, ok := h.m.Lookup(testGuild); ok {
			t.Error("session left behind after failed join")
		}
		synctest.Wait()
		if n := len(h.notes.kinds()); n != 0 {
			t.Errorf("notices = %v, want none", h.notes.kinds())
		}

		h.platform.ConnectError = nil
		h.mustPlay(t, "A")
		if h.m.Len() != 1 {
			t.Error("retry after failed join did not create a session")
		}
	})
}

func TestManager_Volume(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)
		ctx := t.Context()

		h.mustPlay(t, "A", "B")
		conn := h.conn(t)
		if conn.Volume() != 0.5 {
			t.Errorf("initial gain = %v, want 0.5", conn.Volume())
		}

		if err := h.m.SetVolume(ctx, testGuild, 80); err != nil {
			t.Fatalf("SetVolume: %v", err)
		}
		for _, bad := range []int{-1, 101, 1000} {
			if err := h.m.SetVolume(ctx, testGuild, bad); !errors.Is(err, ErrVolumeRange) {
				t.Errorf("SetVolume(%d) = %v, want ErrVolumeRange", bad, err)
			}
		}
		if conn.Volume() != 0.8 {
			t.Errorf("gain = %v, want 0.8", conn.Volume())
		}

		synctest.Wait()
		conn.Finish(nil)
		synctest.Wait()
		snap, _ := h.m.NowPlaying(ctx, testGuild)
		if snap.Volume != 80 || conn.Volume() != 0.8 {
			t.Errorf("volume after next track = %d (gain %v), want 80", snap.Volume, conn.Volume())
		}
	})
}

func TestManager_DefaultVolume(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{DefaultVolume: 30})
		defer h.shutdown(t)

		h.mustPlay(t, "A")
		if g := h.conn(t).Volume(); g != 0.3 {
			t.Errorf("gain = %v, want 0.3", g)
		}
	})
}

func TestManager_IdleDisconnect(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A")
		conn := h.conn(t)
		synctest.Wait()
		conn.Finish(nil)

		time.Sleep(DefaultIdleTimeout + time.Second)
		synctest.Wait()

		if _, ok := h.m.Lookup(testGuild); ok {
			t.Fatal("idle session still registered")
		}
		if conn.Disconnects() != 1 {
			t.Errorf("disconnects = %d, want 1", conn.Disconnects())
		}
		if n := h.notes.count(NoticeIdleDisconnect); n != 1 {
			t.Errorf("idle notices = %d, want 1", n)
		}
		if h.m.Supervisor().Pending(testGuild) {
			t.Error("timer still pending after teardown")
		}

		time.Sleep(2 * DefaultIdleTimeout)
		synctest.Wait()
		if n := h.notes.count(NoticeIdleDisconnect); n != 1 {
			t.Errorf("idle notices = %d after teardown, want 1", n)
		}
	})
}

func TestManager_ActivityDefersIdleDisconnect(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A")
		synctest.Wait()
		h.conn(t).Finish(nil)
		synctest.Wait()

		time.Sleep(2 * time.Minute)
		if !h.m.Touch(t.Context(), testGuild) {
			t.Fatal("Touch found no session")
		}
		time.Sleep(2 * time.Minute)
		synctest.Wait()
		if _, ok := h.m.Lookup(testGuild); !ok {
			t.Fatal("disconnected although activity rearmed the timer")
		}

		time.Sleep(time.Minute + time.Second)
		synctest.Wait()
		if _, ok := h.m.Lookup(testGuild); ok {
			t.Error("still connected after a full idle grace period")
		}
	})
}

func TestManager_LongerGraceCountsFromLastActivity(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{IdleTimeout: time.Minute})
		defer h.shutdown(t)

		h.mustPlay(t, "A")
		synctest.Wait()
		h.conn(t).Finish(nil)
		synctest.Wait()

		time.Sleep(30 * time.Second)
		h.m.SetIdleTimeout(3 * time.Minute)

		// The old timer fires at 1m and waits out the remaining 2m.
		time.Sleep(3*time.Minute - 31*time.Second)
		synctest.Wait()
		if _, ok := h.m.Lookup(testGuild); !ok {
			t.Fatal("disconnected before the new grace period elapsed")
		}

		time.Sleep(2 * time.Second)
		synctest.Wait()
		if _, ok := h.m.Lookup(testGuild); ok {
			t.Fatal("still connected after the new grace period")
		}
		if n := h.notes.count(NoticeIdleDisconnect); n != 1 {
			t.Errorf("idle notices = %d, want 1", n)
		}
	})
}

func TestManager_PlayingSessionNeverTimesOut(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{IdleTimeout: time.Minute})
		defer h.shutdown(t)

		h.mustPlay(t, "long")
		time.Sleep(10 * time.Minute)
		synctest.Wait()

		if _, ok := h.m.Lookup(testGuild); !ok {
			t.Fatal("playing session was disconnected")
		}
		if h.notes.count(NoticeIdleDisconnect) != 0 {
			t.Error("idle notice while playing")
		}
	})
}

func TestManager_PausedSessionTimesOut(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{IdleTimeout: time.Minute})
		defer h.shutdown(t)

		h.mustPlay(t, "A")
		if err := h.m.Pause(t.Context(), testGuild); err != nil {
			t.Fatalf("Pause: %v", err)
		}
		time.Sleep(time.Minute + time.Second)
		synctest.Wait()

		if _, ok := h.m.Lookup(testGuild); ok {
			t.Fatal("paused session survived the grace period")
		}
		if h.notes.count(NoticeIdleDisconnect) != 1 {
			t.Errorf("notices = %v", h.notes.kinds())
		}
	})
}

func TestManager_Leave(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A", "B")
		first, _ := h.m.Lookup(testGuild)
		conn := h.conn(t)

		if err := h.m.Leave(t.Context(), testGuild); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		synctest.Wait()

		if conn.Disconnects() != 1 {
			t.Errorf("disconnects = %d", conn.Disconnects())
		}
		if h.notes.last().notice.Kind != NoticeLeft {
			t.Errorf("last notice = %v, want left", h.notes.last().notice.Kind)
		}
		<-first.Done()

		h.mustPlay(t, "C")
		second, ok := h.m.Lookup(testGuild)
		if !ok || second.ID() == first.ID() {
			t.Fatal("play after leave did not create a fresh session")
		}
		snap, _ := h.m.NowPlaying(t.Context(), testGuild)
		if len(snap.Queue) != 1 || snap.Loop {
			t.Errorf("fresh session snapshot = %+v", snap)
		}
		if len(h.platform.Calls()) != 2 {
			t.Errorf("connect calls = %d, want 2", len(h.platform.Calls()))
		}
	})
}

func TestManager_MovesToCallerChannel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A")
		err := h.m.Play(t.Context(), PlayRequest{
			GuildID: testGuild, TextChannelID: "text-2", VoiceChannelID: "voice-2", Query: "B",
		})
		if err != nil {
			t.Fatalf("Play: %v", err)
		}
		conn := h.conn(t)
		if !slices.Equal(conn.MoveCalls, []string{"voice-2"}) {
			t.Errorf("moves = %v", conn.MoveCalls)
		}
		synctest.Wait()
		if got := h.notes.last().channelID; got != "text-2" {
			t.Errorf("notices go to %q, want the latest text channel", got)
		}
	})
}

func TestManager_StreamFailureDropsTrack(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A", "B")
		if _, err := h.m.ToggleLoop(t.Context(), testGuild); err != nil {
			t.Fatal(err)
		}
		conn := h.conn(t)
		synctest.Wait()
		conn.Finish(errors.New("ffmpeg: exit status 1"))
		synctest.Wait()

		if got := conn.Plays(); !slices.Equal(got, streamURLs("A", "B")) {
			t.Errorf("plays = %v", got)
		}
		if h.notes.count(NoticePlaybackFailed) != 1 {
			t.Errorf("notices = %v", h.notes.kinds())
		}
		snap, _ := h.m.NowPlaying(t.Context(), testGuild)
		if got := titles(snap.Queue); !slices.Equal(got, []string{"B"}) {
			t.Errorf("queue = %v, want failed track dropped even with loop", got)
		}
	})
}

func TestManager_StartFailureSkipsToNext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		conn := audiomock.NewConnection(testVoice)
		conn.PlayError = errors.New("ffmpeg: no such file")
		h := newHarness(t, Config{})
		defer h.shutdown(t)
		h.platform.ConnectResult = conn

		h.mustPlay(t, "A")
		synctest.Wait()

		if got, want := h.notes.kinds(), []NoticeKind{NoticeQueued, NoticePlaybackFailed, NoticeQueueEmpty}; !slices.Equal(got, want) {
			t.Errorf("notices = %v, want %v", got, want)
		}
	})
}

func TestManager_ConnectionLost(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A", "B")
		synctest.Wait()
		h.conn(t).Finish(audio.ErrConnectionLost)
		synctest.Wait()

		if _, ok := h.m.Lookup(testGuild); ok {
			t.Error("session survived a lost connection")
		}
		last := h.notes.last().notice
		if last.Kind != NoticeConnectionLost || !errors.Is(last.Err, audio.ErrConnectionLost) {
			t.Errorf("last notice = %+v", last)
		}
	})
}

func TestManager_KickedWhileIdleEndsSession(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A")
		kicked := h.conn(t)
		synctest.Wait()
		kicked.Finish(nil)
		synctest.Wait()

		kicked.Drop()
		synctest.Wait()

		if _, ok := h.m.Lookup(testGuild); ok {
			t.Fatal("session survived being removed from voice")
		}
		if kicked.Disconnects() != 1 {
			t.Errorf("disconnects = %d, want 1", kicked.Disconnects())
		}
		if last := h.notes.last().notice; last.Kind != NoticeConnectionLost {
			t.Errorf("last notice = %+v, want connection lost", last)
		}

		h.mustPlay(t, "B")
		synctest.Wait()

		if n := len(h.platform.Calls()); n != 2 {
			t.Fatalf("connect calls = %d, want a fresh join", n)
		}
		fresh := h.conn(t)
		if got := fresh.Plays(); !slices.Equal(got, streamURLs("B")) {
			t.Errorf("plays on new connection = %v", got)
		}
		if got := kicked.Plays(); !slices.Equal(got, streamURLs("A")) {
			t.Errorf("plays on kicked connection = %v", got)
		}
		if last := h.notes.last().notice; last.Kind != NoticeNowPlaying || last.Track.Title != "B" {
			t.Errorf("last notice = %+v, want now playing B", last)
		}
	})
}

func TestManager_PlayRejoinsBeforeLossIsHandled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		h.mustPlay(t, "A")
		kicked := h.conn(t)
		synctest.Wait()
		kicked.Finish(nil)
		synctest.Wait()

		s, ok := h.m.Lookup(testGuild)
		if !ok {
			t.Fatal("no session")
		}
		// The kick lands while the loop is busy with the next play, so
		// play sees the dead link before the loss task runs.
		req := PlayRequest{GuildID: testGuild, TextChannelID: testText, VoiceChannelID: testVoice, Query: "B"}
		track := resolver.Track{Title: "B", StreamURL: streamURLs("B")[0]}
		var playErr error
		err := s.submit(t.Context(), func() {
			kicked.Drop()
			playErr = s.play(t.Context(), req, track)
		})
		if err != nil || playErr != nil {
			t.Fatalf("play = %v, %v", err, playErr)
		}
		synctest.Wait()

		if n := len(h.platform.Calls()); n != 2 {
			t.Fatalf("connect calls = %d, want a rejoin", n)
		}
		if got, ok := h.m.Lookup(testGuild); !ok || got.ID() != s.ID() {
			t.Fatal("session replaced instead of rejoining")
		}
		if kicked.Disconnects() != 1 {
			t.Errorf("kicked disconnects = %d, want 1", kicked.Disconnects())
		}
		if got := h.conn(t).Plays(); !slices.Equal(got, streamURLs("B")) {
			t.Errorf("plays on new connection = %v", got)
		}
		if n := h.notes.count(NoticeConnectionLost); n != 0 {
			t.Errorf("connection lost notices = %d, want 0", n)
		}
		if last := h.notes.last().notice; last.Kind != NoticeNowPlaying || last.Track.Title != "B" {
			t.Errorf("last notice = %+v, want now playing B", last)
		}
	})
}

func TestManager_RecordsHistory(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)
		h.res.Tracks = map[string]resolver.Track{
			"A": {Title: "Song A", StreamURL: "u", PageURL: "https://youtu.be/a", Source: "ytdlp", Duration: time.Minute},
		}

		h.mustPlay(t, "A")
		synctest.Wait()

		entries := h.hist.Entries()
		if len(entries) != 1 {
			t.Fatalf("history entries = %d, want 1", len(entries))
		}
		s, _ := h.m.Lookup(testGuild)
		e := entries[0]
		if e.Title != "Song A" || e.GuildID != testGuild || e.SessionID != s.ID() || e.Duration != time.Minute {
			t.Errorf("entry = %+v", e)
		}
	})
}

func TestManager_GuildsAreIndependent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		for _, g := range []string{"g1", "g2"} {
			err := h.m.Play(t.Context(), PlayRequest{GuildID: g, TextChannelID: "t-" + g, VoiceChannelID: "v-" + g, Query: "A"})
			if err != nil {
				t.Fatalf("Play(%s): %v", g, err)
			}
		}
		if err := h.m.Pause(t.Context(), "g1"); err != nil {
			t.Fatal(err)
		}
		snap, err := h.m.NowPlaying(t.Context(), "g2")
		if err != nil || !snap.Playing {
			t.Errorf("g2 snapshot = %+v, %v", snap, err)
		}
		if h.m.Len() != 2 {
			t.Errorf("Len = %d, want 2", h.m.Len())
		}
	})
}

func TestManager_ConcurrentFirstPlays(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})
		defer h.shutdown(t)

		var wg sync.WaitGroup
		for _, q := range []string{"A", "B", "C", "D"} {
			wg.Go(func() {
				if err := h.play(t, q); err != nil {
					t.Errorf("Play(%s): %v", q, err)
				}
			})
		}
		wg.Wait()
		synctest.Wait()

		if n := len(h.platform.Calls()); n != 1 {
			t.Errorf("connect calls = %d, want 1", n)
		}
		if n := len(h.conn(t).Plays()); n != 1 {
			t.Errorf("concurrent plays started %d tracks, want 1", n)
		}
		snap, _ := h.m.NowPlaying(t.Context(), testGuild)
		if len(snap.Queue) != 4 {
			t.Errorf("queue length = %d, want 4", len(snap.Queue))
		}
	})
}

func TestManager_Shutdown(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, Config{})

		for _, g := range []string{"g1", "g2"} {
			err := h.m.Play(t.Context(), PlayRequest{GuildID: g, TextChannelID: "t", VoiceChannelID: "v-" + g, Query: "A"})
			if err != nil {
				t.Fatal(err)
			}
		}
		if err := h.m.Shutdown(t.Context()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		if h.m.Len() != 0 {
			t.Errorf("Len = %d after shutdown", h.m.Len())
		}
		for _, c := range h.platform.Connections {
			if c.Disconnects() != 1 {
				t.Errorf("connection %s disconnects = %d", c.ChannelID(), c.Disconnects())
			}
		}
		if err := h.play(t, "B"); !errors.Is(err, ErrClosed) {
			t.Errorf("Play after shutdown = %v, want ErrClosed", err)
		}
	})
}

func TestNoticeKind_String(t *testing.T) {
	t.Parallel()
	if NoticeQueueEmpty.String() != "queue_empty" || NoticeKind(99).String() != "unknown" {
		t.Error("unexpected notice names")
	}
}

func TestTransportError(t *testing.T) {
	t.Parallel()
	cause := errors.New("timeout")
	err := error(&TransportError{Op: "join", Err: cause})
	if !errors.Is(err, cause) || err.Error() != "session: transport join: timeout" {
		t.Errorf("err = %v", err)
	}
}
