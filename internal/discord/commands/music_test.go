package commands

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/bwmarrin/discordgo"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/vitrola/internal/discord"
	"github.com/MrWong99/vitrola/internal/discord/mock"
	"github.com/MrWong99/vitrola/internal/observe"
	"github.com/MrWong99/vitrola/internal/resolver"
	resmock "github.com/MrWong99/vitrola/internal/resolver/mock"
	"github.com/MrWong99/vitrola/internal/session"
	audiomock "github.com/MrWong99/vitrola/pkg/audio/mock"
	"github.com/MrWong99/vitrola/pkg/history"
	historymock "github.com/MrWong99/vitrola/pkg/history/mock"
)

// fakePlayer returns err from every call and records what it was asked.
type fakePlayer struct {
	err      error
	loop     bool
	snap     session.Snapshot
	plays    []session.PlayRequest
	volumes  []int
	touches  int
	lastCall string
}

func (f *fakePlayer) Play(_ context.Context, req session.PlayRequest) error {
	f.lastCall = "play"
	f.plays = append(f.plays, req)
	return f.err
}
func (f *fakePlayer) Pause(context.Context, string) error  { f.lastCall = "pause"; return f.err }
func (f *fakePlayer) Resume(context.Context, string) error { f.lastCall = "resume"; return f.err }
func (f *fakePlayer) Skip(context.Context, string) error   { f.lastCall = "skip"; return f.err }
func (f *fakePlayer) Leave(context.Context, string) error  { f.lastCall = "leave"; return f.err }
func (f *fakePlayer) ToggleLoop(context.Context, string) (bool, error) {
	f.lastCall = "loop"
	return f.loop, f.err
}
func (f *fakePlayer) SetVolume(_ context.Context, _ string, v int) error {
	f.lastCall = "volume"
	f.volumes = append(f.volumes, v)
	return f.err
}
func (f *fakePlayer) NowPlaying(context.Context, string) (session.Snapshot, error) {
	f.lastCall = "now_playing"
	return f.snap, f.err
}
func (f *fakePlayer) Touch(context.Context, string) bool {
	f.touches++
	return true
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	router *discord.CommandRouter
	sender *mock.Sender
	out    *discord.Notifier
}

func newFixture(t *testing.T, player Player, hist history.Store) *fixture {
	t.Helper()
	met := testMetrics(t)
	sender := &mock.Sender{}
	out := discord.NewNotifier(sender, discord.NotifierConfig{RatePerSecond: 1000, Burst: 100}, met)
	router := discord.NewCommandRouter("!", out, func(guildID, userID string) string {
		if userID == "in-voice" {
			return "voice-1"
		}
		return ""
	}, met)
	NewMusicCommands(router, player, hist, 5)
	return &fixture{router: router, sender: sender, out: out}
}

func (f *fixture) send(t *testing.T, content string) {
	t.Helper()
	f.router.Dispatch(t.Context(), &discordgo.Message{
		GuildID:   "g1",
		ChannelID: "text-1",
		Author:    &discordgo.User{ID: "in-voice"},
		Content:   content,
	})
}

func (f *fixture) lastText(t *testing.T) string {
	t.Helper()
	texts := f.sender.Texts()
	if len(texts) == 0 {
		t.Fatal("no reply sent")
	}
	return texts[len(texts)-1]
}

func TestMusicCommands_Replies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		err     error
		loop    bool
		want    string
	}{
		{"pause ok", "!pause", nil, false, "Música pausada."},
		{"pause nothing playing", "!pause", session.ErrNothingPlaying, false, "Não há nenhuma música tocando."},
		{"pause no session", "!pause", session.ErrNoSession, false, "Não há nenhuma música tocando."},
		{"resume ok", "!resume", nil, false, "Música resumida."},
		{"resume not paused", "!resume", session.ErrNotPaused, false, "A música não está pausada."},
		{"resume no session", "!resume", session.ErrNoSession, false, "A música não está pausada."},
		{"loop on", "!loop", nil, true, "Loop ativado."},
		{"loop off", "!loop", nil, false, "Loop desativado."},
		{"loop no session", "!loop", session.ErrNoSession, false, "Não estou conectado a um canal de voz."},
		{"skip ok", "!skip", nil, false, "Música pulada."},
		{"skip nothing playing", "!skip", session.ErrNothingPlaying, false, "Não há música tocando no momento."},
		{"leave no session", "!leave", session.ErrNoSession, false, "Não estou em nenhum canal de voz."},
		{"volume ok", "!volume 80", nil, false, "Volume alterado para 80%"},
		{"volume percent sign", "!volume 30%", nil, false, "Volume alterado para 30%"},
		{"volume no session", "!volume 80", session.ErrNoSession, false, "Não estou conectado a um canal de voz."},
		{"volume out of range", "!volume 150", session.ErrVolumeRange, false, "O volume deve estar entre 0 e 100."},
		{"volume not a number", "!volume alto", nil, false, "Use !volume [0-100]."},
		{"now playing idle", "!now_playing", session.ErrNothingPlaying, false, "Não há nenhuma música tocando."},
		{"play not in voice", "!play x", session.ErrNotInVoice, false, "Você precisa estar em um canal de voz para usar este comando."},
		{
			"play resolution error", "!play zzzz",
			&resolver.Error{Query: "zzzz", Err: resolver.ErrNoResults}, false,
			"Ocorreu um erro ao buscar a música: nenhum resultado encontrado",
		},
		{
			"play join failure", "!play x",
			&session.TransportError{Op: "join", Err: errors.New("timeout")}, false,
			"Não consegui entrar no canal de voz. Tente novamente em instantes.",
		},
		{"play without query", "!play", nil, false, "Use !play [música ou URL do Spotify]."},
		{"generic error", "!skip", errors.New("boom"), false, "Ocorreu um erro: boom"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &fakePlayer{err: tc.err, loop: tc.loop}
			f := newFixture(t, p, nil)
			f.send(t, tc.content)
			if got := f.lastText(t); got != tc.want {
				t.Errorf("reply = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMusicCommands_SilentSuccess(t *testing.T) {
	t.Parallel()

	for _, content := range []string{"!play song", "!leave"} {
		p := &fakePlayer{}
		f := newFixture(t, p, nil)
		f.send(t, content)
		if n := len(f.sender.Sent()); n != 0 {
			t.Errorf("%s: sent %d replies, want none", content, n)
		}
	}
}

func TestMusicCommands_PlayRequest(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{}
	f := newFixture(t, p, nil)
	f.send(t, "!play https://open.spotify.com/track/abc?si=x")

	want := session.PlayRequest{
		GuildID:        "g1",
		TextChannelID:  "text-1",
		VoiceChannelID: "voice-1",
		Query:          "https://open.spotify.com/track/abc?si=x",
	}
	if len(p.plays) != 1 || p.plays[0] != want {
		t.Errorf("plays = %+v, want %+v", p.plays, want)
	}
}

func TestMusicCommands_VolumeParseSkipsPlayer(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{}
	f := newFixture(t, p, nil)
	f.send(t, "!volume")
	if p.lastCall != "" {
		t.Errorf("player called with %q for a malformed volume", p.lastCall)
	}
}

func TestMusicCommands_NowPlaying(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{snap: session.Snapshot{
		Current: resolver.Track{Title: "Song", PageURL: "https://youtu.be/x", Duration: 213 * time.Second},
		Playing: true,
		Volume:  50,
		Loop:    true,
		Queue: []resolver.Track{
			{Title: "Song"}, {Title: "Next 1"}, {Title: "Next 2"},
		},
	}}
	f := newFixture(t, p, nil)
	f.send(t, "!now_playing")

	msg := f.sender.Last()
	if msg == nil || len(msg.Embeds) != 1 {
		t.Fatalf("msg = %+v", msg)
	}
	e := msg.Embeds[0]
	if e.Title != "Tocando agora" || e.Color != discord.ColorGreen {
		t.Errorf("embed = %q/%#x", e.Title, e.Color)
	}
	for _, want := range []string{"[Song](https://youtu.be/x)", "3:33", "Volume: 50%", "Loop: ativado", "1. Next 1", "2. Next 2"} {
		if !strings.Contains(e.Description, want) {
			t.Errorf("description missing %q:\n%s", want, e.Description)
		}
	}
}

func TestMusicCommands_Help(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{}
	f := newFixture(t, p, nil)
	f.send(t, "!musichelp")

	msg := f.sender.Last()
	if msg == nil || len(msg.Embeds) != 1 {
		t.Fatalf("msg = %+v", msg)
	}
	e := msg.Embeds[0]
	if e.Title != "Comandos do Bot de Música" || e.Color != discord.ColorBlue {
		t.Errorf("embed = %q/%#x", e.Title, e.Color)
	}
	lines := strings.Split(e.Description, "\n")
	want := []string{
		"!play [música ou URL do Spotify] - Toca uma música ou adiciona à fila",
		"!leave - Sai do canal de voz",
		"!pause - Pausa a música atual",
		"!resume - Retoma a música pausada",
		"!loop - Ativa/desativa o loop da música atual",
		"!skip - Pula a música atual",
		"!volume [0-100] - Ajusta o volume da música",
		"!now_playing - Veja a música que está tocando",
		"!history - Mostra as últimas músicas tocadas",
		"!musichelp - Mostra esta mensagem de ajuda",
	}
	if !slices.Equal(lines, want) {
		t.Errorf("help lines:\n%s\nwant:\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
	if p.touches != 1 {
		t.Errorf("touches = %d, want help to count as activity", p.touches)
	}
}

func TestMusicCommands_History(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &fakePlayer{}, nil)
		f.send(t, "!history")
		if got := f.lastText(t); got != "O histórico está desativado." {
			t.Errorf("reply = %q", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &fakePlayer{}, &historymock.Store{})
		f.send(t, "!history")
		if got := f.lastText(t); got != "Nenhuma música tocada ainda." {
			t.Errorf("reply = %q", got)
		}
	})

	t.Run("lists newest first", func(t *testing.T) {
		t.Parallel()
		store := &historymock.Store{}
		for _, title := range []string{"old", "new"} {
			_ = store.Record(t.Context(), history.Entry{GuildID: "g1", Title: title, Duration: time.Minute, PlayedAt: time.Unix(1700000000, 0)})
		}
		f := newFixture(t, &fakePlayer{}, store)
		f.send(t, "!history")

		e := f.sender.Last().Embeds[0]
		if e.Title != "Histórico" || !strings.HasPrefix(e.Description, "1. new (1:00)") {
			t.Errorf("embed = %q: %q", e.Title, e.Description)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &fakePlayer{}, &historymock.Store{RecentError: errors.New("db down")})
		f.send(t, "!history")
		if got := f.lastText(t); got != "Não foi possível carregar o histórico." {
			t.Errorf("reply = %q", got)
		}
	})
}

// TestMusicCommands_EndToEnd drives the real session manager through the
// router and checks what the channel sees.
func TestMusicCommands_EndToEnd(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		met := testMetrics(t)
		sender := &mock.Sender{}
		out := discord.NewNotifier(sender, discord.NotifierConfig{RatePerSecond: 1000, Burst: 100}, met)
		platform := &audiomock.Platform{}
		mgr := session.NewManager(platform, &resmock.Resolver{}, out, session.Config{}, session.WithMetrics(met))
		defer func() { _ = mgr.Shutdown(context.Background()) }()

		router := discord.NewCommandRouter("!", out, func(string, string) string { return "voice-1" }, met)
		NewMusicCommands(router, mgr, nil, 0)
		f := &fixture{router: router, sender: sender, out: out}

		f.send(t, "!play X")
		synctest.Wait()
		platform.Last().Finish(nil)
		synctest.Wait()
		f.send(t, "!skip")

		time.Sleep(session.DefaultIdleTimeout + time.Second)
		synctest.Wait()

		want := []string{
			"Adicionado à fila: X",
			"Tocando agora: X",
			"Fila Vazia",
			"Não há música tocando no momento.",
			"Desconectado",
		}
		if got := sender.Texts(); !slices.Equal(got, want) {
			t.Errorf("channel saw %q, want %q", got, want)
		}
	})
}
