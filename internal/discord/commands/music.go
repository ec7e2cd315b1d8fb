// Package commands implements the music bot's text commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vitrola/internal/discord"
	"github.com/MrWong99/vitrola/internal/resolver"
	"github.com/MrWong99/vitrola/internal/session"
	"github.com/MrWong99/vitrola/pkg/history"
)

// queuePreview is how many upcoming tracks now_playing lists.
const queuePreview = 5

// errUsage marks a command rejected for malformed arguments.
var errUsage = errors.New("commands: invalid arguments")

// Player is the session controller as seen by the commands.
type Player interface {
	Play(ctx context.Context, req session.PlayRequest) error
	Pause(ctx context.Context, guildID string) error
	Resume(ctx context.Context, guildID string) error
	Skip(ctx context.Context, guildID string) error
	ToggleLoop(ctx context.Context, guildID string) (bool, error)
	Leave(ctx context.Context, guildID string) error
	SetVolume(ctx context.Context, guildID string, percent int) error
	NowPlaying(ctx context.Context, guildID string) (session.Snapshot, error)
	Touch(ctx context.Context, guildID string) bool
}

var _ Player = (*session.Manager)(nil)

// MusicCommands holds the dependencies of the music commands.
type MusicCommands struct {
	player       Player
	history      history.Store
	historyLimit int
	router       *discord.CommandRouter
}

// NewMusicCommands creates MusicCommands and registers them with router.
// history may be nil, in which case the history command reports that it
// is disabled.
func NewMusicCommands(router *discord.CommandRouter, player Player, hist history.Store, historyLimit int) *MusicCommands {
	if historyLimit <= 0 {
		historyLimit = history.DefaultLimit
	}
	mc := &MusicCommands{
		player:       player,
		history:      hist,
		historyLimit: historyLimit,
		router:       router,
	}
	mc.Register(router)
	return mc
}

// Register registers every command in help order.
func (mc *MusicCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("play", "[música ou URL do Spotify]", "Toca uma música ou adiciona à fila", mc.handlePlay)
	router.RegisterCommand("leave", "", "Sai do canal de voz", mc.handleLeave)
	router.RegisterCommand("pause", "", "Pausa a música atual", mc.handlePause)
	router.RegisterCommand("resume", "", "Retoma a música pausada", mc.handleResume)
	router.RegisterCommand("loop", "", "Ativa/desativa o loop da música atual", mc.handleLoop)
	router.RegisterCommand("skip", "", "Pula a música atual", mc.handleSkip)
	router.RegisterCommand("volume", "[0-100]", "Ajusta o volume da música", mc.handleVolume)
	router.RegisterCommand("now_playing", "", "Veja a música que está tocando", mc.handleNowPlaying)
	router.RegisterCommand("history", "", "Mostra as últimas músicas tocadas", mc.handleHistory)
	router.RegisterCommand("musichelp", "", "Mostra esta mensagem de ajuda", mc.handleHelp)
}

// handlePlay handles play <query-or-link>. Success is announced by the
// session's queued and now-playing notices.
func (mc *MusicCommands) handlePlay(ctx context.Context, r *discord.Request) error {
	if r.Args == "" {
		r.Reply(ctx, fmt.Sprintf("Use %splay [música ou URL do Spotify].", r.Prefix))
		return errUsage
	}
	err := mc.player.Play(ctx, session.PlayRequest{
		GuildID:        r.GuildID,
		TextChannelID:  r.ChannelID,
		VoiceChannelID: r.VoiceChannelID,
		Query:          r.Args,
	})

	var (
		re *resolver.Error
		te *session.TransportError
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotInVoice):
		r.Reply(ctx, "Você precisa estar em um canal de voz para usar este comando.")
	case errors.As(err, &re):
		r.Reply(ctx, "Ocorreu um erro ao buscar a música: "+resolver.UserMessage(err))
	case errors.As(err, &te):
		r.Reply(ctx, "Não consegui entrar no canal de voz. Tente novamente em instantes.")
	case errors.Is(err, session.ErrClosed):
		r.Reply(ctx, "O bot está sendo desligado.")
	default:
		r.Reply(ctx, fmt.Sprintf("Ocorreu um erro: %v", err))
	}
	return err
}

func (mc *MusicCommands) handlePause(ctx context.Context, r *discord.Request) error {
	err := mc.player.Pause(ctx, r.GuildID)
	switch {
	case err == nil:
		r.Reply(ctx, "Música pausada.")
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrNothingPlaying):
		r.Reply(ctx, "Não há nenhuma música tocando.")
	default:
		r.Reply(ctx, fmt.Sprintf("Ocorreu um erro: %v", err))
	}
	return err
}

func (mc *MusicCommands) handleResume(ctx context.Context, r *discord.Request) error {
	err := mc.player.Resume(ctx, r.GuildID)
	switch {
	case err == nil:
		r.Reply(ctx, "Música resumida.")
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrNotPaused):
		r.Reply(ctx, "A música não está pausada.")
	default:
		r.Reply(ctx, fmt.Sprintf("Ocorreu um erro: %v", err))
	}
	return err
}

func (mc *MusicCommands) handleLoop(ctx context.Context, r *discord.Request) error {
	enabled, err := mc.player.ToggleLoop(ctx, r.GuildID)
	switch {
	case err == nil && enabled:
		r.Reply(ctx, "Loop ativado.")
	case err == nil:
		r.Reply(ctx, "Loop desativado.")
	case errors.Is(err, session.ErrNoSession):
		r.Reply(ctx, "Não estou conectado a um canal de voz.")
	default:
		r.Reply(ctx, fmt.Sprintf("Ocorreu um erro: %v", err))
	}
	return err
}

func (mc *MusicCommands) handleSkip(ctx context.Context, r *discord.Request) error {
	err := mc.player.Skip(ctx, r.GuildID)
	switch {
	case err == nil:
		r.Reply(ctx, "Música pulada.")
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrNothingPlaying):
		r.Reply(ctx, "Não há música tocando no momento.")
	default:
		r.Reply(ctx, fmt.Sprintf("Ocorreu um erro: %v", err))
	}
	return err
}

// handleLeave replies only on failure; the session announces its own
// teardown.
func (mc *MusicCommands) handleLeave(ctx context.Context, r *discord.Request) error {
	err := mc.player.Leave(ctx, r.GuildID)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNoSession):
		r.Reply(ctx, "Não estou em nenhum canal de voz.")
	default:
		r.Reply(ctx, fmt.Sprintf("Ocorreu um erro: %v", err))
	}
	return err
}

func (mc *MusicCommands) handleVolume(ctx context.Context, r *discord.Request) error {
	percent, perr := strconv.Atoi(strings.TrimSuffix(r.Args, "%"))
	if perr != nil {
		r.Reply(ctx, fmt.Sprintf("Use %svolume [0-100].", r.Prefix))
		return errUsage
	}
	err := mc.player.SetVolume(ctx, r.GuildID, percent)
	switch {
	case err == nil:
		r.Reply(ctx, fmt.Sprintf("Volume alterado para %d%%", percent))
	case errors.Is(err, session.ErrNoSession):
		r.Reply(ctx, "Não estou conectado a um canal de voz.")
	case errors.Is(err, session.ErrVolumeRange):
		r.Reply(ctx, "O volume deve estar entre 0 e 100.")
	default:
		r.Reply(ctx, fmt.Sprintf("Ocorreu um erro: %v", err))
	}
	return err
}

func (mc *MusicCommands) handleNowPlaying(ctx context.Context, r *discord.Request) error {
	snap, err := mc.player.NowPlaying(ctx, r.GuildID)
	switch {
	case err == nil:
		r.ReplyEmbed(ctx, nowPlayingEmbed(snap))
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrNothingPlaying):
		r.Reply(ctx, "Não há nenhuma música tocando.")
	default:
		r.Reply(ctx, fmt.Sprintf("Ocorreu um erro: %v", err))
	}
	return err
}

func nowPlayingEmbed(snap session.Snapshot) *discordgo.MessageEmbed {
	var b strings.Builder
	cur := snap.Current
	if cur.PageURL != "" {
		fmt.Fprintf(&b, "**[%s](%s)**\n", cur.Title, cur.PageURL)
	} else {
		fmt.Fprintf(&b, "**%s**\n", cur.Title)
	}
	fmt.Fprintf(&b, "Duração: %s\n", discord.FormatDuration(cur.Duration))
	status := "tocando"
	if snap.Paused {
		status = "pausada"
	}
	loop := "desativado"
	if snap.Loop {
		loop = "ativado"
	}
	fmt.Fprintf(&b, "Estado: %s · Volume: %d%% · Loop: %s", status, snap.Volume, loop)

	if next := snap.Queue[min(1, len(snap.Queue)):]; len(next) > 0 {
		b.WriteString("\n\n**Próximas:**")
		for i, t := range next[:min(queuePreview, len(next))] {
			fmt.Fprintf(&b, "\n%d. %s", i+1, t.Title)
		}
		if extra := len(next) - queuePreview; extra > 0 {
			fmt.Fprintf(&b, "\n… e mais %d", extra)
		}
	}
	return discord.Embed("Tocando agora", b.String(), discord.ColorGreen)
}
