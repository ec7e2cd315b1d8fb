package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vitrola/internal/session"
)

// Embed colours.
const (
	ColorBlue   = 0x3498DB
	ColorGreen  = 0x2ECC71
	ColorOrange = 0xE67E22
	ColorRed    = 0xE74C3C
)

// Embed builds a titled embed.
func Embed(title, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
	}
}

// NoticeMessage renders a session notice. prefix is the command prefix
// shown in hints such as "Use o comando !play".
func NoticeMessage(n session.Notice, prefix string) *discordgo.MessageSend {
	switch n.Kind {
	case session.NoticeQueued:
		return &discordgo.MessageSend{Content: "Adicionado à fila: " + n.Track.Title}
	case session.NoticeNowPlaying:
		return &discordgo.MessageSend{Content: "Tocando agora: " + n.Track.Title}
	case session.NoticePlaybackFailed:
		return &discordgo.MessageSend{Content: fmt.Sprintf("Não foi possível tocar %s: %v", n.Track.Title, n.Err)}
	case session.NoticeQueueEmpty:
		return embedMessage(Embed("Fila Vazia",
			fmt.Sprintf("A fila está vazia. Saindo do canal de voz em %s se nenhuma música for adicionada.", FormatGrace(n.Grace)),
			ColorOrange))
	case session.NoticeIdleDisconnect:
		return embedMessage(Embed("Desconectado",
			fmt.Sprintf("Saí do canal de voz devido à inatividade. Use o comando %splay para tocar mais músicas.", prefix),
			ColorRed))
	case session.NoticeLeft:
		return embedMessage(Embed("Desconectado",
			fmt.Sprintf("Saí do canal de voz. Use o comando %splay para tocar mais músicas.", prefix),
			ColorRed))
	case session.NoticeConnectionLost:
		return embedMessage(Embed("Desconectado",
			fmt.Sprintf("A conexão de voz foi perdida. Use o comando %splay para tocar mais músicas.", prefix),
			ColorRed))
	default:
		return nil
	}
}

func embedMessage(e *discordgo.MessageEmbed) *discordgo.MessageSend {
	return &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{e}}
}

// FormatGrace renders d in Portuguese: whole minutes as "3 minutos",
// anything else in seconds.
func FormatGrace(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutos", m)
		}
		return "1 minuto"
	}
	s := int(d.Round(time.Second) / time.Second)
	if s == 1 {
		return "1 segundo"
	}
	return fmt.Sprintf("%d segundos", s)
}

// FormatDuration renders a track length as m:ss or h:mm:ss. Zero renders
// as "ao vivo".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "ao vivo"
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
