// Package discord provides an [audio.Platform] backed by Discord voice
// channels via the bwmarrin/discordgo library.
//
// Each [Connection] plays one remote stream at a time: the stream is decoded
// to PCM by ffmpeg, scaled by the connection's gain, encoded to Opus with
// gopus and written to the voice connection's OpusSend channel.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vitrola/pkg/audio"
	"github.com/MrWong99/vitrola/pkg/audio/ffmpeg"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] on top of a gateway session owned
// by the bot layer. One Platform serves every guild the bot is in.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	decoder *ffmpeg.Decoder
}

// New creates a Platform for session. decoder may be nil to use ffmpeg
// from PATH.
func New(session *discordgo.Session, decoder *ffmpeg.Decoder) *Platform {
	if decoder == nil {
		decoder = ffmpeg.New("")
	}
	return &Platform{session: session, decoder: decoder}
}

// Connect joins channelID in guildID. The bot joins self-deafened since it
// never receives audio.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	conn := newConnection(&voiceAdapter{vc: vc}, guildID, ffmpegOpener{p.decoder})
	conn.removeHandler = p.session.AddHandler(func(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
		if s.State == nil || s.State.User == nil {
			return
		}
		conn.handleVoiceStateUpdate(s.State.User.ID, vsu)
	})
	return conn, nil
}
