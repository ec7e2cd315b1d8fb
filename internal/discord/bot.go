// Package discord provides the Discord bot layer for Vitrola. It owns the
// discordgo.Session lifecycle, routes prefixed text commands to registered
// handlers and delivers outbound messages with rate-limit handling.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vitrola/internal/observe"
	"github.com/MrWong99/vitrola/pkg/audio"
	discordaudio "github.com/MrWong99/vitrola/pkg/audio/discord"
	"github.com/MrWong99/vitrola/pkg/audio/ffmpeg"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// Prefix is the command prefix. Defaults to "!".
	Prefix string

	// FFmpegPath is the ffmpeg binary used to decode streams.
	FFmpegPath string

	// Notify configures outbound message throttling and retries.
	Notify NotifierConfig
}

// Bot owns the Discord gateway connection.
type Bot struct {
	session  *discordgo.Session
	platform *discordaudio.Platform
	notifier *Notifier
	router   *CommandRouter

	ready     atomic.Bool
	closeOnce sync.Once
}

// New creates a Bot. The gateway connection is opened by [Bot.Run], so
// handlers can be registered on [Bot.Router] first.
func New(cfg Config, metrics *observe.Metrics) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	session.ShouldRetryOnRateLimit = false

	cfg.Notify.Prefix = cfg.Prefix
	notifier := NewNotifier(session, cfg.Notify, metrics)

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session, ffmpeg.New(cfg.FFmpegPath)),
		notifier: notifier,
	}
	b.router = NewCommandRouter(cfg.Prefix, notifier, b.voiceChannel, metrics)

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.ready.Store(true)
		slog.Info("discord: connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		b.ready.Store(true)
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.ready.Store(false)
		slog.Warn("discord: gateway disconnected")
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.router.Dispatch(context.Background(), m.Message)
	})
	return b, nil
}

// Platform returns the voice transport.
func (b *Bot) Platform() audio.Platform { return b.platform }

// Notifier returns the outbound message sender.
func (b *Bot) Notifier() *Notifier { return b.notifier }

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter { return b.router }

// Ready reports whether the gateway session is established.
func (b *Bot) Ready() bool { return b.ready.Load() }

// voiceChannel looks up a member's voice channel in the gateway state cache.
func (b *Bot) voiceChannel(guildID, userID string) string {
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	<-ctx.Done()
	return nil
}

// Close disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.ready.Store(false)
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
