package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vitrola/pkg/audio"
	"github.com/MrWong99/vitrola/pkg/audio/ffmpeg"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// errStopped is the cancellation cause of a playback ended by [Connection.Stop].
var errStopped = errors.New("discord: playback stopped")

// voiceConn is the subset of *discordgo.VoiceConnection a Connection needs.
type voiceConn interface {
	opusSend() chan<- []byte
	channelID() string
	changeChannel(channelID string) error
	speaking(b bool) error
	disconnect() error
}

// voiceAdapter adapts *discordgo.VoiceConnection to voiceConn.
type voiceAdapter struct {
	vc *discordgo.VoiceConnection
}

func (a *voiceAdapter) opusSend() chan<- []byte { return a.vc.OpusSend }

func (a *voiceAdapter) channelID() string {
	a.vc.RLock()
	defer a.vc.RUnlock()
	return a.vc.ChannelID
}

func (a *voiceAdapter) changeChannel(channelID string) error {
	return a.vc.ChangeChannel(channelID, false, true)
}

func (a *voiceAdapter) speaking(b bool) error { return a.vc.Speaking(b) }

func (a *voiceAdapter) disconnect() error { return a.vc.Disconnect() }

// pcmStream yields fixed-size PCM frames; see [ffmpeg.Stream].
type pcmStream interface {
	ReadFrame(buf []byte) error
	Close() error
}

// streamOpener starts decoding a remote stream.
type streamOpener interface {
	open(ctx context.Context, url string) (pcmStream, error)
}

type ffmpegOpener struct {
	dec *ffmpeg.Decoder
}

func (o ffmpegOpener) open(ctx context.Context, url string) (pcmStream, error) {
	s, err := o.dec.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Connection plays decoded streams into one guild's voice channel.
//
// Connection is safe for concurrent use.
type Connection struct {
	voice      voiceConn
	guildID    string
	opener     streamOpener
	newEncoder func() (frameEncoder, error)

	gain   atomic.Uint64 // math.Float64bits
	lost   atomic.Bool
	lostCh chan struct{}

	mu      sync.Mutex
	current *playback

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler
}

func newConnection(voice voiceConn, guildID string, opener streamOpener) *Connection {
	c := &Connection{
		voice:      voice,
		guildID:    guildID,
		opener:     opener,
		newEncoder: newOpusEncoder,
		lostCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.gain.Store(math.Float64bits(1))
	return c
}

// playback is one in-flight stream.
type playback struct {
	ctx        context.Context
	cancel     context.CancelCauseFunc
	onFinished audio.FinishFunc

	mu      sync.Mutex
	resumed chan struct{} // non-nil while paused
}

func (pb *playback) pause() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.resumed == nil {
		pb.resumed = make(chan struct{})
	}
}

func (pb *playback) resume() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.resumed != nil {
		close(pb.resumed)
		pb.resumed = nil
	}
}

// waitResumed blocks while the playback is paused. It returns false once
// the playback is cancelled.
func (pb *playback) waitResumed() bool {
	pb.mu.Lock()
	ch := pb.resumed
	pb.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-pb.ctx.Done():
		}
	}
	return pb.ctx.Err() == nil
}

// ChannelID returns the voice channel the bot is connected to.
func (c *Connection) ChannelID() string {
	return c.voice.channelID()
}

// Move switches to channelID without interrupting playback.
func (c *Connection) Move(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return audio.ErrClosed
	default:
	}
	if err := c.voice.changeChannel(channelID); err != nil {
		return fmt.Errorf("discord: move to channel %q: %w", channelID, err)
	}
	return nil
}

// Play starts streaming streamURL. Decoder and encoder start-up failures are
// returned directly and do not invoke onFinished.
func (c *Connection) Play(streamURL string, onFinished audio.FinishFunc) error {
	select {
	case <-c.done:
		return audio.ErrClosed
	default:
	}
	if c.lost.Load() {
		return audio.ErrConnectionLost
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return audio.ErrBusy
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	stream, err := c.opener.open(ctx, streamURL)
	if err != nil {
		cancel(err)
		return err
	}
	enc, err := c.newEncoder()
	if err != nil {
		cancel(err)
		_ = stream.Close()
		return err
	}

	pb := &playback{ctx: ctx, cancel: cancel, onFinished: onFinished}
	c.current = pb
	go c.run(pb, stream, enc)
	return nil
}

// run streams frames until the source ends or the playback is cancelled,
// then reports the outcome.
func (c *Connection) run(pb *playback, stream pcmStream, enc frameEncoder) {
	c.setSpeaking(true)
	err := c.pump(pb, stream, enc)
	if cerr := stream.Close(); err == nil {
		err = cerr
	}
	c.setSpeaking(false)

	switch cause := context.Cause(pb.ctx); {
	case errors.Is(cause, audio.ErrConnectionLost):
		err = audio.ErrConnectionLost
	case errors.Is(cause, errStopped), errors.Is(cause, audio.ErrClosed):
		err = nil
	}

	c.mu.Lock()
	if c.current == pb {
		c.current = nil
	}
	c.mu.Unlock()
	pb.cancel(nil)

	if pb.onFinished != nil {
		pb.onFinished(err)
	}
}

func (c *Connection) pump(pb *playback, stream pcmStream, enc frameEncoder) error {
	buf := make([]byte, audio.FrameBytes)
	send := c.voice.opusSend()
	for {
		if !pb.waitResumed() {
			return nil
		}
		if err := stream.ReadFrame(buf); err != nil {
			if errors.Is(err, io.EOF) || pb.ctx.Err() != nil {
				return nil
			}
			return err
		}
		audio.ApplyGain(buf, c.volume())
		packet, err := enc.encode(buf)
		if err != nil {
			return err
		}
		select {
		case send <- packet:
		case <-pb.ctx.Done():
			return nil
		}
	}
}

func (c *Connection) active() *playback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Pause holds the current playback at its position.
func (c *Connection) Pause() {
	if pb := c.active(); pb != nil {
		pb.pause()
	}
}

// Resume continues a paused playback.
func (c *Connection) Resume() {
	if pb := c.active(); pb != nil {
		pb.resume()
	}
}

// Stop ends the current playback.
func (c *Connection) Stop() {
	if pb := c.active(); pb != nil {
		pb.cancel(errStopped)
	}
}

// SetVolume sets the gain applied to every following frame.
func (c *Connection) SetVolume(gain float64) {
	c.gain.Store(math.Float64bits(audio.ClampGain(gain)))
}

func (c *Connection) volume() float64 {
	return math.Float64frombits(c.gain.Load())
}

// Disconnect stops playback and leaves the voice channel. It is safe to call
// more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.removeHandler != nil {
			c.removeHandler()
		}
		if pb := c.active(); pb != nil {
			pb.cancel(audio.ErrClosed)
		}
		err = c.voice.disconnect()
	})
	return err
}

// Lost is closed once the bot has been removed from voice.
func (c *Connection) Lost() <-chan struct{} {
	return c.lostCh
}

// handleVoiceStateUpdate marks the connection lost when the bot itself is
// removed from voice in this guild, e.g. kicked by a moderator.
func (c *Connection) handleVoiceStateUpdate(botUserID string, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil {
		return
	}
	if vsu.GuildID != c.guildID || vsu.UserID != botUserID || vsu.ChannelID != "" {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	if c.lost.Swap(true) {
		return
	}
	close(c.lostCh)
	slog.Warn("discord: voice connection lost", "guild_id", c.guildID)
	if pb := c.active(); pb != nil {
		pb.cancel(audio.ErrConnectionLost)
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if err := c.voice.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "guild_id", c.guildID, "speaking", b, "error", err)
	}
}
