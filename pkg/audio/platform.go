// Package audio defines the playback transport contract used by Vitrola.
//
// The two primary abstractions are:
//
//   - [Platform]: joins a voice channel in a guild and returns a [Connection].
//   - [Connection]: the live audio output for that guild. It plays one stream
//     at a time, supports pause/resume/stop and an output gain, and reports the
//     end of every playback through a completion callback.
//
// Implementations live in platform-specific packages (e.g., audio/discord).
// The session layer only ever talks to these interfaces.
package audio

import (
	"context"
	"errors"
)

// ErrBusy is returned by [Connection.Play] when a previous playback has not
// yet completed or been stopped.
var ErrBusy = errors.New("audio: playback already in progress")

// ErrClosed is returned by [Connection] methods after [Connection.Disconnect].
var ErrClosed = errors.New("audio: connection closed")

// ErrConnectionLost is passed to a playback's completion callback when the
// voice connection itself dropped, as opposed to a single stream failing.
var ErrConnectionLost = errors.New("audio: voice connection lost")

// FinishFunc is invoked exactly once per successful [Connection.Play] call,
// when the stream ends naturally, is stopped, or fails. err is nil for a
// natural end or an explicit [Connection.Stop].
//
// The callback runs on a transport goroutine and must not block.
type FinishFunc func(err error)

// Connection is the audio output of one guild.
//
// A Connection is obtained from [Platform.Connect] and remains valid until
// [Connection.Disconnect] is called. Implementations must be safe for
// concurrent use.
type Connection interface {
	// ChannelID returns the voice channel the connection is currently in.
	ChannelID() string

	// Move switches the connection to another voice channel of the same guild
	// without interrupting the current playback.
	Move(ctx context.Context, channelID string) error

	// Play starts streaming the audio found at streamURL. It returns
	// [ErrBusy] if another playback is still active. onFinished is called
	// once when the playback ends for any reason.
	Play(streamURL string, onFinished FinishFunc) error

	// Pause suspends output of the current playback. No-op when idle.
	Pause()

	// Resume continues a paused playback. No-op when not paused.
	Resume()

	// Stop ends the current playback; its completion callback fires with a
	// nil error. No-op when idle, and never fires a second callback.
	Stop()

	// SetVolume sets the output gain, 0.0 (silent) to 1.0 (unchanged). It
	// applies to the current playback and all following ones.
	SetVolume(gain float64)

	// Disconnect stops any playback and leaves the voice channel. It is safe
	// to call more than once; subsequent calls return nil.
	Disconnect() error

	// Lost is closed when the voice link drops without Disconnect, for
	// example when a moderator kicks the bot. Play fails with
	// [ErrConnectionLost] from then on.
	Lost() <-chan struct{}
}

// Platform is the entry point for a voice provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins channelID in guildID and returns the guild's
	// [Connection]. ctx bounds the join only.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
