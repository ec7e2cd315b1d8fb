package session

import (
	"errors"
	"fmt"
)

// Errors returned by [Manager] for commands that cannot apply to the
// guild's current state. None of them changes session state.
var (
	// ErrNotInVoice is returned by [Manager.Play] when the caller is not in
	// a voice channel.
	ErrNotInVoice = errors.New("session: caller is not in a voice channel")

	// ErrNoSession is returned by control commands for a guild without a
	// session.
	ErrNoSession = errors.New("session: no active session")

	// ErrNothingPlaying is returned when a command needs audio to be
	// actively playing.
	ErrNothingPlaying = errors.New("session: nothing is playing")

	// ErrNotPaused is returned by [Manager.Resume] when playback is not
	// paused.
	ErrNotPaused = errors.New("session: playback is not paused")

	// ErrVolumeRange is returned by [Manager.SetVolume] for values outside
	// 0–100.
	ErrVolumeRange = errors.New("session: volume must be between 0 and 100")

	// errSessionClosed is returned by submit once the session's task loop
	// has stopped. The manager never surfaces it.
	errSessionClosed = errors.New("session: closed")
)

// TransportError reports a failed voice transport operation.
type TransportError struct {
	// Op is the failed operation: "join", "move" or "play".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrClosed is returned by [Manager.Play] after [Manager.Shutdown].
var ErrClosed = errors.New("session: manager is shut down")
