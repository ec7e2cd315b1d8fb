// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := mock.NewConnection("voice-1")
//	platform := &mock.Platform{ConnectResult: conn}
//	// ... start a playback through the code under test ...
//	conn.Finish(nil) // the track ended naturally
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vitrola/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported error fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	channelID  string
	onFinished audio.FinishFunc
	lost       chan struct{}
	dropped    bool

	// PlayError is returned by [Connection.Play] when non-nil.
	PlayError error

	// MoveError is returned by [Connection.Move] when non-nil.
	MoveError error

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// PlayCalls records the stream URL of every accepted Play call.
	PlayCalls []string

	// MoveCalls records the target channel of every Move call.
	MoveCalls []string

	// VolumeCalls records every gain passed to SetVolume.
	VolumeCalls []float64

	CallCountPause      int
	CallCountResume     int
	CallCountStop       int
	CallCountDisconnect int

	// Paused reports whether the last Pause has not been followed by a
	// Resume or the end of the playback.
	Paused bool
}

// NewConnection returns a Connection in channelID.
func NewConnection(channelID string) *Connection {
	return &Connection{channelID: channelID, lost: make(chan struct{})}
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Move implements [audio.Connection]. On success the channel is updated.
func (c *Connection) Move(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MoveCalls = append(c.MoveCalls, channelID)
	if c.MoveError != nil {
		return c.MoveError
	}
	c.channelID = channelID
	return nil
}

// Play implements [audio.Connection]. It returns PlayError if set and
// [audio.ErrBusy] while a previous playback has not finished.
func (c *Connection) Play(streamURL string, onFinished audio.FinishFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PlayError != nil {
		return c.PlayError
	}
	if c.dropped {
		return audio.ErrConnectionLost
	}
	if c.onFinished != nil {
		return audio.ErrBusy
	}
	c.PlayCalls = append(c.PlayCalls, streamURL)
	c.onFinished = onFinished
	c.Paused = false
	return nil
}

// Pause implements [audio.Connection].
func (c *Connection) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountPause++
	if c.onFinished != nil {
		c.Paused = true
	}
}

// Resume implements [audio.Connection].
func (c *Connection) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountResume++
	c.Paused = false
}

// Stop implements [audio.Connection]. The pending completion callback fires
// with a nil error on its own goroutine, like a real transport.
func (c *Connection) Stop() {
	c.mu.Lock()
	c.CallCountStop++
	c.mu.Unlock()
	c.finish(nil, true)
}

// SetVolume implements [audio.Connection].
func (c *Connection) SetVolume(gain float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.VolumeCalls = append(c.VolumeCalls, gain)
}

// Disconnect implements [audio.Connection]. Returns DisconnectError.
// A pending playback is stopped without firing its callback again later.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	err := c.DisconnectError
	c.mu.Unlock()
	c.finish(nil, true)
	return err
}

// Lost implements [audio.Connection].
func (c *Connection) Lost() <-chan struct{} {
	return c.lost
}

// Drop simulates the bot being removed from voice: Lost is closed, an
// active playback finishes with [audio.ErrConnectionLost] and later Play
// calls fail with it.
func (c *Connection) Drop() {
	c.mu.Lock()
	if c.dropped {
		c.mu.Unlock()
		return
	}
	c.dropped = true
	close(c.lost)
	c.mu.Unlock()
	c.finish(audio.ErrConnectionLost, true)
}

// Finish ends the current playback with err, invoking its completion
// callback synchronously. It reports whether a playback was active.
func (c *Connection) Finish(err error) bool {
	return c.finish(err, false)
}

func (c *Connection) finish(err error, async bool) bool {
	c.mu.Lock()
	cb := c.onFinished
	c.onFinished = nil
	c.Paused = false
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	if async {
		go cb(err)
	} else {
		cb(err)
	}
	return true
}

// Playing reports whether a playback is in flight.
func (c *Connection) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onFinished != nil
}

// Volume returns the last gain set, or 1 if SetVolume was never called.
func (c *Connection) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.VolumeCalls) == 0 {
		return 1
	}
	return c.VolumeCalls[len(c.VolumeCalls)-1]
}

// Plays returns a copy of PlayCalls.
func (c *Connection) Plays() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.PlayCalls...)
}

// Disconnects returns CallCountDisconnect.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect. When nil,
	// a fresh [Connection] is created for every call and kept in Connections.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Connections holds the connections created when ConnectResult is nil.
	Connections []*Connection
}

// Connect implements [audio.Platform]. Records the call and returns ConnectResult / ConnectError.
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if p.ConnectResult != nil {
		return p.ConnectResult, nil
	}
	conn := NewConnection(channelID)
	p.Connections = append(p.Connections, conn)
	return conn, nil
}

// Calls returns a copy of ConnectCalls.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Last returns the most recently created connection, or nil.
func (p *Platform) Last() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Connections) == 0 {
		return nil
	}
	return p.Connections[len(p.Connections)-1]
}
