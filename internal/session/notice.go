package session

import (
	"context"
	"time"

	"github.com/MrWong99/vitrola/internal/resolver"
)

// NoticeKind identifies an asynchronous notification produced by a session.
type NoticeKind int

const (
	// NoticeNone means no notice; teardown uses it for silent shutdowns.
	NoticeNone NoticeKind = iota

	// NoticeQueued follows every accepted play request.
	NoticeQueued

	// NoticeNowPlaying is sent when a track starts.
	NoticeNowPlaying

	// NoticeQueueEmpty is sent when the queue drains and the idle timer starts.
	NoticeQueueEmpty

	// NoticeIdleDisconnect is sent when the inactivity timer tears the
	// session down.
	NoticeIdleDisconnect

	// NoticeLeft is sent when a leave command tears the session down.
	NoticeLeft

	// NoticePlaybackFailed is sent when a single track cannot be streamed.
	NoticePlaybackFailed

	// NoticeConnectionLost is sent when the voice connection drops during
	// playback.
	NoticeConnectionLost
)

var noticeNames = map[NoticeKind]string{
	NoticeNone:           "none",
	NoticeQueued:         "queued",
	NoticeNowPlaying:     "now_playing",
	NoticeQueueEmpty:     "queue_empty",
	NoticeIdleDisconnect: "idle_disconnect",
	NoticeLeft:           "left",
	NoticePlaybackFailed: "playback_failed",
	NoticeConnectionLost: "connection_lost",
}

// String returns a stable lowercase name for logs and metrics.
func (k NoticeKind) String() string {
	if n, ok := noticeNames[k]; ok {
		return n
	}
	return "unknown"
}

// Notice is one notification addressed to a session's text channel.
type Notice struct {
	Kind      NoticeKind
	GuildID   string
	SessionID string

	// Track is set for Queued, NowPlaying and PlaybackFailed.
	Track resolver.Track

	// Position is the queue length after enqueueing, for Queued.
	Position int

	// Grace is the idle timeout, for QueueEmpty.
	Grace time.Duration

	// Err is the cause, for PlaybackFailed and ConnectionLost.
	Err error
}

// Notifier delivers notices to a text channel. Notify must not return
// errors to the caller: delivery failures are the notifier's to log. A
// session calls Notify from a single goroutine, in order.
type Notifier interface {
	Notify(ctx context.Context, channelID string, n Notice)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, channelID string, n Notice)

// Notify implements [Notifier].
func (f NotifierFunc) Notify(ctx context.Context, channelID string, n Notice) {
	f(ctx, channelID, n)
}
