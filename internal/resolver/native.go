package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kkdai/youtube/v2"
	"github.com/ppalone/ytsearch"
)

// videoSearcher finds the first YouTube video id for free text.
type videoSearcher interface {
	firstVideoID(ctx context.Context, query string) (string, error)
}

// videoClient fetches metadata and a direct audio URL for a video id.
type videoClient interface {
	audioStream(ctx context.Context, id string) (Track, error)
}

// Native extracts YouTube audio without external binaries: free text is
// searched with ytsearch, metadata and stream URLs come from kkdai/youtube.
// Non-YouTube URLs are rejected with [ErrUnsupported].
type Native struct {
	search videoSearcher
	videos videoClient
}

// NewNative returns a Native extractor using default HTTP clients.
func NewNative() *Native {
	return &Native{
		search: newYTSearcher(),
		videos: kkdaiClient{client: &youtube.Client{}},
	}
}

// Extract implements [Extractor].
func (n *Native) Extract(ctx context.Context, query string) (Track, error) {
	id, err := n.videoID(ctx, query)
	if err != nil {
		return Track{}, err
	}
	t, err := n.videos.audioStream(ctx, id)
	if err != nil {
		return Track{}, err
	}
	t.Source = SourceNative
	return t, nil
}

func (n *Native) videoID(ctx context.Context, query string) (string, error) {
	if !isURL(query) {
		return n.search.firstVideoID(ctx, query)
	}
	if !isYouTubeURL(query) {
		return "", ErrUnsupported
	}
	id, err := youtube.ExtractVideoID(query)
	if err != nil {
		return "", fmt.Errorf("native: %w", err)
	}
	return id, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isYouTubeURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
		return true
	}
	return false
}

// searchFunc adapts a function to videoSearcher.
type searchFunc func(ctx context.Context, query string) (string, error)

func (f searchFunc) firstVideoID(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

func newYTSearcher() searchFunc {
	client := ytsearch.NewClient(nil)
	return func(ctx context.Context, query string) (string, error) {
		res, err := client.Search(ctx, query)
		if err != nil {
			return "", fmt.Errorf("native: search: %w", err)
		}
		for _, r := range res.Results {
			if r.VideoID != "" {
				return r.VideoID, nil
			}
		}
		return "", ErrNoResults
	}
}

type kkdaiClient struct {
	client *youtube.Client
}

func (c kkdaiClient) audioStream(ctx context.Context, id string) (Track, error) {
	video, err := c.client.GetVideoContext(ctx, id)
	if err != nil {
		return Track{}, fmt.Errorf("native: get video %s: %w", id, err)
	}
	format, ok := bestAudio(video.Formats)
	if !ok {
		return Track{}, ErrNoResults
	}
	streamURL, err := c.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return Track{}, fmt.Errorf("native: stream url %s: %w", id, err)
	}
	return Track{
		Title:     video.Title,
		StreamURL: streamURL,
		PageURL:   "https://www.youtube.com/watch?v=" + video.ID,
		Duration:  video.Duration,
	}, nil
}

// bestAudio prefers the highest-bitrate audio-only format and falls back to
// any format carrying audio.
func bestAudio(formats youtube.FormatList) (*youtube.Format, bool) {
	withAudio := formats.WithAudioChannels()
	var best *youtube.Format
	for i := range withAudio {
		f := &withAudio[i]
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	if best == nil && len(withAudio) > 0 {
		best = &withAudio[0]
	}
	return best, best != nil
}
