package resolver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// Extractor resolves an effective query (free text or URL) to a Track.
type Extractor interface {
	Extract(ctx context.Context, query string) (Track, error)
}

// ytdlpPrint is the --print template; fields are tab separated.
const ytdlpPrint = "%(title)s\t%(url)s\t%(webpage_url)s\t%(duration)s"

// YTDLP extracts tracks by running yt-dlp. Free text is searched on YouTube
// and only the first hit is used; playlists are never expanded.
type YTDLP struct {
	path string
	run  func(ctx context.Context, query string) (string, error)
}

// NewYTDLP returns an extractor running the yt-dlp binary at path, or the
// one found on PATH when path is empty.
func NewYTDLP(path string) *YTDLP {
	y := &YTDLP{path: path}
	y.run = y.exec
	return y
}

func (y *YTDLP) exec(ctx context.Context, query string) (string, error) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		Format("bestaudio/best").
		DefaultSearch("ytsearch").
		Print(ytdlpPrint)
	if y.path != "" {
		cmd.SetExecutable(y.path)
	}

	res, err := cmd.Run(ctx, query)
	if err != nil {
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			return "", fmt.Errorf("yt-dlp: %w: %s", err, firstLine(res.Stderr))
		}
		return "", fmt.Errorf("yt-dlp: %w", err)
	}
	return res.Stdout, nil
}

// Extract implements [Extractor].
func (y *YTDLP) Extract(ctx context.Context, query string) (Track, error) {
	out, err := y.run(ctx, query)
	if err != nil {
		return Track{}, err
	}
	return parseYTDLPOutput(out)
}

// parseYTDLPOutput reads the first printed entry.
func parseYTDLPOutput(out string) (Track, error) {
	line := firstLine(out)
	if line == "" {
		return Track{}, ErrNoResults
	}
	fields := strings.Split(line, "\t")
	if len(fields) < 4 {
		return Track{}, fmt.Errorf("yt-dlp: unexpected output %q", line)
	}
	t := Track{
		Title:     strings.TrimSpace(fields[0]),
		StreamURL: strings.TrimSpace(fields[1]),
		PageURL:   naToEmpty(fields[2]),
		Duration:  parseSeconds(fields[3]),
		Source:    SourceYTDLP,
	}
	if t.StreamURL == "" || t.StreamURL == "NA" {
		return Track{}, ErrNoResults
	}
	if t.Title == "" || t.Title == "NA" {
		t.Title = t.PageURL
	}
	return t, nil
}

func firstLine(s string) string {
	for line := range strings.Lines(s) {
		if l := strings.TrimSpace(line); l != "" {
			return l
		}
	}
	return ""
}

func naToEmpty(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

// parseSeconds parses yt-dlp's duration field ("213", "213.5" or "NA").
func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}
