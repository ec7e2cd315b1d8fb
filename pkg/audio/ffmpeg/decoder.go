// Package ffmpeg decodes remote audio streams into raw PCM by running an
// ffmpeg child process. Output is always interleaved s16le at the sample rate
// and channel count Discord voice expects ([audio.SampleRate], [audio.Channels]).
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/vitrola/pkg/audio"
)

// DefaultPath is the executable looked up on PATH when none is configured.
const DefaultPath = "ffmpeg"

// stderrLimit caps how much ffmpeg diagnostic output is kept per stream.
const stderrLimit = 4 << 10

// Decoder starts ffmpeg processes. The zero value uses [DefaultPath].
type Decoder struct {
	// Path is the ffmpeg executable.
	Path string
}

// New returns a Decoder that runs the executable at path.
func New(path string) *Decoder {
	return &Decoder{Path: path}
}

func (d *Decoder) path() string {
	if d == nil || d.Path == "" {
		return DefaultPath
	}
	return d.Path
}

// Args returns the ffmpeg command line used to decode url.
func (d *Decoder) Args(url string) []string {
	return []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", url,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-loglevel", "warning",
		"pipe:1",
	}
}

// Open starts decoding url. The process is killed when ctx is cancelled or
// [Stream.Close] is called.
func (d *Decoder) Open(ctx context.Context, url string) (*Stream, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("ffmpeg: empty stream url")
	}

	cmd := exec.CommandContext(ctx, d.path(), d.Args(url)...)
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start %q: %w", d.path(), err)
	}

	s := &Stream{r: out}
	s.wait = func() error {
		if werr := cmd.Wait(); werr != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("ffmpeg: %w: %s", werr, msg)
			}
			return fmt.Errorf("ffmpeg: %w", werr)
		}
		return nil
	}
	s.kill = func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	return s, nil
}

// Stream is one running decode. It is not safe for concurrent reads.
type Stream struct {
	r    io.Reader
	wait func() error
	kill func()

	frames    int
	closeOnce sync.Once
	waitErr   error
}

// ReadFrame fills buf with exactly one frame of PCM. It returns io.EOF once
// the source is exhausted; a trailing partial frame is discarded.
func (s *Stream) ReadFrame(buf []byte) error {
	_, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
		s.frames++
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return io.EOF
	default:
		return fmt.Errorf("ffmpeg: read pcm: %w", err)
	}
}

// Frames reports how many complete frames have been read.
func (s *Stream) Frames() int { return s.frames }

// Close stops the process if it is still running and reaps it. The returned
// error describes an abnormal exit of a stream that produced no audio; a
// stream stopped after delivering frames closes cleanly.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.kill != nil {
			s.kill()
		}
		if s.wait != nil {
			s.waitErr = s.wait()
		}
	})
	if s.frames > 0 {
		return nil
	}
	return s.waitErr
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
