package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/vitrola/pkg/audio"
)

// maxOpusPacket bounds a single encoded 20 ms packet.
const maxOpusPacket = audio.FrameBytes

// frameEncoder turns one PCM frame into one Opus packet.
type frameEncoder interface {
	encode(pcm []byte) ([]byte, error)
}

// opusEncoder wraps a gopus encoder configured for Discord voice.
type opusEncoder struct {
	enc *gopus.Encoder
}

// newOpusEncoder creates an encoder for 48 kHz stereo music.
func newOpusEncoder() (frameEncoder, error) {
	enc, err := gopus.NewEncoder(audio.SampleRate, audio.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one frame of interleaved s16le PCM.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	packet, err := e.enc.Encode(audio.PCMToInt16(pcm), audio.FrameSamples, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}
