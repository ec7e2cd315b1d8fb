package audio

import (
	"encoding/binary"
	"math"
)

// Discord voice expects 48 kHz stereo at 20 ms per Opus frame.
const (
	SampleRate = 48000
	Channels   = 2

	// FrameSamples is the number of samples per channel in one 20 ms frame.
	FrameSamples = SampleRate / 50 // 960

	// FrameBytes is the size of one 20 ms frame of interleaved s16le PCM.
	FrameBytes = FrameSamples * Channels * 2 // 3840
)

// ClampGain limits g to the [0, 1] range accepted by [Connection.SetVolume].
func ClampGain(g float64) float64 {
	switch {
	case math.IsNaN(g), g < 0:
		return 0
	case g > 1:
		return 1
	}
	return g
}

// ApplyGain scales little-endian int16 PCM samples in place by gain. A gain
// of 1 leaves pcm untouched. Results saturate at the int16 range.
func ApplyGain(pcm []byte, gain float64) {
	if gain == 1 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		v := math.Round(float64(s) * gain)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}

// PCMToInt16 converts little-endian bytes to int16 samples.
func PCMToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
