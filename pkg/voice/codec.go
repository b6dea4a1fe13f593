package voice

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/omnitech-labs/omnidial/pkg/voice/protocol"
)

// DefaultFrameSamples is the capture frame size: 4096 samples per frame at
// 16kHz mono, matching the wire contract's outbound cadence.
const DefaultFrameSamples = 4096

// EncodePCM16 quantizes float samples in [-1, 1] to 16-bit signed
// little-endian bytes. Input values are clamped to the representable range
// first so clipping input does not wrap around.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		v := float64(sample) * 32768.0
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian bytes to float samples
// in [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// AudioChunk is a decoded buffer of agent audio ready for playback
// scheduling. Ownership transfers to the PlaybackSink on Schedule.
type AudioChunk struct {
	Samples    []float32
	SampleRate int
	Duration   time.Duration
}

// DecodeAudioChunk converts an inbound wire chunk into playable samples
// tagged with their duration.
func DecodeAudioChunk(ev protocol.AudioChunk) AudioChunk {
	rate := ev.SampleRate
	if rate <= 0 {
		rate = protocol.OutputSampleRateHz
	}
	samples := DecodePCM16(ev.Payload)
	duration := time.Duration(len(samples)) * time.Second / time.Duration(rate)
	return AudioChunk{Samples: samples, SampleRate: rate, Duration: duration}
}
