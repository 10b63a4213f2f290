package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// CaptureRate is the fixed encoding rate for outbound microphone frames.
	CaptureRate = 16000
	// PlaybackRate is the fixed rate of inbound assistant audio.
	PlaybackRate = 24000
	// CaptureMIME tags each outbound frame on the wire.
	CaptureMIME = "audio/pcm;rate=16000"

	bytesPerSample = 2
)

// ErrMalformedPCM reports an inbound payload that is not whole 16-bit samples.
var ErrMalformedPCM = errors.New("malformed pcm payload")

// Frame is an immutable block of signed 16-bit PCM samples.
type Frame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration reports the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	channels := max(f.Channels, 1)
	perChannel := len(f.Samples) / channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// PCMBytes serializes the samples as little-endian int16.
func (f Frame) PCMBytes() []byte {
	out := make([]byte, len(f.Samples)*bytesPerSample)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(s))
	}
	return out
}

// Float32 returns the samples scaled into [-1.0, 1.0).
func (f Frame) Float32() []float32 {
	out := make([]float32, len(f.Samples))
	for i, s := range f.Samples {
		out[i] = DecodeSample(s)
	}
	return out
}

// EncodeSample converts one float sample to int16 as round(clamp(s, -1, 1) * 32767).
func EncodeSample(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * 32767))
}

// DecodeSample converts one int16 sample back to float as s / 32768.0.
func DecodeSample(s int16) float32 {
	return float32(float64(s) / 32768.0)
}

// EncodeFrame packs a captured float block into a mono frame at rate.
func EncodeFrame(block []float32, rate int) Frame {
	samples := make([]int16, len(block))
	for i, s := range block {
		samples[i] = EncodeSample(s)
	}
	return Frame{Samples: samples, SampleRate: rate, Channels: 1}
}

// DecodeFrame parses little-endian int16 mono PCM at rate.
func DecodeFrame(payload []byte, rate int) (Frame, error) {
	if len(payload)%bytesPerSample != 0 {
		return Frame{}, fmt.Errorf("%w: %d bytes is not a whole number of samples", ErrMalformedPCM, len(payload))
	}
	samples := make([]int16, len(payload)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*bytesPerSample:]))
	}
	return Frame{Samples: samples, SampleRate: rate, Channels: 1}, nil
}
