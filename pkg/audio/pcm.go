// Package audio provides the PCM sample representation shared by the voxgate
// pipeline: decoding of the little-endian 32-bit float wire format, the
// matching encoder for test fixtures, and root-mean-square energy helpers.
//
// All audio in voxgate is mono float32 at 16 kHz with samples normalised to
// [-1, 1]. Frames arrive from clients as raw f32le byte streams of arbitrary
// length; decoding is best-effort and never fails — a trailing partial sample
// is dropped rather than reported as an error.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// SampleRate is the fixed sample rate (Hz) of all audio handled by voxgate.
const SampleRate = 16000

// Channels is the fixed channel count. All streams are mono.
const Channels = 1

// bytesPerSample is the wire size of one float32 PCM sample.
const bytesPerSample = 4

// DecodeFloat32LE interprets data as little-endian 32-bit float PCM samples.
// Trailing bytes that do not form a complete sample are ignored. A nil or
// short input yields an empty (non-nil) slice.
func DecodeFloat32LE(data []byte) []float32 {
	n := len(data) / bytesPerSample
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*bytesPerSample:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

// EncodeFloat32LE converts samples to the little-endian 32-bit float wire
// format. It is the inverse of [DecodeFloat32LE] and exists mainly for tests
// and client tooling.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*bytesPerSample:], math.Float32bits(s))
	}
	return out
}

// RMS returns the root-mean-square energy of samples. An empty slice has
// zero energy.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SampleCount returns the number of samples spanning d at rate Hz.
// Used to convert configured durations into buffer limits.
func SampleCount(d time.Duration, rate int) int {
	return int(int64(rate) * int64(d) / int64(time.Second))
}

// DurationOf returns the play time of n samples at rate Hz.
func DurationOf(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
