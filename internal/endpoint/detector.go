// Package endpoint implements streaming utterance endpointing: the
// SilenceDetector classifies incoming audio chunks as speech or silence by
// RMS energy, and the SegmentAssembler accumulates speech into bounded
// utterance segments, deciding where one utterance ends and the next begins.
package endpoint

import "github.com/refugehelp/voxgate/pkg/audio"

// DefaultSilenceThreshold is the RMS energy above which a chunk counts as
// speech, for samples normalised to [-1, 1].
const DefaultSilenceThreshold = 0.008

// Classification is the result of classifying one audio chunk.
type Classification struct {
	// IsSpeech reports whether the chunk's energy exceeded the threshold.
	IsSpeech bool

	// Energy is the chunk's root-mean-square energy.
	Energy float64
}

// SilenceDetector classifies audio chunks by RMS energy. It holds no state;
// every call is a pure function of the chunk. The zero value uses
// [DefaultSilenceThreshold].
type SilenceDetector struct {
	// Threshold is the energy boundary between silence and speech.
	// Zero or negative selects [DefaultSilenceThreshold].
	Threshold float64
}

// Classify computes the chunk's RMS energy and compares it against the
// threshold. An empty chunk is silence with zero energy; Classify never
// fails.
func (d SilenceDetector) Classify(chunk []float32) Classification {
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	energy := audio.RMS(chunk)
	return Classification{
		IsSpeech: energy > threshold,
		Energy:   energy,
	}
}
