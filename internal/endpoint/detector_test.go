package endpoint_test

import (
	"testing"

	"github.com/refugehelp/voxgate/internal/endpoint"
)

func constantChunk(value float32, n int) []float32 {
	chunk := make([]float32, n)
	for i := range chunk {
		chunk[i] = value
	}
	return chunk
}

func TestClassify_EmptyChunkIsSilence(t *testing.T) {
	t.Parallel()
	var d endpoint.SilenceDetector

	got := d.Classify(nil)
	if got.IsSpeech {
		t.Error("empty chunk classified as speech")
	}
	if got.Energy != 0 {
		t.Errorf("empty chunk energy = %v, expected 0", got.Energy)
	}
}

func TestClassify_DefaultThreshold(t *testing.T) {
	t.Parallel()
	var d endpoint.SilenceDetector

	tests := []struct {
		name   string
		value  float32
		speech bool
	}{
		{"near silence", 0.001, false},
		{"exactly at threshold", 0.008, false}, // boundary is exclusive
		{"quiet speech", 0.01, true},
		{"loud speech", 0.5, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := d.Classify(constantChunk(tc.value, 1600))
			if got.IsSpeech != tc.speech {
				t.Errorf("IsSpeech = %v, expected %v (energy %v)", got.IsSpeech, tc.speech, got.Energy)
			}
		})
	}
}

func TestClassify_CustomThreshold(t *testing.T) {
	t.Parallel()
	d := endpoint.SilenceDetector{Threshold: 0.1}

	if got := d.Classify(constantChunk(0.05, 160)); got.IsSpeech {
		t.Error("0.05 should be silence under a 0.1 threshold")
	}
	if got := d.Classify(constantChunk(0.2, 160)); !got.IsSpeech {
		t.Error("0.2 should be speech under a 0.1 threshold")
	}
}
