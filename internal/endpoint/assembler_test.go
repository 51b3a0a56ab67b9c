package endpoint_test

import (
	"testing"

	"github.com/refugehelp/voxgate/internal/endpoint"
)

// Small limits keep these tests fast; semantics are identical at full scale.
func testConfig() endpoint.Config {
	return endpoint.Config{
		MinSegmentSamples:   800,  // 5 speech chunks of 160
		MaxSegmentSamples:   3200, // 20 chunks
		SilenceRunThreshold: 3,
		FlushMinSamples:     400,
	}
}

const chunkSize = 160

func speech() []float32  { return constantChunk(0.05, chunkSize) }
func silence() []float32 { return constantChunk(0.001, chunkSize) }

func TestPush_SilenceOnlyNeverEmits(t *testing.T) {
	t.Parallel()
	a := endpoint.NewSegmentAssembler(testConfig())

	for _i := 0; _i < 500; _i++ {
		ev := a.Push(silence())
		if ev.Type != endpoint.EventNone {
			t.Fatalf("silent stream produced event %v", ev.Type)
		}
	}
	if a.BufferedSamples() != 0 {
		t.Errorf("silent stream buffered %d samples", a.BufferedSamples())
	}
}

func TestPush_SpeechThenSilenceEmitsExactlyOneSegment(t *testing.T) {
	t.Parallel()
	a := endpoint.NewSegmentAssembler(testConfig())

	for _i := 0; _i < 10; _i++ { // 1600 samples ≥ min
		a.Push(speech())
	}

	var segments int
	for i := 0; i < 10; i++ {
		ev := a.Push(silence())
		if ev.Type == endpoint.EventSegment {
			segments++
			if len(ev.Segment) != 1600 {
				t.Errorf("segment length = %d, expected 1600", len(ev.Segment))
			}
			// Completion requires run > threshold: the 4th silent chunk.
			if i != 3 {
				t.Errorf("segment emitted on silent chunk %d, expected 3", i)
			}
		}
	}
	if segments != 1 {
		t.Fatalf("expected exactly one segment, got %d", segments)
	}
}

func TestPush_ShortSpeechNeverCompletes(t *testing.T) {
	t.Parallel()
	a := endpoint.NewSegmentAssembler(testConfig())

	a.Push(speech()) // 160 samples < min
	for _i := 0; _i < 20; _i++ {
		if ev := a.Push(silence()); ev.Type == endpoint.EventSegment {
			t.Fatal("sub-minimum buffer emitted a segment")
		}
	}
}

func TestPush_SilenceRunResetsOnSpeech(t *testing.T) {
	t.Parallel()
	a := endpoint.NewSegmentAssembler(testConfig())

	for _i := 0; _i < 10; _i++ {
		a.Push(speech())
	}
	// Three silent chunks: not enough (threshold is exclusive).
	for _i := 0; _i < 3; _i++ {
		if ev := a.Push(silence()); ev.Type == endpoint.EventSegment {
			t.Fatal("segment before silence run exceeded threshold")
		}
	}
	// Speech resets the run; three more silent chunks still must not complete.
	a.Push(speech())
	for _i := 0; _i < 3; _i++ {
		if ev := a.Push(silence()); ev.Type == endpoint.EventSegment {
			t.Fatal("silence run was not reset by intervening speech")
		}
	}
	if ev := a.Push(silence()); ev.Type != endpoint.EventSegment {
		t.Fatal("expected segment after run exceeded threshold")
	}
}

func TestPush_ListeningOncePerTransition(t *testing.T) {
	t.Parallel()
	a := endpoint.NewSegmentAssembler(testConfig())

	var listening int
	for _i := 0; _i < 5; _i++ {
		if ev := a.Push(speech()); ev.Type == endpoint.EventListening {
			listening++
		}
	}
	if listening != 1 {
		t.Fatalf("continuous speech produced %d listening events, expected 1", listening)
	}

	// A silent gap re-arms the transition.
	a.Push(silence())
	if ev := a.Push(speech()); ev.Type != endpoint.EventListening {
		t.Error("expected listening event on re-entry into speech")
	}
}

func TestPush_OverflowKeepsTrailingWindow(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	a := endpoint.NewSegmentAssembler(cfg)

	// 30 distinct speech chunks, 10 beyond the cap.
	for i := 0; i < 30; i++ {
		chunk := constantChunk(0.05+float32(i)*0.001, chunkSize)
		a.Push(chunk)
		if a.BufferedSamples() > cfg.MaxSegmentSamples {
			t.Fatalf("buffer grew to %d, cap is %d", a.BufferedSamples(), cfg.MaxSegmentSamples)
		}
	}

	var ev endpoint.Event
	for _i := 0; _i < 10; _i++ {
		ev = a.Push(silence())
		if ev.Type == endpoint.EventSegment {
			break
		}
	}
	if ev.Type != endpoint.EventSegment {
		t.Fatal("expected a segment")
	}
	if len(ev.Segment) != cfg.MaxSegmentSamples {
		t.Fatalf("segment length = %d, expected %d", len(ev.Segment), cfg.MaxSegmentSamples)
	}
	// Oldest chunks dropped: the first surviving sample belongs to chunk 10.
	if got, want := ev.Segment[0], float32(0.05+10*0.001); got != want {
		t.Errorf("segment starts with %v, expected %v (drop-oldest)", got, want)
	}
}

func TestPush_EmittedSegmentNeverExceedsMax(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	a := endpoint.NewSegmentAssembler(cfg)

	for _i := 0; _i < 100; _i++ {
		a.Push(speech())
	}
	for _i := 0; _i < 10; _i++ {
		if ev := a.Push(silence()); ev.Type == endpoint.EventSegment {
			if len(ev.Segment) > cfg.MaxSegmentSamples {
				t.Fatalf("segment length %d exceeds cap %d", len(ev.Segment), cfg.MaxSegmentSamples)
			}
			return
		}
	}
	t.Fatal("expected a segment")
}

func TestFlush_BelowMinimumDiscards(t *testing.T) {
	t.Parallel()
	a := endpoint.NewSegmentAssembler(testConfig())

	a.Push(speech()) // 160 < FlushMinSamples (400)
	if seg := a.Flush(); seg != nil {
		t.Fatalf("flush of %d samples returned a segment", len(seg))
	}
	if a.BufferedSamples() != 0 {
		t.Error("flush did not clear the buffer")
	}
}

func TestFlush_EmitsRegardlessOfSilenceRun(t *testing.T) {
	t.Parallel()
	a := endpoint.NewSegmentAssembler(testConfig())

	for _i := 0; _i < 4; _i++ { // 640 samples: above flush min, below segment min
		a.Push(speech())
	}
	seg := a.Flush()
	if len(seg) != 640 {
		t.Fatalf("flush returned %d samples, expected 640", len(seg))
	}
	if a.BufferedSamples() != 0 {
		t.Error("flush did not reset the assembler")
	}
}

func TestPush_EmptyChunkDegradesToSilence(t *testing.T) {
	t.Parallel()
	a := endpoint.NewSegmentAssembler(testConfig())

	for _i := 0; _i < 10; _i++ {
		a.Push(speech())
	}
	for _i := 0; _i < 3; _i++ {
		a.Push(nil) // counts toward the silence run
	}
	if ev := a.Push([]float32{}); ev.Type != endpoint.EventSegment {
		t.Fatal("empty chunks should advance the silence run to completion")
	}
}

func TestNewSegmentAssembler_ZeroConfigUsesDefaults(t *testing.T) {
	t.Parallel()
	a := endpoint.NewSegmentAssembler(endpoint.Config{})

	// 1 s of speech then five silent chunks at the default thresholds.
	for _i := 0; _i < 10; _i++ {
		a.Push(constantChunk(0.05, 1600))
	}
	var got bool
	for _i := 0; _i < 5; _i++ {
		if ev := a.Push(constantChunk(0.001, 1600)); ev.Type == endpoint.EventSegment {
			got = true
			if len(ev.Segment) != 16000 {
				t.Errorf("segment length = %d, expected 16000", len(ev.Segment))
			}
		}
	}
	if !got {
		t.Fatal("expected a segment under default config")
	}
}
