package endpoint

import (
	"time"

	"github.com/refugehelp/voxgate/pkg/audio"
)

// Default segment bounds, expressed at the fixed 16 kHz sample rate.
const (
	// DefaultMinSegmentSamples is 0.5 s of audio — the least speech worth
	// submitting for transcription.
	DefaultMinSegmentSamples = audio.SampleRate / 2

	// DefaultMaxSegmentSamples is 30 s of audio — the hard cap on any
	// segment handed to the transcriber.
	DefaultMaxSegmentSamples = audio.SampleRate * 30

	// DefaultSilenceRunThreshold is the number of consecutive silent chunks
	// that must be exceeded before an accumulated segment completes.
	DefaultSilenceRunThreshold = 3

	// DefaultFlushMinSamples is 0.25 s of audio — the least buffered speech
	// that a forced flush on connection close will still emit.
	DefaultFlushMinSamples = audio.SampleRate / 4
)

// EventType identifies what a Push call produced.
type EventType int

const (
	// EventNone means the chunk changed internal state only.
	EventNone EventType = iota

	// EventListening marks a transition into speech. Emitted at most once
	// per transition so a long utterance cannot flood slow clients with
	// status frames.
	EventListening

	// EventSegment means an utterance completed; Event.Segment carries it.
	EventSegment
)

// Event is the outcome of feeding one chunk to the assembler.
type Event struct {
	Type EventType

	// Segment holds the completed utterance when Type is EventSegment.
	// Ownership transfers to the caller; the assembler retains no reference.
	Segment []float32

	// Energy is the RMS energy of the classified chunk.
	Energy float64
}

// Config tunes a [SegmentAssembler]. Zero fields select the package defaults.
type Config struct {
	// SilenceThreshold is the RMS energy boundary between silence and speech.
	SilenceThreshold float64

	// MinSegmentSamples is the minimum accumulated length before silence can
	// complete a segment.
	MinSegmentSamples int

	// MaxSegmentSamples is the hard cap on buffered audio. Excess is
	// truncated drop-oldest, trading the start of very long utterances for
	// bounded memory.
	MaxSegmentSamples int

	// SilenceRunThreshold is the consecutive-silent-chunk count that must be
	// exceeded for completion.
	SilenceRunThreshold int

	// FlushMinSamples is the minimum buffered length a forced flush will
	// still emit; shorter remainders are discarded.
	FlushMinSamples int
}

// withDefaults returns cfg with zero fields replaced by package defaults.
func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.MinSegmentSamples <= 0 {
		c.MinSegmentSamples = DefaultMinSegmentSamples
	}
	if c.MaxSegmentSamples <= 0 {
		c.MaxSegmentSamples = DefaultMaxSegmentSamples
	}
	if c.SilenceRunThreshold <= 0 {
		c.SilenceRunThreshold = DefaultSilenceRunThreshold
	}
	if c.FlushMinSamples <= 0 {
		c.FlushMinSamples = DefaultFlushMinSamples
	}
	return c
}

// SegmentAssembler is the per-connection endpointing state machine. It sits
// between the wire and the dispatch scheduler: speech chunks accumulate in
// the utterance buffer, silent chunks advance a run counter, and once enough
// silence follows enough speech the buffer is handed off as a completed
// segment.
//
// The assembler is owned by a single connection goroutine and is not safe
// for concurrent use — by design it needs no locking, because no other
// goroutine ever touches a session's state.
//
// States: idle (empty buffer) → accumulating (non-empty) → back to idle on
// segment completion or flush. Malformed or empty chunks classify as silence
// and never fail.
type SegmentAssembler struct {
	cfg      Config
	detector SilenceDetector

	buf        []float32
	silenceRun int
	inSpeech   bool
}

// NewSegmentAssembler creates an assembler with cfg (zero fields default).
func NewSegmentAssembler(cfg Config) *SegmentAssembler {
	cfg = cfg.withDefaults()
	return &SegmentAssembler{
		cfg:      cfg,
		detector: SilenceDetector{Threshold: cfg.SilenceThreshold},
	}
}

// Push feeds one chunk of samples through the state machine and reports what
// happened. Exactly zero or one event is produced per chunk.
func (a *SegmentAssembler) Push(chunk []float32) Event {
	cls := a.detector.Classify(chunk)

	if cls.IsSpeech {
		entered := !a.inSpeech
		a.inSpeech = true
		a.silenceRun = 0
		a.buf = append(a.buf, chunk...)
		a.truncateOverflow()
		if entered {
			return Event{Type: EventListening, Energy: cls.Energy}
		}
		return Event{Type: EventNone, Energy: cls.Energy}
	}

	a.inSpeech = false
	a.silenceRun++
	if len(a.buf) >= a.cfg.MinSegmentSamples && a.silenceRun > a.cfg.SilenceRunThreshold {
		return Event{Type: EventSegment, Segment: a.take(), Energy: cls.Energy}
	}
	a.truncateOverflow()
	return Event{Type: EventNone, Energy: cls.Energy}
}

// Flush force-completes the buffered utterance, regardless of the silence
// run. Called on connection close. Remainders shorter than FlushMinSamples
// are discarded and Flush returns nil.
func (a *SegmentAssembler) Flush() []float32 {
	if len(a.buf) < a.cfg.FlushMinSamples {
		a.reset()
		return nil
	}
	return a.take()
}

// BufferedSamples returns the current utterance buffer length.
func (a *SegmentAssembler) BufferedSamples() int { return len(a.buf) }

// BufferedDuration returns the play time of the buffered audio.
func (a *SegmentAssembler) BufferedDuration() time.Duration {
	return audio.DurationOf(len(a.buf), audio.SampleRate)
}

// take hands off the buffer as a segment and resets the state machine.
// The segment is capped at MaxSegmentSamples (drop-oldest), so emitted
// length never exceeds the configured maximum.
func (a *SegmentAssembler) take() []float32 {
	seg := a.buf
	if len(seg) > a.cfg.MaxSegmentSamples {
		seg = seg[len(seg)-a.cfg.MaxSegmentSamples:]
	}
	a.reset()
	return seg
}

// reset returns the assembler to the idle state. The buffer reference is
// dropped entirely so a handed-off segment is never shared with future
// appends.
func (a *SegmentAssembler) reset() {
	a.buf = nil
	a.silenceRun = 0
	a.inSpeech = false
}

// truncateOverflow enforces the drop-oldest trailing window while the buffer
// has not yet reached completion. Copies to a fresh backing array so the
// dropped prefix can be garbage collected.
func (a *SegmentAssembler) truncateOverflow() {
	if len(a.buf) <= a.cfg.MaxSegmentSamples {
		return
	}
	keep := a.buf[len(a.buf)-a.cfg.MaxSegmentSamples:]
	fresh := make([]float32, len(keep))
	copy(fresh, keep)
	a.buf = fresh
}
