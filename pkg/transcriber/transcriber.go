// Package transcriber defines the Transcriber interface: the opaque
// waveform-to-text collaborator that the dispatch layer serialises access to.
//
// A Transcriber is typically a single shared, stateful resource — model
// weights resident in limited (often accelerator) memory — that tolerates at
// most a small fixed number of concurrent invocations. Callers must never
// invoke a Transcriber directly from connection handlers; all calls go
// through the dispatch scheduler, which is the only serialisation boundary.
//
// Implementations are provided by sub-packages (whisper for the local
// whisper.cpp backend, mock for tests). The interface is intentionally
// narrow so the streaming pipeline stays backend-agnostic.
package transcriber

import "context"

// Input is one waveform submitted for transcription. Samples are mono
// float32 normalised to [-1, 1].
type Input struct {
	// Waveform is the audio to transcribe.
	Waveform []float32

	// SampleRate is the waveform's sample rate in Hz.
	SampleRate int
}

// Transcriber converts waveforms to text.
//
// Transcribe must be safely callable repeatedly for the lifetime of the
// process. Implementations document their own concurrency limits; the
// dispatch scheduler enforces them by bounding its worker pool.
type Transcriber interface {
	// Transcribe runs inference over inputs and returns one text per input,
	// in order. langs optionally carries one language hint per input; a nil
	// slice (or empty hint) requests auto-detection. batchSize caps how many
	// inputs the backend processes per inference step.
	//
	// Transcribe respects ctx cancellation on a best-effort basis: backends
	// that cannot abort an in-flight inference return once it completes.
	Transcribe(ctx context.Context, inputs []Input, langs []string, batchSize int) ([]string, error)

	// Close releases model resources. After Close, Transcribe returns an
	// error. Calling Close more than once is safe.
	Close() error
}
