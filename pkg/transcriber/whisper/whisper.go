// Package whisper provides a local whisper.cpp-backed
// [transcriber.Transcriber] using the CGO bindings. The whisper.cpp static
// library (libwhisper.a) and headers (whisper.h) must be available at link
// time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// The model is loaded once at startup and shared across all calls. Each
// Transcribe call creates a fresh whisper context from the shared model —
// contexts are not thread-safe, but the model is, so the backend supports
// concurrent calls up to whatever the host's compute budget allows. In
// practice the dispatch scheduler keeps concurrency at its configured worker
// count (default 1).
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/refugehelp/voxgate/internal/lang"
	"github.com/refugehelp/voxgate/pkg/transcriber"
)

// Compile-time assertion that Transcriber satisfies transcriber.Transcriber.
var _ transcriber.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithThreads sets the number of CPU threads whisper.cpp uses per inference.
// Zero or negative leaves the binding's default in place.
func WithThreads(n int) Option {
	return func(t *Transcriber) { t.threads = n }
}

// WithLanguage sets the fallback language code used when a request carries no
// hint. Defaults to "auto" (whisper.cpp language detection).
func WithLanguage(code string) Option {
	return func(t *Transcriber) { t.language = code }
}

// Transcriber implements transcriber.Transcriber on top of the whisper.cpp
// Go bindings.
type Transcriber struct {
	model    whisperlib.Model
	language string
	threads  int
}

// New loads the whisper.cpp model at modelPath. The model stays resident
// until Close. Loading is the dominant startup cost; a failure here should
// abort startup rather than surface per request.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{
		model:    model,
		language: "auto",
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe runs each input through whisper.cpp sequentially and returns
// one text per input. batchSize is accepted for interface compatibility;
// whisper.cpp processes one waveform per context, so batching is a no-op.
//
// Cancellation is checked between inputs. An in-flight inference cannot be
// aborted; it completes and its result is discarded by the caller.
func (t *Transcriber) Transcribe(ctx context.Context, inputs []transcriber.Input, langs []string, _ int) ([]string, error) {
	if t.model == nil {
		return nil, errors.New("whisper: transcriber is closed")
	}

	out := make([]string, len(inputs))
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("whisper: cancelled before input %d: %w", i, err)
		}

		hint := ""
		if i < len(langs) {
			hint = langs[i]
		}
		text, err := t.infer(in.Waveform, hint)
		if err != nil {
			return nil, fmt.Errorf("whisper: input %d: %w", i, err)
		}
		out[i] = text
	}
	return out, nil
}

// infer runs one inference on a fresh whisper context and concatenates the
// resulting segment texts.
func (t *Transcriber) infer(samples []float32, hint string) (string, error) {
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}

	code := t.language
	if hint != "" {
		// whisper.cpp speaks ISO 639-1; reduce script-qualified codes.
		code = lang.Short(hint)
	}
	if err := wctx.SetLanguage(code); err != nil {
		slog.Warn("whisper: unsupported language hint, falling back to auto-detect",
			"language", code, "err", err)
		if err := wctx.SetLanguage("auto"); err != nil {
			return "", fmt.Errorf("set language: %w", err)
		}
	}
	if t.threads > 0 {
		wctx.SetThreads(uint(t.threads))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the whisper model. Calling Close more than once is safe.
func (t *Transcriber) Close() error {
	if t.model == nil {
		return nil
	}
	err := t.model.Close()
	t.model = nil
	return err
}
