// Package mock provides a scripted [transcriber.Transcriber] for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/refugehelp/voxgate/pkg/transcriber"
)

// Compile-time assertion that Transcriber satisfies the interface.
var _ transcriber.Transcriber = (*Transcriber)(nil)

// Call records the arguments of one Transcribe invocation.
type Call struct {
	Inputs    []transcriber.Input
	Langs     []string
	BatchSize int
}

// Transcriber is a scripted mock. Configure behaviour via the public fields
// before use; inspect recorded calls afterwards. All methods are safe for
// concurrent use.
type Transcriber struct {
	// TranscribeFunc, when non-nil, fully replaces the default behaviour.
	TranscribeFunc func(ctx context.Context, inputs []transcriber.Input, langs []string, batchSize int) ([]string, error)

	// Text is returned once per input when TranscribeFunc is nil.
	Text string

	// Err, when non-nil, is returned by every Transcribe call.
	Err error

	// Delay, when set via Block, makes Transcribe wait until Unblock is
	// called or ctx is cancelled. Used to keep workers busy in scheduler tests.
	blockCh chan struct{}

	mu     sync.Mutex
	calls  []Call
	closed bool
}

// Block makes subsequent Transcribe calls wait until [Transcriber.Unblock].
func (m *Transcriber) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockCh == nil {
		m.blockCh = make(chan struct{})
	}
}

// Unblock releases all Transcribe calls currently waiting in [Transcriber.Block].
func (m *Transcriber) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockCh != nil {
		close(m.blockCh)
		m.blockCh = nil
	}
}

// Transcribe records the call and returns the scripted result.
func (m *Transcriber) Transcribe(ctx context.Context, inputs []transcriber.Input, langs []string, batchSize int) ([]string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("mock: transcriber is closed")
	}
	m.calls = append(m.calls, Call{Inputs: inputs, Langs: langs, BatchSize: batchSize})
	block := m.blockCh
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, inputs, langs, batchSize)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]string, len(inputs))
	for i := range out {
		out[i] = m.Text
	}
	return out, nil
}

// Calls returns a copy of all recorded invocations.
func (m *Transcriber) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Close marks the mock closed. Subsequent Transcribe calls fail.
func (m *Transcriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
