// Package dispatch serialises access to the shared Transcriber. The
// Scheduler owns a bounded FIFO queue and a small worker pool (size 1 by
// default — single-flight); sessions submit completed segments and receive
// their result on a per-request channel.
//
// Admission control is strict: when the queue is full, Submit fails
// immediately with [ErrBusy] instead of queueing unboundedly. This bounds
// both per-connection latency and the memory a burst of simultaneous
// utterance completions can pin.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/refugehelp/voxgate/internal/observe"
	"github.com/refugehelp/voxgate/pkg/transcriber"
)

// ErrBusy is returned by [Scheduler.Submit] when the request queue is full.
// Clients receive it as a retryable "busy" error frame.
var ErrBusy = fmt.Errorf("dispatch: transcription queue is full")

// ErrClosed is returned by [Scheduler.Submit] after [Scheduler.Close].
var ErrClosed = fmt.Errorf("dispatch: scheduler is closed")

// Default tuning. A single worker matches the one-resident-model deployment
// this server is built for.
const (
	DefaultWorkers     = 1
	DefaultQueueSize   = 8
	DefaultCallTimeout = 60 * time.Second
	defaultBatchSize   = 1
)

// Request is one segment awaiting transcription. Immutable once submitted.
type Request struct {
	// SessionID identifies the originating connection, for routing and logs.
	SessionID string

	// Samples is the utterance waveform.
	Samples []float32

	// SampleRate is the waveform's sample rate in Hz.
	SampleRate int

	// Lang is the full language-code hint, or empty for auto-detection.
	Lang string
}

// Result is the outcome of one request: transcribed text or an error, never
// both. Exactly one Result is delivered for every accepted request.
type Result struct {
	Text string
	Err  error
}

// Config tunes a [Scheduler]. Zero fields select the package defaults.
type Config struct {
	// Workers is the worker-pool size: the maximum number of concurrent
	// Transcriber invocations.
	Workers int

	// QueueSize is the bounded queue capacity. Submissions beyond it are
	// rejected with [ErrBusy].
	QueueSize int

	// CallTimeout is the per-request deadline applied to each Transcriber
	// call. Zero selects [DefaultCallTimeout]; negative disables the
	// deadline.
	CallTimeout time.Duration
}

// Scheduler queues transcription requests and dispatches them to the shared
// [transcriber.Transcriber] from a fixed worker pool. All methods are safe
// for concurrent use.
type Scheduler struct {
	tr      transcriber.Transcriber
	metrics *observe.Metrics
	timeout time.Duration

	queue chan pending

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// pending pairs a request with its result channel (capacity 1, so workers
// never block on delivery).
type pending struct {
	req    Request
	result chan Result
}

// New creates a Scheduler and starts its workers. ctx bounds the workers'
// lifetime: when it is cancelled, in-flight calls run to completion and
// queued requests are failed. metrics may be nil in tests.
func New(ctx context.Context, tr transcriber.Transcriber, cfg Config, metrics *observe.Metrics) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}

	s := &Scheduler{
		tr:      tr,
		metrics: metrics,
		timeout: timeout,
		queue:   make(chan pending, queueSize),
	}

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	return s
}

// Submit enqueues req and returns the channel its [Result] will arrive on.
// The channel is buffered; the caller may abandon it without leaking a
// worker. Submit never blocks: a full queue fails fast with [ErrBusy].
func (s *Scheduler) Submit(req Request) (<-chan Result, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	p := pending{req: req, result: make(chan Result, 1)}
	select {
	case s.queue <- p:
		return p.result, nil
	default:
		if s.metrics != nil {
			s.metrics.RecordQueueRejection(context.Background())
		}
		return nil, ErrBusy
	}
}

// QueueDepth returns the number of requests currently waiting. Exposed for
// readiness checks and tests.
func (s *Scheduler) QueueDepth() int { return len(s.queue) }

// Close stops accepting new requests, lets the workers drain what is already
// queued, and waits for in-flight calls to finish. Safe to call more than
// once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}

// worker pulls requests in FIFO order and invokes the Transcriber
// synchronously. A failing request is converted to an error Result; the
// worker itself never dies, so one bad segment cannot poison the queue.
func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.drain(ctx.Err())
			return
		case p, ok := <-s.queue:
			if !ok {
				return
			}
			p.result <- s.transcribe(ctx, p.req)
		}
	}
}

// drain fails all queued requests with cause after shutdown begins.
func (s *Scheduler) drain(cause error) {
	for {
		select {
		case p, ok := <-s.queue:
			if !ok {
				return
			}
			p.result <- Result{Err: fmt.Errorf("dispatch: shutting down: %w", cause)}
		default:
			return
		}
	}
}

// transcribe performs one Transcriber call under the per-request deadline
// and records metrics.
func (s *Scheduler) transcribe(ctx context.Context, req Request) Result {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var langs []string
	if req.Lang != "" {
		langs = []string{req.Lang}
	}

	start := time.Now()
	texts, err := s.tr.Transcribe(callCtx,
		[]transcriber.Input{{Waveform: req.Samples, SampleRate: req.SampleRate}},
		langs, defaultBatchSize)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordTranscription(context.Background(), elapsed, err)
	}

	if err != nil {
		slog.Warn("transcription failed",
			"session_id", req.SessionID,
			"samples", len(req.Samples),
			"elapsed", elapsed,
			"err", err,
		)
		return Result{Err: fmt.Errorf("dispatch: transcribe: %w", err)}
	}
	if len(texts) == 0 {
		return Result{Text: ""}
	}

	slog.Debug("transcription complete",
		"session_id", req.SessionID,
		"samples", len(req.Samples),
		"elapsed", elapsed,
	)
	return Result{Text: texts[0]}
}
