package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/refugehelp/voxgate/internal/dispatch"
	"github.com/refugehelp/voxgate/internal/endpoint"
	"github.com/refugehelp/voxgate/internal/observe"
	"github.com/refugehelp/voxgate/internal/transcript"
	"github.com/refugehelp/voxgate/internal/transcriptlog"
	"github.com/refugehelp/voxgate/pkg/audio"
)

// archiveTimeout bounds a single transcript-archive write. Archival is
// write-behind and must never stall a session.
const archiveTimeout = 5 * time.Second

// Session lifecycle states.
type sessionState int32

const (
	stateConnecting sessionState = iota
	stateActive
	stateClosing
	stateClosed
)

// sessionConfig holds everything a Session needs beyond its connection.
type sessionConfig struct {
	// SourceLang is the normalised source-language hint, or empty for
	// auto-detection.
	SourceLang string

	// TargetLang is the normalised target-language code.
	TargetLang string

	Endpointing endpoint.Config
	Scheduler   *dispatch.Scheduler
	Store       transcriptlog.Store
	Suppressor  *transcript.Suppressor
	Metrics     *observe.Metrics
}

// Session owns one client connection: it reads audio and control frames,
// drives the per-connection segment assembler, submits completed segments to
// the shared scheduler, and emits status/result/error frames back.
//
// The read loop, the assembler, and all session state except writes are owned
// by the single goroutine running [Session.run]; result delivery happens on
// per-request goroutines, so outbound writes and the duplicate suppressor are
// guarded by their own mutexes.
type Session struct {
	id        string
	conn      *websocket.Conn
	assembler *endpoint.SegmentAssembler
	cfg       sessionConfig

	state atomic.Int32

	// writeMu serialises outbound frames across the read-loop goroutine and
	// result goroutines.
	writeMu sync.Mutex

	// resultMu guards the duplicate suppressor, which result goroutines share.
	resultMu sync.Mutex

	// wg tracks in-flight result goroutines; run waits for them before the
	// session reaches Closed.
	wg sync.WaitGroup
}

// newSession creates a Session for an accepted connection. The session ID is
// a fresh ULID, sortable by connection time.
func newSession(conn *websocket.Conn, cfg sessionConfig) *Session {
	if cfg.Store == nil {
		cfg.Store = transcriptlog.NoopStore{}
	}
	if cfg.Suppressor == nil {
		cfg.Suppressor = transcript.NewSuppressor(0, 0)
	}
	return &Session{
		id:        ulid.Make().String(),
		conn:      conn,
		assembler: endpoint.NewSegmentAssembler(cfg.Endpointing),
		cfg:       cfg,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// run drives the session until the connection closes, then flushes any
// buffered speech and waits for in-flight results. It never returns an error:
// connection faults end this session only.
func (s *Session) run(ctx context.Context) {
	s.state.Store(int32(stateActive))
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionOpened(ctx)
	}
	slog.Info("session connected",
		"session_id", s.id,
		"source", orDetected(s.cfg.SourceLang),
		"target", s.cfg.TargetLang,
	)

	s.writeFrame(ctx, statusFrame{Status: "connected"})

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			slog.Debug("session read ended", "session_id", s.id, "err", err)
			break
		}
		switch typ {
		case websocket.MessageBinary:
			s.handleAudio(ctx, data)
		case websocket.MessageText:
			s.handleControl(ctx, data)
		}
	}

	s.shutdown(ctx)
}

// handleAudio decodes one binary frame and feeds it through the assembler.
// Malformed frame lengths are tolerated: decoding is best-effort and a chunk
// that yields no samples classifies as silence.
func (s *Session) handleAudio(ctx context.Context, data []byte) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordAudioBytes(ctx, len(data))
	}

	samples := audio.DecodeFloat32LE(data)
	ev := s.assembler.Push(samples)

	switch ev.Type {
	case endpoint.EventListening:
		s.writeFrame(ctx, statusFrame{Status: "listening"})
	case endpoint.EventSegment:
		s.submitSegment(ctx, ev.Segment, "silence")
	}
}

// handleControl parses a text frame as a command. Unparseable payloads and
// unknown commands are ignored, never fatal.
func (s *Session) handleControl(ctx context.Context, data []byte) {
	cmd, ok := parseCommand(data)
	if !ok {
		slog.Debug("ignoring malformed control frame", "session_id", s.id)
		return
	}
	switch cmd.Command {
	case "ping":
		s.writeFrame(ctx, pongFrame{Pong: true})
	default:
		slog.Debug("ignoring unknown command", "session_id", s.id, "command", cmd.Command)
	}
}

// submitSegment hands a completed segment to the scheduler. A full queue is
// reported to the client as a retryable error; the segment is discarded. On
// acceptance a result goroutine is spawned so audio intake continues while
// the transcription is pending.
func (s *Session) submitSegment(ctx context.Context, segment []float32, trigger string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordSegment(ctx, trigger)
	}
	closing := sessionState(s.state.Load()) >= stateClosing

	resultCh, err := s.cfg.Scheduler.Submit(dispatch.Request{
		SessionID:  s.id,
		Samples:    segment,
		SampleRate: audio.SampleRate,
		Lang:       s.cfg.SourceLang,
	})
	if err != nil {
		if closing {
			return
		}
		if errors.Is(err, dispatch.ErrBusy) {
			slog.Warn("segment rejected, queue full",
				"session_id", s.id, "samples", len(segment))
			s.writeFrame(ctx, errorFrame{Status: "error", Message: "transcription queue is full, try again"})
		} else {
			s.writeFrame(ctx, errorFrame{Status: "error", Message: "transcription unavailable"})
		}
		return
	}

	if !closing {
		s.writeFrame(ctx, statusFrame{Status: "processing"})
	}

	duration := audio.DurationOf(len(segment), audio.SampleRate)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(ctx, <-resultCh, duration)
	}()
}

// deliver handles one scheduler result: errors become error frames, non-empty
// text becomes a result frame plus an archive entry. Once the session has
// begun closing the client emit becomes a no-op but archival still happens,
// so a close-flush transcription is not lost.
func (s *Session) deliver(ctx context.Context, res dispatch.Result, audioDur time.Duration) {
	closing := sessionState(s.state.Load()) >= stateClosing

	if res.Err != nil {
		if !closing {
			s.writeFrame(ctx, errorFrame{Status: "error", Message: "transcription failed"})
		}
		return
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}

	s.resultMu.Lock()
	duplicate := s.cfg.Suppressor.Duplicate(text)
	s.resultMu.Unlock()
	if duplicate {
		slog.Debug("suppressed duplicate result", "session_id", s.id)
		return
	}

	langLabel := orDetected(s.cfg.SourceLang)
	if !closing {
		s.writeFrame(ctx, newResultFrame(text, langLabel))
	}

	archiveCtx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := s.cfg.Store.Append(archiveCtx, transcriptlog.Entry{
		SessionID:     s.id,
		Lang:          langLabel,
		Text:          text,
		AudioDuration: audioDur,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		slog.Warn("transcript archive failed", "session_id", s.id, "err", err)
	}
}

// shutdown runs the close sequence: flush remaining speech, wait for
// in-flight results, release the connection.
func (s *Session) shutdown(ctx context.Context) {
	s.state.Store(int32(stateClosing))

	if remainder := s.assembler.Flush(); remainder != nil {
		s.submitSegment(ctx, remainder, "flush")
	}

	s.wg.Wait()
	s.state.Store(int32(stateClosed))
	s.closeConn(websocket.StatusNormalClosure, "session closed")

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionClosed(context.Background())
	}
	slog.Info("session closed", "session_id", s.id)
}

// closeConn closes the underlying connection. Safe to call multiple times
// and from other goroutines (the registry uses it during server shutdown).
func (s *Session) closeConn(code websocket.StatusCode, reason string) {
	_ = s.conn.Close(code, reason)
}

// writeFrame marshals v and sends it as a text frame. Writes after the peer
// has gone fail silently; the read loop notices the dead connection.
func (s *Session) writeFrame(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal outbound frame", "session_id", s.id, "err", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, b); err != nil {
		slog.Debug("write failed", "session_id", s.id, "err", err)
	}
}

// orDetected maps an empty language hint to the wire label "detected".
func orDetected(lang string) string {
	if lang == "" {
		return "detected"
	}
	return lang
}
