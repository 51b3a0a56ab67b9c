package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/refugehelp/voxgate/internal/config"
	"github.com/refugehelp/voxgate/internal/dispatch"
	"github.com/refugehelp/voxgate/internal/transcriptlog"
	"github.com/refugehelp/voxgate/pkg/audio"
	"github.com/refugehelp/voxgate/pkg/transcriber"
	"github.com/refugehelp/voxgate/pkg/transcriber/mock"
)

// chunkSamples is 100 ms of audio at the fixed sample rate.
const chunkSamples = audio.SampleRate / 10

// memStore is an in-memory transcript archive for tests.
type memStore struct {
	mu      sync.Mutex
	entries []transcriptlog.Entry
}

func (m *memStore) Append(_ context.Context, e transcriptlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) Entries() []transcriptlog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transcriptlog.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// testConfig returns a config tuned for fast tests: short segments, default
// silence threshold.
func testConfig() *config.Config {
	return &config.Config{
		Endpointing: config.EndpointingConfig{
			MinSegmentMs: 200,
			FlushMinMs:   100,
		},
	}
}

func newTestServer(t *testing.T, tr transcriber.Transcriber, cfg *config.Config, opts ...Option) (*httptest.Server, *Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	sched := dispatch.New(ctx, tr, dispatch.Config{}, nil)
	srv := New(cfg, sched, opts...)

	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(func() {
		ts.Close()
		sched.Close()
		cancel()
	})
	return ts, srv
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

// readFrame reads the next text frame and decodes it as a generic JSON object.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("frame type = %v, want text", typ)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return frame
}

func expectStatus(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	frame := readFrame(t, conn)
	if frame["status"] != want {
		t.Fatalf("frame = %v, want status %q", frame, want)
	}
	return frame
}

// sendChunks writes n binary frames of chunkSamples samples at the given
// amplitude.
func sendChunks(t *testing.T, conn *websocket.Conn, n int, amplitude float32) {
	t.Helper()

	samples := make([]float32, chunkSamples)
	for i := range samples {
		samples[i] = amplitude
	}
	payload := audio.EncodeFloat32LE(samples)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for range n {
		if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
}

func sendText(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("write text: %v", err)
	}
}

func TestSession_SpeechThenSilence_EmitsResult(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Text: "hello world"}
	ts, _ := newTestServer(t, tr, testConfig())
	conn := dialWS(t, ts, "")

	expectStatus(t, conn, "connected")

	sendChunks(t, conn, 10, 0.05) // 1.0 s of speech-like audio
	expectStatus(t, conn, "listening")

	sendChunks(t, conn, 4, 0.001) // enough silence to exceed the run threshold
	expectStatus(t, conn, "processing")

	frame := expectStatus(t, conn, "result")
	if frame["source"] != "hello world" {
		t.Errorf("source = %v, want 'hello world'", frame["source"])
	}
	if frame["translation"] != "hello world" {
		t.Errorf("translation = %v, want mirrored source", frame["translation"])
	}
	if frame["lang"] != "detected" {
		t.Errorf("lang = %v, want 'detected' without a source hint", frame["lang"])
	}
}

func TestSession_SilenceOnly_NeverProcesses(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Text: "should never appear"}
	ts, _ := newTestServer(t, tr, testConfig())
	conn := dialWS(t, ts, "")

	expectStatus(t, conn, "connected")

	sendChunks(t, conn, 20, 0.001) // 2 s of pure silence

	// A ping is answered in order, so the pong arriving next proves no
	// processing or result frame was emitted for the silence.
	sendText(t, conn, `{"command":"ping"}`)
	frame := readFrame(t, conn)
	if frame["pong"] != true {
		t.Fatalf("frame = %v, want pong", frame)
	}
	if calls := tr.Calls(); len(calls) != 0 {
		t.Errorf("transcriber called %d times for silence-only input", len(calls))
	}
}

func TestSession_PingPong(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, &mock.Transcriber{}, testConfig())
	conn := dialWS(t, ts, "")
	expectStatus(t, conn, "connected")

	sendText(t, conn, `{"command":"ping"}`)
	frame := readFrame(t, conn)
	if frame["pong"] != true {
		t.Fatalf("frame = %v, want {\"pong\": true}", frame)
	}
}

func TestSession_MalformedControlIgnored(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, &mock.Transcriber{}, testConfig())
	conn := dialWS(t, ts, "")
	expectStatus(t, conn, "connected")

	sendText(t, conn, `{not json`)
	sendText(t, conn, `{"command":"reboot"}`)
	sendText(t, conn, `{"command":"ping"}`)

	frame := readFrame(t, conn)
	if frame["pong"] != true {
		t.Fatalf("frame = %v, want pong after ignored frames", frame)
	}
}

func TestSession_ShortSourceCodeNormalised(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Text: "дякую"}
	ts, _ := newTestServer(t, tr, testConfig())
	conn := dialWS(t, ts, "?source=uk&target=en")

	expectStatus(t, conn, "connected")
	sendChunks(t, conn, 10, 0.05)
	expectStatus(t, conn, "listening")
	sendChunks(t, conn, 4, 0.001)
	expectStatus(t, conn, "processing")

	frame := expectStatus(t, conn, "result")
	if frame["lang"] != "ukr_Cyrl" {
		t.Errorf("lang = %v, want 'ukr_Cyrl'", frame["lang"])
	}

	calls := tr.Calls()
	if len(calls) != 1 {
		t.Fatalf("transcriber calls = %d, want 1", len(calls))
	}
	if len(calls[0].Langs) != 1 || calls[0].Langs[0] != "ukr_Cyrl" {
		t.Errorf("langs = %v, want [ukr_Cyrl]", calls[0].Langs)
	}
}

func TestSession_TranscriberErrorKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Err: errors.New("model exploded")}
	ts, _ := newTestServer(t, tr, testConfig())
	conn := dialWS(t, ts, "")

	expectStatus(t, conn, "connected")
	sendChunks(t, conn, 10, 0.05)
	expectStatus(t, conn, "listening")
	sendChunks(t, conn, 4, 0.001)
	expectStatus(t, conn, "processing")

	frame := expectStatus(t, conn, "error")
	if msg, _ := frame["message"].(string); msg == "" {
		t.Error("error frame should carry a message")
	}

	// Session survives the failed segment.
	sendText(t, conn, `{"command":"ping"}`)
	if frame := readFrame(t, conn); frame["pong"] != true {
		t.Fatalf("frame = %v, want pong after error", frame)
	}
}

func TestSession_EmptyResultNotEmitted(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Text: "   "}
	ts, _ := newTestServer(t, tr, testConfig())
	conn := dialWS(t, ts, "")

	expectStatus(t, conn, "connected")
	sendChunks(t, conn, 10, 0.05)
	expectStatus(t, conn, "listening")
	sendChunks(t, conn, 4, 0.001)
	expectStatus(t, conn, "processing")

	// Whitespace-only text produces no result frame; the pong arrives next.
	sendText(t, conn, `{"command":"ping"}`)
	if frame := readFrame(t, conn); frame["pong"] != true {
		t.Fatalf("frame = %v, want pong, not an empty result", frame)
	}
}

func TestSession_CloseFlushArchivesWithoutEmitting(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Text: "trailing words"}
	store := &memStore{}
	ts, _ := newTestServer(t, tr, testConfig(), WithTranscriptStore(store))
	conn := dialWS(t, ts, "")

	expectStatus(t, conn, "connected")
	sendChunks(t, conn, 10, 0.05)
	expectStatus(t, conn, "listening")

	// Close mid-utterance: the buffered speech is flushed and archived even
	// though no result frame can be delivered any more.
	if err := conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("close: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if entries := store.Entries(); len(entries) > 0 {
			if entries[0].Text != "trailing words" {
				t.Errorf("archived text = %q, want 'trailing words'", entries[0].Text)
			}
			if entries[0].SessionID == "" {
				t.Error("archived entry missing session ID")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("flush segment was never archived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSession_DuplicateResultSuppressed(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Text: "thank you"}
	ts, _ := newTestServer(t, tr, testConfig())
	conn := dialWS(t, ts, "")

	expectStatus(t, conn, "connected")

	// First utterance.
	sendChunks(t, conn, 10, 0.05)
	expectStatus(t, conn, "listening")
	sendChunks(t, conn, 4, 0.001)
	expectStatus(t, conn, "processing")
	expectStatus(t, conn, "result")

	// Identical second utterance right after: suppressed, so after the
	// processing frame the next delivery is the pong.
	sendChunks(t, conn, 10, 0.05)
	expectStatus(t, conn, "listening")
	sendChunks(t, conn, 4, 0.001)
	expectStatus(t, conn, "processing")

	sendText(t, conn, `{"command":"ping"}`)
	if frame := readFrame(t, conn); frame["pong"] != true {
		t.Fatalf("frame = %v, want pong, duplicate should be suppressed", frame)
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	sched := dispatch.New(schedCtx, &mock.Transcriber{}, dispatch.Config{}, nil)
	defer sched.Close()

	srv := New(cfg, sched)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil after graceful shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}
