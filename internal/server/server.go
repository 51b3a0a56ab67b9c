// Package server exposes the voxgate streaming endpoint over WebSocket plus
// the operational HTTP surface (health probes and Prometheus metrics).
//
// Each accepted connection gets its own [Session] goroutine owning that
// connection's endpointing state exclusively; the shared Transcriber is only
// ever reached through the dispatch scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/refugehelp/voxgate/internal/config"
	"github.com/refugehelp/voxgate/internal/dispatch"
	"github.com/refugehelp/voxgate/internal/endpoint"
	"github.com/refugehelp/voxgate/internal/health"
	"github.com/refugehelp/voxgate/internal/lang"
	"github.com/refugehelp/voxgate/internal/observe"
	"github.com/refugehelp/voxgate/internal/transcript"
	"github.com/refugehelp/voxgate/internal/transcriptlog"
	"github.com/refugehelp/voxgate/pkg/audio"
)

const (
	// defaultListenAddr matches the port clients expect when no listen
	// address is configured.
	defaultListenAddr = ":8000"

	// defaultTargetLang is assumed when a client connects without a target
	// query parameter.
	defaultTargetLang = "nld_Latn"

	// shutdownTimeout bounds the graceful-shutdown window.
	shutdownTimeout = 10 * time.Second
)

// Option is a functional option for [New].
type Option func(*Server)

// WithTranscriptStore sets the archive every non-empty result is appended to.
// Default is a no-op store.
func WithTranscriptStore(store transcriptlog.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithMetrics sets the metrics instance. Default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadyCheck adds a readiness checker beyond the built-in queue check.
func WithReadyCheck(c health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c) }
}

// Server accepts streaming clients and serves the operational endpoints.
type Server struct {
	cfg      *config.Config
	sched    *dispatch.Scheduler
	store    transcriptlog.Store
	metrics  *observe.Metrics
	checkers []health.Checker

	registry *Registry
	httpSrv  *http.Server
}

// New wires a Server from its collaborators. The scheduler is shared across
// all sessions; everything else is per-connection.
func New(cfg *config.Config, sched *dispatch.Scheduler, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		sched:    sched,
		store:    transcriptlog.NoopStore{},
		registry: NewRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	queueCap := cfg.Scheduler.QueueSize
	if queueCap <= 0 {
		queueCap = dispatch.DefaultQueueSize
	}
	checkers := append([]health.Checker{
		health.QueueHeadroom(sched.QueueDepth, queueCap),
	}, s.checkers...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	s.httpSrv = &http.Server{
		Addr:              s.listenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully: the listener
// stops, live sessions are told to go away, and in-flight work gets
// [shutdownTimeout] to finish. A failure to bind the port is returned
// immediately and is fatal to the caller.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr())
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.listenAddr(), err)
	}
	slog.Info("server listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.registry.CloseAll(websocket.StatusGoingAway, "server shutting down")
		if err := s.httpSrv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ActiveSessions returns the number of live connections.
func (s *Server) ActiveSessions() int { return s.registry.Len() }

// handleWS upgrades the request and runs the session until the connection
// ends. A session fault never escapes its own handler goroutine.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	source := ""
	if q := r.URL.Query().Get("source"); q != "" {
		source = lang.Normalize(q)
	}
	target := s.cfg.Server.DefaultTargetLang
	if target == "" {
		target = defaultTargetLang
	}
	if q := r.URL.Query().Get("target"); q != "" {
		target = lang.Normalize(q)
	}

	sess := newSession(conn, sessionConfig{
		SourceLang:  source,
		TargetLang:  target,
		Endpointing: endpointConfig(s.cfg.Endpointing),
		Scheduler:   s.sched,
		Store:       s.store,
		Suppressor:  s.suppressor(),
		Metrics:     s.metrics,
	})

	s.registry.Add(sess)
	defer s.registry.Remove(sess.ID())

	sess.run(r.Context())
}

// listenAddr returns the configured listen address or the default.
func (s *Server) listenAddr() string {
	if s.cfg.Server.ListenAddr != "" {
		return s.cfg.Server.ListenAddr
	}
	return defaultListenAddr
}

// suppressor builds a per-session duplicate suppressor from config.
func (s *Server) suppressor() *transcript.Suppressor {
	return transcript.NewSuppressor(
		s.cfg.Transcript.DedupeSimilarity,
		time.Duration(s.cfg.Transcript.DedupeWindowMs)*time.Millisecond,
	)
}

// endpointConfig converts the millisecond-based YAML schema into the
// sample-count configuration the assembler works in. Zero values stay zero
// so the assembler applies its own defaults.
func endpointConfig(ec config.EndpointingConfig) endpoint.Config {
	cfg := endpoint.Config{
		SilenceThreshold:    ec.SilenceThreshold,
		SilenceRunThreshold: ec.SilenceRunThreshold,
	}
	if ec.MinSegmentMs > 0 {
		cfg.MinSegmentSamples = audio.SampleCount(time.Duration(ec.MinSegmentMs)*time.Millisecond, audio.SampleRate)
	}
	if ec.MaxSegmentMs > 0 {
		cfg.MaxSegmentSamples = audio.SampleCount(time.Duration(ec.MaxSegmentMs)*time.Millisecond, audio.SampleRate)
	}
	if ec.FlushMinMs > 0 {
		cfg.FlushMinSamples = audio.SampleCount(time.Duration(ec.FlushMinMs)*time.Millisecond, audio.SampleRate)
	}
	return cfg
}
