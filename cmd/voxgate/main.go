// Command voxgate is the streaming speech gateway: it accepts WebSocket
// audio streams, segments them on silence, and serves transcription results
// from a local whisper.cpp model.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/refugehelp/voxgate/internal/config"
	"github.com/refugehelp/voxgate/internal/dispatch"
	"github.com/refugehelp/voxgate/internal/observe"
	"github.com/refugehelp/voxgate/internal/server"
	"github.com/refugehelp/voxgate/internal/transcriptlog"
	"github.com/refugehelp/voxgate/pkg/transcriber/whisper"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags and environment ─────────────────────────────────────────────
	// A .env file in the working directory is loaded before anything reads the
	// environment; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxgate: load .env: %v\n", err)
	}

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("voxgate starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"model", cfg.ASR.ModelPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Transcriber ───────────────────────────────────────────────────────────
	// Model loading is the dominant startup cost; a failure here is fatal.
	var whisperOpts []whisper.Option
	if cfg.ASR.Threads > 0 {
		whisperOpts = append(whisperOpts, whisper.WithThreads(cfg.ASR.Threads))
	}
	if cfg.ASR.Language != "" {
		whisperOpts = append(whisperOpts, whisper.WithLanguage(cfg.ASR.Language))
	}
	tr, err := whisper.New(cfg.ASR.ModelPath, whisperOpts...)
	if err != nil {
		slog.Error("failed to load model", "path", cfg.ASR.ModelPath, "err", err)
		return 1
	}
	defer func() {
		if err := tr.Close(); err != nil {
			slog.Warn("transcriber close error", "err", err)
		}
	}()
	slog.Info("model loaded", "path", cfg.ASR.ModelPath, "threads", cfg.ASR.Threads)

	// ── Scheduler ─────────────────────────────────────────────────────────────
	// Workers run on a background context so a shutdown signal does not fail
	// queued requests; Close drains the queue instead.
	sched := dispatch.New(context.Background(), tr, dispatch.Config{
		Workers:     cfg.Scheduler.Workers,
		QueueSize:   cfg.Scheduler.QueueSize,
		CallTimeout: time.Duration(cfg.Scheduler.RequestTimeoutMs) * time.Millisecond,
	}, metrics)
	defer sched.Close()

	// ── Transcript archive ────────────────────────────────────────────────────
	var store transcriptlog.Store = transcriptlog.NoopStore{}
	if dsn := cfg.Transcript.PostgresDSN; dsn != "" {
		pg, err := transcriptlog.Connect(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect transcript archive", "err", err)
			return 1
		}
		store = transcriptlog.Guard(pg, transcriptlog.GuardConfig{})
		defer func() {
			if err := store.Close(); err != nil {
				slog.Warn("transcript archive close error", "err", err)
			}
		}()
		slog.Info("transcript archive connected")
	}

	// ── Server ────────────────────────────────────────────────────────────────
	srv := server.New(cfg, sched,
		server.WithTranscriptStore(store),
		server.WithMetrics(metrics),
	)

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}
