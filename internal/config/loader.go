package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. Zero values pass —
// they select component defaults.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.ASR.ModelPath == "" {
		errs = append(errs, errors.New("asr.model_path is required"))
	}
	if cfg.ASR.Threads < 0 {
		errs = append(errs, fmt.Errorf("asr.threads %d must not be negative", cfg.ASR.Threads))
	}

	ep := cfg.Endpointing
	if ep.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("endpointing.silence_threshold %g must not be negative", ep.SilenceThreshold))
	}
	if ep.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("endpointing.silence_threshold %g is out of range [0, 1); samples are normalised", ep.SilenceThreshold))
	}
	if ep.MinSegmentMs < 0 || ep.MaxSegmentMs < 0 || ep.FlushMinMs < 0 || ep.SilenceRunThreshold < 0 {
		errs = append(errs, errors.New("endpointing durations and thresholds must not be negative"))
	}
	if ep.MinSegmentMs > 0 && ep.MaxSegmentMs > 0 && ep.MinSegmentMs > ep.MaxSegmentMs {
		errs = append(errs, fmt.Errorf("endpointing.min_segment_ms %d exceeds max_segment_ms %d", ep.MinSegmentMs, ep.MaxSegmentMs))
	}

	if cfg.Scheduler.Workers < 0 {
		errs = append(errs, fmt.Errorf("scheduler.workers %d must not be negative", cfg.Scheduler.Workers))
	}
	if cfg.Scheduler.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("scheduler.queue_size %d must not be negative", cfg.Scheduler.QueueSize))
	}
	if cfg.Scheduler.Workers > 1 {
		slog.Warn("scheduler.workers > 1: ensure the ASR backend tolerates concurrent inference",
			"workers", cfg.Scheduler.Workers)
	}

	if cfg.Transcript.DedupeSimilarity > 1 {
		errs = append(errs, fmt.Errorf("transcript.dedupe_similarity %g is out of range (max 1.0)", cfg.Transcript.DedupeSimilarity))
	}
	if cfg.Transcript.PostgresDSN == "" {
		slog.Info("transcript.postgres_dsn is empty; transcript archival is disabled")
	}

	return errors.Join(errs...)
}
