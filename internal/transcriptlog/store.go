// Package transcriptlog archives transcription results. Every non-empty
// result — including those produced by a close-flush whose client delivery
// became a no-op — is appended to the configured store.
//
// The store is strictly write-behind: archival failures are logged and never
// affect the session that produced the result.
package transcriptlog

import (
	"context"
	"time"
)

// Entry is one archived transcription result.
type Entry struct {
	// SessionID identifies the originating connection.
	SessionID string

	// Lang is the language code used for the transcription, or "detected"
	// when the model auto-detected it.
	Lang string

	// Text is the transcribed text, already trimmed and non-empty.
	Text string

	// AudioDuration is the play time of the transcribed segment.
	AudioDuration time.Duration

	// CreatedAt is when the result was produced.
	CreatedAt time.Time
}

// Store persists transcript entries. Implementations must be safe for
// concurrent use — entries arrive from many session goroutines.
type Store interface {
	// Append archives one entry.
	Append(ctx context.Context, e Entry) error

	// Close releases store resources.
	Close() error
}

// Compile-time interface check.
var _ Store = NoopStore{}

// NoopStore discards all entries. Used when no archive DSN is configured.
type NoopStore struct{}

// Append discards e and returns nil.
func (NoopStore) Append(context.Context, Entry) error { return nil }

// Close returns nil.
func (NoopStore) Close() error { return nil }
