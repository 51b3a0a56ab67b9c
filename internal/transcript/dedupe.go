// Package transcript post-processes transcription results before they are
// emitted to clients.
//
// The only stage today is duplicate suppression. Trailing silence often
// splits one utterance into two segments whose transcriptions are
// near-identical ("thank you" / "thank you."); emitting both reads as a
// stutter on the client. The Suppressor drops a result when it is highly
// similar (Jaro-Winkler) to the session's previous result and arrived within
// a short window.
package transcript

import (
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// Defaults for the suppression heuristic.
const (
	DefaultSimilarity = 0.92
	DefaultWindow     = 5 * time.Second
)

// Suppressor tracks the previous result of one session and decides whether
// the next one is a duplicate. It is owned by a single session goroutine and
// needs no locking.
type Suppressor struct {
	similarity float64
	window     time.Duration
	disabled   bool

	lastText string
	lastAt   time.Time

	// now is stubbed in tests.
	now func() time.Time
}

// NewSuppressor creates a Suppressor. similarity 0 selects
// [DefaultSimilarity]; negative disables suppression entirely. window 0
// selects [DefaultWindow].
func NewSuppressor(similarity float64, window time.Duration) *Suppressor {
	s := &Suppressor{
		similarity: similarity,
		window:     window,
		now:        time.Now,
	}
	if similarity < 0 {
		s.disabled = true
	}
	if similarity == 0 {
		s.similarity = DefaultSimilarity
	}
	if window <= 0 {
		s.window = DefaultWindow
	}
	return s
}

// Duplicate reports whether text should be suppressed, and records it as the
// session's latest result when it is not. Comparison is case-insensitive on
// trimmed text.
func (s *Suppressor) Duplicate(text string) bool {
	if s.disabled {
		return false
	}
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return false
	}

	now := s.now()
	if s.lastText != "" && now.Sub(s.lastAt) <= s.window {
		if matchr.JaroWinkler(trimmed, s.lastText, false) >= s.similarity {
			// Keep the original timestamp: a stream of repeats should not
			// extend the window indefinitely.
			return true
		}
	}

	s.lastText = trimmed
	s.lastAt = now
	return false
}
