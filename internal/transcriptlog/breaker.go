package transcriptlog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrArchiveUnavailable is returned by [GuardedStore.Append] while the
// archive breaker is open. Entries rejected this way are dropped; archival is
// write-behind and never worth stalling a session over.
var ErrArchiveUnavailable = errors.New("transcriptlog: archive temporarily unavailable")

// guardState is the breaker state of a [GuardedStore].
type guardState int

const (
	guardClosed guardState = iota
	guardOpen
	guardHalfOpen
)

func (s guardState) String() string {
	switch s {
	case guardClosed:
		return "closed"
	case guardOpen:
		return "open"
	case guardHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// GuardConfig tunes a [GuardedStore]. Zero fields select defaults.
type GuardConfig struct {
	// MaxFailures is the number of consecutive Append failures before the
	// breaker opens. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing the archive
	// again. Default: 30s.
	Cooldown time.Duration

	// ProbeBudget is the number of probe Appends allowed in the half-open
	// state before the breaker decides to close or re-open. Default: 3.
	ProbeBudget int
}

// Compile-time interface check.
var _ Store = (*GuardedStore)(nil)

// GuardedStore wraps a [Store] with a three-state circuit breaker
// (closed, open, half-open). When the archive backend goes down, every
// session would otherwise pay a connection timeout per result; the breaker
// fails those appends fast and probes the backend periodically instead.
type GuardedStore struct {
	inner       Store
	maxFailures int
	cooldown    time.Duration
	probeBudget int

	mu          sync.Mutex
	state       guardState
	fails       int
	lastFailure time.Time
	probes      int
	probeFails  int

	// now is stubbed in tests.
	now func() time.Time
}

// Guard wraps inner with breaker protection.
func Guard(inner Store, cfg GuardConfig) *GuardedStore {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	return &GuardedStore{
		inner:       inner,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
		now:         time.Now,
	}
}

// Append forwards to the wrapped store unless the breaker is open, in which
// case it fails immediately with [ErrArchiveUnavailable].
func (g *GuardedStore) Append(ctx context.Context, e Entry) error {
	g.mu.Lock()
	switch g.state {
	case guardOpen:
		if g.now().Sub(g.lastFailure) < g.cooldown {
			g.mu.Unlock()
			return ErrArchiveUnavailable
		}
		g.state = guardHalfOpen
		g.probes = 0
		g.probeFails = 0
		slog.Info("transcript archive breaker half-open, probing")
	case guardHalfOpen:
		if g.probes >= g.probeBudget {
			g.mu.Unlock()
			return ErrArchiveUnavailable
		}
	}
	probing := g.state == guardHalfOpen
	if probing {
		g.probes++
	}
	g.mu.Unlock()

	err := g.inner.Append(ctx, e)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.recordFailure(probing)
	} else {
		g.recordSuccess(probing)
	}
	return err
}

// recordFailure updates breaker accounting after a failed append. Caller
// holds g.mu.
func (g *GuardedStore) recordFailure(probing bool) {
	g.lastFailure = g.now()

	if probing {
		g.probeFails++
		g.state = guardOpen
		g.fails = g.maxFailures
		slog.Warn("transcript archive breaker re-opened, probe failed")
		return
	}

	g.fails++
	if g.fails >= g.maxFailures {
		g.state = guardOpen
		slog.Warn("transcript archive breaker opened",
			"consecutive_failures", g.fails)
	}
}

// recordSuccess updates breaker accounting after a successful append. Caller
// holds g.mu.
func (g *GuardedStore) recordSuccess(probing bool) {
	if probing {
		if g.probes-g.probeFails >= g.probeBudget {
			g.state = guardClosed
			g.fails = 0
			g.probes = 0
			g.probeFails = 0
			slog.Info("transcript archive breaker closed, archive recovered")
		}
		return
	}
	g.fails = 0
}

// State returns the current breaker state name, for readiness reporting and
// tests. An open breaker whose cooldown has elapsed reports half-open; the
// actual transition happens on the next Append.
func (g *GuardedStore) State() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == guardOpen && g.now().Sub(g.lastFailure) >= g.cooldown {
		return guardHalfOpen.String()
	}
	return g.state.String()
}

// Close closes the wrapped store.
func (g *GuardedStore) Close() error { return g.inner.Close() }
