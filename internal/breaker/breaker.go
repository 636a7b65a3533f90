// Package breaker wraps the collaborator calls (embedding, LLM) that
// cross process boundaries with a sony/gobreaker circuit breaker, so a
// flaky or rate-limited upstream fails fast instead of piling up blocked
// workers. Grounded on jordigilh-kubernaut's pkg/orchestration/dependency
// circuit-breaker usage (named breaker, failure-ratio trip, timed
// half-open probe), re-expressed directly against sony/gobreaker — the
// library kubernaut's own tests exercise — rather than kubernaut's
// bespoke wrapper type.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Config tunes a Breaker's trip and recovery behavior.
type Config struct {
	// Name identifies the breaker in logs and metrics (e.g. "embedding", "vision", "llm").
	Name string
	// MaxRequests is how many calls are allowed through while half-open.
	MaxRequests uint32
	// Interval is how often the closed-state failure counters reset. Zero disables periodic reset.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// FailureRatio trips the breaker once it is reached over a minimum request count.
	FailureRatio float64
	// MinRequests is the minimum sample size before FailureRatio is evaluated.
	MinRequests uint32
}

// DefaultConfig returns sane defaults for an external collaborator call:
// trips once at least 3 requests have been seen and >=60% of them failed
// (counts are not reset while closed, since Interval is 0), recovers after
// a 30s cool-down.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRequests:  1,
		Interval:     0,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  3,
	}
}

// Breaker guards a single collaborator dependency.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New builds a Breaker from cfg.
func New(cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// ErrOpen is gobreaker.ErrOpenState itself, returned when the breaker
// refuses a call outright.
var ErrOpen = gobreaker.ErrOpenState

// Do runs fn through the breaker. ctx is honored by fn itself — the
// breaker has no timeout of its own beyond the open-state cool-down.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
}

// State reports the current breaker state (closed/half-open/open), used by
// health/diagnostics endpoints.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Counts exposes the rolling request/failure counters for metrics/logging.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
