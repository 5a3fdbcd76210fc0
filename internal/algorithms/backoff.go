// Package algorithms holds the retry delay strategies used by worker loops.
package algorithms

import (
	"math/rand/v2"
	"time"
)

// maxShift keeps 1<<attempt from overflowing int64.
const maxShift = 62

// Kind selects a backoff strategy.
type Kind int

const (
	// Exponential doubles the delay on each attempt.
	Exponential Kind = iota
	// Jittered is Exponential scaled by a random factor in [1-j, 1+j].
	Jittered
	// Decorrelated picks uniformly in [initial, 3*prev], so concurrent
	// retries drift apart instead of moving in lockstep.
	Decorrelated
)

func (k Kind) String() string {
	switch k {
	case Jittered:
		return "jittered"
	case Decorrelated:
		return "decorrelated"
	default:
		return "exponential"
	}
}

// Backoff computes the wait before a retry. attempt is zero for the first
// retry; prev is the delay returned for the previous attempt (zero on the
// first). Implementations hold no per-task state, so one value can serve
// every worker.
type Backoff interface {
	Next(attempt int, prev time.Duration) time.Duration
}

// New returns the strategy for kind. jitter is only read by Jittered and
// is clamped to [0, 1].
func New(kind Kind, initial, ceiling time.Duration, jitter float64) Backoff {
	ceiling = max(ceiling, initial)
	switch kind {
	case Jittered:
		return jittered{initial: initial, max: ceiling, factor: min(max(jitter, 0), 1)}
	case Decorrelated:
		return decorrelated{initial: initial, max: ceiling}
	default:
		return exponential{initial: initial, max: ceiling}
	}
}

type exponential struct {
	initial, max time.Duration
}

func (e exponential) Next(attempt int, _ time.Duration) time.Duration {
	return grow(attempt, e.initial, e.max)
}

type jittered struct {
	initial, max time.Duration
	factor       float64
}

func (j jittered) Next(attempt int, _ time.Duration) time.Duration {
	base := grow(attempt, j.initial, j.max)
	scale := 1 + (rand.Float64()*2-1)*j.factor // #nosec G404 -- jitter only
	d := time.Duration(float64(base) * scale)
	return min(max(d, 0), j.max)
}

type decorrelated struct {
	initial, max time.Duration
}

func (d decorrelated) Next(attempt int, prev time.Duration) time.Duration {
	if attempt <= 0 || prev < d.initial {
		return d.initial
	}
	upper := min(3*prev, d.max)
	if upper <= d.initial {
		return d.initial
	}
	return d.initial + rand.N(upper-d.initial) // #nosec G404 -- jitter only
}

// grow returns initial*2^attempt capped at ceiling.
func grow(attempt int, initial, ceiling time.Duration) time.Duration {
	if attempt < 0 {
		return 0
	}
	if attempt > maxShift {
		return ceiling
	}
	if initial > ceiling>>uint(attempt) {
		return ceiling
	}
	return initial << uint(attempt)
}
