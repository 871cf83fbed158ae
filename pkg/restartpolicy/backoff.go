package restartpolicy

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

const (
	// ExpBackoffMultiplier and ExpBackoffMax shape exp_backoff_restart_delay
	ExpBackoffMultiplier = 1.5
	ExpBackoffMax        = 15 * time.Second
	ExpBackoffJitterPct  = 0.2 // ±10%
)

// BackoffConfig holds the configuration for restart delays
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	JitterPct  float64 // jitter as a fraction of the delay, spread evenly around it
}

// FixedDelay waits the same delay before every relaunch
func FixedDelay(delay time.Duration) BackoffConfig {
	return BackoffConfig{
		Initial:    delay,
		Max:        delay,
		Multiplier: 1,
	}
}

// ExponentialDelay grows the delay by ExpBackoffMultiplier per consecutive restart, up to ExpBackoffMax
func ExponentialDelay(initial time.Duration) BackoffConfig {
	limit := ExpBackoffMax
	if initial > limit {
		limit = initial
	}
	return BackoffConfig{
		Initial:    initial,
		Max:        limit,
		Multiplier: ExpBackoffMultiplier,
		JitterPct:  ExpBackoffJitterPct,
	}
}

// Backoff calculates restart delays. The jitter is deterministic per app name and seed.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

func NewBackoff(name string, seed int64, config BackoffConfig) *Backoff {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))

	return &Backoff{
		config: config,
		rng:    rand.New(rand.NewSource(int64(h.Sum64()) ^ seed)),
	}
}

// Next returns the next delay and increments the attempt counter
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current delay without incrementing attempts
func (b *Backoff) Calculate() time.Duration {
	if b.config.Initial <= 0 {
		return 0
	}

	multiplier := b.config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(b.config.Initial) * math.Pow(multiplier, float64(b.attempts))
	if b.config.Max > 0 && delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		delay += jitterRange*b.rng.Float64() - jitterRange/2
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (b *Backoff) Reset() {
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	return b.attempts
}
