package restartpolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Fixed(t *testing.T) {
	b := NewBackoff("app", 1, FixedDelay(500*time.Millisecond))
	for i := 0; i < 5; i++ {
		assert.Equal(t, 500*time.Millisecond, b.Next())
	}
	assert.Equal(t, 5, b.Attempts())
}

func TestBackoff_ZeroDelay(t *testing.T) {
	b := NewBackoff("app", 1, FixedDelay(0))
	assert.Equal(t, time.Duration(0), b.Next())

	b = NewBackoff("app", 1, ExponentialDelay(0))
	assert.Equal(t, time.Duration(0), b.Next())
}

func TestBackoff_ExponentialGrowthAndCap(t *testing.T) {
	cfg := ExponentialDelay(100 * time.Millisecond)
	cfg.JitterPct = 0
	b := NewBackoff("app", 1, cfg)

	expected := []time.Duration{
		100 * time.Millisecond,
		150 * time.Millisecond,
		225 * time.Millisecond,
		337500 * time.Microsecond,
	}
	for i, want := range expected {
		assert.Equal(t, want, b.Next(), "attempt %d", i)
	}

	for i := 0; i < 50; i++ {
		b.Next()
	}
	assert.Equal(t, ExpBackoffMax, b.Calculate())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, 100*time.Millisecond, b.Calculate())
}

func TestBackoff_JitterBoundsAndDeterminism(t *testing.T) {
	cfg := ExponentialDelay(time.Second)

	a := NewBackoff("worker", 42, cfg)
	b := NewBackoff("worker", 42, cfg)
	other := NewBackoff("api", 42, cfg)

	differs := false
	for i := 0; i < 20; i++ {
		da, db, dother := a.Next(), b.Next(), other.Next()
		assert.Equal(t, da, db, "same name and seed must give the same delays")
		if da != dother {
			differs = true
		}

		base := float64(time.Second)
		for j := 0; j < i; j++ {
			base *= ExpBackoffMultiplier
		}
		if base > float64(ExpBackoffMax) {
			base = float64(ExpBackoffMax)
		}
		assert.InDelta(t, base, float64(da), base*ExpBackoffJitterPct/2+1)
	}
	assert.True(t, differs, "different names should get different jitter")
}

func TestExponentialDelay_InitialAboveCap(t *testing.T) {
	cfg := ExponentialDelay(time.Minute)
	assert.Equal(t, time.Minute, cfg.Max)
}
