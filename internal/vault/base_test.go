package vault

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twynelabs/liqbot/internal/config"
)

func testCadence() *config.Cadence {
	return &config.Cadence{
		HSLiquidation: 1.0,
		HSHighRisk:    1.15,
		HSSafe:        1.5,

		TeenyMax:  10,
		MiniMax:   100,
		SmallMax:  1_000,
		MediumMax: 10_000,

		Teeny:  config.CadenceBucket{Liq: 60 * time.Second, High: 10 * time.Minute, Safe: time.Hour},
		Mini:   config.CadenceBucket{Liq: 30 * time.Second, High: 5 * time.Minute, Safe: 30 * time.Minute},
		Small:  config.CadenceBucket{Liq: 15 * time.Second, High: 2 * time.Minute, Safe: 15 * time.Minute},
		Medium: config.CadenceBucket{Liq: 5 * time.Second, High: time.Minute, Safe: 5 * time.Minute},
		Large:  config.CadenceBucket{Liq: 2 * time.Second, High: 30 * time.Second, Safe: 2 * time.Minute},

		MaxUpdateInterval: 2 * time.Hour,
	}
}

func TestNextIntervalNonNegative(t *testing.T) {
	cad := testCadence()
	for _, hs := range []float64{0, 0.5, 0.99, 1.0, 1.05, 1.15, 1.3, 1.5, 3, math.Inf(1)} {
		for _, size := range []float64{0, 5, 50, 500, 5_000, 50_000} {
			d := nextInterval(cad, hs, hs, size, false)
			assert.GreaterOrEqual(t, d, time.Duration(0), "hs=%v size=%v", hs, size)
		}
	}
}

func TestNextIntervalCapped(t *testing.T) {
	cad := testCadence()
	cad.Large.Safe = 10 * time.Hour

	d := nextInterval(cad, 5.0, 5.0, 50_000, false)
	assert.Equal(t, cad.MaxUpdateInterval, d)
}

func TestNextIntervalLiquidatable(t *testing.T) {
	cad := testCadence()

	// Below the liquidation threshold the bucket's fastest interval
	// applies exactly.
	assert.Equal(t, 15*time.Second, nextInterval(cad, 0.98, 2.0, 500, false))
	assert.Equal(t, 15*time.Second, nextInterval(cad, 2.0, 0.5, 500, false))
}

func TestNextIntervalExternallyLiquidated(t *testing.T) {
	cad := testCadence()

	// A healthy-looking vault that was liquidated externally still gets
	// the fastest cadence.
	assert.Equal(t, 15*time.Second, nextInterval(cad, 3.0, 3.0, 500, true))
}

func TestNextIntervalMonotone(t *testing.T) {
	cad := testCadence()

	risky := nextInterval(cad, 1.02, 2.0, 500, false)
	safe := nextInterval(cad, 2.0, 2.0, 500, false)
	assert.Less(t, risky, safe, "hs 1.02 must be rechecked sooner than hs 2.0")

	// Interpolation is monotone across the high-risk band.
	prev := time.Duration(0)
	for hs := 1.0; hs <= 1.15; hs += 0.01 {
		d := nextInterval(cad, hs, 2.0, 500, false)
		assert.GreaterOrEqual(t, d, prev, "hs=%v", hs)
		prev = d
	}
}

func TestNextIntervalRiskierScoreWins(t *testing.T) {
	cad := testCadence()

	both := nextInterval(cad, 1.05, 1.05, 500, false)
	oneRisky := nextInterval(cad, 1.05, 3.0, 500, false)
	assert.Equal(t, both, oneRisky)
}

func TestNextIntervalBucketSelection(t *testing.T) {
	cad := testCadence()

	// Safe vaults of increasing size get progressively faster cadences.
	assert.Equal(t, time.Hour, nextInterval(cad, 5, 5, 5, false))
	assert.Equal(t, 30*time.Minute, nextInterval(cad, 5, 5, 50, false))
	assert.Equal(t, 15*time.Minute, nextInterval(cad, 5, 5, 500, false))
	assert.Equal(t, 5*time.Minute, nextInterval(cad, 5, 5, 5_000, false))
	assert.Equal(t, 2*time.Minute, nextInterval(cad, 5, 5, 50_000, false))
}

func TestJitterBounds(t *testing.T) {
	d := 100 * time.Second
	for i := 0; i < 1000; i++ {
		j := jitter(d)
		assert.GreaterOrEqual(t, j, 90*time.Second)
		assert.LessOrEqual(t, j, 110*time.Second)
	}
}

func testBase(cad *config.Cadence) *base {
	return &base{
		deps:             Deps{Chain: &config.Chain{Cadence: *cad}},
		internalHS:       math.Inf(1),
		externalHS:       math.Inf(1),
		internalBorrowed: bigInt(0),
		externalBorrowed: bigInt(0),
	}
}

func TestScheduleEmptyVault(t *testing.T) {
	b := testBase(testCadence())
	now := time.Now()

	next := b.scheduleNextUpdate(now)

	max := b.deps.Chain.Cadence.MaxUpdateInterval
	lo := now.Add(time.Duration(0.9 * float64(max)))
	hi := now.Add(time.Duration(1.1 * float64(max)))
	assert.False(t, next.Before(lo), "next=%v before %v", next, lo)
	assert.False(t, next.After(hi), "next=%v after %v", next, hi)
}

func TestScheduleEmptyVaultOverridesPendingSchedule(t *testing.T) {
	b := testBase(testCadence())
	now := time.Now()
	b.nextUpdate = now.Add(5 * time.Second)

	next := b.scheduleNextUpdate(now)
	require.True(t, next.After(now.Add(time.Hour)), "empty vault must fall back to the max interval")
}

func TestScheduleLiquidatableSmallPosition(t *testing.T) {
	b := testBase(testCadence())
	b.internalHS = 0.95
	b.externalHS = 2.0
	b.internalBorrowed = bigUSD(500)
	now := time.Now()

	next := b.scheduleNextUpdate(now)

	gap := next.Sub(now)
	assert.GreaterOrEqual(t, gap, 13500*time.Millisecond)
	assert.LessOrEqual(t, gap, 16500*time.Millisecond)
}

func TestScheduleNeverShortensPendingCheck(t *testing.T) {
	b := testBase(testCadence())
	b.internalHS = 5.0
	b.externalHS = 5.0
	b.internalBorrowed = bigUSD(500)
	now := time.Now()

	// An earlier, still-pending check wins over a later proposal.
	pending := now.Add(3 * time.Second)
	b.nextUpdate = pending
	next := b.scheduleNextUpdate(now)
	assert.Equal(t, pending, next)

	// A schedule already in the past is replaced.
	b.nextUpdate = now.Add(-time.Minute)
	next = b.scheduleNextUpdate(now)
	assert.True(t, next.After(now))
}

func TestScheduleReplacesLaterPendingCheck(t *testing.T) {
	b := testBase(testCadence())
	b.internalHS = 0.5
	b.externalHS = 0.5
	b.internalBorrowed = bigUSD(500)
	now := time.Now()

	b.nextUpdate = now.Add(time.Hour)
	next := b.scheduleNextUpdate(now)
	assert.True(t, next.Before(now.Add(time.Minute)),
		"a liquidatable vault must not keep an hour-out schedule")
}
