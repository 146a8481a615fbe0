package vault

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/config"
	"github.com/twynelabs/liqbot/internal/contracts"
)

// base owns the health state, the adaptive cadence and the reads shared
// by every backing protocol. Live fields are guarded by mu: workers
// mutate them while the snapshot API reads them.
type base struct {
	deps     Deps
	address  common.Address
	protocol string
	log      *logrus.Entry

	contract *contracts.CollateralVault
	viewer   *contracts.HealthViewer

	mu                   sync.Mutex
	internalHS           float64
	externalHS           float64
	internalBorrowed     *big.Int
	externalBorrowed     *big.Int
	balance              *big.Int
	externallyLiquidated bool
	nextUpdate           time.Time
	symbol               string
	lastErrorPost        time.Time
}

func newBase(addr common.Address, protocol string, deps Deps) base {
	return base{
		deps:             deps,
		address:          addr,
		protocol:         protocol,
		log:              deps.Log.WithFields(logrus.Fields{"vault": addr.Hex(), "protocol": protocol}),
		contract:         contracts.NewCollateralVault(addr, deps.Backend),
		viewer:           contracts.NewHealthViewer(deps.Chain.HealthViewer, deps.Backend),
		internalHS:       math.Inf(1),
		externalHS:       math.Inf(1),
		internalBorrowed: new(big.Int),
		externalBorrowed: new(big.Int),
		balance:          new(big.Int),
		nextUpdate:       time.Now(),
	}
}

func (b *base) Address() common.Address { return b.address }
func (b *base) Protocol() string        { return b.protocol }

func (b *base) Symbol() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.symbol
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		Address:             b.address,
		Protocol:            b.protocol,
		Symbol:              b.symbol,
		InternalHealthScore: b.internalHS,
		ExternalHealthScore: b.externalHS,
		InternalBorrowed:    new(big.Int).Set(b.internalBorrowed),
		ExternalBorrowed:    new(big.Int).Set(b.externalBorrowed),
		Balance:             new(big.Int).Set(b.balance),
	}
}

func (b *base) NextUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextUpdate
}

func (b *base) SetNextUpdate(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextUpdate = t
}

func (b *base) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Address:             b.address.Hex(),
		Protocol:            b.protocol,
		TimeOfNextUpdate:    float64(b.nextUpdate.UnixNano()) / float64(time.Second),
		InternalHealthScore: Score(b.internalHS),
		ExternalHealthScore: Score(b.externalHS),
	}
}

func (b *base) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sec, frac := math.Modf(s.TimeOfNextUpdate)
	b.nextUpdate = time.Unix(int64(sec), int64(frac*float64(time.Second)))
	b.internalHS = float64(s.InternalHealthScore)
	b.externalHS = float64(s.ExternalHealthScore)
}

// CheckLiquidation reads the vault's raw liquidation status. On any RPC
// failure it returns the zero value; the vault is rechecked on the next
// scheduled pass.
func (b *base) CheckLiquidation(ctx context.Context) LiquidationCheck {
	zero := LiquidationCheck{MaxRelease: new(big.Int), MaxRepay: new(big.Int), TotalAssets: new(big.Int)}

	canLiquidate, err := b.contract.CanLiquidate(ctx)
	if err != nil {
		b.log.WithError(err).Error("liquidation status read failed")
		return zero
	}
	externallyLiquidated, err := b.contract.IsExternallyLiquidated(ctx)
	if err != nil {
		b.log.WithError(err).Error("liquidation status read failed")
		return zero
	}
	maxRelease, err := b.contract.MaxRelease(ctx)
	if err != nil {
		b.log.WithError(err).Error("liquidation status read failed")
		return zero
	}
	maxRepay, err := b.contract.MaxRepay(ctx)
	if err != nil {
		b.log.WithError(err).Error("liquidation status read failed")
		return zero
	}
	totalAssets, err := b.contract.TotalAssetsDepositedOrReserved(ctx)
	if err != nil {
		b.log.WithError(err).Error("liquidation status read failed")
		return zero
	}
	return LiquidationCheck{
		CanLiquidate:         canLiquidate,
		ExternallyLiquidated: externallyLiquidated,
		MaxRelease:           maxRelease,
		MaxRepay:             maxRepay,
		TotalAssets:          totalAssets,
	}
}

// UpdateLiquidity refreshes the cached health scores from the health
// viewer and re-computes the next check time. On a failed read the
// returned scores default to +Inf and the cached state is left alone so
// the cadence keeps working from the last known health.
func (b *base) UpdateLiquidity(ctx context.Context) HealthUpdate {
	b.refreshHealth(ctx)
	b.scheduleNextUpdate(time.Now())

	b.mu.Lock()
	update := HealthUpdate{
		InternalHS:           b.internalHS,
		ExternalHS:           b.externalHS,
		ExternallyLiquidated: b.externallyLiquidated,
	}
	b.mu.Unlock()
	return update
}

func (b *base) refreshHealth(ctx context.Context) {
	h, err := b.viewer.Health(ctx, b.address)
	if err != nil {
		b.log.WithError(err).Error("health read failed")
		return
	}

	internalHS := scoreFrom(h.InternalHF, h.InternalLiability)
	externalHS := scoreFrom(h.ExternalHF, h.ExternalLiability)

	externallyLiquidated, err := b.contract.IsExternallyLiquidated(ctx)
	if err != nil {
		b.log.WithError(err).Error("externally-liquidated read failed")
		externallyLiquidated = false
	}

	b.mu.Lock()
	b.internalHS = internalHS
	b.externalHS = externalHS
	b.internalBorrowed = h.InternalLiability
	b.externalBorrowed = h.ExternalLiability
	b.externallyLiquidated = externallyLiquidated
	b.mu.Unlock()

	if internalHS < 1 || externalHS < 1 {
		b.log.WithFields(logrus.Fields{"internal_hs": internalHS, "external_hs": externalHS}).
			Info("vault is liquidatable")
	}
}

// scoreFrom converts a 1e18-scaled health factor to a ratio, mapping a
// zero liability to +Inf.
func scoreFrom(hf, liability *big.Int) float64 {
	if liability.Sign() == 0 {
		return math.Inf(1)
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(hf), big.NewFloat(1e18)).Float64()
	return f
}

// scheduleNextUpdate applies the adaptive cadence: pick the interval for
// the vault's size bucket and health, jitter it by ±10% and never
// shorten a still-pending schedule.
func (b *base) scheduleNextUpdate(now time.Time) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	cad := &b.deps.Chain.Cadence

	if math.IsInf(b.internalHS, 1) && math.IsInf(b.externalHS, 1) {
		b.nextUpdate = now.Add(jitter(cad.MaxUpdateInterval))
		return b.nextUpdate
	}

	total := new(big.Int).Add(b.internalBorrowed, b.externalBorrowed)
	totalUSD, _ := new(big.Float).Quo(new(big.Float).SetInt(total), big.NewFloat(1e18)).Float64()

	interval := nextInterval(cad, b.internalHS, b.externalHS, totalUSD, b.externallyLiquidated)
	proposed := now.Add(jitter(interval))

	if !(b.nextUpdate.Before(proposed) && b.nextUpdate.After(now)) {
		b.nextUpdate = proposed
	}
	return b.nextUpdate
}

// nextInterval maps health scores and position size to a re-check
// interval. Between thresholds the interval is linearly interpolated and
// the riskier (shorter) of the two scores' results wins. The result is
// capped at the max update interval; jitter is applied by the caller.
func nextInterval(cad *config.Cadence, internalHS, externalHS, totalBorrowedUSD float64, externallyLiquidated bool) time.Duration {
	bucket := cad.Large
	switch {
	case totalBorrowedUSD < cad.TeenyMax:
		bucket = cad.Teeny
	case totalBorrowedUSD < cad.MiniMax:
		bucket = cad.Mini
	case totalBorrowedUSD < cad.SmallMax:
		bucket = cad.Small
	case totalBorrowedUSD < cad.MediumMax:
		bucket = cad.Medium
	}

	liq := bucket.Liq.Seconds()
	high := bucket.High.Seconds()
	safe := bucket.Safe.Seconds()

	var gap float64
	switch {
	case internalHS <= cad.HSLiquidation || externalHS <= cad.HSLiquidation || externallyLiquidated:
		gap = liq
	case internalHS < cad.HSHighRisk || externalHS < cad.HSHighRisk:
		span := cad.HSHighRisk - cad.HSLiquidation
		gapInternal := liq + (high-liq)*((internalHS-cad.HSLiquidation)/span)
		gapExternal := liq + (high-liq)*((externalHS-cad.HSLiquidation)/span)
		gap = math.Min(gapInternal, gapExternal)
	case internalHS < cad.HSSafe || externalHS < cad.HSSafe:
		span := cad.HSSafe - cad.HSHighRisk
		gapInternal := high + (safe-high)*((internalHS-cad.HSHighRisk)/span)
		gapExternal := high + (safe-high)*((externalHS-cad.HSHighRisk)/span)
		gap = math.Min(gapInternal, gapExternal)
	default:
		gap = safe
	}

	gap = math.Min(gap, cad.MaxUpdateInterval.Seconds())
	return time.Duration(gap * float64(time.Second))
}

// jitter spreads an interval over [0.9, 1.1]·d to decorrelate workload.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.9 + 0.2*rand.Float64()))
}

func (b *base) ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	return b.contract.ConvertToAssets(ctx, shares)
}

func (b *base) setSymbol(s string) {
	b.mu.Lock()
	b.symbol = s
	b.mu.Unlock()
}

func (b *base) setBalance(v *big.Int) {
	b.mu.Lock()
	b.balance = v
	b.mu.Unlock()
}

// notifyError posts a simulation error through the notification channel,
// throttled per vault: large positions repost after the error cooldown,
// small positions after the small-position report interval.
func (b *base) notifyError(format string, args ...interface{}) {
	if b.deps.NotifyError == nil {
		return
	}

	b.mu.Lock()
	total := new(big.Int).Add(b.internalBorrowed, b.externalBorrowed)
	last := b.lastErrorPost
	b.mu.Unlock()

	totalUSD, _ := new(big.Float).Quo(new(big.Float).SetInt(total), big.NewFloat(1e18)).Float64()
	elapsed := time.Since(last)

	cfg := b.deps.Chain
	allowed := (totalUSD > cfg.SmallPositionThreshold && elapsed > cfg.ErrorCooldown) ||
		(totalUSD <= cfg.SmallPositionThreshold && elapsed > cfg.SmallPositionReportInterval)
	if !allowed {
		return
	}

	b.deps.NotifyError(fmt.Sprintf(format, args...))
	b.mu.Lock()
	b.lastErrorPost = time.Now()
	b.mu.Unlock()
}
