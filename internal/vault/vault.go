// Package vault wraps one on-chain collateral vault behind a
// protocol-agnostic interface. Two backings exist today, Euler and Aave;
// both expose the same reads (liquidation status, health scores) and a
// liquidation simulation that prices the opportunity, fetches swap
// calldata and builds a gas-estimated transaction.
package vault

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/config"
)

const (
	ProtocolEuler = "euler"
	ProtocolAave  = "aave"
)

var (
	// ErrProtocolDetection marks an aToken probe that failed for a reason
	// other than a revert. The caller logs it and falls back to Euler.
	ErrProtocolDetection = errors.New("protocol detection probe failed")

	// ErrUnknownProtocol is returned for a protocol tag with no registered
	// constructor.
	ErrUnknownProtocol = errors.New("unknown protocol")

	// ErrTransactionBuild marks a failure while encoding or gas-estimating
	// the liquidation transaction.
	ErrTransactionBuild = errors.New("transaction build failed")
)

// CollateralVault is the uniform adapter over one vault address.
//
// CheckLiquidation and UpdateLiquidity fail soft: on RPC errors they
// return zero values and +Inf scores respectively. Callers must treat
// those defaults as "unknown, recheck later", never as proof of health.
type CollateralVault interface {
	Address() common.Address
	Protocol() string
	Symbol() string
	TargetAsset() common.Address

	CheckLiquidation(ctx context.Context) LiquidationCheck
	UpdateLiquidity(ctx context.Context) HealthUpdate
	SimulateLiquidation(ctx context.Context) (*LiquidationPlan, bool)
	ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error)

	State() State
	NextUpdate() time.Time
	SetNextUpdate(t time.Time)

	Snapshot() Snapshot
	Restore(s Snapshot)
}

// LiquidationCheck is the raw liquidation status of a vault. All values
// are zero when the underlying reads failed.
type LiquidationCheck struct {
	CanLiquidate         bool
	ExternallyLiquidated bool
	MaxRelease           *big.Int
	MaxRepay             *big.Int
	TotalAssets          *big.Int
}

// HealthUpdate is the result of one health refresh. Scores are ratios;
// +Inf means no debt on the corresponding side.
type HealthUpdate struct {
	InternalHS           float64
	ExternalHS           float64
	ExternallyLiquidated bool
}

// LiquidationPlan is a built, gas-estimated liquidation transaction
// ready to sign and broadcast.
type LiquidationPlan struct {
	Tx              *types.Transaction
	NetProfit       *big.Int
	CollateralAsset common.Address
	External        bool
}

// State is the live view of a vault served by the snapshot API.
type State struct {
	Address              common.Address
	Protocol             string
	Symbol               string
	InternalHealthScore  float64
	ExternalHealthScore  float64
	InternalBorrowed     *big.Int
	ExternalBorrowed     *big.Int
	Balance              *big.Int
}

// MinHealthScore is the lower of the two health scores.
func (s State) MinHealthScore() float64 {
	return math.Min(s.InternalHealthScore, s.ExternalHealthScore)
}

// TotalBorrowedUSD is the combined debt in whole USD.
func (s State) TotalBorrowedUSD() float64 {
	total := new(big.Int).Add(s.InternalBorrowed, s.ExternalBorrowed)
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(total), big.NewFloat(1e18)).Float64()
	return f
}

// Snapshot is the persisted per-vault record. Everything else is
// recovered by re-probing the chain on load.
type Snapshot struct {
	Address             string  `json:"address"`
	Protocol            string  `json:"protocol"`
	TimeOfNextUpdate    float64 `json:"time_of_next_update"`
	InternalHealthScore Score   `json:"internal_health_score"`
	ExternalHealthScore Score   `json:"external_health_score"`
}

// Score is a health score that survives JSON round-trips when infinite.
// Infinity is encoded as the string "Infinity"; finite values are plain
// numbers.
type Score float64

func (s Score) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(s), 1) {
		return []byte(`"Infinity"`), nil
	}
	return []byte(strconv.FormatFloat(float64(s), 'g', -1, 64)), nil
}

func (s *Score) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"Infinity"`, `"inf"`, `null`:
		*s = Score(math.Inf(1))
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*s = Score(f)
	return nil
}

// SwapQuoter produces router calldata for swapping seized collateral to
// the repayment asset. Implemented by the 1inch client.
type SwapQuoter interface {
	SwapCalldata(ctx context.Context, src, dst common.Address, amount *big.Int, externallyLiquidated bool, slippage float64, from common.Address) ([]byte, error)
}

// Deps carries everything an adapter needs beyond its own address.
// NotifyError may be nil when no notification channel is configured.
type Deps struct {
	Chain       *config.Chain
	Backend     bind.ContractBackend
	Swapper     SwapQuoter
	Log         *logrus.Entry
	NotifyError func(msg string)
}
