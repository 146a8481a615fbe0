package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/contracts"
	"github.com/twynelabs/liqbot/internal/swap"
)

// maxLTVFactor is the scale of the vault manager's maxTwyneLTVs values.
const maxLTVFactor = 10000

// eulerVault backs its position on an Euler EVault. The collateral asset
// is itself an EVault share token; prices come from the Twyne oracle
// router in the intermediate vault's unit of account.
type eulerVault struct {
	base

	asset        *contracts.EVault
	targetVault  *contracts.EVault
	intermediate *contracts.EVault
	manager      *contracts.VaultManager
	oracle       *contracts.OracleRouter

	assetAddr       common.Address
	underlyingAsset common.Address
	targetAsset     common.Address
	unitOfAccount   common.Address
	liquidator      common.Address
}

func newEulerVault(ctx context.Context, addr common.Address, deps Deps) (CollateralVault, error) {
	v := &eulerVault{base: newBase(addr, ProtocolEuler, deps)}
	v.liquidator = deps.Chain.EulerLiquidator

	var err error
	if v.assetAddr, err = v.contract.Asset(ctx); err != nil {
		return nil, fmt.Errorf("euler vault %s: read asset: %w", addr.Hex(), err)
	}
	v.asset = contracts.NewEVault(v.assetAddr, deps.Backend)

	if v.underlyingAsset, err = v.asset.Asset(ctx); err != nil {
		return nil, fmt.Errorf("euler vault %s: read underlying asset: %w", addr.Hex(), err)
	}
	symbol, err := v.asset.Symbol(ctx)
	if err != nil {
		return nil, fmt.Errorf("euler vault %s: read asset symbol: %w", addr.Hex(), err)
	}
	v.setSymbol(symbol)

	if v.targetAsset, err = v.contract.TargetAsset(ctx); err != nil {
		return nil, fmt.Errorf("euler vault %s: read target asset: %w", addr.Hex(), err)
	}
	targetVaultAddr, err := v.contract.TargetVault(ctx)
	if err != nil {
		return nil, fmt.Errorf("euler vault %s: read target vault: %w", addr.Hex(), err)
	}
	v.targetVault = contracts.NewEVault(targetVaultAddr, deps.Backend)

	intermediateAddr, err := v.contract.IntermediateVault(ctx)
	if err != nil {
		return nil, fmt.Errorf("euler vault %s: read intermediate vault: %w", addr.Hex(), err)
	}
	v.intermediate = contracts.NewEVault(intermediateAddr, deps.Backend)
	if v.unitOfAccount, err = v.intermediate.UnitOfAccount(ctx); err != nil {
		return nil, fmt.Errorf("euler vault %s: read unit of account: %w", addr.Hex(), err)
	}

	managerAddr, err := v.contract.TwyneVaultManager(ctx)
	if err != nil {
		return nil, fmt.Errorf("euler vault %s: read vault manager: %w", addr.Hex(), err)
	}
	v.manager = contracts.NewVaultManager(managerAddr, deps.Backend)
	oracleAddr, err := v.manager.OracleRouter(ctx)
	if err != nil {
		return nil, fmt.Errorf("euler vault %s: read oracle router: %w", addr.Hex(), err)
	}
	v.oracle = contracts.NewOracleRouter(oracleAddr, deps.Backend)

	balance, err := v.contract.BalanceOf(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("euler vault %s: read balance: %w", addr.Hex(), err)
	}
	v.setBalance(balance)

	return v, nil
}

func (v *eulerVault) TargetAsset() common.Address { return v.targetAsset }

// SimulateLiquidation runs the full pipeline: opportunity gating, gross
// profit, swap calldata, transaction build and gas-estimated net profit.
// It fails soft; unexpected errors are posted through the throttled
// error channel.
func (v *eulerVault) SimulateLiquidation(ctx context.Context) (*LiquidationPlan, bool) {
	plan, err := v.simulate(ctx)
	if err != nil {
		v.log.WithError(err).Error("liquidation simulation failed")
		v.notifyError("liquidation simulation failed for %s (collateral %s): %v",
			v.address.Hex(), v.underlyingAsset.Hex(), err)
		return nil, false
	}
	if plan == nil {
		return nil, false
	}
	return plan, true
}

func (v *eulerVault) simulate(ctx context.Context) (*LiquidationPlan, error) {
	if v.targetAsset == v.deps.Chain.USDS && v.targetAsset != (common.Address{}) {
		v.log.Info("skipping position with USDS debt")
		return nil, nil
	}

	chk := v.CheckLiquidation(ctx)
	seized := new(big.Int).Sub(chk.TotalAssets, chk.MaxRelease)

	switch {
	case !chk.CanLiquidate && !chk.ExternallyLiquidated:
		return nil, nil
	case chk.ExternallyLiquidated && chk.MaxRelease.Sign() == 0:
		v.log.Info("externally liquidated with no credit reserved, skipping")
		return nil, nil
	case seized.Sign() <= 0:
		v.log.Info("no collateral seized, skipping")
		return nil, nil
	}

	collateralValue, err := v.oracle.GetQuote(ctx, seized, v.assetAddr, v.unitOfAccount)
	if err != nil {
		return nil, fmt.Errorf("quote seized collateral: %w", err)
	}
	_, debtValue, err := v.targetVault.AccountLiquidity(ctx, v.address, true)
	if err != nil {
		return nil, fmt.Errorf("read account liquidity: %w", err)
	}

	var profit *big.Int
	if chk.ExternallyLiquidated {
		if profit, err = v.externalProfit(ctx, chk, debtValue); err != nil {
			return nil, err
		}
	} else {
		profit = new(big.Int).Sub(collateralValue, debtValue)
	}

	if profit.Sign() <= 0 && !chk.ExternallyLiquidated {
		v.log.WithField("profit", profit).Info("no gross profit, skipping")
		return nil, nil
	}

	return v.buildTransaction(ctx, profit)
}

// externalProfit values the residual claim on an externally liquidated
// vault: the collateral left after the borrower's claim, priced by the
// oracle, minus the remaining debt. May be negative.
func (v *eulerVault) externalProfit(ctx context.Context, chk LiquidationCheck, debtValue *big.Int) (*big.Int, error) {
	rewardShares, _, err := v.externalRewardShares(ctx, chk.MaxRepay, chk.MaxRelease)
	if err != nil {
		return nil, err
	}
	rewardUSD, err := v.oracle.GetQuote(ctx, rewardShares, v.assetAddr, v.unitOfAccount)
	if err != nil {
		return nil, fmt.Errorf("quote liquidator reward: %w", err)
	}
	return new(big.Int).Sub(rewardUSD, debtValue), nil
}

// externalRewardShares computes the share amount the liquidator keeps
// after an external liquidation: the vault balance net of the amount
// releasable to credit and the borrower's remaining claim.
func (v *eulerVault) externalRewardShares(ctx context.Context, maxRepay, maxRelease *big.Int) (rewardShares, debtValue *big.Int, err error) {
	maxLTV, err := v.manager.MaxTwyneLTV(ctx, v.assetAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("read max LTV: %w", err)
	}
	repayScaled := new(big.Int).Mul(maxRepay, big.NewInt(maxLTVFactor))
	repayScaled.Div(repayScaled, maxLTV)

	userCollateralUnderlying, err := v.oracle.GetQuote(ctx, repayScaled, v.targetAsset, v.underlyingAsset)
	if err != nil {
		return nil, nil, fmt.Errorf("quote user collateral: %w", err)
	}
	collateralBalance, err := v.asset.BalanceOf(ctx, v.address)
	if err != nil {
		return nil, nil, fmt.Errorf("read collateral balance: %w", err)
	}
	userCollateralShares, err := v.asset.ConvertToShares(ctx, userCollateralUnderlying)
	if err != nil {
		return nil, nil, fmt.Errorf("convert user collateral: %w", err)
	}
	userCollateral := minBig(collateralBalance, userCollateralShares)

	releaseAmount := minBig(new(big.Int).Sub(collateralBalance, userCollateral), maxRelease)
	cNew := new(big.Int).Sub(collateralBalance, releaseAmount)
	cNewUSD, err := v.oracle.GetQuote(ctx, cNew, v.assetAddr, v.unitOfAccount)
	if err != nil {
		return nil, nil, fmt.Errorf("quote remaining collateral: %w", err)
	}
	_, debtValue, err = v.targetVault.AccountLiquidity(ctx, v.address, true)
	if err != nil {
		return nil, nil, fmt.Errorf("read account liquidity: %w", err)
	}
	borrowerClaim, err := v.contract.CollateralForBorrower(ctx, debtValue, cNewUSD)
	if err != nil {
		return nil, nil, fmt.Errorf("read borrower claim: %w", err)
	}
	rewardShares = new(big.Int).Sub(cNew, borrowerClaim)
	return rewardShares, debtValue, nil
}

// collateralForBorrower prices the vault's collateral and current debt
// to get the borrower's protected share amount.
func (v *eulerVault) collateralForBorrower(ctx context.Context) (*big.Int, error) {
	cNative, err := v.contract.BalanceOf(ctx, v.address)
	if err != nil {
		return nil, fmt.Errorf("read vault balance: %w", err)
	}
	cUSD, err := v.oracle.GetQuote(ctx, cNative, v.assetAddr, v.unitOfAccount)
	if err != nil {
		return nil, fmt.Errorf("quote vault balance: %w", err)
	}
	_, bUSD, err := v.targetVault.AccountLiquidity(ctx, v.address, true)
	if err != nil {
		return nil, fmt.Errorf("read account liquidity: %w", err)
	}
	return v.contract.CollateralForBorrower(ctx, bUSD, cUSD)
}

func (v *eulerVault) buildTransaction(ctx context.Context, profit *big.Int) (*LiquidationPlan, error) {
	gasPrice, err := v.deps.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	tipCap, err := v.deps.Backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip: %w", err)
	}
	doubled := new(big.Int).Mul(gasPrice, big.NewInt(2))
	withTip := new(big.Int).Add(doubled, new(big.Int).Mul(tipCap, big.NewInt(2)))
	price := minBig(doubled, withTip)

	nonce, err := v.deps.Backend.PendingNonceAt(ctx, v.deps.Chain.LiquidatorEOA)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	// Re-check: state may have moved since the profit calculation.
	chk := v.CheckLiquidation(ctx)

	amount, err := v.swapAmount(ctx, chk)
	if err != nil {
		return nil, err
	}
	swapData, ok, err := v.swapCalldata(ctx, amount, chk)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var (
		data     []byte
		external bool
	)
	switch {
	case chk.CanLiquidate:
		cForB, err := v.collateralForBorrower(ctx)
		if err != nil {
			return nil, err
		}
		cForBUnderlying, err := v.asset.PreviewMint(ctx, cForB)
		if err != nil {
			return nil, fmt.Errorf("preview mint borrower claim: %w", err)
		}
		flashAmount := new(big.Int).Mul(cForBUnderlying, big.NewInt(3))
		if data, err = contracts.PackLiquidateCollateralVault(v.address, flashAmount, swapData); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransactionBuild, err)
		}
	case chk.ExternallyLiquidated:
		external = true
		if data, err = contracts.PackLiquidateExtLiquidated(v.address, swapData); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransactionBuild, err)
		}
	default:
		return nil, nil
	}

	gas, err := v.deps.Backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     v.deps.Chain.LiquidatorEOA,
		To:       &v.liquidator,
		GasPrice: price,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas: %v", ErrTransactionBuild, err)
	}
	gas *= 2

	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gas), price)
	netProfit := new(big.Int).Sub(profit, gasCost)

	if chk.CanLiquidate && netProfit.Sign() <= 0 {
		v.log.WithField("net_profit", netProfit).Info("no profit after gas, skipping")
		return nil, nil
	}
	if external && netProfit.Sign() < 0 {
		netProfit = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas,
		To:       &v.liquidator,
		Value:    new(big.Int),
		Data:     data,
	})
	return &LiquidationPlan{
		Tx:              tx,
		NetProfit:       netProfit,
		CollateralAsset: v.underlyingAsset,
		External:        external,
	}, nil
}

// swapAmount is the underlying token amount to swap to the repayment
// asset. The internal branch keeps a fixed 10 bp margin against swap
// rounding.
func (v *eulerVault) swapAmount(ctx context.Context, chk LiquidationCheck) (*big.Int, error) {
	if chk.CanLiquidate {
		cForB, err := v.collateralForBorrower(ctx)
		if err != nil {
			return nil, err
		}
		userOwned := new(big.Int).Sub(chk.TotalAssets, chk.MaxRelease)
		userOwnedUnderlying, err := v.asset.ConvertToAssets(ctx, userOwned)
		if err != nil {
			return nil, fmt.Errorf("convert seized collateral: %w", err)
		}
		cForBUnderlying, err := v.asset.PreviewMint(ctx, cForB)
		if err != nil {
			return nil, fmt.Errorf("preview mint borrower claim: %w", err)
		}
		margin := new(big.Int).Div(cForBUnderlying, big.NewInt(1000))
		amount := new(big.Int).Sub(userOwnedUnderlying, cForBUnderlying)
		return amount.Sub(amount, margin), nil
	}

	if chk.ExternallyLiquidated {
		if chk.MaxRepay.Sign() == 0 {
			v.log.Info("external liquidation with zero maxRepay, no swap needed")
			return new(big.Int), nil
		}
		rewardShares, _, err := v.externalRewardShares(ctx, chk.MaxRepay, chk.MaxRelease)
		if err != nil {
			return nil, err
		}
		return v.asset.ConvertToAssets(ctx, rewardShares)
	}

	return new(big.Int), nil
}

// swapCalldata fetches router calldata for the swap. Returns ok=false
// when the opportunity must be abandoned (quote unavailable, or the
// quoted minReturn cannot cover maxRepay on an external liquidation).
func (v *eulerVault) swapCalldata(ctx context.Context, amount *big.Int, chk LiquidationCheck) ([]byte, bool, error) {
	if amount.Sign() <= 0 {
		return []byte{}, true, nil
	}

	slippage := 1.0
	if chk.ExternallyLiquidated {
		slippage = 0
	}
	data, err := v.deps.Swapper.SwapCalldata(ctx, v.underlyingAsset, v.targetAsset, amount,
		chk.ExternallyLiquidated, slippage, v.liquidator)
	if err != nil {
		return nil, false, fmt.Errorf("fetch swap calldata: %w", err)
	}

	if chk.ExternallyLiquidated && chk.MaxRepay.Sign() > 0 {
		minReturn, ok := swap.DecodeMinReturn(data, v.deps.Chain.MinReturnOffset)
		if !ok {
			return nil, false, fmt.Errorf("swap calldata too short for minReturn at offset %d", v.deps.Chain.MinReturnOffset)
		}
		if minReturn.Cmp(chk.MaxRepay) < 0 {
			shortfall := new(big.Int).Sub(chk.MaxRepay, minReturn)
			v.log.WithFields(logrus.Fields{
				"min_return": minReturn,
				"max_repay":  chk.MaxRepay,
				"shortfall":  shortfall,
			}).Warn("unprofitable external liquidation, swap cannot cover repayment")
			return nil, false, nil
		}
	}
	return data, true, nil
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
