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

// aaveVault backs its position on the Aave v3 pool. The collateral asset
// is a wrapped aToken; prices come from the wrapper's feed passthrough
// (latestAnswer, decimals) and debt from the pool's getUserAccountData.
type aaveVault struct {
	base

	asset   *contracts.AaveWrapper
	pool    *contracts.AavePool
	manager *contracts.VaultManager

	assetAddr       common.Address
	underlyingAsset common.Address
	aToken          common.Address
	targetAsset     common.Address
	liquidator      common.Address
}

func newAaveVault(ctx context.Context, addr common.Address, deps Deps) (CollateralVault, error) {
	v := &aaveVault{base: newBase(addr, ProtocolAave, deps)}
	v.liquidator = deps.Chain.AaveLiquidator

	var err error
	if v.assetAddr, err = v.contract.Asset(ctx); err != nil {
		return nil, fmt.Errorf("aave vault %s: read asset: %w", addr.Hex(), err)
	}
	v.asset = contracts.NewAaveWrapper(v.assetAddr, deps.Backend)

	if v.underlyingAsset, err = v.contract.UnderlyingAsset(ctx); err != nil {
		return nil, fmt.Errorf("aave vault %s: read underlying asset: %w", addr.Hex(), err)
	}
	symbol, err := contracts.NewERC20(v.underlyingAsset, deps.Backend).Symbol(ctx)
	if err != nil {
		return nil, fmt.Errorf("aave vault %s: read underlying symbol: %w", addr.Hex(), err)
	}
	v.setSymbol(symbol)

	if v.aToken, err = v.contract.AToken(ctx); err != nil {
		return nil, fmt.Errorf("aave vault %s: read aToken: %w", addr.Hex(), err)
	}
	if v.targetAsset, err = v.contract.TargetAsset(ctx); err != nil {
		return nil, fmt.Errorf("aave vault %s: read target asset: %w", addr.Hex(), err)
	}

	// For Aave-backed vaults the target vault slot holds the pool.
	poolAddr, err := v.contract.TargetVault(ctx)
	if err != nil {
		return nil, fmt.Errorf("aave vault %s: read pool address: %w", addr.Hex(), err)
	}
	v.pool = contracts.NewAavePool(poolAddr, deps.Backend)

	managerAddr, err := v.contract.TwyneVaultManager(ctx)
	if err != nil {
		return nil, fmt.Errorf("aave vault %s: read vault manager: %w", addr.Hex(), err)
	}
	v.manager = contracts.NewVaultManager(managerAddr, deps.Backend)

	balance, err := v.contract.BalanceOf(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("aave vault %s: read balance: %w", addr.Hex(), err)
	}
	v.setBalance(balance)

	return v, nil
}

func (v *aaveVault) TargetAsset() common.Address { return v.targetAsset }

func (v *aaveVault) SimulateLiquidation(ctx context.Context) (*LiquidationPlan, bool) {
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

func (v *aaveVault) simulate(ctx context.Context) (*LiquidationPlan, error) {
	chk := v.CheckLiquidation(ctx)
	if !chk.CanLiquidate && !chk.ExternallyLiquidated {
		return nil, nil
	}

	if chk.CanLiquidate {
		return v.buildInternal(ctx, chk)
	}
	return v.buildExternal(ctx, chk)
}

// price converts a share amount to the pool's base currency using the
// wrapper's feed.
func (v *aaveVault) price(ctx context.Context, shares *big.Int) (*big.Int, error) {
	answer, err := v.asset.LatestAnswer(ctx)
	if err != nil {
		return nil, fmt.Errorf("read price feed: %w", err)
	}
	decimals, err := v.asset.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("read feed decimals: %w", err)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value := new(big.Int).Mul(shares, answer)
	return value.Div(value, scale), nil
}

// collateralForBorrower prices the user-owned collateral and current
// debt to get the borrower's protected share amount.
func (v *aaveVault) collateralForBorrower(ctx context.Context, chk LiquidationCheck) (*big.Int, error) {
	data, err := v.pool.GetUserAccountData(ctx, v.address)
	if err != nil {
		return nil, fmt.Errorf("read account data: %w", err)
	}
	userOwned := new(big.Int).Sub(chk.TotalAssets, chk.MaxRelease)
	collateralValue, err := v.price(ctx, userOwned)
	if err != nil {
		return nil, err
	}
	return v.contract.CollateralForBorrower(ctx, data.TotalDebtBase, collateralValue)
}

func (v *aaveVault) buildInternal(ctx context.Context, chk LiquidationCheck) (*LiquidationPlan, error) {
	cForB, err := v.collateralForBorrower(ctx, chk)
	if err != nil {
		return nil, err
	}
	cForBUnderlying, err := v.asset.PreviewMint(ctx, cForB)
	if err != nil {
		return nil, fmt.Errorf("preview mint borrower claim: %w", err)
	}
	flashAmount := new(big.Int).Mul(cForBUnderlying, big.NewInt(3))

	userOwned := new(big.Int).Sub(chk.TotalAssets, chk.MaxRelease)
	remainingShares := new(big.Int).Sub(userOwned, cForB)
	amount, err := v.asset.ConvertToAssets(ctx, remainingShares)
	if err != nil {
		return nil, fmt.Errorf("convert remaining shares: %w", err)
	}
	amount.Sub(amount, new(big.Int).Div(amount, big.NewInt(1000)))

	if amount.Sign() <= 0 {
		v.log.Warn("no underlying to swap after liquidation")
		return nil, nil
	}

	data, err := v.deps.Swapper.SwapCalldata(ctx, v.underlyingAsset, v.targetAsset, amount, false, 1.0, v.liquidator)
	if err != nil {
		return nil, fmt.Errorf("fetch swap calldata: %w", err)
	}

	calldata, err := contracts.PackLiquidateCollateralVault(v.address, flashAmount, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionBuild, err)
	}

	// Gross profit: seized collateral value minus outstanding debt, both
	// in the pool's base currency.
	seizedValue, err := v.price(ctx, userOwned)
	if err != nil {
		return nil, err
	}
	accountData, err := v.pool.GetUserAccountData(ctx, v.address)
	if err != nil {
		return nil, fmt.Errorf("read account data: %w", err)
	}
	profit := new(big.Int).Sub(seizedValue, accountData.TotalDebtBase)

	return v.finalize(ctx, calldata, profit, false)
}

func (v *aaveVault) buildExternal(ctx context.Context, chk LiquidationCheck) (*LiquidationPlan, error) {
	if chk.MaxRepay.Sign() == 0 {
		// Zero-debt clear: empty swap calldata, profit 0.
		calldata, err := contracts.PackLiquidateExtLiquidated(v.address, []byte{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransactionBuild, err)
		}
		return v.finalize(ctx, calldata, new(big.Int), true)
	}

	collateralBalance, err := v.asset.BalanceOf(ctx, v.address)
	if err != nil {
		return nil, fmt.Errorf("read collateral balance: %w", err)
	}
	maxLTV, err := v.manager.MaxTwyneLTV(ctx, v.assetAddr)
	if err != nil {
		return nil, fmt.Errorf("read max LTV: %w", err)
	}

	answer, err := v.asset.LatestAnswer(ctx)
	if err != nil {
		return nil, fmt.Errorf("read price feed: %w", err)
	}
	decimals, err := v.asset.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("read feed decimals: %w", err)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	userCollateralValue := new(big.Int).Mul(chk.MaxRepay, big.NewInt(maxLTVFactor))
	userCollateralValue.Div(userCollateralValue, maxLTV)
	userCollateralShares := new(big.Int).Mul(userCollateralValue, scale)
	userCollateralShares.Div(userCollateralShares, answer)
	userCollateralShares = minBig(collateralBalance, userCollateralShares)

	releaseAmount := minBig(new(big.Int).Sub(collateralBalance, userCollateralShares), chk.MaxRelease)
	cNew := new(big.Int).Sub(collateralBalance, releaseAmount)
	cNewValue := new(big.Int).Mul(cNew, answer)
	cNewValue.Div(cNewValue, scale)

	accountData, err := v.pool.GetUserAccountData(ctx, v.address)
	if err != nil {
		return nil, fmt.Errorf("read account data: %w", err)
	}
	borrowerClaim, err := v.contract.CollateralForBorrower(ctx, accountData.TotalDebtBase, cNewValue)
	if err != nil {
		return nil, fmt.Errorf("read borrower claim: %w", err)
	}
	rewardShares := new(big.Int).Sub(cNew, borrowerClaim)
	amount, err := v.asset.ConvertToAssets(ctx, rewardShares)
	if err != nil {
		return nil, fmt.Errorf("convert reward shares: %w", err)
	}

	if amount.Sign() <= 0 {
		v.log.Warn("no underlying to swap")
		return nil, nil
	}

	data, err := v.deps.Swapper.SwapCalldata(ctx, v.underlyingAsset, v.targetAsset, amount, true, 0, v.liquidator)
	if err != nil {
		return nil, fmt.Errorf("fetch swap calldata: %w", err)
	}

	minReturn, ok := swap.DecodeMinReturn(data, v.deps.Chain.MinReturnOffset)
	if !ok {
		return nil, fmt.Errorf("swap calldata too short for minReturn at offset %d", v.deps.Chain.MinReturnOffset)
	}
	if minReturn.Cmp(chk.MaxRepay) < 0 {
		v.log.WithFields(logrus.Fields{
			"min_return": minReturn,
			"max_repay":  chk.MaxRepay,
			"shortfall":  new(big.Int).Sub(chk.MaxRepay, minReturn),
		}).Warn("unprofitable external liquidation, swap cannot cover repayment")
		return nil, nil
	}

	calldata, err := contracts.PackLiquidateExtLiquidated(v.address, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionBuild, err)
	}

	rewardValue := new(big.Int).Mul(rewardShares, answer)
	rewardValue.Div(rewardValue, scale)
	profit := new(big.Int).Sub(rewardValue, accountData.TotalDebtBase)

	return v.finalize(ctx, calldata, profit, true)
}

// finalize estimates gas, applies the net-profit guards and assembles
// the transaction.
func (v *aaveVault) finalize(ctx context.Context, calldata []byte, profit *big.Int, external bool) (*LiquidationPlan, error) {
	gasPrice, err := v.deps.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	nonce, err := v.deps.Backend.PendingNonceAt(ctx, v.deps.Chain.LiquidatorEOA)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	gas, err := v.deps.Backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     v.deps.Chain.LiquidatorEOA,
		To:       &v.liquidator,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas: %v", ErrTransactionBuild, err)
	}
	gas *= 2

	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
	netProfit := new(big.Int).Sub(profit, gasCost)
	if !external && netProfit.Sign() <= 0 {
		v.log.WithField("net_profit", netProfit).Info("no profit after gas, skipping")
		return nil, nil
	}
	if external && netProfit.Sign() < 0 {
		netProfit = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &v.liquidator,
		Value:    new(big.Int),
		Data:     calldata,
	})
	return &LiquidationPlan{
		Tx:              tx,
		NetProfit:       netProfit,
		CollateralAsset: v.underlyingAsset,
		External:        external,
	}, nil
}
