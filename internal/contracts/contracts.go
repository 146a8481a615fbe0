// Package contracts holds the ABI fragments and thin read wrappers for
// every on-chain surface the bot touches: collateral vaults, EVaults,
// the health viewer, the vault manager and its oracle router, the Aave
// pool and wrapped aTokens, ERC20 metadata, the liquidator contracts
// and the factory's vault-created event.
package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type reader struct {
	addr     common.Address
	contract *bind.BoundContract
}

func newReader(addr common.Address, meta abi.ABI, backend bind.ContractBackend) reader {
	return reader{addr: addr, contract: bind.NewBoundContract(addr, meta, backend, backend, backend)}
}

func (r reader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	return out, err
}

func (r reader) Address() common.Address { return r.addr }

func (r reader) callBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := r.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (r reader) callAddr(ctx context.Context, method string, args ...interface{}) (common.Address, error) {
	out, err := r.call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func (r reader) callBool(ctx context.Context, method string) (bool, error) {
	out, err := r.call(ctx, method)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (r reader) callString(ctx context.Context, method string) (string, error) {
	out, err := r.call(ctx, method)
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

// CollateralVault reads a Twyne collateral vault. The binding carries
// the Aave superset; Euler-backed vaults revert on the Aave-only
// methods.
type CollateralVault struct{ reader }

func NewCollateralVault(addr common.Address, backend bind.ContractBackend) *CollateralVault {
	return &CollateralVault{newReader(addr, CollateralVaultMeta, backend)}
}

func (v *CollateralVault) CanLiquidate(ctx context.Context) (bool, error) {
	return v.callBool(ctx, "canLiquidate")
}

func (v *CollateralVault) IsExternallyLiquidated(ctx context.Context) (bool, error) {
	return v.callBool(ctx, "isExternallyLiquidated")
}

func (v *CollateralVault) MaxRelease(ctx context.Context) (*big.Int, error) {
	return v.callBig(ctx, "maxRelease")
}

func (v *CollateralVault) MaxRepay(ctx context.Context) (*big.Int, error) {
	return v.callBig(ctx, "maxRepay")
}

func (v *CollateralVault) TotalAssetsDepositedOrReserved(ctx context.Context) (*big.Int, error) {
	return v.callBig(ctx, "totalAssetsDepositedOrReserved")
}

func (v *CollateralVault) ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	return v.callBig(ctx, "convertToAssets", shares)
}

func (v *CollateralVault) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return v.callBig(ctx, "balanceOf", account)
}

func (v *CollateralVault) Asset(ctx context.Context) (common.Address, error) {
	return v.callAddr(ctx, "asset")
}

func (v *CollateralVault) UnderlyingAsset(ctx context.Context) (common.Address, error) {
	return v.callAddr(ctx, "underlyingAsset")
}

// AToken probes the Aave-only accessor. Euler-backed vaults revert here.
func (v *CollateralVault) AToken(ctx context.Context) (common.Address, error) {
	return v.callAddr(ctx, "aToken")
}

func (v *CollateralVault) TargetAsset(ctx context.Context) (common.Address, error) {
	return v.callAddr(ctx, "targetAsset")
}

func (v *CollateralVault) TargetVault(ctx context.Context) (common.Address, error) {
	return v.callAddr(ctx, "targetVault")
}

func (v *CollateralVault) IntermediateVault(ctx context.Context) (common.Address, error) {
	return v.callAddr(ctx, "intermediateVault")
}

func (v *CollateralVault) TwyneVaultManager(ctx context.Context) (common.Address, error) {
	return v.callAddr(ctx, "twyneVaultManager")
}

func (v *CollateralVault) CollateralForBorrower(ctx context.Context, liabilityValue, collateralValue *big.Int) (*big.Int, error) {
	return v.callBig(ctx, "collateralForBorrower", liabilityValue, collateralValue)
}

func (v *CollateralVault) Name(ctx context.Context) (string, error) {
	return v.callString(ctx, "name")
}

func (v *CollateralVault) Symbol(ctx context.Context) (string, error) {
	return v.callString(ctx, "symbol")
}

func (v *CollateralVault) Borrower(ctx context.Context) (common.Address, error) {
	return v.callAddr(ctx, "borrower")
}

func (v *CollateralVault) TotalAssets(ctx context.Context) (*big.Int, error) {
	return v.callBig(ctx, "totalAssets")
}

func (v *CollateralVault) MaxWithdraw(ctx context.Context, owner common.Address) (*big.Int, error) {
	return v.callBig(ctx, "maxWithdraw", owner)
}

// PackRedeemUnderlying encodes a full-collateral withdrawal to receiver.
func PackRedeemUnderlying(assets *big.Int, receiver common.Address) ([]byte, error) {
	return CollateralVaultMeta.Pack("redeemUnderlying", assets, receiver)
}

// EVault reads an Euler ERC4626 vault (target vault, intermediate vault
// or the collateral asset when it is itself an EVault share token).
type EVault struct{ reader }

func NewEVault(addr common.Address, backend bind.ContractBackend) *EVault {
	return &EVault{newReader(addr, EVaultMeta, backend)}
}

func (v *EVault) Asset(ctx context.Context) (common.Address, error) {
	return v.callAddr(ctx, "asset")
}

func (v *EVault) Symbol(ctx context.Context) (string, error) {
	return v.callString(ctx, "symbol")
}

func (v *EVault) UnitOfAccount(ctx context.Context) (common.Address, error) {
	return v.callAddr(ctx, "unitOfAccount")
}

func (v *EVault) ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	return v.callBig(ctx, "convertToAssets", shares)
}

func (v *EVault) ConvertToShares(ctx context.Context, assets *big.Int) (*big.Int, error) {
	return v.callBig(ctx, "convertToShares", assets)
}

func (v *EVault) PreviewMint(ctx context.Context, shares *big.Int) (*big.Int, error) {
	return v.callBig(ctx, "previewMint", shares)
}

func (v *EVault) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return v.callBig(ctx, "balanceOf", account)
}

// AccountLiquidity returns the risk-adjusted collateral and liability
// values of account, both in the vault's unit of account.
func (v *EVault) AccountLiquidity(ctx context.Context, account common.Address, liquidation bool) (collateral, liability *big.Int, err error) {
	out, err := v.call(ctx, "accountLiquidity", account, liquidation)
	if err != nil {
		return nil, nil, err
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// Health is the health viewer's per-vault readout: both health factors
// are 1e18-scaled, liabilities are USD values at 1e18 scale.
type Health struct {
	ExternalHF        *big.Int
	InternalHF        *big.Int
	ExternalLiability *big.Int
	InternalLiability *big.Int
}

// HealthViewer reads both health factors of a collateral vault in one call.
type HealthViewer struct{ reader }

func NewHealthViewer(addr common.Address, backend bind.ContractBackend) *HealthViewer {
	return &HealthViewer{newReader(addr, HealthViewerMeta, backend)}
}

func (h *HealthViewer) Health(ctx context.Context, vault common.Address) (Health, error) {
	out, err := h.call(ctx, "health", vault)
	if err != nil {
		return Health{}, err
	}
	return Health{
		ExternalHF:        out[0].(*big.Int),
		InternalHF:        out[1].(*big.Int),
		ExternalLiability: out[2].(*big.Int),
		InternalLiability: out[3].(*big.Int),
	}, nil
}

// VaultManager reads the Twyne vault manager.
type VaultManager struct{ reader }

func NewVaultManager(addr common.Address, backend bind.ContractBackend) *VaultManager {
	return &VaultManager{newReader(addr, VaultManagerMeta, backend)}
}

func (m *VaultManager) OracleRouter(ctx context.Context) (common.Address, error) {
	return m.callAddr(ctx, "oracleRouter")
}

// MaxTwyneLTV returns the maximum LTV for asset, scaled by 1e4.
func (m *VaultManager) MaxTwyneLTV(ctx context.Context, asset common.Address) (*big.Int, error) {
	return m.callBig(ctx, "maxTwyneLTVs", asset)
}

// OracleRouter prices an amount of base in units of quote.
type OracleRouter struct{ reader }

func NewOracleRouter(addr common.Address, backend bind.ContractBackend) *OracleRouter {
	return &OracleRouter{newReader(addr, OracleRouterMeta, backend)}
}

func (o *OracleRouter) GetQuote(ctx context.Context, amount *big.Int, base, quote common.Address) (*big.Int, error) {
	return o.callBig(ctx, "getQuote", amount, base, quote)
}

// AccountData is the Aave pool's per-user summary. Base-currency values
// use the pool's base unit (8 decimals on most deployments); the health
// factor is 1e18-scaled.
type AccountData struct {
	TotalCollateralBase *big.Int
	TotalDebtBase       *big.Int
	AvailableBorrows    *big.Int
	LiquidationThresh   *big.Int
	LTV                 *big.Int
	HealthFactor        *big.Int
}

// AavePool reads the Aave v3 pool.
type AavePool struct{ reader }

func NewAavePool(addr common.Address, backend bind.ContractBackend) *AavePool {
	return &AavePool{newReader(addr, AavePoolMeta, backend)}
}

func (p *AavePool) GetUserAccountData(ctx context.Context, user common.Address) (AccountData, error) {
	out, err := p.call(ctx, "getUserAccountData", user)
	if err != nil {
		return AccountData{}, err
	}
	return AccountData{
		TotalCollateralBase: out[0].(*big.Int),
		TotalDebtBase:       out[1].(*big.Int),
		AvailableBorrows:    out[2].(*big.Int),
		LiquidationThresh:   out[3].(*big.Int),
		LTV:                 out[4].(*big.Int),
		HealthFactor:        out[5].(*big.Int),
	}, nil
}

// AaveWrapper reads a wrapped aToken: 4626 conversions plus the price
// feed passthrough (latestAnswer / decimals).
type AaveWrapper struct{ reader }

func NewAaveWrapper(addr common.Address, backend bind.ContractBackend) *AaveWrapper {
	return &AaveWrapper{newReader(addr, AaveWrapperMeta, backend)}
}

func (w *AaveWrapper) LatestAnswer(ctx context.Context) (*big.Int, error) {
	return w.callBig(ctx, "latestAnswer")
}

func (w *AaveWrapper) Decimals(ctx context.Context) (uint8, error) {
	out, err := w.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

func (w *AaveWrapper) ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	return w.callBig(ctx, "convertToAssets", shares)
}

func (w *AaveWrapper) ConvertToShares(ctx context.Context, assets *big.Int) (*big.Int, error) {
	return w.callBig(ctx, "convertToShares", assets)
}

func (w *AaveWrapper) PreviewMint(ctx context.Context, shares *big.Int) (*big.Int, error) {
	return w.callBig(ctx, "previewMint", shares)
}

func (w *AaveWrapper) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return w.callBig(ctx, "balanceOf", account)
}

// ERC20 reads token metadata and balances.
type ERC20 struct{ reader }

func NewERC20(addr common.Address, backend bind.ContractBackend) *ERC20 {
	return &ERC20{newReader(addr, ERC20Meta, backend)}
}

func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	return t.callString(ctx, "symbol")
}

func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return t.callBig(ctx, "balanceOf", account)
}

func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.callBig(ctx, "allowance", owner, spender)
}

// EVC reads the Ethereum Vault Connector.
type EVC struct{ reader }

func NewEVC(addr common.Address, backend bind.ContractBackend) *EVC {
	return &EVC{newReader(addr, EVCMeta, backend)}
}

// GetAccountOwner returns the registered owner of a sub-account, or the
// zero address when the account has never interacted with the EVC.
func (e *EVC) GetAccountOwner(ctx context.Context, account common.Address) (common.Address, error) {
	return e.callAddr(ctx, "getAccountOwner", account)
}

// PackLiquidateCollateralVault encodes the calldata for a standard
// liquidation through the liquidator contract.
func PackLiquidateCollateralVault(vault common.Address, flashAmount *big.Int, swapData []byte) ([]byte, error) {
	return LiquidatorMeta.Pack("liquidateCollateralVault", vault, flashAmount, swapData, big.NewInt(1))
}

// PackLiquidateExtLiquidated encodes the calldata for clearing a vault
// whose target position was already liquidated externally.
func PackLiquidateExtLiquidated(vault common.Address, swapData []byte) ([]byte, error) {
	return LiquidatorMeta.Pack("liquidateExtLiquidatedCollateralVault", vault, swapData, big.NewInt(0))
}

// Factory reads the collateral-vault factory.
type Factory struct{ reader }

func NewFactory(addr common.Address, backend bind.ContractBackend) *Factory {
	return &Factory{newReader(addr, FactoryMeta, backend)}
}

// CollateralVaults lists every vault the factory deployed for borrower.
func (f *Factory) CollateralVaults(ctx context.Context, borrower common.Address) ([]common.Address, error) {
	out, err := f.call(ctx, "getCollateralVaults", borrower)
	if err != nil {
		return nil, err
	}
	return out[0].([]common.Address), nil
}

// VaultCreatedTopic is the factory event signature hash used to filter
// deployment logs.
var VaultCreatedTopic = FactoryMeta.Events["T_CollateralVaultCreated"].ID

// ParseVaultCreated extracts the new vault address from a factory log.
// The second return is false when the log is not a vault-created event.
func ParseVaultCreated(lg types.Log) (common.Address, bool) {
	if len(lg.Topics) < 2 || lg.Topics[0] != VaultCreatedTopic {
		return common.Address{}, false
	}
	return common.BytesToAddress(lg.Topics[1].Bytes()), true
}
