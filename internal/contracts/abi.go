package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI fragments covering only the methods the bot calls. The
// collateral-vault ABI is the Aave superset; aToken() reverts on
// Euler-backed vaults, which the protocol probe relies on.

const collateralVaultABI = `[
  {"type":"function","name":"canLiquidate","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"isExternallyLiquidated","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"maxRelease","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"maxRepay","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"totalAssetsDepositedOrReserved","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"convertToAssets","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"asset","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"underlyingAsset","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"aToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"targetAsset","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"targetVault","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"intermediateVault","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"twyneVaultManager","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"collateralForBorrower","stateMutability":"view","inputs":[{"name":"liabilityValue","type":"uint256"},{"name":"collateralValue","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"borrower","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"totalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"maxWithdraw","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"redeemUnderlying","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const eVaultABI = `[
  {"type":"function","name":"asset","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"unitOfAccount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"convertToAssets","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"convertToShares","stateMutability":"view","inputs":[{"name":"assets","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"previewMint","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"accountLiquidity","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"liquidation","type":"bool"}],"outputs":[{"name":"collateralValue","type":"uint256"},{"name":"liabilityValue","type":"uint256"}]}
]`

const healthViewerABI = `[
  {"type":"function","name":"health","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"externalHF","type":"uint256"},{"name":"internalHF","type":"uint256"},{"name":"externalLiabilityValue","type":"uint256"},{"name":"internalLiabilityValue","type":"uint256"}]}
]`

const vaultManagerABI = `[
  {"type":"function","name":"oracleRouter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"maxTwyneLTVs","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const oracleRouterABI = `[
  {"type":"function","name":"getQuote","stateMutability":"view","inputs":[{"name":"inAmount","type":"uint256"},{"name":"base","type":"address"},{"name":"quote","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const aavePoolABI = `[
  {"type":"function","name":"getUserAccountData","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[
    {"name":"totalCollateralBase","type":"uint256"},
    {"name":"totalDebtBase","type":"uint256"},
    {"name":"availableBorrowsBase","type":"uint256"},
    {"name":"currentLiquidationThreshold","type":"uint256"},
    {"name":"ltv","type":"uint256"},
    {"name":"healthFactor","type":"uint256"}]}
]`

const aaveWrapperABI = `[
  {"type":"function","name":"latestAnswer","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int256"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"convertToAssets","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"convertToShares","stateMutability":"view","inputs":[{"name":"assets","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"previewMint","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABI = `[
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const liquidatorABI = `[
  {"type":"function","name":"liquidateCollateralVault","stateMutability":"nonpayable","inputs":[{"name":"collateralVault","type":"address"},{"name":"collateralFlashAmount","type":"uint256"},{"name":"swapData","type":"bytes"},{"name":"mode","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"liquidateExtLiquidatedCollateralVault","stateMutability":"nonpayable","inputs":[{"name":"collateralVault","type":"address"},{"name":"swapData","type":"bytes"},{"name":"mode","type":"uint256"}],"outputs":[]}
]`

const factoryABI = `[
  {"type":"event","name":"T_CollateralVaultCreated","anonymous":false,"inputs":[
    {"name":"vault","type":"address","indexed":true},
    {"name":"creator","type":"address","indexed":true}]},
  {"type":"function","name":"getCollateralVaults","stateMutability":"view","inputs":[{"name":"borrower","type":"address"}],"outputs":[{"name":"","type":"address[]"}]}
]`

const evcABI = `[
  {"type":"function","name":"getAccountOwner","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	CollateralVaultMeta = mustParse(collateralVaultABI)
	EVaultMeta          = mustParse(eVaultABI)
	HealthViewerMeta    = mustParse(healthViewerABI)
	VaultManagerMeta    = mustParse(vaultManagerABI)
	OracleRouterMeta    = mustParse(oracleRouterABI)
	AavePoolMeta        = mustParse(aavePoolABI)
	AaveWrapperMeta     = mustParse(aaveWrapperABI)
	ERC20Meta           = mustParse(erc20ABI)
	LiquidatorMeta      = mustParse(liquidatorABI)
	FactoryMeta         = mustParse(factoryABI)
	EVCMeta             = mustParse(evcABI)
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("contracts: bad ABI: " + err.Error())
	}
	return parsed
}
