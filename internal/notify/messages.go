package notify

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func usd(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}

func stamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// SpyLink builds a Twyne spy-mode URL for a vault. The sub-account
// number is the XOR of the vault address and its EVC owner; vaults with
// no registered owner are their own owner.
func (n *Notifier) SpyLink(ctx context.Context, account common.Address) string {
	owner, err := n.evc.GetAccountOwner(ctx, account)
	if err != nil || owner == (common.Address{}) {
		owner = account
	}
	sub := new(big.Int).Xor(new(big.Int).SetBytes(account.Bytes()), new(big.Int).SetBytes(owner.Bytes()))
	return fmt.Sprintf("https://app.twyne.xyz/account/%s?spy=%s&chainId=%d", sub, owner.Hex(), n.chainID)
}

// UnhealthyAccount announces a vault that crossed a liquidation
// threshold.
func (n *Notifier) UnhealthyAccount(vault common.Address, externallyLiquidated bool, internalHS, externalHS float64, internalBorrowed, externalBorrowed *big.Int) {
	body := fmt.Sprintf(
		":warning: *Unhealthy Account Detected* :warning:\n\n"+
			"*Vault*: `%s`\n"+
			"*Externally Liquidated*: `%t`\n"+
			"*Internal Health Score*: `%.4f`\n"+
			"*External Health Score*: `%.4f`\n"+
			"*Internal Value Borrowed*: `$%.2f`\n"+
			"*External Value Borrowed*: `$%.2f`\n"+
			"Time of detection: %s\n"+
			"Network: `%s` %s\n",
		vault.Hex(), externallyLiquidated, internalHS, externalHS,
		usd(internalBorrowed), usd(externalBorrowed), stamp(), n.chainName, n.mentions())
	n.Post("Unhealthy Account Detected", body)
}

// Opportunity announces a profitable liquidation about to be submitted.
func (n *Notifier) Opportunity(vault, collateralAsset common.Address, netProfit *big.Int) {
	body := fmt.Sprintf(
		":rotating_light: *Profitable Liquidation Opportunity Detected* :rotating_light:\n\n"+
			"*Vault*: `%s`\n\n"+
			"*Liquidation Opportunity Details:*\n"+
			"• Profit: $%.6f\n"+
			"• Collateral Asset: `%s`\n"+
			"Time of detection: %s\n\n"+
			"Network: `%s` %s",
		vault.Hex(), usd(netProfit), collateralAsset.Hex(), stamp(), n.chainName, n.mentions())
	n.Post("Profitable Liquidation Opportunity Detected", body)
}

// Result announces a confirmed liquidation transaction.
func (n *Notifier) Result(vault, collateralAsset common.Address, netProfit *big.Int, txHash common.Hash) {
	txURL := fmt.Sprintf("%s/tx/%s", n.explorerURL, txHash.Hex())
	body := fmt.Sprintf(
		":moneybag: *Liquidation Completed* :moneybag:\n\n"+
			"*Vault*: `%s`\n\n"+
			"*Liquidation Details:*\n"+
			"• Profit: $%.6f\n"+
			"• Collateral Asset: `%s`\n"+
			"• Liquidation Transaction: <%s|View Transaction on Explorer>\n"+
			"Time of liquidation: %s\n\n"+
			"Network: `%s` %s",
		vault.Hex(), usd(netProfit), collateralAsset.Hex(), txURL, stamp(), n.chainName, n.mentions())
	n.Post("Liquidation Completed", body)
}

// Error posts an error burst notification.
func (n *Notifier) Error(msg string) {
	body := fmt.Sprintf(
		":rotating_light: *Error Notification* :rotating_light:\n\n%s\n\n"+
			"Time: %s\nNetwork: `%s` %s",
		msg, stamp(), n.chainName, n.mentions())
	n.Post("Error Notification", body)
}

// ReportEntry is one row of the low-health digest, already sorted by
// ascending minimum health score.
type ReportEntry struct {
	Address          common.Address
	InternalHS       float64
	ExternalHS       float64
	TotalBorrowedUSD float64
	Symbol           string
}

const reportMaxRows = 50

// HealthReport posts the periodic digest of low-health and watchlisted
// vaults. totalAccounts and totalReservedUSD cover the whole vault set,
// not just the rows shown.
func (n *Notifier) HealthReport(ctx context.Context, entries []ReportEntry, totalAccounts int, totalReservedUSD, reportThreshold float64) {
	var b strings.Builder
	b.WriteString("*Account Health Report*\n\n")

	if len(entries) == 0 {
		fmt.Fprintf(&b, "No accounts with health score below `%g` detected.\n", reportThreshold)
	} else {
		for i, e := range entries {
			if i >= reportMaxRows {
				break
			}
			label := ""
			if n.Watched(e.Address.Hex()) {
				label = " *Watchlist*"
			}
			fmt.Fprintf(&b,
				"%d. `%s`%s Internal health score: `%.4f`, External health score: `%.4f`, "+
					"Total borrow value: `$%.2f`, collateral asset: `%s`, <%s|Spy Mode>\n",
				i+1, e.Address.Hex(), label, e.InternalHS, e.ExternalHS,
				e.TotalBorrowedUSD, e.Symbol, n.SpyLink(ctx, e.Address))
		}
		fmt.Fprintf(&b, "\nTotal accounts with health score below `%g` and value larger than `%g`: `%d`",
			reportThreshold, n.borrowThreshold, len(entries))
	}

	fmt.Fprintf(&b, "\nTotal Twyne reserved assets amount in USD across all `%d` collateral vaults: `$%.2f`",
		totalAccounts, totalReservedUSD)
	if n.riskDashboardURL != "" {
		fmt.Fprintf(&b, "\n<%s|Risk Dashboard>", n.riskDashboardURL)
	}
	fmt.Fprintf(&b, "\nTime of report: `%s`", stamp())
	fmt.Fprintf(&b, "\nNetwork: `%s`", n.chainName)

	n.Post("Account Health Report", b.String())
}
