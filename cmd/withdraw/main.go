// withdraw redeems collateral from the operator's own collateral
// vaults: it lists the factory's vaults for the liquidator EOA, keeps
// those it borrows from with a non-zero balance and withdraws each in
// full.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/config"
	"github.com/twynelabs/liqbot/internal/contracts"
	"github.com/twynelabs/liqbot/internal/ethrpc"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	chainID := flag.Int64("chain", 8453, "chain id")
	recipientFlag := flag.String("recipient", "", "withdrawal recipient (default: liquidator EOA)")
	flag.Parse()

	godotenv.Load()
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	file, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg, err := file.ResolveChain(*chainID)
	if err != nil {
		log.Fatalf("resolve chain %d: %v", *chainID, err)
	}

	recipient := cfg.LiquidatorEOA
	if *recipientFlag != "" {
		recipient = common.HexToAddress(*recipientFlag)
	}

	client, err := ethrpc.Client(cfg.RPCURL)
	if err != nil {
		log.Fatalf("dial rpc: %v", err)
	}
	defer ethrpc.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	vaults, err := ownedVaults(ctx, cfg, client, log)
	if err != nil {
		log.Fatalf("list vaults: %v", err)
	}
	if len(vaults) == 0 {
		log.Info("no active collateral vaults to withdraw from")
		return
	}

	for _, addr := range vaults {
		if err := withdrawAll(ctx, cfg, client, addr, recipient, log); err != nil {
			log.WithField("vault", addr.Hex()).WithError(err).Error("withdrawal failed")
		}
	}
}

// ownedVaults returns the EOA's vaults that still hold collateral.
func ownedVaults(ctx context.Context, cfg *config.Chain, client *ethclient.Client, log *logrus.Logger) ([]common.Address, error) {
	factory := contracts.NewFactory(cfg.FactoryAddress, client)
	candidates, err := factory.CollateralVaults(ctx, cfg.LiquidatorEOA)
	if err != nil {
		return nil, fmt.Errorf("factory vault list: %w", err)
	}

	var owned []common.Address
	for _, addr := range candidates {
		v := contracts.NewCollateralVault(addr, client)
		borrower, err := v.Borrower(ctx)
		if err != nil {
			return nil, fmt.Errorf("vault %s borrower: %w", addr.Hex(), err)
		}
		assets, err := v.TotalAssets(ctx)
		if err != nil {
			return nil, fmt.Errorf("vault %s totalAssets: %w", addr.Hex(), err)
		}
		if borrower == cfg.LiquidatorEOA && assets.Sign() > 0 {
			owned = append(owned, addr)
		}
	}
	log.Infof("found %d active collateral vaults for %s", len(owned), cfg.LiquidatorEOA.Hex())
	return owned, nil
}

// withdrawAll redeems the vault's full collateral balance to recipient.
func withdrawAll(ctx context.Context, cfg *config.Chain, client *ethclient.Client, vaultAddr, recipient common.Address, log *logrus.Logger) error {
	v := contracts.NewCollateralVault(vaultAddr, client)
	balance, err := v.TotalAssets(ctx)
	if err != nil {
		return fmt.Errorf("totalAssets: %w", err)
	}
	data, err := contracts.PackRedeemUnderlying(balance, recipient)
	if err != nil {
		return fmt.Errorf("pack redeemUnderlying: %w", err)
	}

	nonce, err := client.PendingNonceAt(ctx, cfg.LiquidatorEOA)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: cfg.LiquidatorEOA, To: &vaultAddr, Data: data,
	})
	if err != nil {
		return fmt.Errorf("estimate gas: %w", err)
	}

	log.WithFields(logrus.Fields{
		"vault":     vaultAddr.Hex(),
		"balance":   balance.String(),
		"recipient": recipient.Hex(),
	}).Info("withdrawing collateral")

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &vaultAddr,
		Gas:      gas * 2,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(cfg.ChainID)), cfg.LiquidatorKey)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	log.Infof("transaction sent: %s", signed.Hash().Hex())

	receiptCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(receiptCtx, signed.Hash())
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
			}
			log.Infof("withdrawal confirmed, gas used %d", receipt.GasUsed)
			return nil
		}
		select {
		case <-receiptCtx.Done():
			return fmt.Errorf("receipt wait: %w", receiptCtx.Err())
		case <-ticker.C:
		}
	}
}
