// swap is a manual helper around the 1inch API: quote a trade, approve
// the router and execute a swap from the liquidator EOA.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/config"
	"github.com/twynelabs/liqbot/internal/ethrpc"
	"github.com/twynelabs/liqbot/internal/swap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	chainID := flag.Int64("chain", 8453, "chain id")
	action := flag.String("action", "quote", "quote | spender | approve | swap")
	src := flag.String("src", "", "source token address")
	dst := flag.String("dst", "", "destination token address")
	amount := flag.String("amount", "0", "source amount in base units")
	slippage := flag.Float64("slippage", 1.0, "slippage percent for swap")
	send := flag.Bool("send", false, "broadcast the transaction instead of printing it")
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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := swap.NewClient(cfg.ChainID, cfg.OneInchAPIKey, cfg.LiquidatorEOA, logrus.NewEntry(log))
	amt, ok := new(big.Int).SetString(*amount, 10)
	if !ok {
		log.Fatalf("invalid amount %q", *amount)
	}

	switch *action {
	case "quote":
		q, err := client.GetQuote(ctx, common.HexToAddress(*src), common.HexToAddress(*dst), amt)
		if err != nil {
			log.Fatalf("quote: %v", err)
		}
		fmt.Printf("destination amount: %s\n", q.DstAmount)

	case "spender":
		spender, err := client.SpenderAddress(ctx, common.HexToAddress(*src))
		if err != nil {
			log.Fatalf("spender: %v", err)
		}
		fmt.Printf("router spender: %s\n", spender.Hex())

	case "approve":
		tx, err := client.ApproveTransaction(ctx, common.HexToAddress(*src))
		if err != nil {
			log.Fatalf("approve: %v", err)
		}
		dispatch(ctx, cfg, log, tx.To, tx.Data, tx.Value, *send)

	case "swap":
		tx, err := client.GetSwapTransaction(ctx, common.HexToAddress(*src), common.HexToAddress(*dst), amt, *slippage, cfg.LiquidatorEOA)
		if err != nil {
			log.Fatalf("swap: %v", err)
		}
		dispatch(ctx, cfg, log, tx.To, tx.Data, tx.Value, *send)

	default:
		log.Fatalf("unknown action %q", *action)
		os.Exit(1)
	}
}

// dispatch signs and broadcasts an API-prepared transaction, or just
// prints it when -send is off.
func dispatch(ctx context.Context, cfg *config.Chain, log *logrus.Logger, to, data, value string, send bool) {
	if !send {
		fmt.Printf("to:    %s\ndata:  %s\nvalue: %s\n", to, data, value)
		return
	}

	client, err := ethrpc.Client(cfg.RPCURL)
	if err != nil {
		log.Fatalf("dial rpc: %v", err)
	}
	defer ethrpc.CloseAll()

	calldata, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		log.Fatalf("decode calldata: %v", err)
	}
	txValue := big.NewInt(0)
	if value != "" {
		txValue, _ = new(big.Int).SetString(value, 10)
	}
	toAddr := common.HexToAddress(to)

	signed, err := buildAndSign(ctx, client, cfg, toAddr, calldata, txValue)
	if err != nil {
		log.Fatalf("build transaction: %v", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		log.Fatalf("send transaction: %v", err)
	}
	log.Infof("transaction sent: %s", signed.Hash().Hex())

	receipt, err := waitReceipt(ctx, client, signed.Hash())
	if err != nil {
		log.Fatalf("wait receipt: %v", err)
	}
	log.Infof("confirmed in block %d, status %d, gas used %d",
		receipt.BlockNumber.Uint64(), receipt.Status, receipt.GasUsed)
}

func buildAndSign(ctx context.Context, client *ethclient.Client, cfg *config.Chain, to common.Address, data []byte, value *big.Int) (*types.Transaction, error) {
	nonce, err := client.PendingNonceAt(ctx, cfg.LiquidatorEOA)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: cfg.LiquidatorEOA, To: &to, Value: value, Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas * 2,
		GasPrice: gasPrice,
		Data:     data,
	})
	return types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(cfg.ChainID)), cfg.LiquidatorKey)
}

func waitReceipt(ctx context.Context, client *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
