// Package listener discovers collateral vaults by scanning the factory
// contract's creation events, both as a startup backfill over history
// and as a steady poll at the chain head.
package listener

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/config"
	"github.com/twynelabs/liqbot/internal/contracts"
	"github.com/twynelabs/liqbot/internal/vault"
)

const scanRetries = 3

// LogSource is the chain surface the scanner reads from.
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Tracker receives discovered vaults and owns the scan cursor.
type Tracker interface {
	RegisterVault(ctx context.Context, addr common.Address, protocol string)
	LatestBlock() uint64
	SetLatestBlock(b uint64)
	SaveState()
}

// Scanner watches one chain's vault factory.
type Scanner struct {
	cfg     *config.Chain
	src     LogSource
	backend bind.ContractBackend
	tracker Tracker
	log     *logrus.Entry
}

func New(cfg *config.Chain, src LogSource, backend bind.ContractBackend, tracker Tracker, log *logrus.Entry) *Scanner {
	return &Scanner{cfg: cfg, src: src, backend: backend, tracker: tracker, log: log}
}

// Backfill scans factory history from the later of the deployment block
// and the checkpointed cursor up to the current head, in batches, with
// a checkpoint save after each batch so a crash never repeats much work.
func (s *Scanner) Backfill(ctx context.Context) error {
	start := s.cfg.DeploymentBlock
	if saved := s.tracker.LatestBlock(); saved > start {
		start = saved
	}

	head, err := s.src.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("backfill head: %w", err)
	}
	if start >= head {
		s.tracker.SetLatestBlock(head)
		return nil
	}

	s.log.WithFields(logrus.Fields{
		"from": start,
		"to":   head,
	}).Info("backfilling vault creation events")

	for from := start; from <= head; from += s.cfg.BatchSize {
		to := from + s.cfg.BatchSize - 1
		if to > head {
			to = head
		}
		if err := s.scanRange(ctx, from, to); err != nil {
			return fmt.Errorf("backfill range %d-%d: %w", from, to, err)
		}
		s.tracker.SetLatestBlock(to)
		s.tracker.SaveState()

		if to < head && s.cfg.BatchInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.BatchInterval):
			}
		}
	}

	s.log.WithField("block", head).Info("backfill complete")
	return nil
}

// Poll scans new blocks at the configured interval until the context is
// cancelled. Scan failures are logged and retried next tick; the cursor
// only moves on success.
func (s *Scanner) Poll(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := s.src.BlockNumber(ctx)
		if err != nil {
			s.log.WithError(err).Warn("fetch head block")
			continue
		}
		// Stay one block behind the head to dodge shallow reorgs.
		if head < 1 {
			continue
		}
		to := head - 1
		from := s.tracker.LatestBlock() + 1
		if from > to {
			continue
		}

		if err := s.scanRange(ctx, from, to); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"from": from,
				"to":   to,
			}).Error("scan failed, will retry")
			continue
		}
		s.tracker.SetLatestBlock(to)
	}
}

// scanRange fetches creation events for [from, to] and registers each
// new vault. The filter call gets a few spaced retries before the range
// is declared failed.
func (s *Scanner) scanRange(ctx context.Context, from, to uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.cfg.FactoryAddress},
		Topics:    [][]common.Hash{{contracts.VaultCreatedTopic}},
	}

	var logs []types.Log
	var err error
	for attempt := 1; attempt <= scanRetries; attempt++ {
		logs, err = s.src.FilterLogs(ctx, query)
		if err == nil {
			break
		}
		s.log.WithError(err).WithField("attempt", attempt).Warn("filter logs failed")
		if attempt < scanRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}
	if err != nil {
		return fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	seen := make(map[common.Address]bool)
	for _, lg := range logs {
		addr, ok := contracts.ParseVaultCreated(lg)
		if !ok || seen[addr] {
			continue
		}
		seen[addr] = true

		protocol, err := vault.DetectProtocol(ctx, addr, s.backend, s.log)
		if err != nil {
			s.log.WithField("vault", addr.Hex()).WithError(err).Warn("protocol detection degraded")
		}
		s.log.WithFields(logrus.Fields{
			"vault":    addr.Hex(),
			"protocol": protocol,
			"block":    lg.BlockNumber,
		}).Info("vault created")
		s.tracker.RegisterVault(ctx, addr, protocol)
	}
	return nil
}
