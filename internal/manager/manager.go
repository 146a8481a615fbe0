// Package manager assembles and runs one full bot stack per chain: RPC
// client, swap client, notifier, scheduler and factory scanner.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/config"
	"github.com/twynelabs/liqbot/internal/contracts"
	"github.com/twynelabs/liqbot/internal/ethrpc"
	"github.com/twynelabs/liqbot/internal/listener"
	"github.com/twynelabs/liqbot/internal/monitor"
	"github.com/twynelabs/liqbot/internal/notify"
	"github.com/twynelabs/liqbot/internal/swap"
	"github.com/twynelabs/liqbot/internal/vault"

	"github.com/ethereum/go-ethereum/common"
)

// Options selects runtime behavior for every chain stack.
type Options struct {
	Notify  bool
	Execute bool
}

// ChainStack is one chain's assembled components.
type ChainStack struct {
	Chain   *config.Chain
	Monitor *monitor.Monitor
	Scanner *listener.Scanner
	log     *logrus.Entry
}

// Manager runs the per-chain stacks and coordinates shutdown.
type Manager struct {
	stacks map[int64]*ChainStack
	log    *logrus.Entry
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New resolves and assembles a stack for every requested chain id.
func New(file *config.File, chainIDs []int64, opts Options, log *logrus.Logger) (*Manager, error) {
	m := &Manager{
		stacks: make(map[int64]*ChainStack, len(chainIDs)),
		log:    logrus.NewEntry(log),
	}
	for _, id := range chainIDs {
		cfg, err := file.ResolveChain(id)
		if err != nil {
			return nil, err
		}
		stack, err := buildStack(cfg, opts, log)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", id, err)
		}
		m.stacks[id] = stack
	}
	return m, nil
}

func buildStack(cfg *config.Chain, opts Options, log *logrus.Logger) (*ChainStack, error) {
	entry := log.WithField("chain", cfg.Name)

	client, err := ethrpc.Client(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	swapper := swap.NewClient(cfg.ChainID, cfg.OneInchAPIKey, cfg.LiquidatorEOA, entry)
	notifier := notify.New(cfg, contracts.NewEVC(cfg.EVC, client), entry)

	deps := vault.Deps{
		Chain:       cfg,
		Backend:     client,
		Swapper:     swapper,
		Log:         entry,
		NotifyError: func(msg string) { notifier.Error(msg) },
	}
	if !opts.Notify {
		deps.NotifyError = nil
	}

	mon := monitor.New(monitor.Options{
		Chain:    cfg,
		Backend:  client,
		Notifier: notifier,
		NewVault: func(ctx context.Context, protocol string, addr common.Address) (vault.CollateralVault, error) {
			return vault.New(ctx, protocol, addr, deps)
		},
		Log:     entry,
		Notify:  opts.Notify && notifier.Enabled(),
		Execute: opts.Execute,
	})
	scanner := listener.New(cfg, client, client, mon, entry)

	return &ChainStack{Chain: cfg, Monitor: mon, Scanner: scanner, log: entry}, nil
}

// Stack returns the stack for a chain id, for the HTTP API.
func (m *Manager) Stack(chainID int64) (*ChainStack, bool) {
	s, ok := m.stacks[chainID]
	return s, ok
}

// Start restores every chain's checkpoint, backfills factory history
// and launches the scheduler and scanner loops.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	for _, stack := range m.stacks {
		stack := stack
		stack.Monitor.LoadState(ctx)

		m.wg.Add(2)
		go func() {
			defer m.wg.Done()
			if err := stack.Scanner.Backfill(ctx); err != nil {
				stack.log.WithError(err).Error("backfill failed, polling from checkpoint cursor")
			}
			stack.Scanner.Poll(ctx)
		}()
		go func() {
			defer m.wg.Done()
			stack.Monitor.Run(ctx)
		}()
	}
}

// Stop shuts every stack down: cancels the loops, drains in-flight
// workers, writes final checkpoints and closes the RPC clients.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	for _, stack := range m.stacks {
		stack.Monitor.Stop()
	}
	m.wg.Wait()
	ethrpc.CloseAll()
	m.log.Info("all chain stacks stopped")
}
