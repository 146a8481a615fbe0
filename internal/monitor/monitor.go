// Package monitor is the per-chain account scheduler: it owns the live
// vault set, the priority-time queue, a bounded worker pool for
// per-vault passes, checkpointed state and the maintenance sweeps that
// keep the queue healthy across errors and restarts.
package monitor

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/big"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/config"
	"github.com/twynelabs/liqbot/internal/metrics"
	"github.com/twynelabs/liqbot/internal/notify"
	"github.com/twynelabs/liqbot/internal/vault"
)

const (
	defaultWorkers = 32

	// passRetryDelay reschedules a vault whose pass hit an unexpected
	// error, so no address is ever orphaned with a stale timestamp.
	passRetryDelay = 60 * time.Second

	staleThreshold = time.Hour

	internalReceiptTimeout = 20 * time.Second
	externalReceiptTimeout = 60 * time.Second
)

// Backend is the transaction surface the monitor needs from an RPC
// client.
type Backend interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// VaultFactory builds the adapter for a discovered vault. Injected so
// tests can feed fakes through the whole scheduler.
type VaultFactory func(ctx context.Context, protocol string, addr common.Address) (vault.CollateralVault, error)

type failedInit struct {
	protocol string
	retryAt  time.Time
	attempts int
}

// Options wires a Monitor.
type Options struct {
	Chain    *config.Chain
	Backend  Backend
	Notifier *notify.Notifier
	NewVault VaultFactory
	Log      *logrus.Entry

	// Notify gates outbound notifications; Execute gates transaction
	// broadcast. Both off means a dry-run monitor.
	Notify  bool
	Execute bool
}

// Monitor is the per-chain scheduler.
type Monitor struct {
	cfg      *config.Chain
	backend  Backend
	notifier *notify.Notifier
	newVault VaultFactory
	log      *logrus.Entry
	notify   bool
	execute  bool

	mu             sync.Mutex
	accounts       map[common.Address]vault.CollateralVault
	queue          updateQueue
	processing     map[common.Address]bool
	failedInits    map[common.Address]*failedInit
	recentLowValue map[common.Address]time.Time
	latestBlock    uint64
	lastSavedBlock uint64
	running        bool

	wake    chan struct{}
	workers chan struct{}
	wg      sync.WaitGroup
	cron    *cron.Cron

	now func() time.Time
}

func New(opts Options) *Monitor {
	return &Monitor{
		cfg:            opts.Chain,
		backend:        opts.Backend,
		notifier:       opts.Notifier,
		newVault:       opts.NewVault,
		log:            opts.Log,
		notify:         opts.Notify,
		execute:        opts.Execute,
		accounts:       make(map[common.Address]vault.CollateralVault),
		processing:     make(map[common.Address]bool),
		failedInits:    make(map[common.Address]*failedInit),
		recentLowValue: make(map[common.Address]time.Time),
		running:        true,
		wake:           make(chan struct{}, 1),
		workers:        make(chan struct{}, defaultWorkers),
		now:            time.Now,
	}
}

// Run is the queue dispatcher. It pops due entries, drops stale
// duplicates and hands live addresses to the worker pool. Returns when
// the context is cancelled or Stop is called.
func (m *Monitor) Run(ctx context.Context) {
	m.startMaintenance()

	for {
		m.mu.Lock()
		if !m.running {
			m.mu.Unlock()
			return
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
			}
			continue
		}

		head := m.queue[0]
		now := m.now()
		if head.due.After(now) {
			m.mu.Unlock()
			timer := time.NewTimer(head.due.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-m.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		e := heap.Pop(&m.queue).(entry)
		metrics.QueueDepth.WithLabelValues(m.cfg.Name).Set(float64(len(m.queue)))
		if m.processing[e.addr] {
			// Stale duplicate: a worker is already in flight for this
			// address.
			m.mu.Unlock()
			continue
		}
		m.processing[e.addr] = true
		m.mu.Unlock()

		m.wg.Add(1)
		go func(addr common.Address) {
			defer m.wg.Done()
			m.workers <- struct{}{}
			defer func() { <-m.workers }()

			m.updateAccountLiquidity(ctx, addr)

			m.mu.Lock()
			delete(m.processing, addr)
			m.mu.Unlock()
		}(e.addr)
	}
}

// Stop halts the dispatcher, drains in-flight workers and writes a
// final checkpoint.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.signal()

	m.wg.Wait()
	if m.cron != nil {
		m.cron.Stop()
	}
	m.SaveState()
}

func (m *Monitor) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) enqueue(due time.Time, addr common.Address) {
	m.mu.Lock()
	heap.Push(&m.queue, entry{due: due, addr: addr})
	metrics.QueueDepth.WithLabelValues(m.cfg.Name).Set(float64(len(m.queue)))
	m.mu.Unlock()
	m.signal()
}

func (m *Monitor) account(addr common.Address) (vault.CollateralVault, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.accounts[addr]
	return v, ok
}

// RegisterVault ingests a vault discovered by the listener. Known
// addresses get an immediate pass; new ones are initialized, probed for
// health and enqueued at their first due time. Failed constructions go
// to the retry ledger and are NOT added to the account set.
func (m *Monitor) RegisterVault(ctx context.Context, addr common.Address, protocol string) {
	if _, ok := m.account(addr); ok {
		m.log.WithField("vault", addr.Hex()).Info("vault already tracked")
		m.updateAccountLiquidity(ctx, addr)
		return
	}

	account, err := m.newVault(ctx, protocol, addr)
	if err != nil {
		m.log.WithField("vault", addr.Hex()).WithError(err).Error("vault initialization failed")
		m.trackFailedInit(addr, protocol)
		return
	}

	upd := account.UpdateLiquidity(ctx)
	next := account.NextUpdate()

	m.mu.Lock()
	m.accounts[addr] = account
	delete(m.failedInits, addr)
	tracked := len(m.accounts)
	failed := len(m.failedInits)
	m.mu.Unlock()

	metrics.AccountsTracked.WithLabelValues(m.cfg.Name).Set(float64(tracked))
	metrics.FailedInits.WithLabelValues(m.cfg.Name).Set(float64(failed))
	m.enqueue(next, addr)

	m.log.WithFields(logrus.Fields{
		"vault":       addr.Hex(),
		"protocol":    protocol,
		"internal_hs": upd.InternalHS,
		"external_hs": upd.ExternalHS,
		"next_update": next.Format(time.RFC3339),
	}).Info("vault tracked")
}

// updateAccountLiquidity is the per-vault pass: refresh health, check
// liquidation status, run the pipeline on unhealthy vaults and
// re-enqueue. A panic anywhere in the pass forces a 60 s retry so the
// address is never orphaned.
func (m *Monitor) updateAccountLiquidity(ctx context.Context, addr common.Address) {
	account, ok := m.account(addr)
	if !ok {
		m.log.WithField("vault", addr.Hex()).Error("vault not in account list")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.PassErrorsTotal.WithLabelValues(m.cfg.Name).Inc()
			m.log.WithField("vault", addr.Hex()).Errorf("vault pass panicked: %v", r)
			retryAt := m.now().Add(passRetryDelay)
			account.SetNextUpdate(retryAt)
			m.enqueue(retryAt, addr)
		}
	}()

	metrics.PassesTotal.WithLabelValues(m.cfg.Name).Inc()
	prev := account.NextUpdate()

	upd := account.UpdateLiquidity(ctx)

	if account.TargetAsset() == m.cfg.USDS && m.cfg.USDS != (common.Address{}) {
		m.log.WithField("vault", addr.Hex()).Info("skipping position with USDS debt")
		return
	}

	chk := account.CheckLiquidation(ctx)

	unhealthy := chk.CanLiquidate ||
		(chk.ExternallyLiquidated && chk.MaxRelease.Sign() > 0) ||
		upd.InternalHS < 1 || upd.ExternalHS < 1
	if unhealthy {
		m.log.WithFields(logrus.Fields{
			"vault":       addr.Hex(),
			"internal_hs": upd.InternalHS,
			"external_hs": upd.ExternalHS,
		}).Info("unhealthy vault, simulating liquidation")

		m.notifyUnhealthy(account, chk.ExternallyLiquidated, upd)
		m.handleLiquidation(ctx, account, chk)
	}

	next := account.NextUpdate()
	if next.Equal(prev) {
		m.log.WithField("vault", addr.Hex()).Debug("next update already scheduled")
		return
	}
	m.enqueue(next, addr)
}

// notifyUnhealthy posts the unhealthy-account notification, suppressing
// repeats for small positions until the report interval has elapsed.
func (m *Monitor) notifyUnhealthy(account vault.CollateralVault, externallyLiquidated bool, upd vault.HealthUpdate) {
	if !m.notify {
		return
	}
	st := account.State()
	small := st.TotalBorrowedUSD() < m.cfg.SmallPositionThreshold

	m.mu.Lock()
	last, posted := m.recentLowValue[st.Address]
	m.mu.Unlock()
	if posted && small && m.now().Sub(last) < m.cfg.LowHealthReportInterval {
		m.log.WithField("vault", st.Address.Hex()).Debug("suppressing repeat notification for small position")
		return
	}

	m.notifier.UnhealthyAccount(st.Address, externallyLiquidated,
		upd.InternalHS, upd.ExternalHS, st.InternalBorrowed, st.ExternalBorrowed)

	if small {
		m.mu.Lock()
		m.recentLowValue[st.Address] = m.now()
		m.mu.Unlock()
	}
}

// handleLiquidation runs the simulation and, when warranted, broadcasts
// the transaction and waits for its receipt.
func (m *Monitor) handleLiquidation(ctx context.Context, account vault.CollateralVault, chk vault.LiquidationCheck) {
	plan, profitable := account.SimulateLiquidation(ctx)

	if !(profitable && chk.CanLiquidate) && !chk.ExternallyLiquidated {
		m.log.WithField("vault", account.Address().Hex()).Info("unhealthy but not profitable to liquidate")
		return
	}
	if plan == nil {
		return
	}

	if m.notify {
		m.notifier.Opportunity(account.Address(), plan.CollateralAsset, plan.NetProfit)
	}
	if !m.execute {
		return
	}

	receipt, err := m.broadcast(ctx, plan)
	if err != nil {
		metrics.LiquidationsFailed.WithLabelValues(m.cfg.Name).Inc()
		m.log.WithField("vault", account.Address().Hex()).WithError(err).Error("liquidation execution failed")
		if m.notify {
			m.notifier.Error(fmt.Sprintf("liquidation execution failed for %s: %v", account.Address().Hex(), err))
		}
		return
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		metrics.LiquidationsConfirmed.WithLabelValues(m.cfg.Name).Inc()
		m.log.WithFields(logrus.Fields{
			"vault": account.Address().Hex(),
			"tx":    receipt.TxHash.Hex(),
		}).Info("liquidation confirmed")
		if m.notify {
			m.notifier.Result(account.Address(), plan.CollateralAsset, plan.NetProfit, receipt.TxHash)
		}
	} else {
		metrics.LiquidationsFailed.WithLabelValues(m.cfg.Name).Inc()
		m.log.WithFields(logrus.Fields{
			"vault": account.Address().Hex(),
			"tx":    receipt.TxHash.Hex(),
		}).Error("liquidation transaction reverted")
	}

	account.UpdateLiquidity(ctx)
}

// broadcast signs and sends the plan's transaction, then polls for its
// receipt. External clears get the longer timeout.
func (m *Monitor) broadcast(ctx context.Context, plan *vault.LiquidationPlan) (*types.Receipt, error) {
	signer := types.LatestSignerForChainID(big.NewInt(m.cfg.ChainID))
	signed, err := types.SignTx(plan.Tx, signer, m.cfg.LiquidatorKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := m.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	metrics.LiquidationsSubmitted.WithLabelValues(m.cfg.Name).Inc()
	m.log.WithField("tx", signed.Hash().Hex()).Info("liquidation transaction sent")

	timeout := internalReceiptTimeout
	if plan.External {
		timeout = externalReceiptTimeout
	}
	return m.waitReceipt(ctx, signed.Hash(), timeout)
}

func (m *Monitor) waitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		receipt, err := m.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// trackFailedInit records or advances a failed-initialization entry.
// Backoff doubles per attempt from one minute, capped at an hour.
func (m *Monitor) trackFailedInit(addr common.Address, protocol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if fi, ok := m.failedInits[addr]; ok {
		fi.attempts++
		backoff := time.Duration(math.Min(60*math.Pow(2, float64(fi.attempts-1)), 3600)) * time.Second
		fi.retryAt = now.Add(backoff)
		m.log.WithFields(logrus.Fields{
			"vault":    addr.Hex(),
			"attempts": fi.attempts,
			"retry_at": fi.retryAt.Format(time.RFC3339),
		}).Warn("vault initialization failed again")
	} else {
		m.failedInits[addr] = &failedInit{protocol: protocol, retryAt: now.Add(time.Minute), attempts: 1}
		m.log.WithField("vault", addr.Hex()).Warn("vault initialization failed, retry in 60s")
	}
	metrics.FailedInits.WithLabelValues(m.cfg.Name).Set(float64(len(m.failedInits)))
}

// LatestBlock returns the scanner cursor.
func (m *Monitor) LatestBlock() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestBlock
}

// SetLatestBlock advances the scanner cursor after a successful scan.
func (m *Monitor) SetLatestBlock(b uint64) {
	m.mu.Lock()
	m.latestBlock = b
	m.mu.Unlock()
	metrics.ScanCursor.WithLabelValues(m.cfg.Name).Set(float64(b))
}

// AccountsByHealth returns the live states sorted ascending by minimum
// health score, the order the snapshot API and the digest report use.
func (m *Monitor) AccountsByHealth() []vault.State {
	m.mu.Lock()
	states := make([]vault.State, 0, len(m.accounts))
	for _, account := range m.accounts {
		states = append(states, account.State())
	}
	m.mu.Unlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].MinHealthScore() < states[j].MinHealthScore()
	})
	return states
}

// sweepStaleAccounts re-queues vaults whose due time fell more than an
// hour into the past, spreading them over the next minute.
func (m *Monitor) sweepStaleAccounts() int {
	now := m.now()
	cutoff := now.Add(-staleThreshold)

	m.mu.Lock()
	stale := make([]vault.CollateralVault, 0)
	for _, account := range m.accounts {
		if account.NextUpdate().Before(cutoff) {
			stale = append(stale, account)
		}
	}
	m.mu.Unlock()

	for _, account := range stale {
		due := now.Add(time.Duration(rand.Float64() * float64(time.Minute)))
		m.log.WithFields(logrus.Fields{
			"vault":   account.Address().Hex(),
			"was_due": account.NextUpdate().Format(time.RFC3339),
			"new_due": due.Format(time.RFC3339),
		}).Warn("stale vault, re-queueing")
		account.SetNextUpdate(due)
		m.enqueue(due, account.Address())
	}

	if len(stale) > 0 {
		m.log.Infof("stale sweep re-queued %d vaults", len(stale))
	}
	return len(stale)
}

// retryFailedInits re-attempts every ledger entry whose retry time has
// arrived.
func (m *Monitor) retryFailedInits(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	due := make(map[common.Address]string)
	for addr, fi := range m.failedInits {
		if !fi.retryAt.After(now) {
			due[addr] = fi.protocol
		}
	}
	m.mu.Unlock()

	if len(due) == 0 {
		return 0
	}
	m.log.Infof("retrying %d failed vault initializations", len(due))

	success := 0
	for addr, protocol := range due {
		m.RegisterVault(ctx, addr, protocol)
		m.mu.Lock()
		_, tracked := m.accounts[addr]
		_, stillFailed := m.failedInits[addr]
		m.mu.Unlock()
		if tracked && !stillFailed {
			success++
		}
	}
	if success > 0 {
		m.log.Infof("recovered %d/%d previously failed vaults", success, len(due))
	}
	return success
}

// gcLowValuePosts evicts throttle entries old enough to be irrelevant.
func (m *Monitor) gcLowValuePosts() {
	cutoff := m.now().Add(-10 * m.cfg.LowHealthReportInterval)
	m.mu.Lock()
	for addr, t := range m.recentLowValue {
		if t.Before(cutoff) {
			delete(m.recentLowValue, addr)
		}
	}
	m.mu.Unlock()
}

// reportLowHealthAccounts posts the periodic digest of vaults below the
// reporting threshold plus the explicit watchlist.
func (m *Monitor) reportLowHealthAccounts(ctx context.Context) {
	states := m.AccountsByHealth()

	var totalReservedUSD float64
	entries := make([]notify.ReportEntry, 0)
	for _, st := range states {
		internalUSD, _ := new(big.Float).Quo(new(big.Float).SetInt(st.InternalBorrowed), big.NewFloat(1e18)).Float64()
		totalReservedUSD += internalUSD

		if st.InternalHealthScore < m.cfg.ReportHealthScore ||
			st.ExternalHealthScore < m.cfg.ReportHealthScore ||
			m.notifier.Watched(st.Address.Hex()) {
			entries = append(entries, notify.ReportEntry{
				Address:          st.Address,
				InternalHS:       st.InternalHealthScore,
				ExternalHS:       st.ExternalHealthScore,
				TotalBorrowedUSD: st.TotalBorrowedUSD(),
				Symbol:           st.Symbol,
			})
		}
	}

	m.notifier.HealthReport(ctx, entries, len(states), totalReservedUSD, m.cfg.ReportHealthScore)
}

// startMaintenance schedules the periodic activities: checkpoint save,
// hourly stale sweep, failed-init retry every five minutes, throttle GC
// and the optional low-health report.
func (m *Monitor) startMaintenance() {
	m.cron = cron.New()

	m.cron.AddFunc(fmt.Sprintf("@every %s", m.cfg.SaveInterval), func() { m.SaveState() })
	m.cron.AddFunc("@every 1h", func() { m.sweepStaleAccounts() })
	m.cron.AddFunc("@every 1h", m.gcLowValuePosts)
	m.cron.AddFunc("@every 5m", func() { m.retryFailedInits(context.Background()) })
	if m.notify {
		m.cron.AddFunc(fmt.Sprintf("@every %s", m.cfg.LowHealthReportInterval), func() {
			m.reportLowHealthAccounts(context.Background())
		})
	}

	m.cron.Start()
}
