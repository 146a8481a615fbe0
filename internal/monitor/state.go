package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/metrics"
	"github.com/twynelabs/liqbot/internal/vault"
)

const checkpointVersion = 1

// checkpoint is the on-disk state file. Queue entries are encoded as
// [due, address] pairs with due in unix seconds.
type checkpoint struct {
	Version               int                         `json:"version"`
	Accounts              map[string]vault.Snapshot   `json:"accounts"`
	Queue                 []queueEntry                `json:"queue"`
	LastSavedBlock        uint64                      `json:"last_saved_block"`
	FailedInitializations map[string]failedInitRecord `json:"failed_initializations"`
}

type queueEntry struct {
	Due  float64
	Addr string
}

func (e queueEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.Due, e.Addr})
}

func (e *queueEntry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &e.Due); err != nil {
		return fmt.Errorf("queue entry due: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Addr); err != nil {
		return fmt.Errorf("queue entry address: %w", err)
	}
	return nil
}

type failedInitRecord struct {
	Protocol string  `json:"protocol"`
	RetryAt  float64 `json:"retry_at"`
	Attempts int     `json:"attempts"`
}

// SaveState writes the checkpoint atomically (temp file + rename) and
// records the scan cursor it covers.
func (m *Monitor) SaveState() {
	m.mu.Lock()
	cp := checkpoint{
		Version:               checkpointVersion,
		Accounts:              make(map[string]vault.Snapshot, len(m.accounts)),
		Queue:                 make([]queueEntry, 0, len(m.queue)),
		LastSavedBlock:        m.latestBlock,
		FailedInitializations: make(map[string]failedInitRecord, len(m.failedInits)),
	}
	for addr, account := range m.accounts {
		cp.Accounts[addr.Hex()] = account.Snapshot()
	}
	for _, e := range m.queue {
		cp.Queue = append(cp.Queue, queueEntry{
			Due:  float64(e.due.UnixNano()) / 1e9,
			Addr: e.addr.Hex(),
		})
	}
	for addr, fi := range m.failedInits {
		cp.FailedInitializations[addr.Hex()] = failedInitRecord{
			Protocol: fi.protocol,
			RetryAt:  float64(fi.retryAt.UnixNano()) / 1e9,
			Attempts: fi.attempts,
		}
	}
	savedBlock := m.latestBlock
	m.mu.Unlock()

	buf, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		m.log.WithError(err).Error("encode checkpoint")
		return
	}

	tmp := m.cfg.StateFile + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		m.log.WithError(err).Error("write checkpoint")
		return
	}
	if err := os.Rename(tmp, m.cfg.StateFile); err != nil {
		m.log.WithError(err).Error("commit checkpoint")
		return
	}

	m.mu.Lock()
	m.lastSavedBlock = savedBlock
	m.mu.Unlock()

	metrics.CheckpointSaves.WithLabelValues(m.cfg.Name).Inc()
	m.log.WithFields(logrus.Fields{
		"accounts": len(cp.Accounts),
		"queue":    len(cp.Queue),
		"block":    savedBlock,
	}).Info("checkpoint saved")
}

// LoadState restores tracked vaults from the checkpoint file. A missing
// file means a cold start; a corrupt file is logged and ignored so the
// scanner rebuilds the set from chain history. Restored vaults get a
// fresh on-chain probe before they re-enter the queue.
func (m *Monitor) LoadState(ctx context.Context) {
	buf, err := os.ReadFile(m.cfg.StateFile)
	if os.IsNotExist(err) {
		m.log.Info("no checkpoint file, starting empty")
		return
	}
	if err != nil {
		m.log.WithError(err).Error("read checkpoint")
		return
	}

	var cp checkpoint
	if err := json.Unmarshal(buf, &cp); err != nil {
		m.log.WithError(err).Error("corrupt checkpoint, starting empty")
		return
	}
	if cp.Version != checkpointVersion {
		m.log.WithField("version", cp.Version).Warn("unexpected checkpoint version, loading anyway")
	}

	for addrHex, snap := range cp.Accounts {
		addr := common.HexToAddress(addrHex)
		account, err := m.newVault(ctx, snap.Protocol, addr)
		if err != nil {
			m.log.WithField("vault", addrHex).WithError(err).Error("restore vault failed")
			m.trackFailedInit(addr, snap.Protocol)
			continue
		}
		account.Restore(snap)
		m.mu.Lock()
		m.accounts[addr] = account
		m.mu.Unlock()
	}

	m.mu.Lock()
	for addrHex, rec := range cp.FailedInitializations {
		sec, frac := int64(rec.RetryAt), rec.RetryAt-float64(int64(rec.RetryAt))
		m.failedInits[common.HexToAddress(addrHex)] = &failedInit{
			protocol: rec.Protocol,
			retryAt:  time.Unix(sec, int64(frac*1e9)),
			attempts: rec.Attempts,
		}
	}
	m.latestBlock = cp.LastSavedBlock
	m.lastSavedBlock = cp.LastSavedBlock
	tracked := len(m.accounts)
	failed := len(m.failedInits)
	m.mu.Unlock()

	metrics.AccountsTracked.WithLabelValues(m.cfg.Name).Set(float64(tracked))
	metrics.FailedInits.WithLabelValues(m.cfg.Name).Set(float64(failed))
	metrics.ScanCursor.WithLabelValues(m.cfg.Name).Set(float64(cp.LastSavedBlock))

	m.rebuildQueue(ctx)

	m.log.WithFields(logrus.Fields{
		"accounts": tracked,
		"failed":   failed,
		"block":    cp.LastSavedBlock,
	}).Info("checkpoint restored")
}

// rebuildQueue re-probes every restored vault and enqueues it at its
// freshly computed due time. The saved queue is advisory only: health
// may have moved while the process was down.
func (m *Monitor) rebuildQueue(ctx context.Context) {
	m.mu.Lock()
	accounts := make([]vault.CollateralVault, 0, len(m.accounts))
	for _, account := range m.accounts {
		accounts = append(accounts, account)
	}
	m.mu.Unlock()

	for _, account := range accounts {
		account.UpdateLiquidity(ctx)
		next := account.NextUpdate()
		if next.IsZero() {
			next = m.now().Add(passRetryDelay)
			account.SetNextUpdate(next)
		}
		m.enqueue(next, account.Address())
	}
}
