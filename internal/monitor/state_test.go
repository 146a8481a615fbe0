package monitor

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twynelabs/liqbot/internal/vault"
)

func TestQueueEntryJSON(t *testing.T) {
	e := queueEntry{Due: 1756000000.5, Addr: "0x0000000000000000000000000000000000000001"}

	buf, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `[1756000000.5,"0x0000000000000000000000000000000000000001"]`, string(buf))

	var back queueEntry
	require.NoError(t, json.Unmarshal(buf, &back))
	assert.Equal(t, e, back)
}

func TestCheckpointRoundTrip(t *testing.T) {
	a := newFakeVault(addrN(1))
	b := newFakeVault(addrN(2))
	a.next = time.Now().Add(30 * time.Second)
	b.next = time.Now().Add(time.Minute)

	src := testMonitor(t, nil)
	src.accounts[a.addr] = a
	src.accounts[b.addr] = b
	src.enqueue(a.next, a.addr)
	src.enqueue(b.next, b.addr)
	src.latestBlock = 12345
	src.trackFailedInit(addrN(3), vault.ProtocolAave)

	src.SaveState()
	assert.Equal(t, uint64(12345), src.lastSavedBlock)

	restoredVaults := make(map[common.Address]*fakeVault)
	dst := testMonitor(t, func(_ context.Context, protocol string, addr common.Address) (vault.CollateralVault, error) {
		fv := newFakeVault(addr)
		fv.protocol = protocol
		restoredVaults[addr] = fv
		return fv, nil
	})
	dst.cfg.StateFile = src.cfg.StateFile

	dst.LoadState(context.Background())

	dst.mu.Lock()
	assert.Len(t, dst.accounts, 2)
	assert.Equal(t, uint64(12345), dst.latestBlock)
	assert.Equal(t, uint64(12345), dst.lastSavedBlock)
	require.Contains(t, dst.failedInits, addrN(3))
	assert.Equal(t, vault.ProtocolAave, dst.failedInits[addrN(3)].protocol)
	assert.Equal(t, 1, dst.failedInits[addrN(3)].attempts)
	queued := len(dst.queue)
	dst.mu.Unlock()

	// Every restored vault was re-probed and re-enqueued.
	assert.Equal(t, 2, queued)
	for addr, fv := range restoredVaults {
		require.NotNil(t, fv.restored, "vault %s was not restored", addr.Hex())
		assert.Equal(t, 1, fv.updateCount())
	}
}

func TestCheckpointSaveIdempotent(t *testing.T) {
	a := newFakeVault(addrN(1))
	m := testMonitor(t, nil)
	m.accounts[a.addr] = a
	m.enqueue(a.next, a.addr)
	m.latestBlock = 99

	m.SaveState()
	first, err := os.ReadFile(m.cfg.StateFile)
	require.NoError(t, err)

	m.SaveState()
	second, err := os.ReadFile(m.cfg.StateFile)
	require.NoError(t, err)

	assert.Equal(t, first, second, "saving unchanged state must produce identical checkpoints")
}

func TestLoadStateMissingFile(t *testing.T) {
	m := testMonitor(t, nil)
	m.LoadState(context.Background())
	assert.Empty(t, m.accounts)
}

func TestLoadStateCorruptFile(t *testing.T) {
	m := testMonitor(t, nil)
	require.NoError(t, os.WriteFile(m.cfg.StateFile, []byte("{not json"), 0o644))

	m.LoadState(context.Background())
	assert.Empty(t, m.accounts)
	assert.Zero(t, m.latestBlock)
}

func TestLoadStateVersionMismatchStillLoads(t *testing.T) {
	cp := checkpoint{
		Version: 2,
		Accounts: map[string]vault.Snapshot{
			addrN(1).Hex(): {
				Address:  addrN(1).Hex(),
				Protocol: vault.ProtocolEuler,
			},
		},
		LastSavedBlock: 7,
	}
	buf, err := json.Marshal(cp)
	require.NoError(t, err)

	m := testMonitor(t, func(_ context.Context, _ string, addr common.Address) (vault.CollateralVault, error) {
		return newFakeVault(addr), nil
	})
	require.NoError(t, os.WriteFile(m.cfg.StateFile, buf, 0o644))

	m.LoadState(context.Background())
	assert.Len(t, m.accounts, 1)
	assert.Equal(t, uint64(7), m.latestBlock)
}

func TestLoadStateFailedRestoreGoesToRetryLedger(t *testing.T) {
	src := testMonitor(t, nil)
	src.accounts[addrN(1)] = newFakeVault(addrN(1))
	src.SaveState()

	dst := testMonitor(t, func(context.Context, string, common.Address) (vault.CollateralVault, error) {
		return nil, assert.AnError
	})
	dst.cfg.StateFile = src.cfg.StateFile

	dst.LoadState(context.Background())
	assert.Empty(t, dst.accounts)
	assert.Contains(t, dst.failedInits, addrN(1))
}
