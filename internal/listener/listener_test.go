package listener

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twynelabs/liqbot/internal/config"
	"github.com/twynelabs/liqbot/internal/contracts"
	"github.com/twynelabs/liqbot/internal/vault"
)

// fakeSource scripts FilterLogs responses per call.
type fakeSource struct {
	head    uint64
	logs    []types.Log
	errs    []error // consumed first, one per call
	queries []ethereum.FilterQuery
}

func (s *fakeSource) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	s.queries = append(s.queries, q)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	var out []types.Log
	for _, lg := range s.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (s *fakeSource) BlockNumber(context.Context) (uint64, error) { return s.head, nil }

type fakeTracker struct {
	mu         sync.Mutex
	registered []common.Address
	protocols  []string
	latest     uint64
	saves      int
}

func (t *fakeTracker) RegisterVault(_ context.Context, addr common.Address, protocol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registered = append(t.registered, addr)
	t.protocols = append(t.protocols, protocol)
}

func (t *fakeTracker) LatestBlock() uint64     { return t.latest }
func (t *fakeTracker) SetLatestBlock(b uint64) { t.latest = b }
func (t *fakeTracker) SaveState()              { t.saves++ }

// revertBackend satisfies the contract backend with an aToken probe that
// always reverts, classifying every vault as Euler.
type revertBackend struct{}

var errReverted = errors.New("execution reverted")

func (revertBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}
func (revertBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errReverted
}
func (revertBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return nil, errors.New("not implemented")
}
func (revertBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}
func (revertBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (revertBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (revertBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (revertBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 21000, nil }
func (revertBackend) SendTransaction(context.Context, *types.Transaction) error     { return nil }
func (revertBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (revertBackend) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not implemented")
}

func vaultCreatedLog(vaultAddr common.Address, block uint64) types.Log {
	return types.Log{
		Topics: []common.Hash{
			contracts.VaultCreatedTopic,
			common.BytesToHash(vaultAddr.Bytes()),
		},
		BlockNumber: block,
	}
}

func testScanner(src *fakeSource, tracker *fakeTracker) *Scanner {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	cfg := &config.Chain{
		Name:            "testnet",
		FactoryAddress:  common.HexToAddress("0xfac0000000000000000000000000000000000000"),
		DeploymentBlock: 100,
		BatchSize:       400,
		ScanInterval:    1,
		RetryDelay:      0,
	}
	return New(cfg, src, revertBackend{}, tracker, logrus.NewEntry(log))
}

func TestBackfillBatches(t *testing.T) {
	src := &fakeSource{head: 1000}
	tracker := &fakeTracker{}
	s := testScanner(src, tracker)

	require.NoError(t, s.Backfill(context.Background()))

	// 100-499, 500-899, 900-1000.
	require.Len(t, src.queries, 3)
	assert.Equal(t, uint64(100), src.queries[0].FromBlock.Uint64())
	assert.Equal(t, uint64(499), src.queries[0].ToBlock.Uint64())
	assert.Equal(t, uint64(900), src.queries[2].FromBlock.Uint64())
	assert.Equal(t, uint64(1000), src.queries[2].ToBlock.Uint64())

	assert.Equal(t, uint64(1000), tracker.latest)
	assert.Equal(t, 3, tracker.saves, "each batch must be checkpointed")
}

func TestBackfillResumesFromCheckpoint(t *testing.T) {
	src := &fakeSource{head: 1000}
	tracker := &fakeTracker{latest: 800}
	s := testScanner(src, tracker)

	require.NoError(t, s.Backfill(context.Background()))

	require.NotEmpty(t, src.queries)
	assert.Equal(t, uint64(800), src.queries[0].FromBlock.Uint64())
}

func TestBackfillRegistersVaults(t *testing.T) {
	vaultAddr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	src := &fakeSource{
		head: 500,
		logs: []types.Log{vaultCreatedLog(vaultAddr, 150)},
	}
	tracker := &fakeTracker{}
	s := testScanner(src, tracker)

	require.NoError(t, s.Backfill(context.Background()))

	require.Len(t, tracker.registered, 1)
	assert.Equal(t, vaultAddr, tracker.registered[0])
	assert.Equal(t, vault.ProtocolEuler, tracker.protocols[0])
}

func TestScanRangeRetriesThenSucceeds(t *testing.T) {
	src := &fakeSource{
		head: 500,
		errs: []error{errors.New("rpc timeout"), errors.New("rpc timeout")},
	}
	tracker := &fakeTracker{}
	s := testScanner(src, tracker)

	require.NoError(t, s.scanRange(context.Background(), 100, 200))
	assert.Len(t, src.queries, 3)
}

func TestScanRangeFailsAfterRetries(t *testing.T) {
	src := &fakeSource{
		errs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}
	tracker := &fakeTracker{}
	s := testScanner(src, tracker)

	assert.Error(t, s.scanRange(context.Background(), 100, 200))
	assert.Zero(t, tracker.latest, "cursor must not move on a failed scan")
}

func TestScanRangeDeduplicates(t *testing.T) {
	vaultAddr := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	src := &fakeSource{
		logs: []types.Log{
			vaultCreatedLog(vaultAddr, 110),
			vaultCreatedLog(vaultAddr, 111),
		},
	}
	tracker := &fakeTracker{}
	s := testScanner(src, tracker)

	require.NoError(t, s.scanRange(context.Background(), 100, 200))
	assert.Len(t, tracker.registered, 1)
}

func TestScanRangeIgnoresForeignLogs(t *testing.T) {
	src := &fakeSource{
		logs: []types.Log{{
			Topics:      []common.Hash{common.HexToHash("0x01")},
			BlockNumber: 120,
		}},
	}
	tracker := &fakeTracker{}
	s := testScanner(src, tracker)

	require.NoError(t, s.scanRange(context.Background(), 100, 200))
	assert.Empty(t, tracker.registered)
}
