package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
global:
  logs_dir: /var/log/liqbot
  state_dir: /var/lib/liqbot
  api_port: 8080

chains:
  8453:
    name: base
    rpc_env: BASE_RPC_URL
    explorer_url: https://basescan.org
    factory:
      address: "0x1000000000000000000000000000000000000001"
      deployment_block: 27500000
    contracts:
      evc: "0x2000000000000000000000000000000000000002"
      health_viewer: "0x3000000000000000000000000000000000000003"
      euler_liquidator: "0x4000000000000000000000000000000000000004"
      aave_liquidator: "0x5000000000000000000000000000000000000005"
      usds: "0x6000000000000000000000000000000000000006"
    health:
      liquidation: 1.0
      high_risk: 1.15
      safe: 1.5
    sizes:
      teeny: 10
      mini: 100
      small: 1000
      medium: 10000
    intervals:
      max_update: 7200
      teeny: {liq: 60, high: 600, safe: 3600}
      mini: {liq: 30, high: 300, safe: 1800}
      small: {liq: 15, high: 120, safe: 900}
      medium: {liq: 5, high: 60, safe: 300}
      large: {liq: 2, high: 30, safe: 120}
    scanner:
      scan_interval: 30
      retry_delay: 10
      batch_size: 10000
      batch_interval: 1
    save_interval: 300
    notify:
      small_position_threshold: 500
      low_health_report_interval: 3600
      error_cooldown: 1800
      small_position_report_interval: 86400
      report_health_score: 1.1
      borrow_value_threshold: 100
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o644))
	return path
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LIQUIDATOR_EOA", "0x7000000000000000000000000000000000000007")
	t.Setenv("LIQUIDATOR_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("ONEINCH_API_KEY", "test-key")
	t.Setenv("BASE_RPC_URL", "https://mainnet.base.org")
}

func TestLoadAndResolveChain(t *testing.T) {
	setRequiredEnv(t)
	file, err := Load(writeConfig(t))
	require.NoError(t, err)

	cfg, err := file.ResolveChain(8453)
	require.NoError(t, err)

	assert.Equal(t, "base", cfg.Name)
	assert.Equal(t, "https://mainnet.base.org", cfg.RPCURL)
	assert.Equal(t, uint64(27500000), cfg.DeploymentBlock)
	assert.Equal(t, common.HexToAddress("0x3000000000000000000000000000000000000003"), cfg.HealthViewer)
	assert.Equal(t, common.HexToAddress("0x7000000000000000000000000000000000000007"), cfg.LiquidatorEOA)
	assert.NotNil(t, cfg.LiquidatorKey)

	assert.Equal(t, 2*time.Hour, cfg.Cadence.MaxUpdateInterval)
	assert.Equal(t, 15*time.Second, cfg.Cadence.Small.Liq)
	assert.Equal(t, 15*time.Minute, cfg.Cadence.Small.Safe)
	assert.Equal(t, 1.15, cfg.Cadence.HSHighRisk)

	assert.Equal(t, 30*time.Second, cfg.ScanInterval)
	assert.Equal(t, uint64(10000), cfg.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.SaveInterval)

	assert.Equal(t, 500.0, cfg.SmallPositionThreshold)
	assert.Equal(t, time.Hour, cfg.LowHealthReportInterval)
	assert.Equal(t, 1.1, cfg.ReportHealthScore)

	assert.Equal(t, filepath.Join("/var/lib/liqbot", "base_state.json"), cfg.StateFile)
}

func TestResolveChainDefaultMinReturnOffset(t *testing.T) {
	setRequiredEnv(t)
	file, err := Load(writeConfig(t))
	require.NoError(t, err)

	cfg, err := file.ResolveChain(8453)
	require.NoError(t, err)
	assert.Equal(t, DefaultMinReturnOffset, cfg.MinReturnOffset)
}

func TestResolveChainUnknownID(t *testing.T) {
	setRequiredEnv(t)
	file, err := Load(writeConfig(t))
	require.NoError(t, err)

	_, err = file.ResolveChain(1)
	assert.Error(t, err)
}

func TestResolveChainMissingEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ONEINCH_API_KEY", "")

	file, err := Load(writeConfig(t))
	require.NoError(t, err)

	_, err = file.ResolveChain(8453)
	assert.ErrorIs(t, err, ErrMissingEnv)
}

func TestResolveChainMissingRPCEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BASE_RPC_URL", "")

	file, err := Load(writeConfig(t))
	require.NoError(t, err)

	_, err = file.ResolveChain(8453)
	assert.ErrorIs(t, err, ErrMissingEnv)
}

func TestResolveChainWatchlist(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WATCHLIST_VAULTS", "0x9000000000000000000000000000000000000009, 0xa00000000000000000000000000000000000000a")

	file, err := Load(writeConfig(t))
	require.NoError(t, err)

	cfg, err := file.ResolveChain(8453)
	require.NoError(t, err)
	assert.True(t, cfg.WatchlistVaults[common.HexToAddress("0x9000000000000000000000000000000000000009")])
	assert.True(t, cfg.WatchlistVaults[common.HexToAddress("0xa00000000000000000000000000000000000000a")])
	assert.Len(t, cfg.WatchlistVaults, 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
