package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-trading/dexstrat/internal/barstore"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("DB_PATH", "user:pass@tcp(localhost:3306)/dexstrat?parseTime=True")
	t.Setenv("WALLET_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("WETH_ADDRESS", "0x4200000000000000000000000000000000000006")
	t.Setenv("EXECUTOR_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("START_BLOCK_ID", "100")
	t.Setenv("END_BLOCK_ID", "200")
}

func TestLoadBacktestMode(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ModeBacktest, cfg.Mode)
	assert.Equal(t, uint64(100), cfg.StartBlockID.Number)
	assert.Equal(t, uint64(200), cfg.EndBlockID.Number)
	assert.NotNil(t, cfg.WalletPrivateKey)
	assert.NotEqual(t, cfg.WalletAddress.Hex(), "0x0000000000000000000000000000000000000000")
}

func TestLoadLiveMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("START_BLOCK_ID", "latest")
	t.Setenv("END_BLOCK_ID", "latest")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ModeLive, cfg.Mode)
}

func TestLoadRejectsMixedBounds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("START_BLOCK_ID", "latest")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsInvertedRange(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("START_BLOCK_ID", "200")
	t.Setenv("END_BLOCK_ID", "100")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsMissingKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WALLET_PRIVATE_KEY", "")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadStrategyConfigDefaultsOnMissingFile(t *testing.T) {
	cfg, err := LoadStrategyConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, barstore.Resolution5Min, cfg.Resolution)
	assert.Equal(t, 288, cfg.RetentionCount)
}

func TestLoadStrategyConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yml")
	doc := `
contracts:
  v2_router:
    address: "0x1234567890123456789012345678901234567890"
strategy:
  resolution: 1h
  retentionCount: 48
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadStrategyConfig(path)
	require.NoError(t, err)
	assert.Equal(t, barstore.Resolution1Hour, cfg.Resolution)
	assert.Equal(t, 48, cfg.RetentionCount)
	assert.Equal(t, "0x1234567890123456789012345678901234567890", cfg.V2RouterAddress.Hex())
}

func TestLoadStrategyConfigRejectsUnknownContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yml")
	doc := `
contracts:
  mystery:
    address: "0x1234567890123456789012345678901234567890"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadStrategyConfig(path)
	assert.Error(t, err)
}
