package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lendora.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
AdminAddress = "0x00000000000000000000000000000000000000aa"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, defaultListenAddress, cfg.ListenAddress)
	require.Equal(t, defaultDataDir, cfg.DataDir)
	require.Equal(t, defaultRatePerMinute, cfg.RateLimitPerMinute)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = "127.0.0.1:9000"
DataDir = "/tmp/lendora"
Env = "staging"
AdminAddress = "0x00000000000000000000000000000000000000aa"
RateLimitPerMinute = 42

[oracle]
  [oracle.Prices]
  NHB = "1000000000000000000"

[[reserve]]
Asset = "NHB"
LTVBps = 7500
LiquidationThresholdBps = 8000
LiquidationBonusBps = 500
  [reserve.model]
  BaseRateRay = "20000000000000000000000000"
  Slope1Ray = "40000000000000000000000000"
  Slope2Ray = "750000000000000000000000000"
  OptimalUtilizationRay = "800000000000000000000000000"

[[genesis]]
Asset = "NHB"
Account = "0x0000000000000000000000000000000000000001"
Amount = "1000000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, 42, cfg.RateLimitPerMinute)
	require.Len(t, cfg.Reserves, 1)
	require.Equal(t, "NHB", cfg.Reserves[0].Asset)
	require.Equal(t, uint64(7500), cfg.Reserves[0].LTVBps)
	require.Equal(t, "1000000000000000000", cfg.Oracle.Prices["NHB"])
	require.Len(t, cfg.Genesis, 1)
}

func TestLoadRejectsMissingAdmin(t *testing.T) {
	path := writeConfig(t, `ListenAddress = "127.0.0.1:9000"`)
	_, err := Load(path)
	require.ErrorContains(t, err, "AdminAddress")
}

func TestLoadRejectsDuplicateReserve(t *testing.T) {
	path := writeConfig(t, `
AdminAddress = "0x00000000000000000000000000000000000000aa"

[[reserve]]
Asset = "NHB"
LTVBps = 7500
LiquidationThresholdBps = 8000

[[reserve]]
Asset = "NHB"
LTVBps = 7000
LiquidationThresholdBps = 7500
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "duplicate reserve")
}

func TestLoadRejectsBadRiskParams(t *testing.T) {
	path := writeConfig(t, `
AdminAddress = "0x00000000000000000000000000000000000000aa"

[[reserve]]
Asset = "NHB"
LTVBps = 9000
LiquidationThresholdBps = 8000
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "LTV <= threshold")
}

func TestJWTSecretEnvOverride(t *testing.T) {
	t.Setenv("LENDORA_JWT_SECRET", "from-env")
	path := writeConfig(t, `
AdminAddress = "0x00000000000000000000000000000000000000aa"
JWTSecret = "from-file"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.JWTSecret)
}
