package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"lendora/native/lending"
)

// Config is the daemon's TOML configuration.
type Config struct {
	ListenAddress      string `toml:"ListenAddress"`
	DataDir            string `toml:"DataDir"`
	Env                string `toml:"Env"`
	LogFile            string `toml:"LogFile"`
	JWTSecret          string `toml:"JWTSecret"`
	RateLimitPerMinute int    `toml:"RateLimitPerMinute"`
	AdminAddress       string `toml:"AdminAddress"`
	CustodyAddress     string `toml:"CustodyAddress"`

	Oracle   OracleConfig              `toml:"oracle"`
	Reserves []lending.ReserveSettings `toml:"reserve"`
	Genesis  []GenesisFunding          `toml:"genesis"`
}

// OracleConfig seeds the static oracle with wad USD prices per asset.
type OracleConfig struct {
	Prices map[string]string `toml:"Prices"`
}

// GenesisFunding credits an account's underlying balance at startup, standing
// in for the external token plumbing.
type GenesisFunding struct {
	Asset   string `toml:"Asset"`
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}

const (
	defaultListenAddress = "0.0.0.0:8545"
	defaultDataDir       = "./lendora-data"
	defaultRatePerMinute = 600
)

// Load reads and validates the TOML file at path, applying defaults and the
// LENDORA_JWT_SECRET environment override.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = defaultRatePerMinute
	}
	if secret := strings.TrimSpace(os.Getenv("LENDORA_JWT_SECRET")); secret != "" {
		c.JWTSecret = secret
	}
}

// Validate checks the reserve and funding sections for obvious mistakes before
// the daemon wires anything.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		return fmt.Errorf("config: AdminAddress is required")
	}
	seen := make(map[string]bool, len(c.Reserves))
	for _, reserve := range c.Reserves {
		asset := strings.TrimSpace(reserve.Asset)
		if asset == "" {
			return fmt.Errorf("config: reserve with empty asset")
		}
		if seen[asset] {
			return fmt.Errorf("config: duplicate reserve %s", asset)
		}
		seen[asset] = true
		if _, err := reserve.ReserveConfig(); err != nil {
			return err
		}
	}
	for _, funding := range c.Genesis {
		if strings.TrimSpace(funding.Asset) == "" || strings.TrimSpace(funding.Account) == "" {
			return fmt.Errorf("config: genesis funding requires asset and account")
		}
	}
	return nil
}
