package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries everything the daemon needs to wire the engines and the
// gateway. Addresses are bech32 strings and are validated by Validate before
// use.
type Config struct {
	ListenAddress     string `toml:"ListenAddress"`
	DataDir           string `toml:"DataDir"`
	NetworkName       string `toml:"NetworkName"`
	RewardsDuration   uint64 `toml:"RewardsDuration"`
	OwnerAddress      string `toml:"OwnerAddress"`
	RewardAuthority   string `toml:"RewardAuthority"`
	TokenMinter       string `toml:"TokenMinter"`
	TokenCounterparty string `toml:"TokenCounterparty"`
	GenesisGrantsFile string `toml:"GenesisGrantsFile"`

	Log        LogConfig            `toml:"Log"`
	Auth       AuthConfig           `toml:"Auth"`
	RateLimits map[string]RateLimit `toml:"RateLimits"`
}

// LogConfig controls structured log output. When File is set, log lines are
// size-rotated on disk in addition to stdout.
type LogConfig struct {
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// AuthConfig controls the gateway's JWT bearer authentication.
type AuthConfig struct {
	Enabled    bool   `toml:"Enabled"`
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
}

// RateLimit bounds request throughput for one gateway route key.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8547"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "stakestream-local"
	}
	if c.RewardsDuration == 0 {
		c.RewardsDuration = 7 * 24 * 60 * 60
	}
	if c.RateLimits == nil {
		c.RateLimits = map[string]RateLimit{}
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
