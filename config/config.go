package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"custodia/crypto"
	"custodia/native/common"
)

// DefaultFlipFeeBps matches the historical 2% settlement fee.
const DefaultFlipFeeBps uint32 = 200

// Config carries the operator-tunable settings of the settlement engine.
type Config struct {
	DataDir           string   `toml:"DataDir"`
	FeeCollector      string   `toml:"FeeCollector"`
	DefaultFlipFeeBps uint32   `toml:"DefaultFlipFeeBps"`
	PausedModules     []string `toml:"PausedModules"`
}

// Load reads the configuration from the given path, creating a default
// file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	// An explicit zero stays zero; only an absent key takes the default.
	if !meta.IsDefined("DefaultFlipFeeBps") {
		cfg.DefaultFlipFeeBps = DefaultFlipFeeBps
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:           "./data",
		DefaultFlipFeeBps: DefaultFlipFeeBps,
		PausedModules:     []string{},
	}
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

// Validate checks value ranges and the fee collector encoding.
func (c *Config) Validate() error {
	if c.DefaultFlipFeeBps > 10_000 {
		return fmt.Errorf("config: DefaultFlipFeeBps out of range: %d", c.DefaultFlipFeeBps)
	}
	if strings.TrimSpace(c.FeeCollector) != "" {
		if _, err := crypto.DecodeAddress(c.FeeCollector); err != nil {
			return fmt.Errorf("config: invalid FeeCollector: %w", err)
		}
	}
	return nil
}

// FeeCollectorAddress decodes the configured fee collector. A zero
// address means no collector is configured; fee-charging flips will then
// refuse to settle.
func (c *Config) FeeCollectorAddress() ([20]byte, error) {
	var out [20]byte
	if strings.TrimSpace(c.FeeCollector) == "" {
		return out, nil
	}
	addr, err := crypto.DecodeAddress(c.FeeCollector)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

// Pauses builds the pause view handed to the native engines.
func (c *Config) Pauses() *common.Pauses {
	return common.NewPauses(c.PausedModules...)
}
