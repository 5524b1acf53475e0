package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the runtime settings crowdsaled loads from its TOML file.
// The campaign section holds the sale terms; the global section holds the
// operational pause flags and per-address quotas.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	GenesisFile  string `toml:"GenesisFile"`
	NetworkName  string `toml:"NetworkName"`
	RPCAuthToken string `toml:"RPCAuthToken"`

	Campaign Campaign `toml:"campaign"`
	Global   Global   `toml:"global"`
}

// Load loads the configuration from the given path. A missing file is
// replaced with a default template the operator fills in before first start.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s contains unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./crowdsale-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "crw-local"
	}
}

// createDefault creates and saves a default configuration file. The campaign
// section is written empty on purpose: SaleConfig rejects it, so the node
// refuses to start until real sale terms are filled in.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./crowdsale-data",
		GenesisFile: "",
		NetworkName: "crw-local",
		Global: Global{
			Quotas: Quotas{
				Sale: Quota{
					MaxRequestsPerMin: 60,
					MaxUSDQPerEpoch:   0,
					EpochSeconds:      3600,
				},
			},
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
