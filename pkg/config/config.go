package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration of the exchange daemon.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Exchange Exchange `yaml:"exchange"`
	Logging  Logging  `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir string `yaml:"data_dir"`
}

// Server holds the RPC listener configuration.
type Server struct {
	Addr string `yaml:"addr"`
}

// Exchange holds the economic constants and the genesis token list.
type Exchange struct {
	FeeDenominator uint64 `yaml:"fee_denominator"`
	MaxTokens      int    `yaml:"max_tokens"`
	// FeeToken is the address registered as token id 0.
	FeeToken string `yaml:"fee_token"`
	// Tokens are registered in order on first start.
	Tokens []string `yaml:"tokens"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Load reads the YAML configuration at path, applies environment
// variable overrides and fills in defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Storage:  Storage{DataDir: "data"},
		Server:   Server{Addr: ":12001"},
		Exchange: Exchange{FeeDenominator: 1000, MaxTokens: 1 << 16},
		Logging:  Logging{Level: "info"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EXCHANGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("EXCHANGE_RPC_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("EXCHANGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
