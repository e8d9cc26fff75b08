// Package config centralizes the pipeline's tunable parameters (§6). All
// seven enumerated fields live here so no magic number for a threshold or
// window size is scattered elsewhere in the codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds one run's tunable parameters, per §6.
type Config struct {
	EtherAddress common.Address `yaml:"-"`

	SCCOccurrenceThreshold int     `yaml:"scc_occurrence_threshold"`
	WashMargin             float64 `yaml:"wash_margin"`
	WindowSizesSeconds     []int64 `yaml:"window_sizes_seconds"`
	WorkerCount            int     `yaml:"worker_count"`
	FilterStatus           bool    `yaml:"filter_status"`
	WashTradeUsesETHAmount bool    `yaml:"wash_trade_uses_eth_amount"`

	// EtherAddressHex mirrors EtherAddress for YAML round-tripping; EtherAddress
	// itself is derived from it on load since common.Address has no YAML tag support.
	EtherAddressHex string `yaml:"ether_address"`
}

// Default returns the configuration defaults listed in §6.
func Default() Config {
	return Config{
		EtherAddress:           common.HexToAddress("0x0000000000000000000000000000000000000000"),
		EtherAddressHex:        "0x0000000000000000000000000000000000000000",
		SCCOccurrenceThreshold: 100,
		WashMargin:             0.1,
		WindowSizesSeconds:     []int64{3600, 86400, 604800},
		WorkerCount:            16,
		FilterStatus:           true,
		WashTradeUsesETHAmount: false,
	}
}

// Validate enforces the invariants §6 documents for each field.
func (c Config) Validate() error {
	if c.WashMargin <= 0 {
		return fmt.Errorf("config: wash_margin must be > 0, got %v", c.WashMargin)
	}
	if c.SCCOccurrenceThreshold < 1 {
		return fmt.Errorf("config: scc_occurrence_threshold must be >= 1, got %d", c.SCCOccurrenceThreshold)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("config: worker_count must be >= 1, got %d", c.WorkerCount)
	}
	if len(c.WindowSizesSeconds) == 0 {
		return fmt.Errorf("config: window_sizes_seconds must be non-empty")
	}
	for _, w := range c.WindowSizesSeconds {
		if w <= 0 {
			return fmt.Errorf("config: window_sizes_seconds entries must be > 0, got %d", w)
		}
	}
	return nil
}

// LoadFile overlays YAML config from path onto the defaults. A missing file
// is not an error — callers that only want env-var config can skip this.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.EtherAddressHex != "" {
		cfg.EtherAddress = common.HexToAddress(cfg.EtherAddressHex)
	}
	return cfg, nil
}

// LoadEnv overlays environment variables onto base, following the
// requireEnv/getEnvOrDefault convention the engine's entrypoint uses for
// everything else. Every field is optional here; only Validate is strict.
func LoadEnv(base Config) Config {
	cfg := base

	if v := os.Getenv("ETHER_ADDRESS"); v != "" {
		cfg.EtherAddressHex = v
		cfg.EtherAddress = common.HexToAddress(v)
	}
	if v := os.Getenv("SCC_OCCURRENCE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SCCOccurrenceThreshold = n
		}
	}
	if v := os.Getenv("WASH_MARGIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.WashMargin = f
		}
	}
	if v := os.Getenv("WINDOW_SIZES_SECONDS"); v != "" {
		parts := strings.Split(v, ",")
		sizes := make([]int64, 0, len(parts))
		for _, p := range parts {
			if n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
				sizes = append(sizes, n)
			}
		}
		if len(sizes) > 0 {
			cfg.WindowSizesSeconds = sizes
		}
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerCount = n
		}
	}
	if v := os.Getenv("FILTER_STATUS"); v != "" {
		cfg.FilterStatus = v == "true" || v == "1"
	}
	if v := os.Getenv("WASH_TRADE_USES_ETH_AMOUNT"); v != "" {
		cfg.WashTradeUsesETHAmount = v == "true" || v == "1"
	}

	return cfg
}

// requireEnv reads a required environment variable and returns an error if
// it is not set. Mirrors the engine's fatal-on-missing-secret convention.
func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return val, nil
}

// DatabaseURL reads DATABASE_URL, required only when persistence is enabled.
func DatabaseURL() (string, error) {
	return requireEnv("DATABASE_URL")
}
