package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// BenchmarkConfig represents the configuration file structure
type BenchmarkConfig struct {
	Assets            int    `json:"assets"`
	InvestorsPerAsset int    `json:"investors_per_asset"`
	Periods           int    `json:"periods"`
	Concurrency       int    `json:"concurrency"`
	RevenueMinor      int64  `json:"revenue_minor"`
	Currency          string `json:"currency"`
}

// LoadConfig loads configuration from a file
func LoadConfig(path string) (*BenchmarkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg BenchmarkConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveConfig saves configuration to a file
func SaveConfig(path string, cfg *BenchmarkConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetDefaultConfigPath returns the default config path
func GetDefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ledger-benchmark.json"
	}
	return filepath.Join(home, ".ledger-benchmark.json")
}

// apply overrides the flag values with the ones set in the file
func (b *BenchmarkConfig) apply(cfg *Config) {
	if b.Assets > 0 {
		cfg.Assets = b.Assets
	}
	if b.InvestorsPerAsset > 0 {
		cfg.InvestorsPerAsset = b.InvestorsPerAsset
	}
	if b.Periods > 0 {
		cfg.Periods = b.Periods
	}
	if b.Concurrency > 0 {
		cfg.Concurrency = b.Concurrency
	}
	if b.RevenueMinor > 0 {
		cfg.RevenueMinor = b.RevenueMinor
	}
	if b.Currency != "" {
		cfg.Currency = b.Currency
	}
}
