// Package config loads the engine's compile-time-constant process
// inputs (§9): asset holdings, fiat exclusion, budget, cycle-length
// and threshold tuning, and the operating mode, from a single YAML
// file. Credentials load separately from the environment (§9,
// "credential loading from environment" is out of scope for this
// package beyond wiring godotenv).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/arbitron/internal/domain"
)

// Config is the full process configuration, loaded once at startup and
// never mutated afterward.
type Config struct {
	Holdings       []string `yaml:"asset_holdings"`
	Stablecoins    []string `yaml:"stablecoins"`
	FiatExclusion  []string `yaml:"fiat_exclusion"`
	USDBudget      float64  `yaml:"usd_budget"`
	MaxCycleLength int      `yaml:"max_cycle_length"`
	MinArbThresh   float64  `yaml:"min_arb_thresh"`

	Driver  string `yaml:"driver"`  // "searcher" or "listener"
	Persist bool   `yaml:"persist"`
	Trade   bool   `yaml:"trade"`

	Venue    VenueConfig    `yaml:"venue"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type VenueConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	DepthLimit        int     `yaml:"depth_limit"`
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// DefaultConfig mirrors the open question's resolution: a single
// {Searcher,Listener} x (persist,trade) mode, one constants set.
func DefaultConfig() Config {
	return Config{
		Holdings:       []string{"USDT", "BTC"},
		Stablecoins:    []string{"USDT", "USDC", "BUSD", "DAI"},
		FiatExclusion:  []string{"EUR", "GBP", "TRY", "AUD", "BRL"},
		USDBudget:      1000,
		MaxCycleLength: 4,
		MinArbThresh:   1.0,
		Driver:         "searcher",
		Persist:        true,
		Trade:          false,
		Venue: VenueConfig{
			RequestsPerSecond: 8,
			Burst:             16,
			DepthLimit:        100,
		},
	}
}

// Load reads and parses a YAML config file at path. A missing file is
// not an error: defaults are returned instead.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Mode converts the loaded driver/persist/trade fields into the
// domain's consolidated Mode sum type.
func (c Config) Mode() domain.Mode {
	driver := domain.Searcher
	if c.Driver == string(domain.Listener) {
		driver = domain.Listener
	}
	return domain.Mode{Driver: driver, Persist: c.Persist, Trade: c.Trade}
}

func (c Config) HoldingsSet() map[string]bool {
	return toSet(c.Holdings)
}

func (c Config) StablecoinsSet() map[string]bool {
	return toSet(c.Stablecoins)
}

func (c Config) FiatExclusionSet() map[string]bool {
	return toSet(c.FiatExclusion)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// Secrets holds the API credentials loaded from the environment, kept
// separate from Config so a credential never round-trips through YAML.
type Secrets struct {
	APIKey    string
	APISecret string
}

// LoadSecrets loads a .env file if present (a missing or unreadable
// file is silently ignored) then reads API_KEY/API_SECRET from the
// process environment.
func LoadSecrets(envFile string) Secrets {
	_ = godotenv.Load(envFile)
	return Secrets{
		APIKey:    os.Getenv("API_KEY"),
		APISecret: os.Getenv("API_SECRET"),
	}
}
