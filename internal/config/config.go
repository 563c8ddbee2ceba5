// Package config loads the service configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Market   MarketConfig   `mapstructure:"market"`
	Treasury TreasuryConfig `mapstructure:"treasury"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// StoreConfig holds persistence settings. An empty DatabaseURL selects the
// in-memory store.
type StoreConfig struct {
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// MarketConfig holds the economic parameters of the market engine. Amounts
// are decimal strings; fee rates are basis points.
type MarketConfig struct {
	CreationFee    string        `mapstructure:"creation_fee"`
	MinWager       string        `mapstructure:"min_wager"`
	MinLiquidity   string        `mapstructure:"min_liquidity"`
	LPFeeBps       int64         `mapstructure:"lp_fee_bps"`
	PlatformFeeBps int64         `mapstructure:"platform_fee_bps"`
	MinDuration    time.Duration `mapstructure:"min_duration"`
	MaxDuration    time.Duration `mapstructure:"max_duration"`
}

// TreasuryConfig identifies the platform owner.
type TreasuryConfig struct {
	Owner string `mapstructure:"owner"`
}

// Load reads configuration from the given file (optional) with environment
// overrides under the OVERUNDER prefix, and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OVERUNDER")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.rate_limit_per_sec", 50.0)
	v.SetDefault("server.rate_limit_burst", 100)

	v.SetDefault("store.database_url", "")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.cache_ttl", 30*time.Second)

	v.SetDefault("market.creation_fee", "0.01")
	v.SetDefault("market.min_wager", "0.001")
	v.SetDefault("market.min_liquidity", "0.01")
	v.SetDefault("market.lp_fee_bps", 50)
	v.SetDefault("market.platform_fee_bps", 200)
	v.SetDefault("market.min_duration", time.Hour)
	v.SetDefault("market.max_duration", 365*24*time.Hour)

	v.SetDefault("treasury.owner", "owner")
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	for name, s := range map[string]string{
		"market.creation_fee":  c.Market.CreationFee,
		"market.min_wager":     c.Market.MinWager,
		"market.min_liquidity": c.Market.MinLiquidity,
	} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("%s: invalid amount %q: %w", name, s, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s: amount must not be negative", name)
		}
	}
	if c.Market.LPFeeBps < 0 || c.Market.LPFeeBps > 10000 {
		return fmt.Errorf("market.lp_fee_bps: must be within [0, 10000]")
	}
	if c.Market.PlatformFeeBps < 0 || c.Market.PlatformFeeBps > 10000 {
		return fmt.Errorf("market.platform_fee_bps: must be within [0, 10000]")
	}
	if c.Market.MinDuration <= 0 || c.Market.MaxDuration < c.Market.MinDuration {
		return fmt.Errorf("market durations: need 0 < min_duration <= max_duration")
	}
	if c.Treasury.Owner == "" {
		return fmt.Errorf("treasury.owner: must be set")
	}
	return nil
}

// CreationFee returns the parsed creation fee. Validate must have passed.
func (c *Config) CreationFee() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Market.CreationFee)
	return d
}

// MinWager returns the parsed minimum wager.
func (c *Config) MinWager() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Market.MinWager)
	return d
}

// MinLiquidity returns the parsed minimum liquidity.
func (c *Config) MinLiquidity() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Market.MinLiquidity)
	return d
}
