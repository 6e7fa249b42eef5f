// Package config defines all configuration for the gateway. Config is
// loaded from a YAML file with sensitive fields overridable via
// GATEWAY_*-prefixed environment variables, generalizing the teacher's
// internal/config/config.go (spf13/viper + env-override pattern) from one
// wallet/API/strategy shape to the multi-venue schema of spec §6.3.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, matching spec §6.3's schema.
type Config struct {
	StrategyID string `mapstructure:"strategy_id"`
	UserID     string `mapstructure:"user_id"`
	IsMock     bool   `mapstructure:"is_mock"`

	Basic   map[string]BasicConfig        `mapstructure:"basic_config"`
	Public  map[string][]PublicConnConfig `mapstructure:"public_conn_config"`
	Private map[string][]PrivateConnConfig `mapstructure:"private_conn_config"`

	// Markets is the static instrument list Engine builds types.Market
	// from at boot. The distilled spec has no live instrument-discovery
	// REST call for any of the six venues, so the gateway takes the
	// market specs (tick/lot/minimums) as configuration, the same way the
	// teacher's own StrategyConfig takes a fixed set of tunable market
	// parameters rather than discovering them.
	Markets []MarketConfig `mapstructure:"markets"`

	StorageBackend        string        `mapstructure:"storage_backend"` // "sqlite" or "postgresql"
	DBPath                string        `mapstructure:"db_path"`
	CacheSyncInterval     time.Duration `mapstructure:"cache_sync_interval"`
	CacheExpiredTime      time.Duration `mapstructure:"cache_expired_time"`
	CacheOrderMaxSize     int           `mapstructure:"cache_order_maxsize"`
	CacheOrderExpiredTime time.Duration `mapstructure:"cache_order_expired_time"`

	Logging LoggingConfig `mapstructure:"log_config"`

	// KVParamRedisURL, when set, wires internal/cache/kvparam's optional
	// cross-process strategy-parameter store. Empty disables it.
	KVParamRedisURL string `mapstructure:"kv_param_redis_url"`
}

// BasicConfig is one venue's API credentials, per spec §6.3
// `basic_config: map<ExchangeType -> {api_key, secret, passphrase?, testnet}>`.
type BasicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Secret     string `mapstructure:"secret"`
	Passphrase string `mapstructure:"passphrase"`
	Testnet    bool   `mapstructure:"testnet"`
}

// PublicConnConfig is one entry of `public_conn_config`.
type PublicConnConfig struct {
	AccountType     string `mapstructure:"account_type"`
	EnableRateLimit bool   `mapstructure:"enable_rate_limit"`
	CustomURL       string `mapstructure:"custom_url"`
}

// PrivateConnConfig is one entry of `private_conn_config`.
type PrivateConnConfig struct {
	AccountType     string `mapstructure:"account_type"`
	EnableRateLimit bool   `mapstructure:"enable_rate_limit"`
	CustomURL       string `mapstructure:"custom_url"`

	MaxRetries     int     `mapstructure:"max_retries"`
	DelayInitialMs int     `mapstructure:"delay_initial_ms"`
	DelayMaxMs     int     `mapstructure:"delay_max_ms"`
	BackoffFactor  float64 `mapstructure:"backoff_factor"`

	// Mock-connector fields (spec §4.N step 4); ignored by real connectors.
	InitialBalance    float64       `mapstructure:"initial_balance"`
	OverwriteBalance  bool          `mapstructure:"overwrite_balance"`
	OverwritePosition bool          `mapstructure:"overwrite_position"`
	FeeRate           float64       `mapstructure:"fee_rate"`
	QuoteCurrency     string        `mapstructure:"quote_currency"`
	UpdateInterval    time.Duration `mapstructure:"update_interval"`
	Leverage          float64       `mapstructure:"leverage"`
}

// MarketConfig describes one tradeable instrument: its canonical symbol
// string (spec §6.1, e.g. "BTCUSDT-PERP.BYBIT") plus the tick/lot/minimum
// sizing Market requires. Multiplier/MinLeverage/MaxLeverage are ignored
// for spot instruments.
type MarketConfig struct {
	Symbol      string  `mapstructure:"symbol"`
	Base        string  `mapstructure:"base"`
	Quote       string  `mapstructure:"quote"`
	PriceTick   string  `mapstructure:"price_tick"`
	AmountLot   string  `mapstructure:"amount_lot"`
	MinNotional string  `mapstructure:"min_notional"`
	MinAmount   string  `mapstructure:"min_amount"`
	Multiplier  string  `mapstructure:"multiplier"`
	MinLeverage string  `mapstructure:"min_leverage"`
	MaxLeverage string  `mapstructure:"max_leverage"`
}

// LoggingConfig matches spec §6.3's log_config (level, directory, file
// name, rotation), plus Format as the [AMBIENT] text/JSON handler choice
// the teacher's own cmd/bot/main.go makes.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Directory string `mapstructure:"directory"`
	FileName  string `mapstructure:"file_name"`
	Rotation  string `mapstructure:"rotation"`
}

// Load reads config from a YAML file with env var overrides. Sensitive
// per-venue fields use GATEWAY_BASIC_<EXCHANGE>_{API_KEY,SECRET,PASSPHRASE}.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyCredentialOverrides(&cfg)

	return &cfg, nil
}

// applyCredentialOverrides lets GATEWAY_BASIC_<EXCHANGE>_{API_KEY,SECRET,
// PASSPHRASE} override whatever the YAML file set for that exchange,
// generalizing the teacher's flat POLY_API_KEY/POLY_API_SECRET overrides
// to a per-venue credential map.
func applyCredentialOverrides(cfg *Config) {
	if cfg.Basic == nil {
		cfg.Basic = make(map[string]BasicConfig)
	}
	for exchange, creds := range cfg.Basic {
		prefix := "GATEWAY_BASIC_" + strings.ToUpper(exchange) + "_"
		if v := envOrEmpty(prefix + "API_KEY"); v != "" {
			creds.APIKey = v
		}
		if v := envOrEmpty(prefix + "SECRET"); v != "" {
			creds.Secret = v
		}
		if v := envOrEmpty(prefix + "PASSPHRASE"); v != "" {
			creds.Passphrase = v
		}
		cfg.Basic[exchange] = creds
	}
}

// envOrEmpty returns the value of the environment variable key, or ""
// when it is unset.
func envOrEmpty(key string) string {
	return os.Getenv(key)
}

// Validate checks required fields and value ranges, mirroring the
// teacher's fail-fast field checks generalized to per-venue credential
// maps.
func (c *Config) Validate() error {
	if c.StrategyID == "" {
		return fmt.Errorf("strategy_id is required")
	}
	if len(c.Basic) == 0 {
		return fmt.Errorf("basic_config must configure at least one exchange")
	}
	for exchange, creds := range c.Basic {
		if creds.APIKey == "" || creds.Secret == "" {
			return fmt.Errorf("basic_config.%s: api_key and secret are required", exchange)
		}
	}
	for exchange, entries := range c.Public {
		if _, ok := c.Basic[exchange]; !ok {
			return fmt.Errorf("public_conn_config references unconfigured exchange %q", exchange)
		}
		if len(entries) == 0 {
			return fmt.Errorf("public_conn_config.%s must have at least one entry", exchange)
		}
	}
	for exchange, entries := range c.Private {
		if _, ok := c.Basic[exchange]; !ok {
			return fmt.Errorf("private_conn_config references unconfigured exchange %q", exchange)
		}
		if len(entries) == 0 {
			return fmt.Errorf("private_conn_config.%s must have at least one entry", exchange)
		}
	}
	switch c.StorageBackend {
	case "sqlite", "postgresql":
	default:
		return fmt.Errorf("storage_backend must be one of: sqlite, postgresql")
	}
	if c.StorageBackend == "sqlite" && c.DBPath == "" {
		return fmt.Errorf("db_path is required when storage_backend is sqlite")
	}
	return nil
}
