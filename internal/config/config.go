// Package config loads node configuration from YAML files, an optional
// environment overlay, and environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AccountConfig describes one configured account relationship.
type AccountConfig struct {
	Username        string `mapstructure:"username"`
	Address         string `mapstructure:"address"`
	AssetCode       string `mapstructure:"asset_code"`
	AssetScale      uint8  `mapstructure:"asset_scale"`
	RoutingRelation string `mapstructure:"routing_relation"`

	HTTPEndpoint      string `mapstructure:"http_endpoint"`
	HTTPIncomingToken string `mapstructure:"http_incoming_token"`
	HTTPOutgoingToken string `mapstructure:"http_outgoing_token"`

	BTPURL           string `mapstructure:"btp_url"`
	BTPIncomingToken string `mapstructure:"btp_incoming_token"`
	BTPOutgoingToken string `mapstructure:"btp_outgoing_token"`

	MinBalance      int64 `mapstructure:"min_balance"`
	SettleThreshold int64 `mapstructure:"settle_threshold"`
	SettleTo        int64 `mapstructure:"settle_to"`

	PacketsPerMinute uint32 `mapstructure:"packets_per_minute"`
	AmountPerMinute  uint64 `mapstructure:"amount_per_minute"`

	RoundTripTimeMS     uint32 `mapstructure:"round_trip_time_ms"`
	SettlementEngineURL string `mapstructure:"settlement_engine_url"`
}

// Config is the unified node configuration. It mirrors the structure of
// the YAML files under config/.
type Config struct {
	Node struct {
		ILPAddress string `mapstructure:"ilp_address"`
		AssetCode  string `mapstructure:"asset_code"`
		AssetScale uint8  `mapstructure:"asset_scale"`
	} `mapstructure:"node"`

	Listen struct {
		HTTPAddr string `mapstructure:"http_addr"`
		HTTPPath string `mapstructure:"http_path"`
		BTPAddr  string `mapstructure:"btp_addr"`
		BTPPath  string `mapstructure:"btp_path"`
	} `mapstructure:"listen"`

	CCP struct {
		BroadcastIntervalMS int `mapstructure:"broadcast_interval_ms"`
		EpochExpiryMS       int `mapstructure:"epoch_expiry_ms"`
	} `mapstructure:"ccp"`

	ExchangeRate struct {
		SpreadPercent float64 `mapstructure:"spread_percent"`
		ProviderURL   string  `mapstructure:"provider_url"`
	} `mapstructure:"exchange_rate"`

	RateLimit struct {
		DefaultPacketsPerMinute uint32 `mapstructure:"default_packets_per_minute"`
		DefaultAmountPerMinute  uint64 `mapstructure:"default_amount_per_minute"`
	} `mapstructure:"rate_limit"`

	Settlement struct {
		MaxAttempts       int `mapstructure:"max_attempts"`
		RetryWaitServerMS int `mapstructure:"retry_wait_server_ms"`
		RetryWaitOtherMS  int `mapstructure:"retry_wait_other_ms"`
		QueueDepth        int `mapstructure:"queue_depth"`
		WorkerCount       int `mapstructure:"worker_count"`
	} `mapstructure:"settlement"`

	Store struct {
		Backend string `mapstructure:"backend"`
	} `mapstructure:"store"`

	Logging struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"logging"`

	Accounts []AccountConfig `mapstructure:"accounts"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads config/default.yaml, merges an optional env-specific
// overlay (config/<env>.yaml), loads a local .env file if present, and
// unmarshals the result into AppConfig.
func Load(env string) (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: load default config: %w", err)
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: merge %s config: %w", env, err)
		}
	}

	viper.SetEnvPrefix("ILP_NODE")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	applyDefaults(&AppConfig)
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ILP_NODE_ENV environment
// variable to select the overlay.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("ILP_NODE_ENV"))
}

func applyDefaults(c *Config) {
	if c.Listen.HTTPPath == "" {
		c.Listen.HTTPPath = "/accounts/{username}/ilp"
	}
	if c.Listen.BTPPath == "" {
		c.Listen.BTPPath = "/accounts/{username}/ilp/btp"
	}
	if c.Settlement.MaxAttempts == 0 {
		c.Settlement.MaxAttempts = 10
	}
	if c.Settlement.RetryWaitServerMS == 0 {
		c.Settlement.RetryWaitServerMS = 5000
	}
	if c.Settlement.RetryWaitOtherMS == 0 {
		c.Settlement.RetryWaitOtherMS = 1000
	}
	if c.Settlement.QueueDepth == 0 {
		c.Settlement.QueueDepth = 256
	}
	if c.Settlement.WorkerCount == 0 {
		c.Settlement.WorkerCount = 4
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
