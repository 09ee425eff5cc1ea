package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Kisflow  KisflowConfig  `yaml:"kisflow"`
	Channels ChannelsConfig `yaml:"channels"`
	Broker   BrokerConfig   `yaml:"broker"`
	Feed     FeedConfig     `yaml:"feed"`
	Strategy StrategyConfig `yaml:"strategy"`
	Paper    PaperConfig    `yaml:"paper"`
	Storage  StorageConfig  `yaml:"storage"`
	Pollers  PollersConfig  `yaml:"pollers"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type KisflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	RawBuffer     int `yaml:"raw_buffer"`
	SignalBuffer  int `yaml:"signal_buffer"`
	OrderBuffer   int `yaml:"order_buffer"`
	PersistBuffer int `yaml:"persist_buffer"`
}

// BrokerConfig describes the KIS OpenAPI endpoints and account identity.
// Secrets are taken from the environment (APP_KEY, APP_SECRET, CANO,
// ACNT_PRDT_CD) and override any values present in the file.
type BrokerConfig struct {
	Mode               string `yaml:"mode"` // "real" or "virtual"
	RealBaseURL        string `yaml:"real_base_url"`
	VirtualBaseURL     string `yaml:"virtual_base_url"`
	AppKey             string `yaml:"app_key"`
	AppSecret          string `yaml:"app_secret"`
	AccountNo          string `yaml:"account_no"`
	AccountProductCode string `yaml:"account_product_code"`
	TokenFile          string `yaml:"token_file"`
	RequestTimeoutSec  int    `yaml:"request_timeout_sec"`
}

// BaseURL returns the REST endpoint matching the configured trading
// mode.
func (b BrokerConfig) BaseURL() string {
	if strings.EqualFold(b.Mode, "real") {
		return b.RealBaseURL
	}
	return b.VirtualBaseURL
}

type FeedConfig struct {
	URL           string               `yaml:"url"`
	BackoffSec    int                  `yaml:"backoff_sec"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// SubscriptionConfig is one realtime topic registration: a KIS tr_id
// (message type) paired with a tr_key (instrument).
type SubscriptionConfig struct {
	TrID  string `yaml:"tr_id"`
	TrKey string `yaml:"tr_key"`
}

type StrategyConfig struct {
	Instrument        string  `yaml:"instrument"`
	BarWindow         int     `yaml:"bar_window"`
	BandWindow        int     `yaml:"band_window"`
	BandMultiplier    float64 `yaml:"band_multiplier"`
	OscillatorPeriod  int     `yaml:"oscillator_period"`
	OversoldThreshold float64 `yaml:"oversold_threshold"`
	TakeProfit        float64 `yaml:"take_profit"`
}

// PaperConfig parameterizes the virtual ledger. Allocations maps a
// position-sizing stage (b1 first entry, b2 martingale add) to the
// fraction of initial capital committed at that stage.
type PaperConfig struct {
	InitialCapital float64            `yaml:"initial_capital"`
	FeeRate        float64            `yaml:"fee_rate"`
	Allocations    map[string]float64 `yaml:"allocations"`
}

type StorageConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Database           string `yaml:"database"`
	InsertRetryPauseMs int    `yaml:"insert_retry_pause_ms"`
	DrainTimeoutSec    int    `yaml:"drain_timeout_sec"`
}

type PollersConfig struct {
	ExchangeRate ExchangeRatePollerConfig `yaml:"exchange_rate"`
	GlobalIndex  GlobalIndexPollerConfig  `yaml:"global_index"`
	Nav          NavPollerConfig          `yaml:"nav"`
	Balance      BalancePollerConfig      `yaml:"balance"`
}

type ExchangeRatePollerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	IntervalSec int    `yaml:"interval_sec"`
	QuoteURL    string `yaml:"quote_url"`
}

type GlobalIndexPollerConfig struct {
	Enabled     bool              `yaml:"enabled"`
	IntervalSec int               `yaml:"interval_sec"`
	QuoteURL    string            `yaml:"quote_url"`
	Symbols     map[string]string `yaml:"symbols"` // code -> quote ticker
}

type NavPollerConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Instrument     string  `yaml:"instrument"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	IdleSec        int     `yaml:"idle_sec"` // wait outside market hours
}

type BalancePollerConfig struct {
	Enabled     bool `yaml:"enabled"`
	IntervalSec int  `yaml:"interval_sec"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Secrets and account identity come from the environment when set.
	if v := os.Getenv("APP_KEY"); v != "" {
		config.Broker.AppKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("APP_SECRET"); v != "" {
		config.Broker.AppSecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("CANO"); v != "" {
		config.Broker.AccountNo = strings.TrimSpace(v)
	}
	if v := os.Getenv("ACNT_PRDT_CD"); v != "" {
		config.Broker.AccountProductCode = strings.TrimSpace(v)
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		config.Broker.Mode = strings.TrimSpace(v)
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		config.Storage.Host = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			config.Storage.Port = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		config.Storage.User = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		config.Storage.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		config.Storage.Database = strings.TrimSpace(v)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Broker.RealBaseURL == "" {
		cfg.Broker.RealBaseURL = "https://openapi.koreainvestment.com:9443"
	}
	if cfg.Broker.VirtualBaseURL == "" {
		cfg.Broker.VirtualBaseURL = "https://openapivts.koreainvestment.com:29443"
	}
	if cfg.Broker.TokenFile == "" {
		cfg.Broker.TokenFile = "access_token.json"
	}
	if cfg.Broker.RequestTimeoutSec <= 0 {
		cfg.Broker.RequestTimeoutSec = 10
	}
	if cfg.Feed.BackoffSec <= 0 {
		cfg.Feed.BackoffSec = 5
	}
	if cfg.Strategy.BarWindow <= 0 {
		cfg.Strategy.BarWindow = 100
	}
	if cfg.Strategy.BandWindow <= 0 {
		cfg.Strategy.BandWindow = 20
	}
	if cfg.Strategy.BandMultiplier <= 0 {
		cfg.Strategy.BandMultiplier = 2.0
	}
	if cfg.Strategy.OscillatorPeriod <= 0 {
		cfg.Strategy.OscillatorPeriod = 14
	}
	if cfg.Strategy.OversoldThreshold <= 0 {
		cfg.Strategy.OversoldThreshold = 30.0
	}
	if cfg.Strategy.TakeProfit <= 0 {
		cfg.Strategy.TakeProfit = 0.003
	}
	if len(cfg.Paper.Allocations) == 0 {
		cfg.Paper.Allocations = map[string]float64{"b1": 0.06, "b2": 0.12}
	}
	if cfg.Storage.InsertRetryPauseMs <= 0 {
		cfg.Storage.InsertRetryPauseMs = 100
	}
	if cfg.Storage.DrainTimeoutSec <= 0 {
		cfg.Storage.DrainTimeoutSec = 2
	}
	if cfg.Pollers.Nav.RequestsPerSec <= 0 {
		cfg.Pollers.Nav.RequestsPerSec = 2
	}
	if cfg.Pollers.Nav.IdleSec <= 0 {
		cfg.Pollers.Nav.IdleSec = 60
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Kisflow.Name == "" {
		return fmt.Errorf("kisflow.name is required")
	}

	if cfg.Kisflow.Version == "" {
		return fmt.Errorf("kisflow.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.SignalBuffer <= 0 {
		return fmt.Errorf("channels.signal_buffer must be greater than 0")
	}
	if cfg.Channels.OrderBuffer <= 0 {
		return fmt.Errorf("channels.order_buffer must be greater than 0")
	}
	if cfg.Channels.PersistBuffer <= 0 {
		return fmt.Errorf("channels.persist_buffer must be greater than 0")
	}

	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if len(cfg.Feed.Subscriptions) == 0 {
		return fmt.Errorf("feed.subscriptions must list at least one topic")
	}
	for i, sub := range cfg.Feed.Subscriptions {
		if sub.TrID == "" || sub.TrKey == "" {
			return fmt.Errorf("feed.subscriptions[%d] requires tr_id and tr_key", i)
		}
	}

	if cfg.Strategy.Instrument == "" {
		return fmt.Errorf("strategy.instrument is required")
	}
	if cfg.Strategy.BandWindow > cfg.Strategy.BarWindow {
		return fmt.Errorf("strategy.band_window must not exceed strategy.bar_window")
	}

	if cfg.Paper.InitialCapital <= 0 {
		return fmt.Errorf("paper.initial_capital must be greater than 0")
	}
	if cfg.Paper.FeeRate < 0 {
		return fmt.Errorf("paper.fee_rate must not be negative")
	}
	for stage, fraction := range cfg.Paper.Allocations {
		if fraction <= 0 || fraction > 1 {
			return fmt.Errorf("paper.allocations[%s] must be within (0, 1]", stage)
		}
	}

	if cfg.Storage.Enabled {
		if cfg.Storage.Host == "" {
			return fmt.Errorf("storage.host is required when storage is enabled")
		}
		if cfg.Storage.Database == "" {
			return fmt.Errorf("storage.database is required when storage is enabled")
		}
	}

	return nil
}
