package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"hl-vault-engine/internal/failure"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	KindLendingLoop = "lending_loop"
	KindMarginHedge = "margin_hedge"

	PriceSourceHermes        = "hermes"
	PriceSourceExchangeRates = "exchange_rates"
)

type Config struct {
	Log        LoggingConfig    `yaml:"log"`
	REST       RESTConfig       `yaml:"rest"`
	WS         WSConfig         `yaml:"ws"`
	Chain      ChainConfig      `yaml:"chain"`
	Quote      QuoteConfig      `yaml:"quote"`
	Price      PriceConfig      `yaml:"price"`
	Rebalance  RebalanceConfig  `yaml:"rebalance"`
	Sizing     SizingConfig     `yaml:"sizing"`
	Venue      VenueConfig      `yaml:"venue"`
	Strategies []StrategyConfig `yaml:"strategies"`
	State      StateConfig      `yaml:"state"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Timescale  TimescaleConfig  `yaml:"timescale"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type ChainConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	ChainID        int64         `yaml:"chain_id"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PrivateKeyEnv  string        `yaml:"private_key_env"`
}

type QuoteConfig struct {
	BaseURL               string        `yaml:"base_url"`
	ChainName             string        `yaml:"chain_name"`
	Timeout               time.Duration `yaml:"timeout"`
	APIKeyEnv             string        `yaml:"api_key_env"`
	PIDEnv                string        `yaml:"pid_env"`
	MaxAttempts           int           `yaml:"max_attempts"`
	RetryBackoff          time.Duration `yaml:"retry_backoff"`
	SufficientMaxAttempts int           `yaml:"sufficient_max_attempts"`
	SufficientBackoff     time.Duration `yaml:"sufficient_backoff"`
	DebtBuffer            int64         `yaml:"debt_buffer"`
}

type PriceConfig struct {
	Source        string            `yaml:"source"`
	HermesURL     string            `yaml:"hermes_url"`
	RatesURL      string            `yaml:"rates_url"`
	Timeout       time.Duration     `yaml:"timeout"`
	MaxAttempts   int               `yaml:"max_attempts"`
	RetryBackoff  time.Duration     `yaml:"retry_backoff"`
	QuoteToken    string            `yaml:"quote_token"`
	QuoteDecimals int32             `yaml:"quote_decimals"`
	Feeds         map[string]string `yaml:"feeds"`
	Decimals      map[string]int32  `yaml:"decimals"`
}

type RebalanceConfig struct {
	// Threshold is a pointer so an explicit 0 survives defaults.
	Threshold *float64 `yaml:"threshold"`
}

func (r RebalanceConfig) ThresholdValue() float64 {
	if r.Threshold == nil {
		return 0
	}
	return *r.Threshold
}

type SizingConfig struct {
	LeverageBps        int64 `yaml:"leverage_bps"`
	HedgeDivisor       int64 `yaml:"hedge_divisor"`
	CollateralDecimals int32 `yaml:"collateral_decimals"`
	HedgeSizeDecimals  int32 `yaml:"hedge_size_decimals"`
}

type VenueConfig struct {
	SlippageBps   int64  `yaml:"slippage_bps"`
	HedgeLeverage int64  `yaml:"hedge_leverage"`
	StableCoin    string `yaml:"stable_coin"`
	QuoteCoin     string `yaml:"quote_coin"`
	StableMidKey  string `yaml:"stable_mid_key"`
	DebtDecimals  int32  `yaml:"debt_decimals"`
	CoreDecimals  int32  `yaml:"core_decimals"`
}

type StrategyConfig struct {
	ID              string `yaml:"id"`
	Kind            string `yaml:"kind"`
	Executor        string `yaml:"executor"`
	Position        string `yaml:"position"`
	Lens            string `yaml:"lens"`
	Pool            string `yaml:"pool"`
	Vault           string `yaml:"vault"`
	CollateralAsset string `yaml:"collateral_asset"`
	DebtAsset       string `yaml:"debt_asset"`
	HedgeCoin       string `yaml:"hedge_coin"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// Strategy returns the catalog entry with the given id.
func (c *Config) Strategy(id string) (StrategyConfig, bool) {
	for _, s := range c.Strategies {
		if s.ID == id {
			return s, true
		}
	}
	return StrategyConfig{}, false
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "https://rpc.hyperliquid.xyz/evm"
	}
	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = 999
	}
	if cfg.Chain.ConfirmTimeout == 0 {
		cfg.Chain.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.Chain.PrivateKeyEnv == "" {
		cfg.Chain.PrivateKeyEnv = "ENGINE_PRIVATE_KEY"
	}
	applyQuoteDefaults(&cfg.Quote)
	applyPriceDefaults(&cfg.Price)
	if cfg.Rebalance.Threshold == nil {
		threshold := 12.0
		cfg.Rebalance.Threshold = &threshold
	}
	if cfg.Sizing.LeverageBps == 0 {
		cfg.Sizing.LeverageBps = 15000
	}
	if cfg.Sizing.HedgeDivisor == 0 {
		cfg.Sizing.HedgeDivisor = 3
	}
	if cfg.Sizing.CollateralDecimals == 0 {
		cfg.Sizing.CollateralDecimals = 18
	}
	if cfg.Sizing.HedgeSizeDecimals == 0 {
		cfg.Sizing.HedgeSizeDecimals = 2
	}
	applyVenueDefaults(&cfg.Venue)
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-vault-engine.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9102"
	}
	for i := range cfg.Strategies {
		if cfg.Strategies[i].HedgeCoin == "" {
			cfg.Strategies[i].HedgeCoin = "HYPE"
		}
	}
}

func applyQuoteDefaults(q *QuoteConfig) {
	if q.BaseURL == "" {
		q.BaseURL = "https://router.gluex.xyz"
	}
	if q.ChainName == "" {
		q.ChainName = "hyperevm"
	}
	if q.Timeout == 0 {
		q.Timeout = 20 * time.Second
	}
	if q.APIKeyEnv == "" {
		q.APIKeyEnv = "GLUEX_API_KEY"
	}
	if q.PIDEnv == "" {
		q.PIDEnv = "GLUEX_PID"
	}
	if q.MaxAttempts == 0 {
		q.MaxAttempts = 5
	}
	if q.RetryBackoff == 0 {
		q.RetryBackoff = 3 * time.Second
	}
	if q.SufficientMaxAttempts == 0 {
		q.SufficientMaxAttempts = 5
	}
	if q.SufficientBackoff == 0 {
		q.SufficientBackoff = 5 * time.Second
	}
	if q.DebtBuffer == 0 {
		q.DebtBuffer = 100
	}
}

func applyPriceDefaults(p *PriceConfig) {
	if p.Source == "" {
		p.Source = PriceSourceExchangeRates
	}
	if p.HermesURL == "" {
		p.HermesURL = "https://hermes.pyth.network"
	}
	if p.RatesURL == "" {
		p.RatesURL = "https://exchange-rates.gluex.xyz"
	}
	if p.Timeout == 0 {
		p.Timeout = 20 * time.Second
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if p.RetryBackoff == 0 {
		p.RetryBackoff = time.Second
	}
	if p.QuoteToken == "" {
		p.QuoteToken = "0xB8CE59FC3717ada4C02eaDF9682A9e934F625ebb"
	}
	if p.QuoteDecimals == 0 {
		p.QuoteDecimals = 6
	}
}

func applyVenueDefaults(v *VenueConfig) {
	if v.SlippageBps == 0 {
		v.SlippageBps = 100
	}
	if v.HedgeLeverage == 0 {
		v.HedgeLeverage = 4
	}
	if v.StableCoin == "" {
		v.StableCoin = "USDT0"
	}
	if v.QuoteCoin == "" {
		v.QuoteCoin = "USDC"
	}
	if v.StableMidKey == "" {
		v.StableMidKey = "@166"
	}
	if v.DebtDecimals == 0 {
		v.DebtDecimals = 6
	}
	if v.CoreDecimals == 0 {
		v.CoreDecimals = 8
	}
}

func validate(cfg *Config) error {
	if len(cfg.Strategies) == 0 {
		return failure.Configf("at least one strategy is required")
	}
	switch cfg.Price.Source {
	case PriceSourceHermes, PriceSourceExchangeRates:
	default:
		return failure.Configf("price.source %q is not supported", cfg.Price.Source)
	}
	if cfg.Sizing.LeverageBps < 10000 {
		return failure.Configf("sizing.leverage_bps must be >= 10000")
	}
	if cfg.Sizing.HedgeDivisor <= 0 {
		return failure.Configf("sizing.hedge_divisor must be > 0")
	}
	if cfg.Rebalance.ThresholdValue() < 0 {
		return failure.Configf("rebalance.threshold must be >= 0")
	}
	seen := make(map[string]struct{}, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		if strings.TrimSpace(s.ID) == "" {
			return failure.Configf("strategy id is required")
		}
		if _, ok := seen[s.ID]; ok {
			return failure.Configf("duplicate strategy id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if err := validateStrategy(s); err != nil {
			return err
		}
	}
	return nil
}

func validateStrategy(s StrategyConfig) error {
	required := map[string]string{
		"executor":         s.Executor,
		"collateral_asset": s.CollateralAsset,
		"debt_asset":       s.DebtAsset,
	}
	switch s.Kind {
	case KindLendingLoop:
		required["pool"] = s.Pool
	case KindMarginHedge:
		required["position"] = s.Position
		required["lens"] = s.Lens
		required["vault"] = s.Vault
	default:
		return failure.Configf("strategy %s: unknown kind %q", s.ID, s.Kind)
	}
	for field, value := range required {
		if value == "" {
			return failure.Configf("strategy %s: %s is required", s.ID, field)
		}
		if !common.IsHexAddress(value) {
			return fmt.Errorf("%w: strategy %s: %s %q is not an address", failure.ErrConfiguration, s.ID, field, value)
		}
	}
	return nil
}
