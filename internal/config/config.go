// Package config defines all configuration for the trading bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Jitter    JitterConfig    `mapstructure:"jitter"`
	LP        LPConfig        `mapstructure:"lp"`
	Flip      FlipConfig      `mapstructure:"lp_flip"`
	Arbitrage ArbitrageConfig `mapstructure:"arbitrage"`
	Copy      CopyConfig      `mapstructure:"copy"`
	Synth     SynthConfig     `mapstructure:"synth"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`

	// CTFExchangeAddress and NegRiskCTFExchangeAddress are the verifying
	// contracts for the Order EIP-712 domain. Orders on a neg-risk market
	// (one of a multi-outcome event's binary legs) sign against the
	// neg-risk deployment instead.
	CTFExchangeAddress        string `mapstructure:"ctf_exchange_address"`
	NegRiskCTFExchangeAddress string `mapstructure:"neg_risk_ctf_exchange_address"`
}

// APIConfig holds the exchange's REST endpoints and optional pre-derived L2
// credentials. If ApiKey/Secret/Passphrase are empty, the bot derives them
// via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	DataBaseURL  string `mapstructure:"data_base_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// RiskConfig feeds risk.GateConfig: the ordered checks every Signal passes
// through before execution (§4.7). StartingBalanceUSD/MaxDrawdownUSD define
// the one-way kill switch; the rest are per-check caps.
type RiskConfig struct {
	StartingBalanceUSD   float64 `mapstructure:"starting_balance_usd"`
	MaxDrawdownUSD       float64 `mapstructure:"max_drawdown_usd"`
	MaxTradeSizeUSD      float64 `mapstructure:"max_trade_size_usd"`
	DailyVolumeCapUSD    float64 `mapstructure:"daily_volume_cap_usd"`
	MaxOpenPositions     int     `mapstructure:"max_open_positions"`
	MaxPerMarketUSD      float64 `mapstructure:"max_per_market_usd"`
	MaxPortfolioExposure float64 `mapstructure:"max_portfolio_exposure_usd"`
}

// JitterConfig holds the jitter settings. SizePct is read only by the LP
// selector and flip strategy, which inflate quote sizes by it as headroom;
// the per-signal size jitter itself uses execution.SizeJitterPct, and the
// supervisor jitters scan intervals by a fixed 10%. TimingPct is not read.
type JitterConfig struct {
	TimingPct float64 `mapstructure:"timing_jitter_pct"`
	SizePct   float64 `mapstructure:"size_jitter_pct"`
}

// LPConfig tunes the LP selector + smart-refresh engine (C11): ranking
// reward markets, quoting one side per market within the reward band, and
// bounding downside on filled inventory.
type LPConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	OrderSizeUSD      float64       `mapstructure:"order_size_usd"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval_sec"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval_sec"`
	MaxMarkets        int           `mapstructure:"max_markets"`
	MinDailyReward    float64       `mapstructure:"min_daily_reward"`
	MinEstimatedReward float64      `mapstructure:"min_estimated_reward"`
	MinBestBid        float64       `mapstructure:"min_best_bid"`
	CooldownAfterFill time.Duration `mapstructure:"cooldown_after_fill_sec"`
	StopLossPct       float64       `mapstructure:"stop_loss_pct"`
	TakeProfitPct     float64       `mapstructure:"take_profit_pct"`
	AutoClose         bool          `mapstructure:"auto_close"`
}

// FlipConfig tunes the LP flip state machine (C12): a single-market
// entry→exit cycle with stop-loss.
type FlipConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	OrderSizeUSD    float64       `mapstructure:"order_size_usd"`
	ScanInterval    time.Duration `mapstructure:"scan_interval_sec"`
	PollInterval    time.Duration `mapstructure:"poll_interval_sec"`
	MaxRestingSec   time.Duration `mapstructure:"max_resting_sec"`
	StopLossPct     float64       `mapstructure:"stop_loss_pct"`
	ErrorCooldown   time.Duration `mapstructure:"error_cooldown_sec"`
}

// ArbitrageConfig tunes the YES+NO cost-sum scanner (C13).
type ArbitrageConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MinProfitUSD    float64       `mapstructure:"min_profit_cents"`
	MaxTradeSizeUSD float64       `mapstructure:"max_trade_size_usd"`
	ScanInterval    time.Duration `mapstructure:"scan_interval_sec"`
}

// CopyConfig tunes the position-mirroring strategy (C14).
type CopyConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Traders      []string      `mapstructure:"traders"`
	ScaleFactor  float64       `mapstructure:"scale_factor"`
	PollInterval time.Duration `mapstructure:"poll_interval_sec"`
	MinTradeUSD  float64       `mapstructure:"min_trade_usd"`
	MaxDelaySec  int           `mapstructure:"max_delay_sec"`
}

// SynthAsset names one configured forecast-edge market and the token pair
// it trades.
type SynthAsset struct {
	Symbol      string `mapstructure:"symbol"` // crypto asset symbol the forecast API expects, e.g. "BTC"
	ConditionID string `mapstructure:"condition_id"`
	UpTokenID   string `mapstructure:"up_token_id"`
	DownTokenID string `mapstructure:"down_token_id"`
}

// SynthConfig tunes the external-forecast edge strategy (C14).
type SynthConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	ApiKey          string        `mapstructure:"api_key"`
	Threshold       float64       `mapstructure:"edge_threshold"`
	Assets          []SynthAsset  `mapstructure:"assets"`
	PollInterval    time.Duration `mapstructure:"poll_interval_sec"`
	KellyFraction   float64       `mapstructure:"kelly_fraction"`
	MaxTradeSizeUSD float64       `mapstructure:"max_trade_size_usd"`
	StartingBalanceUSD float64   `mapstructure:"starting_balance_usd"`
}

// StoreConfig points at the SQLite database backing persist.Store.
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the in-process dashboard projection. Only
// Enabled is read; there is no dashboard server, so Port and
// AllowedOrigins have no effect.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("lp.stop_loss_pct", 0.05)
	v.SetDefault("lp.take_profit_pct", 0.50)
	v.SetDefault("lp.cooldown_after_fill_sec", 1800)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// arb_min_profit_cents is cents, but Arbitrage.MinProfitUSD is compared
	// directly against a USD cost-sum edge (Arbitrage.Scan).
	cfg.Arbitrage.MinProfitUSD /= 100.0

	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if synthKey := os.Getenv("POLY_SYNTH_API_KEY"); synthKey != "" {
		cfg.Synth.ApiKey = synthKey
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks the wallet fields, the CLOB base URL, the two drawdown
// settings, and that at least one strategy is enabled. Other blocks are
// not checked.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Risk.StartingBalanceUSD <= 0 {
		return fmt.Errorf("risk.starting_balance_usd must be > 0")
	}
	if c.Risk.MaxDrawdownUSD <= 0 {
		return fmt.Errorf("risk.max_drawdown_usd must be > 0")
	}
	if !c.LP.Enabled && !c.Flip.Enabled && !c.Arbitrage.Enabled && !c.Copy.Enabled && !c.Synth.Enabled {
		return fmt.Errorf("at least one strategy must be enabled")
	}
	return nil
}
