// Package config defines all configuration for the recorder, analyzer, and
// maker-ladder binaries. Config is loaded from a YAML file (default:
// configs/config.yaml) with sensitive fields overridable via EDGE_*
// environment variables.
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
	DryRun     bool             `mapstructure:"dry_run"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Feeds      FeedsConfig      `mapstructure:"feeds"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Store      StoreConfig      `mapstructure:"store"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Papertrade PapertradeConfig `mapstructure:"papertrade"`
	Maker      MakerConfig      `mapstructure:"maker"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// WalletConfig holds the credentials used to authenticate against the
// binary-market venue's order gateway and user channel.
type WalletConfig struct {
	ApiKey        string `mapstructure:"api_key"`
	Secret        string `mapstructure:"secret"`
	Passphrase    string `mapstructure:"passphrase"`
	FunderAddress string `mapstructure:"funder_address"`
}

// CexConfig configures the CexBookTicker feed.
type CexConfig struct {
	WSURL            string        `mapstructure:"ws_url"`
	Pair             string        `mapstructure:"pair"`
	SampleIntervalMs time.Duration `mapstructure:"sample_interval_ms"`
}

// OracleLogConfig configures the OracleLogStream feed.
type OracleLogConfig struct {
	RPCWSURL         string        `mapstructure:"rpc_ws_url"`
	AggregatorAddr   string        `mapstructure:"aggregator_address"`
	Decimals         int32         `mapstructure:"decimals"`
	PollMs           time.Duration `mapstructure:"poll_ms"`
}

// OracleAggConfig configures the OracleAggregatorStream (reference push) feed.
type OracleAggConfig struct {
	WSURL string `mapstructure:"ws_url"`
	Topic string `mapstructure:"topic"`
	Symbol string `mapstructure:"symbol"`
}

// MarketBookConfig configures the BinaryMarketBook feed and the user
// channel URL used by the maker ladder.
type MarketBookConfig struct {
	WSMarketURL string `mapstructure:"ws_market_url"`
	WSUserURL   string `mapstructure:"ws_user_url"`
}

// FeedsConfig groups every FeedClient's configuration.
type FeedsConfig struct {
	Cex        CexConfig        `mapstructure:"cex"`
	OracleLog  OracleLogConfig  `mapstructure:"oracle_log"`
	OracleAgg  OracleAggConfig  `mapstructure:"oracle_agg"`
	MarketBook MarketBookConfig `mapstructure:"market_book"`
}

// DiscoveryConfig controls window resolution polling.
type DiscoveryConfig struct {
	SlugPrefix         string        `mapstructure:"slug_prefix"`
	CatalogBaseURL     string        `mapstructure:"catalog_base_url"`
	DiscoveryInterval  time.Duration `mapstructure:"discovery_interval"`
	CandidateBehind    int           `mapstructure:"candidate_behind"`
	CandidateAhead     int           `mapstructure:"candidate_ahead"`
	RetireGrace        time.Duration `mapstructure:"retire_grace"`
}

// StoreConfig sets where samples and maker-ladder state are persisted.
type StoreConfig struct {
	DBPath          string        `mapstructure:"db_path"`
	DataDir         string        `mapstructure:"data_dir"`
	FlushIntervalMs time.Duration `mapstructure:"flush_interval_ms"`
	MaxBuffer       int           `mapstructure:"max_buffer"`
}

// AnalyzerConfig holds the spike/bucket/strategy thresholds from spec.md §4.4.
type AnalyzerConfig struct {
	SpikeUSD         float64       `mapstructure:"spike_usd"`
	ReactionWindowMs time.Duration `mapstructure:"reaction_window_ms"`
	DeltaBucketUSD   float64       `mapstructure:"delta_bucket_usd"`
	SpikeBucketUSD   float64       `mapstructure:"spike_bucket_usd"`
	SpikeCooldownMs  time.Duration `mapstructure:"spike_cooldown_ms"`
	Epsilon          float64       `mapstructure:"epsilon"`
	MinN             int           `mapstructure:"min_n"`
	OrderP95Ms       time.Duration `mapstructure:"order_p95_ms"` // 0 = not supplied
	SafetyMs         time.Duration `mapstructure:"safety_ms"`
}

// PapertradeConfig tunes the fill simulator.
type PapertradeConfig struct {
	HoldMs       time.Duration `mapstructure:"hold_ms"`
	FeeBps       float64       `mapstructure:"fee_bps"`
	IncludeFills bool          `mapstructure:"include_fills"`
	MaxFills     int           `mapstructure:"max_fills"`
}

// MakerConfig tunes the maker-ladder controller (spec.md §4.6/§6).
type MakerConfig struct {
	Levels            int           `mapstructure:"levels"`
	Tick              float64       `mapstructure:"tick"`
	Size              float64       `mapstructure:"size"`
	RefreshMs         time.Duration `mapstructure:"refresh_ms"`
	BurstPlace        int           `mapstructure:"burst_place"`
	BurstCancel       int           `mapstructure:"burst_cancel"`
	SpikeUSD          float64       `mapstructure:"spike_usd"`
	SpikeWindowMs     time.Duration `mapstructure:"spike_window_ms"`
	SpikeCooldownMs   time.Duration `mapstructure:"spike_cooldown_ms"`
	QuoteBothAssets   bool          `mapstructure:"quote_both_assets"`
	QuoteBothSides    bool          `mapstructure:"quote_both_sides"`
	DryRun            bool          `mapstructure:"dry_run"`
	CancelOnStart     bool          `mapstructure:"cancel_on_start"`
	CancelAllOnStart  bool          `mapstructure:"cancel_all_on_start"`
	EventDriven       bool          `mapstructure:"event_driven"`
	EventDebounceMs   time.Duration `mapstructure:"event_debounce_ms"`
	OrderGatewayURL   string        `mapstructure:"order_gateway_url"`

	// ConditionID/UpTokenID/DownTokenID identify the one window this
	// process quotes. MarketDiscovery resolves the active window for the
	// recorder; the maker ladder is a per-window process, so an external
	// scheduler writes these three fields (or the EDGE_MAKER_* env vars)
	// before each 15-minute cycle starts.
	ConditionID string `mapstructure:"condition_id"`
	UpTokenID   string `mapstructure:"up_token_id"`
	DownTokenID string `mapstructure:"down_token_id"`
}

// LoggingConfig controls the shared slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: EDGE_API_KEY, EDGE_API_SECRET, EDGE_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("EDGE_API_KEY"); key != "" {
		cfg.Wallet.ApiKey = key
	}
	if secret := os.Getenv("EDGE_API_SECRET"); secret != "" {
		cfg.Wallet.Secret = secret
	}
	if pass := os.Getenv("EDGE_PASSPHRASE"); pass != "" {
		cfg.Wallet.Passphrase = pass
	}
	if os.Getenv("EDGE_DRY_RUN") == "true" || os.Getenv("EDGE_DRY_RUN") == "1" {
		cfg.DryRun = true
		cfg.Maker.DryRun = true
	}

	return &cfg, nil
}

// Validate checks required fields for running the maker-ladder controller.
// The recorder and analyzer binaries do not require wallet credentials and
// should call ValidateFeeds instead.
func (c *Config) Validate() error {
	if err := c.ValidateFeeds(); err != nil {
		return err
	}
	if c.Wallet.ApiKey == "" || c.Wallet.Secret == "" || c.Wallet.Passphrase == "" {
		return fmt.Errorf("wallet api_key/secret/passphrase are required (set EDGE_API_KEY/EDGE_API_SECRET/EDGE_PASSPHRASE)")
	}
	if c.Maker.Levels <= 0 {
		return fmt.Errorf("maker.levels must be > 0")
	}
	if c.Maker.Tick <= 0 {
		return fmt.Errorf("maker.tick must be > 0")
	}
	if c.Maker.OrderGatewayURL == "" {
		return fmt.Errorf("maker.order_gateway_url is required")
	}
	return nil
}

// ValidateFeeds checks only the fields the recorder/analyzer side need.
func (c *Config) ValidateFeeds() error {
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path is required")
	}
	if c.Discovery.SlugPrefix == "" {
		return fmt.Errorf("discovery.slug_prefix is required")
	}
	return nil
}
