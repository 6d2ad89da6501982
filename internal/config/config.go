package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/resale-arb/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig               `yaml:"store" mapstructure:"store"`
	Scan       ScanConfig                `yaml:"scan" mapstructure:"scan"`
	Exclusion  ExclusionConfig           `yaml:"exclusion" mapstructure:"exclusion"`
	Providers  map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Breaker    BreakerConfig             `yaml:"breaker" mapstructure:"breaker"`
	Retry      RetryConfig               `yaml:"retry" mapstructure:"retry"`
	Strategy   StrategyConfig            `yaml:"strategy" mapstructure:"strategy"`
	Scoring    ScoringConfig             `yaml:"scoring" mapstructure:"scoring"`
	Anthropic  AnthropicConfig           `yaml:"anthropic" mapstructure:"anthropic"`
	Redis      RedisConfig               `yaml:"redis" mapstructure:"redis"`
	Telegram   TelegramConfig            `yaml:"telegram" mapstructure:"telegram"`
	Notion     NotionConfig              `yaml:"notion" mapstructure:"notion"`
	Server     ServerConfig              `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig          `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig                 `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver               string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL          string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns             int32  `yaml:"max_conns" mapstructure:"max_conns"`
	PersistNonProfitable bool   `yaml:"persist_non_profitable" mapstructure:"persist_non_profitable"`
}

// ScanConfig configures an evaluation run.
type ScanConfig struct {
	MaxParallel          int     `yaml:"max_parallel" mapstructure:"max_parallel"`
	Budget               int     `yaml:"budget" mapstructure:"budget"`
	NotifyThreshold      float64 `yaml:"notify_threshold" mapstructure:"notify_threshold"`
	SinkTimeoutSecs      int     `yaml:"sink_timeout_secs" mapstructure:"sink_timeout_secs"`
	NormalizeTimeoutSecs int     `yaml:"normalize_timeout_secs" mapstructure:"normalize_timeout_secs"`
	FilterAccessories    bool    `yaml:"filter_accessories" mapstructure:"filter_accessories"`
	RefillMaxRounds      int     `yaml:"refill_max_rounds" mapstructure:"refill_max_rounds"`
	RefillMultiplier     int     `yaml:"refill_batch_multiplier" mapstructure:"refill_batch_multiplier"`
}

// ExclusionConfig configures the cache of recent non-profitable listings
// that scans skip.
type ExclusionConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	LookbackDays int    `yaml:"lookback_days" mapstructure:"lookback_days"`
	DailyReset   bool   `yaml:"daily_reset" mapstructure:"daily_reset"`
	Timezone     string `yaml:"timezone" mapstructure:"timezone"`
	MaxRows      int    `yaml:"max_rows" mapstructure:"max_rows"`
	MinKeep      int    `yaml:"min_keep" mapstructure:"min_keep"`
}

// ProviderConfig tunes one valuation provider.
type ProviderConfig struct {
	Parallel            int            `yaml:"parallel" mapstructure:"parallel"`
	TimeoutSecs         int            `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BreakerThreshold    int            `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	MaxVariants         int            `yaml:"max_variants" mapstructure:"max_variants"`
	CategoryMaxVariants map[string]int `yaml:"category_max_variants" mapstructure:"category_max_variants"`
	VerifyExempt        bool           `yaml:"verify_exempt" mapstructure:"verify_exempt"`
	SimilarityThreshold float64        `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	BaseURL             string         `yaml:"base_url" mapstructure:"base_url"`
	AcceptsIdentifier   bool           `yaml:"accepts_identifier" mapstructure:"accepts_identifier"`
	Token               string         `yaml:"token" mapstructure:"token"`
}

// BreakerConfig configures the per-run provider circuit breaker.
type BreakerConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	DefaultThreshold int  `yaml:"default_threshold" mapstructure:"default_threshold"`
}

// RetryConfig configures transient retries of sink writes.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// StrategyConfig selects the cost profile and holds profile overrides.
type StrategyConfig struct {
	Profile  string                  `yaml:"profile" mapstructure:"profile"`
	Profiles map[string]cost.Override `yaml:"profiles" mapstructure:"profiles"`
}

// HealthTier applies Adjust to a candidate's score when the average health
// rate of its providers is below Below.
type HealthTier struct {
	Below  float64 `yaml:"below" mapstructure:"below" json:"below"`
	Adjust float64 `yaml:"adjust" mapstructure:"adjust" json:"adjust"`
}

// LiquidityPattern adds Bonus when Pattern matches the lowercased title.
type LiquidityPattern struct {
	Pattern string  `yaml:"pattern" mapstructure:"pattern" json:"pattern"`
	Bonus   float64 `yaml:"bonus" mapstructure:"bonus" json:"bonus"`
}

// ScoringConfig configures history-driven candidate scoring. Zero values are
// filled from the scorer defaults.
type ScoringConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`
	LookbackDays       int     `yaml:"lookback_days" mapstructure:"lookback_days"`
	HistoryLimit       int     `yaml:"history_limit" mapstructure:"history_limit"`
	HistoryTimeoutSecs int     `yaml:"history_timeout_secs" mapstructure:"history_timeout_secs"`
	DomesticShare      float64 `yaml:"domestic_share" mapstructure:"domestic_share"`
	EUShare            float64 `yaml:"eu_share" mapstructure:"eu_share"`

	ConfidenceWeight       float64 `yaml:"confidence_weight" mapstructure:"confidence_weight"`
	ConfidenceSaturation   int     `yaml:"confidence_saturation" mapstructure:"confidence_saturation"`
	ExactDefaultConfidence float64 `yaml:"exact_default_confidence" mapstructure:"exact_default_confidence"`
	CategoryConfidence     float64 `yaml:"category_confidence" mapstructure:"category_confidence"`
	FallbackConfidence     float64 `yaml:"fallback_confidence" mapstructure:"fallback_confidence"`
	OwnSpreadWeight        float64 `yaml:"own_spread_weight" mapstructure:"own_spread_weight"`

	HealthMinSamples  int          `yaml:"health_min_samples" mapstructure:"health_min_samples"`
	HealthDefaultRate float64      `yaml:"health_default_rate" mapstructure:"health_default_rate"`
	HealthTiers       []HealthTier `yaml:"health_tiers" mapstructure:"health_tiers"`
	HealthBonusAbove  float64      `yaml:"health_bonus_above" mapstructure:"health_bonus_above"`
	HealthBonus       float64      `yaml:"health_bonus" mapstructure:"health_bonus"`

	FallbackRatios       map[string]float64 `yaml:"fallback_ratios" mapstructure:"fallback_ratios"`
	DefaultFallbackRatio float64            `yaml:"default_fallback_ratio" mapstructure:"default_fallback_ratio"`

	LiquidityPatterns []LiquidityPattern `yaml:"liquidity_patterns" mapstructure:"liquidity_patterns"`

	// Explicit holds the tuning keys set in the file or environment, so an
	// explicit 0 survives the scorer defaults.
	Explicit map[string]bool `yaml:"-" mapstructure:"-"`
}

// scoringTuningKeys are the scoring keys for which 0 is a meaningful value.
var scoringTuningKeys = []string{
	"domestic_share",
	"eu_share",
	"confidence_weight",
	"exact_default_confidence",
	"category_confidence",
	"fallback_confidence",
	"own_spread_weight",
	"health_min_samples",
	"health_default_rate",
	"health_bonus_above",
	"health_bonus",
	"default_fallback_ratio",
}

// AnthropicConfig holds Anthropic API settings for name normalization.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// RedisConfig configures the cross-run normalization cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TelegramConfig holds Telegram bot settings for opportunity alerts.
type TelegramConfig struct {
	BotToken string  `yaml:"bot_token" mapstructure:"bot_token"`
	ChatID   string  `yaml:"chat_id" mapstructure:"chat_id"`
	RPS      float64 `yaml:"rps" mapstructure:"rps"`
}

// NotionConfig holds Notion API credentials and database IDs.
type NotionConfig struct {
	Token         string `yaml:"token" mapstructure:"token"`
	OpportunityDB string `yaml:"opportunity_db" mapstructure:"opportunity_db"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures run-health alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	MinAttempts          int     `yaml:"min_attempts" mapstructure:"min_attempts"`
	TimeoutRateThreshold float64 `yaml:"timeout_rate_threshold" mapstructure:"timeout_rate_threshold"`
	SinkFailureThreshold int     `yaml:"sink_failure_threshold" mapstructure:"sink_failure_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Provider returns the config for id, or the zero value.
func (c *Config) Provider(id string) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[id]
}

// Validate checks the configuration for the given command mode ("scan",
// "serve" or "status"). All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "scan":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "status":
		if c.Store.Driver == "none" {
			errs = append(errs, "status requires a store; store.driver is none")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite, postgres or none", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}
	if c.Scan.MaxParallel < 1 {
		errs = append(errs, "scan.max_parallel must be >= 1")
	}
	if c.Scan.Budget < 0 {
		errs = append(errs, "scan.budget must be >= 0")
	}
	if c.Scan.SinkTimeoutSecs < 1 {
		errs = append(errs, "scan.sink_timeout_secs must be >= 1")
	}
	if c.Scan.RefillMaxRounds < 0 || c.Scan.RefillMaxRounds > 6 {
		errs = append(errs, "scan.refill_max_rounds must be between 0 and 6")
	}
	if c.Exclusion.Enabled && c.Exclusion.LookbackDays < 1 {
		errs = append(errs, "exclusion.lookback_days must be >= 1")
	}
	if c.Exclusion.MinKeep < 0 {
		errs = append(errs, "exclusion.min_keep must be >= 0")
	}
	if c.Breaker.DefaultThreshold < 1 {
		errs = append(errs, "breaker.default_threshold must be >= 1")
	}
	for id, p := range c.Providers {
		if p.Parallel < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.parallel must be >= 0", id))
		}
		if p.TimeoutSecs < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.timeout_secs must be >= 0", id))
		}
		if p.MaxVariants < 0 || p.MaxVariants > 6 {
			errs = append(errs, fmt.Sprintf("providers.%s.max_variants must be between 0 and 6", id))
		}
		if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
			errs = append(errs, fmt.Sprintf("providers.%s.similarity_threshold must be between 0 and 1", id))
		}
	}
	if c.Monitoring.TimeoutRateThreshold < 0 || c.Monitoring.TimeoutRateThreshold > 1 {
		errs = append(errs, "monitoring.timeout_rate_threshold must be between 0 and 1")
	}
	if c.Strategy.Profile != "" {
		if _, ok := cost.Merge(cost.DefaultProfiles(), c.Strategy.Profiles)[c.Strategy.Profile]; !ok {
			errs = append(errs, fmt.Sprintf("strategy.profile %q is not defined", c.Strategy.Profile))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ARBITRAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "resale-arb.db")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("store.persist_non_profitable", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("scan.max_parallel", 3)
	v.SetDefault("scan.budget", 12)
	v.SetDefault("scan.notify_threshold", 40)
	v.SetDefault("scan.sink_timeout_secs", 15)
	v.SetDefault("scan.normalize_timeout_secs", 30)
	v.SetDefault("scan.filter_accessories", true)
	v.SetDefault("scan.refill_max_rounds", 0)
	v.SetDefault("scan.refill_batch_multiplier", 2)
	v.SetDefault("exclusion.enabled", true)
	v.SetDefault("exclusion.lookback_days", 1)
	v.SetDefault("exclusion.daily_reset", true)
	v.SetDefault("exclusion.timezone", "Europe/Rome")
	v.SetDefault("exclusion.max_rows", 1500)
	v.SetDefault("exclusion.min_keep", 0)
	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.default_threshold", 2)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("strategy.profile", "balanced")
	v.SetDefault("scoring.enabled", true)
	v.SetDefault("scoring.lookback_days", 30)
	v.SetDefault("scoring.history_limit", 2000)
	v.SetDefault("scoring.history_timeout_secs", 10)
	v.SetDefault("scoring.domestic_share", 0.5)
	v.SetDefault("scoring.eu_share", 0.5)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("redis.ttl_hours", 168)
	v.SetDefault("telegram.rps", 1)
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.min_attempts", 5)
	v.SetDefault("monitoring.timeout_rate_threshold", 0.5)
	v.SetDefault("monitoring.sink_failure_threshold", 1)
	v.SetDefault("providers.mpb.parallel", 1)
	v.SetDefault("providers.mpb.breaker_threshold", 1)
	v.SetDefault("providers.mpb.timeout_secs", 45)
	v.SetDefault("providers.trenddevice.parallel", 2)
	v.SetDefault("providers.trenddevice.breaker_threshold", 2)
	v.SetDefault("providers.trenddevice.timeout_secs", 45)
	v.SetDefault("providers.rebuy.parallel", 4)
	v.SetDefault("providers.rebuy.breaker_threshold", 2)
	v.SetDefault("providers.rebuy.timeout_secs", 45)
	v.SetDefault("providers.rebuy.accepts_identifier", true)

	for _, k := range scoringTuningKeys {
		_ = v.BindEnv("scoring." + k)
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Scoring.Explicit = make(map[string]bool)
	for _, k := range scoringTuningKeys {
		if v.IsSet("scoring." + k) {
			cfg.Scoring.Explicit[k] = true
		}
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
