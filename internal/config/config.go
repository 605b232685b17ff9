package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk_management"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Context    ContextConfig    `mapstructure:"context"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// TradingConfig contains trading settings
type TradingConfig struct {
	Mode             string  `mapstructure:"mode"`      // "paper" or "live"
	Symbol           string  `mapstructure:"symbol"`    // "BTCUSDT"
	Timeframe        string  `mapstructure:"timeframe"` // "3m", "5m", "15m"
	MinKlinesToStart int     `mapstructure:"min_klines_to_start"`
	BaseRiskPerTrade float64 `mapstructure:"base_risk_per_trade"` // fraction of balance, e.g. 0.01
	MinNotional      float64 `mapstructure:"min_notional"`        // exchange minimum order value in USDT
	QuantityDecimals int32   `mapstructure:"quantity_decimals"`   // symbol quantity precision
}

// RiskConfig contains risk governor settings.
// Profile selects one of the built-in threshold sets; explicit values
// override the profile.
type RiskConfig struct {
	Profile            string  `mapstructure:"profile"` // conservative, moderate, aggressive
	LookbackTrades     int     `mapstructure:"lookback_trades"`
	DrawdownCaution    float64 `mapstructure:"drawdown_caution_pct"`
	DrawdownSevere     float64 `mapstructure:"drawdown_severe_pct"`
	DailyLossCaution   float64 `mapstructure:"daily_loss_caution_pct"`
	DailyLossSevere    float64 `mapstructure:"daily_loss_severe_pct"`
	LossStreakCaution  int     `mapstructure:"loss_streak_caution"`
	LossStreakSevere   int     `mapstructure:"loss_streak_severe"`
	HotWinRate         float64 `mapstructure:"hot_win_rate"`
	HotMinTrades       int     `mapstructure:"hot_min_trades"`
	HotMinAvgPnL       float64 `mapstructure:"hot_min_avg_pnl"`
	CautionCooldownSec int     `mapstructure:"caution_cooldown_seconds"`
	SevereCooldownSec  int     `mapstructure:"severe_cooldown_seconds"`
	StatePath          string  `mapstructure:"state_path"` // JSONL state log
}

// LLMConfig contains text-generation gateway settings
type LLMConfig struct {
	Endpoint       string            `mapstructure:"endpoint"`
	PrimaryModel   string            `mapstructure:"primary_model"`
	FallbackModels []string          `mapstructure:"fallback_models"`
	Temperature    float64           `mapstructure:"temperature"`
	MaxTokens      int               `mapstructure:"max_tokens"`
	TimeoutSec     map[string]int    `mapstructure:"timeout_seconds"` // per-agent overrides, "default" key required
	RequestsPerMin int               `mapstructure:"requests_per_minute"`
	Headers        map[string]string `mapstructure:"headers"`
}

// AgentsConfig gates optional agents and tunes retry behavior
type AgentsConfig struct {
	EnableSentiment bool    `mapstructure:"enable_sentiment"`
	EnableVisual    bool    `mapstructure:"enable_visual"`
	MaxRetries      int     `mapstructure:"max_retries"`
	RetryBackoffSec float64 `mapstructure:"retry_backoff_seconds"`
	PromptsPath     string  `mapstructure:"prompts_path"` // optional YAML prompt overrides
}

// DatabaseConfig contains PostgreSQL settings for the reasoning store
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	Database           string `mapstructure:"database"`
	SSLMode            string `mapstructure:"ssl_mode"`
	PoolSize           int    `mapstructure:"pool_size"`
	MaxEntriesPerAgent int    `mapstructure:"max_entries_per_agent"`
}

// RedisConfig contains Redis settings for the context cache
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLSec   int    `mapstructure:"ttl_seconds"`
}

// NATSConfig contains NATS settings for engine event publishing
type NATSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"`
	EventPrefix string `mapstructure:"event_prefix"` // e.g. "tradewind.events"
}

// ExchangeConfig contains exchange connection settings.
// API keys come from the environment, never from the config file.
type ExchangeConfig struct {
	Name    string `mapstructure:"name"` // "binance"
	Testnet bool   `mapstructure:"testnet"`
}

// AlertsConfig contains notifier settings
type AlertsConfig struct {
	MinLevel        string   `mapstructure:"min_level"` // INFO, WARNING, CRITICAL
	CooldownSec     int      `mapstructure:"cooldown_seconds"`
	QueueSize       int      `mapstructure:"queue_size"`
	TelegramChatIDs []int64  `mapstructure:"telegram_chat_ids"`
	WebhookURL      string   `mapstructure:"webhook_url"`
	FCMCredentials  string   `mapstructure:"fcm_credentials_path"`
	FCMDeviceTokens []string `mapstructure:"fcm_device_tokens"`
}

// APIConfig contains the read-only status API settings
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	EnableMetrics  bool `mapstructure:"enable_metrics"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ContextConfig configures the optional external market-context provider
type ContextConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	MCPURL     string `mapstructure:"mcp_url"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TRADEWIND")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Risk.applyProfile()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "Tradewind")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.symbol", "BTCUSDT")
	v.SetDefault("trading.timeframe", "3m")
	v.SetDefault("trading.min_klines_to_start", 20)
	v.SetDefault("trading.base_risk_per_trade", 0.01)
	v.SetDefault("trading.min_notional", 5.0)
	v.SetDefault("trading.quantity_decimals", 3)

	v.SetDefault("risk_management.profile", "moderate")
	v.SetDefault("risk_management.lookback_trades", 12)
	v.SetDefault("risk_management.state_path", "data/risk_state.jsonl")

	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.primary_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.fallback_models", []string{"gpt-4-turbo"})
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout_seconds.default", 30)
	v.SetDefault("llm.timeout_seconds.technical", 15)
	v.SetDefault("llm.timeout_seconds.decision", 30)
	v.SetDefault("llm.requests_per_minute", 60)

	v.SetDefault("agents.enable_sentiment", false)
	v.SetDefault("agents.enable_visual", false)
	v.SetDefault("agents.max_retries", 3)
	v.SetDefault("agents.retry_backoff_seconds", 1.0)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradewind")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.max_entries_per_agent", 2000)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_seconds", 300)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.event_prefix", "tradewind.events")

	v.SetDefault("exchange.name", "binance")
	v.SetDefault("exchange.testnet", true)

	v.SetDefault("alerts.min_level", "WARNING")
	v.SetDefault("alerts.cooldown_seconds", 300)
	v.SetDefault("alerts.queue_size", 64)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.prometheus_port", 9100)

	v.SetDefault("context.enabled", false)
	v.SetDefault("context.timeout_seconds", 10)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the status API address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the generation timeout for an agent, falling back to the
// "default" key.
func (c *LLMConfig) Timeout(agent string) time.Duration {
	if sec, ok := c.TimeoutSec[agent]; ok && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	if sec, ok := c.TimeoutSec["default"]; ok && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return 30 * time.Second
}

// CautionCooldown returns the CAUTION cooldown as a duration
func (c *RiskConfig) CautionCooldown() time.Duration {
	return time.Duration(c.CautionCooldownSec) * time.Second
}

// SevereCooldown returns the SEVERE cooldown as a duration
func (c *RiskConfig) SevereCooldown() time.Duration {
	return time.Duration(c.SevereCooldownSec) * time.Second
}

// applyProfile fills unset risk thresholds from the named profile.
// Explicit values in the config file win over profile values.
func (c *RiskConfig) applyProfile() {
	type profile struct {
		drawdownCaution, drawdownSevere   float64
		dailyLossCaution, dailyLossSevere float64
		streakCaution, streakSevere       int
		hotWinRate                        float64
		hotMinTrades                      int
		hotMinAvgPnL                      float64
		cautionCooldown, severeCooldown   int
	}

	profiles := map[string]profile{
		"conservative": {3.0, 5.0, 1.5, 2.5, 2, 4, 0.72, 8, 15, 600, 1800},
		"moderate":     {4.0, 6.5, 2.0, 3.5, 3, 5, 0.68, 6, 12, 300, 900},
		"aggressive":   {5.5, 8.0, 3.0, 5.0, 4, 6, 0.65, 5, 10, 180, 600},
	}

	p, ok := profiles[c.Profile]
	if !ok {
		p = profiles["moderate"]
	}

	if c.DrawdownCaution == 0 {
		c.DrawdownCaution = p.drawdownCaution
	}
	if c.DrawdownSevere == 0 {
		c.DrawdownSevere = p.drawdownSevere
	}
	if c.DailyLossCaution == 0 {
		c.DailyLossCaution = p.dailyLossCaution
	}
	if c.DailyLossSevere == 0 {
		c.DailyLossSevere = p.dailyLossSevere
	}
	if c.LossStreakCaution == 0 {
		c.LossStreakCaution = p.streakCaution
	}
	if c.LossStreakSevere == 0 {
		c.LossStreakSevere = p.streakSevere
	}
	if c.HotWinRate == 0 {
		c.HotWinRate = p.hotWinRate
	}
	if c.HotMinTrades == 0 {
		c.HotMinTrades = p.hotMinTrades
	}
	if c.HotMinAvgPnL == 0 {
		c.HotMinAvgPnL = p.hotMinAvgPnL
	}
	if c.CautionCooldownSec == 0 {
		c.CautionCooldownSec = p.cautionCooldown
	}
	if c.SevereCooldownSec == 0 {
		c.SevereCooldownSec = p.severeCooldown
	}
	if c.LookbackTrades == 0 {
		c.LookbackTrades = 12
	}
}
