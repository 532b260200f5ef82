package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"duel-settlement/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Reaper     ReaperConfig     `mapstructure:"reaper"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig governs the HTTP API listener.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// ChainConfig covers access to the duel contract.
type ChainConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	OraclePrivKey   string        `mapstructure:"oracle_priv_key"`
	ChainID         int64         `mapstructure:"chain_id"`
	SettleTimeout   time.Duration `mapstructure:"settle_timeout"`
}

// ProviderConfig parameterises one upstream price API.
type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// PricingConfig tunes the price oracle.
type PricingConfig struct {
	CacheTTL        time.Duration  `mapstructure:"cache_ttl"`
	ProviderTimeout time.Duration  `mapstructure:"provider_timeout"`
	Spot            ProviderConfig `mapstructure:"spot"`
	Exchange        ProviderConfig `mapstructure:"exchange"`
	Aggregator      ProviderConfig `mapstructure:"aggregator"`
}

// SettlementConfig governs the settlement coordinator.
type SettlementConfig struct {
	FeePercent  int64  `mapstructure:"fee_percent"`
	LockBackend string `mapstructure:"lock_backend"`
}

// ReaperConfig drives the open-duel expiry sweep.
type ReaperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Expiry   time.Duration `mapstructure:"expiry"`
}

// RedisConfig is required when settlement.lock_backend is "redis".
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// AlertingConfig routes operational alarms.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DUELENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "duelengine")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen_addr", ":8085")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("chain.settle_timeout", "60s")
	v.SetDefault("chain.chain_id", int64(1))

	v.SetDefault("pricing.cache_ttl", "10s")
	v.SetDefault("pricing.provider_timeout", "5s")
	v.SetDefault("pricing.spot.base_url", "https://api.coinbase.com")
	v.SetDefault("pricing.exchange.base_url", "https://api.binance.com")
	v.SetDefault("pricing.aggregator.base_url", "https://api.coingecko.com")

	v.SetDefault("settlement.fee_percent", int64(10))
	v.SetDefault("settlement.lock_backend", "memory")

	v.SetDefault("reaper.interval", "60s")
	v.SetDefault("reaper.expiry", "5m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Settlement.FeePercent < 0 || c.Settlement.FeePercent > 100 {
		return fmt.Errorf("settlement.fee_percent must be between 0 and 100")
	}
	switch c.Settlement.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("settlement.lock_backend must be %q or %q", "memory", "redis")
	}
	if c.Settlement.LockBackend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when settlement.lock_backend is redis")
	}
	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("reaper.interval must be greater than zero")
	}
	if c.Reaper.Expiry <= 0 {
		return fmt.Errorf("reaper.expiry must be greater than zero")
	}
	if c.Pricing.CacheTTL < 0 {
		return fmt.Errorf("pricing.cache_ttl cannot be negative")
	}
	if c.Pricing.ProviderTimeout <= 0 {
		return fmt.Errorf("pricing.provider_timeout must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
