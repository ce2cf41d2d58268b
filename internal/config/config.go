package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"keen-oracle/internal/logging"
	"keen-oracle/internal/oracle"
)

// Storage driver names.
const (
	StorageDriverMemory   = "memory"
	StorageDriverBolt     = "bolt"
	StorageDriverPostgres = "postgres"
)

// Reporter price source names.
const (
	SourceHTTP      = "http"
	SourceChainlink = "chainlink"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Reporter  ReporterConfig  `mapstructure:"reporter"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// EngineConfig holds the aggregation and reward constants.
type EngineConfig struct {
	EpochDuration       time.Duration `mapstructure:"epoch_duration"`
	RewardPool          string        `mapstructure:"reward_pool"`
	MinBond             string        `mapstructure:"min_bond"`
	Confidence          int           `mapstructure:"confidence"`
	ParticipationBoost  *int64        `mapstructure:"participation_boost"`
	InitialReputation   *int64        `mapstructure:"initial_reputation"`
	OutlierTolerancePct float64       `mapstructure:"outlier_tolerance_pct"`
}

// StorageConfig selects where the state blob lives.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	Key    string `mapstructure:"key"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs automatic end-of-epoch aggregation.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Pairs           []string      `mapstructure:"pairs"`
	AggregateOffset time.Duration `mapstructure:"aggregate_offset"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ReporterConfig drives the built-in reporting oracle.
type ReporterConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	Pairs          []string          `mapstructure:"pairs"`
	Offset         time.Duration     `mapstructure:"offset"`
	Source         string            `mapstructure:"source"`
	Stake          string            `mapstructure:"stake"`
	URLTemplate    string            `mapstructure:"url_template"`
	PricePath      string            `mapstructure:"price_path"`
	Feeds          map[string]string `mapstructure:"feeds"`
	Workers        int               `mapstructure:"workers"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// WalletConfig describes the identity used by CLI commands and the reporter.
type WalletConfig struct {
	Address    string `mapstructure:"address"`
	PrivateKey string `mapstructure:"private_key"`
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig describes the event publisher.
type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
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
	v.SetEnvPrefix("KEENORACLE")
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
	v.SetDefault("app.name", "keenoracle")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.epoch_duration", "5m")
	v.SetDefault("engine.reward_pool", "100")
	v.SetDefault("engine.min_bond", "10")
	v.SetDefault("engine.confidence", 95)
	v.SetDefault("engine.participation_boost", 2)
	v.SetDefault("engine.initial_reputation", 100)
	v.SetDefault("engine.outlier_tolerance_pct", 0.0)

	v.SetDefault("storage.driver", StorageDriverMemory)
	v.SetDefault("storage.path", "data/keenoracle.db")
	v.SetDefault("storage.key", "keen_oracle_state")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.pairs", []string{"BTC/USD", "ETH/USD"})
	v.SetDefault("scheduler.aggregate_offset", "-10s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6b65656e))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("reporter.enabled", false)
	v.SetDefault("reporter.pairs", []string{"BTC/USD", "ETH/USD"})
	v.SetDefault("reporter.offset", "30s")
	v.SetDefault("reporter.source", SourceHTTP)
	v.SetDefault("reporter.stake", "100")
	v.SetDefault("reporter.url_template", "https://api.coinbase.com/v2/prices/{base}-{quote}/spot")
	v.SetDefault("reporter.price_path", "data.amount")
	v.SetDefault("reporter.workers", 4)
	v.SetDefault("reporter.request_timeout", "10s")
	v.SetDefault("reporter.user_agent", "keenoracle/1.0")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.allowed_origins", []string{"*"})
	v.SetDefault("api.shutdown_timeout", "10s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "keenoracle")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 1000)
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	params, err := c.EngineParams()
	if err != nil {
		return err
	}

	switch c.Storage.Driver {
	case StorageDriverMemory, StorageDriverBolt:
	case StorageDriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, bolt, postgres (got %q)", c.Storage.Driver)
	}
	if c.Storage.Driver == StorageDriverBolt && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the bolt storage driver")
	}

	if c.Scheduler.Enabled {
		if len(c.Scheduler.Pairs) == 0 {
			return fmt.Errorf("scheduler.pairs cannot be empty when the scheduler is enabled")
		}
		if !withinInterval(c.Scheduler.AggregateOffset, params.EpochDuration) {
			return fmt.Errorf("scheduler.aggregate_offset %s must be strictly within engine.epoch_duration %s", c.Scheduler.AggregateOffset, params.EpochDuration)
		}
	}

	if c.Reporter.Enabled {
		if len(c.Reporter.Pairs) == 0 {
			return fmt.Errorf("reporter.pairs cannot be empty when the reporter is enabled")
		}
		if !withinInterval(c.Reporter.Offset, params.EpochDuration) {
			return fmt.Errorf("reporter.offset %s must be strictly within engine.epoch_duration %s", c.Reporter.Offset, params.EpochDuration)
		}
		if c.Reporter.Workers <= 0 {
			return fmt.Errorf("reporter.workers must be greater than zero")
		}
		if _, err := decimal.NewFromString(c.Reporter.Stake); err != nil {
			return fmt.Errorf("reporter.stake: %w", err)
		}
		switch c.Reporter.Source {
		case SourceHTTP:
			if c.Reporter.URLTemplate == "" {
				return fmt.Errorf("reporter.url_template is required for the http source")
			}
		case SourceChainlink:
			if c.Ethereum.RPCURL == "" {
				return fmt.Errorf("ethereum.rpc_url is required for the chainlink source")
			}
			if len(c.Reporter.Feeds) == 0 {
				return fmt.Errorf("reporter.feeds is required for the chainlink source")
			}
		default:
			return fmt.Errorf("reporter.source must be http or chainlink (got %q)", c.Reporter.Source)
		}
	}

	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the api is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// withinInterval reports whether -interval < offset < interval, the range
// the scheduler accepts.
func withinInterval(offset, interval time.Duration) bool {
	return offset > -interval && offset < interval
}

// EngineParams converts the engine section into oracle parameters.
func (c *Config) EngineParams() (oracle.Params, error) {
	params := oracle.DefaultParams()
	e := c.Engine

	if e.EpochDuration != 0 {
		params.EpochDuration = e.EpochDuration
	}
	if e.RewardPool != "" {
		pool, err := decimal.NewFromString(e.RewardPool)
		if err != nil {
			return oracle.Params{}, fmt.Errorf("engine.reward_pool: %w", err)
		}
		params.RewardPool = pool
	}
	if e.MinBond != "" {
		bond, err := decimal.NewFromString(e.MinBond)
		if err != nil {
			return oracle.Params{}, fmt.Errorf("engine.min_bond: %w", err)
		}
		params.MinBond = bond
	}
	if e.Confidence != 0 {
		params.Confidence = e.Confidence
	}
	// nil means unset; an explicit 0 is a valid setting
	if e.ParticipationBoost != nil {
		params.ParticipationBoost = *e.ParticipationBoost
	}
	if e.InitialReputation != nil {
		params.InitialReputation = *e.InitialReputation
	}
	params.OutlierTolerancePct = e.OutlierTolerancePct

	if err := params.Validate(); err != nil {
		return oracle.Params{}, fmt.Errorf("engine: %w", err)
	}
	return params, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
