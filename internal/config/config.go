// Package config loads the service configuration with viper and produces the
// immutable risk/trading snapshots handed to each evaluation cycle.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "FNO"

// Config is the root configuration of the core.
type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Trading     TradingConfig   `mapstructure:"trading"`
	Risk        RiskConfig      `mapstructure:"risk"`
	Portfolio   PortfolioConfig `mapstructure:"portfolio"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Etcd        EtcdConfig      `mapstructure:"etcd"`
	Inbox       InboxConfig     `mapstructure:"inbox"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RetryAttempts   int           `mapstructure:"retry_attempts" validate:"gte=1,lte=10"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
}

type TradingConfig struct {
	AlgoID       string `mapstructure:"algo_id" validate:"required,max=50"`
	StrategyName string `mapstructure:"strategy_name" validate:"max=100"`
}

// RiskConfig holds the thresholds as configured. Use Limits() to obtain a snapshot.
type RiskConfig struct {
	MaxDailyLoss    float64 `mapstructure:"max_daily_loss" validate:"gt=0"`
	HardDailyLoss   float64 `mapstructure:"hard_daily_loss" validate:"gte=0"`
	MaxPositionSize float64 `mapstructure:"max_position_size" validate:"gt=0"`
	MaxMarginUsage  float64 `mapstructure:"max_margin_usage" validate:"gt=0,lte=1"`
	MaxVaR          float64 `mapstructure:"max_var" validate:"gte=0"`
	MediumOver      float64 `mapstructure:"medium_over" validate:"gt=0"`
	HighOver        float64 `mapstructure:"high_over" validate:"gtfield=MediumOver"`
	CriticalOver    float64 `mapstructure:"critical_over" validate:"gtfield=HighOver"`
}

type PortfolioConfig struct {
	StatsWindow     int                `mapstructure:"stats_window" validate:"gte=2"`
	TradingTimezone string             `mapstructure:"trading_timezone" validate:"required"`
	MarginRates     map[string]float64 `mapstructure:"margin_rates"`
}

type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	HaltTopic    string   `mapstructure:"halt_topic"`
	EventsPrefix string   `mapstructure:"events_prefix"`
	Compression  string   `mapstructure:"compression"`
}

type RedisConfig struct {
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	HaltChannel string `mapstructure:"halt_channel"`
	KeyPrefix   string `mapstructure:"key_prefix"`
}

type EtcdConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	ElectionPrefix string        `mapstructure:"election_prefix"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	SessionTTL     int           `mapstructure:"session_ttl"`
}

type InboxConfig struct {
	Dir       string        `mapstructure:"dir"`
	InMemory  bool          `mapstructure:"in_memory"`
	FillGrace time.Duration `mapstructure:"fill_grace" validate:"gte=0"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "fno_core.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.retry_attempts", 3)
	v.SetDefault("database.retry_base_delay", 20*time.Millisecond)

	v.SetDefault("trading.algo_id", "AGENTIC_FO_001")
	v.SetDefault("trading.strategy_name", "Agentic F&O Strategy")

	v.SetDefault("risk.max_daily_loss", 100000.0)
	v.SetDefault("risk.hard_daily_loss", 0.0)
	v.SetDefault("risk.max_position_size", 1000000.0)
	v.SetDefault("risk.max_margin_usage", 0.8)
	v.SetDefault("risk.max_var", 0.0)
	v.SetDefault("risk.medium_over", 0.10)
	v.SetDefault("risk.high_over", 0.25)
	v.SetDefault("risk.critical_over", 0.50)

	v.SetDefault("portfolio.stats_window", 30)
	v.SetDefault("portfolio.trading_timezone", "Asia/Kolkata")
	v.SetDefault("portfolio.margin_rates", map[string]float64{"MIS": 0.20, "NRML": 0.40, "CNC": 1.00})

	v.SetDefault("scheduler.interval", time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.halt_topic", "fno.trading.halt")
	v.SetDefault("kafka.events_prefix", "fno")
	v.SetDefault("kafka.compression", "snappy")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.halt_channel", "fno:trading:halt")
	v.SetDefault("redis.key_prefix", "fno:halted:")

	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.election_prefix", "/fno/scheduler/leader")
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.session_ttl", 10)

	v.SetDefault("inbox.dir", "data/fill-inbox")
	v.SetDefault("inbox.in_memory", false)
	v.SetDefault("inbox.fill_grace", "2m")

	v.SetDefault("tracing.enabled", false)
}

// Load reads configuration from the first existing path (yaml), then from
// FNO_* environment variables, on top of the defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		break
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if _, err := time.LoadLocation(c.Portfolio.TradingTimezone); err != nil {
		return fmt.Errorf("configuration validation failed: trading_timezone: %w", err)
	}
	for product, rate := range c.Portfolio.MarginRates {
		if rate <= 0 || rate > 1 {
			return fmt.Errorf("configuration validation failed: margin rate for %s must be in (0,1]", product)
		}
	}
	return nil
}
