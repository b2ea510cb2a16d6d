package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/node"
	"github.com/backtesting-org/trading-node/pkg/portfolio"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

// EnvPrefix prefixes every environment override, e.g.
// TRADING_NODE_TIMEOUTS_CONNECTION=10s.
const EnvPrefix = "TRADING_NODE"

// Config represents the node configuration
type Config struct {
	TraderID               string                    `mapstructure:"trader_id" validate:"required"`
	Logging                LoggingConfig             `mapstructure:"logging"`
	CacheDatabase          CacheDatabaseConfig       `mapstructure:"cache_database"`
	DataClients            map[string]map[string]any `mapstructure:"data_clients"`
	ExecClients            map[string]map[string]any `mapstructure:"exec_clients"`
	Factories              map[string]string         `mapstructure:"factories"`
	Timeouts               TimeoutsConfig            `mapstructure:"timeouts"`
	ResidualCheckInterval  time.Duration             `mapstructure:"residual_check_interval" validate:"gte=0"`
	MaxConsecutiveFailures int                       `mapstructure:"max_consecutive_failures" validate:"gte=0"`
	Portfolio              PortfolioConfig           `mapstructure:"portfolio"`
	API                    APIConfig                 `mapstructure:"api"`
	Alerts                 AlertsConfig              `mapstructure:"alerts"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path" validate:"required"`
}

// CacheDatabaseConfig selects where the cache is persisted between runs.
type CacheDatabaseConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=memory badger redis postgres"`
	Path      string `mapstructure:"path"`
	InMemory  bool   `mapstructure:"in_memory"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
	DSN       string `mapstructure:"dsn"`
	// Postgres pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

type TimeoutsConfig struct {
	Connection         time.Duration `mapstructure:"connection" validate:"gte=0"`
	Reconciliation     time.Duration `mapstructure:"reconciliation" validate:"gte=0"`
	Portfolio          time.Duration `mapstructure:"portfolio" validate:"gte=0"`
	Disconnection      time.Duration `mapstructure:"disconnection" validate:"gte=0"`
	ResidualCheckDelay time.Duration `mapstructure:"residual_check_delay" validate:"gte=0"`
	StrategyStart      time.Duration `mapstructure:"strategy_start" validate:"gte=0"`
}

// PortfolioConfig holds decimal limits as strings so they survive YAML and
// env overrides without float rounding.
type PortfolioConfig struct {
	MaxPositionNotional string `mapstructure:"max_position_notional" validate:"omitempty,numeric"`
	MaxTotalExposure    string `mapstructure:"max_total_exposure" validate:"omitempty,numeric"`
}

// APIConfig represents the status server configuration
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	CORSAllowOrigin string        `mapstructure:"cors_allow_origin"`
}

// Addr is the listen address of the status server.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type AlertsConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic        string        `mapstructure:"topic" validate:"required_if=Enabled true"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" validate:"gte=0"`
}

var validate = validator.New()

// Load reads configuration from an optional YAML file, a .env file and
// TRADING_NODE_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("trader_id", "TRADER-001")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")

	v.SetDefault("cache_database.type", "memory")
	v.SetDefault("cache_database.path", "./data/cache")
	v.SetDefault("cache_database.address", "localhost:6379")
	v.SetDefault("cache_database.key_prefix", "trading-node")
	v.SetDefault("cache_database.max_open_conns", 10)
	v.SetDefault("cache_database.max_idle_conns", 2)
	v.SetDefault("cache_database.conn_max_lifetime", "5m")

	defaults := node.DefaultTimeouts()
	v.SetDefault("timeouts.connection", defaults.Connection)
	v.SetDefault("timeouts.reconciliation", defaults.Reconciliation)
	v.SetDefault("timeouts.portfolio", defaults.Portfolio)
	v.SetDefault("timeouts.disconnection", defaults.Disconnection)
	v.SetDefault("timeouts.residual_check_delay", defaults.ResidualCheckDelay)
	v.SetDefault("timeouts.strategy_start", defaults.StrategyStart)
	v.SetDefault("residual_check_interval", 0)
	v.SetDefault("max_consecutive_failures", 5)

	v.SetDefault("portfolio.max_position_notional", "")
	v.SetDefault("portfolio.max_total_exposure", "")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.read_timeout", "30s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.cors_allow_origin", "*")

	v.SetDefault("alerts.kafka.enabled", false)
	v.SetDefault("alerts.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("alerts.kafka.topic", "trading-node.events")
	v.SetDefault("alerts.kafka.batch_timeout", "100ms")
}

// Validate checks struct tags, then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error
	db := c.CacheDatabase
	switch db.Type {
	case "badger":
		if db.Path == "" && !db.InMemory {
			errs = append(errs, errors.New("cache_database.path is required for badger"))
		}
	case "redis":
		if db.Address == "" {
			errs = append(errs, errors.New("cache_database.address is required for redis"))
		}
	case "postgres":
		if db.DSN == "" {
			errs = append(errs, errors.New("cache_database.dsn is required for postgres"))
		}
	}

	if k := c.Alerts.Kafka; k.Enabled && len(k.Brokers) == 0 {
		errs = append(errs, errors.New("alerts.kafka.brokers is required when kafka alerts are enabled"))
	}

	for name := range c.Factories {
		_, data := c.DataClients[name]
		_, exec := c.ExecClients[name]
		if !data && !exec {
			errs = append(errs, fmt.Errorf("factories.%s names a venue with no configured client", name))
		}
	}

	return errors.Join(errs...)
}

// Venue normalizes a configuration key to a venue identifier. Viper lower
// cases keys, venues are upper case.
func Venue(key string) model.Venue {
	return model.Venue(strings.ToUpper(key))
}

// FactoryKind returns the adapter kind configured for v, defaulting to the
// lower-cased venue name.
func (c *Config) FactoryKind(v model.Venue) string {
	key := strings.ToLower(string(v))
	if kind, ok := c.Factories[key]; ok && kind != "" {
		return strings.ToLower(kind)
	}
	return key
}

// Venues lists every venue with at least one configured client.
func (c *Config) Venues() []model.Venue {
	seen := make(map[model.Venue]struct{})
	var out []model.Venue
	for _, clients := range []map[string]map[string]any{c.DataClients, c.ExecClients} {
		for key := range clients {
			v := Venue(key)
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// NodeConfig converts to the node's configuration.
func (c *Config) NodeConfig() node.Config {
	return node.Config{
		TraderID:    c.TraderID,
		DataClients: venueParams(c.DataClients),
		ExecClients: venueParams(c.ExecClients),
		Timeouts: node.TimeoutBudget{
			Connection:         c.Timeouts.Connection,
			Reconciliation:     c.Timeouts.Reconciliation,
			Portfolio:          c.Timeouts.Portfolio,
			Disconnection:      c.Timeouts.Disconnection,
			ResidualCheckDelay: c.Timeouts.ResidualCheckDelay,
			StrategyStart:      c.Timeouts.StrategyStart,
		},
		ResidualCheckInterval:  c.ResidualCheckInterval,
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
	}
}

// PortfolioLimits parses the configured limits. Empty values are unlimited.
func (c *Config) PortfolioLimits() (portfolio.Limits, error) {
	var limits portfolio.Limits
	var err error
	if s := c.Portfolio.MaxPositionNotional; s != "" {
		if limits.MaxPositionNotional, err = decimal.NewFromString(s); err != nil {
			return limits, fmt.Errorf("portfolio.max_position_notional: %w", err)
		}
	}
	if s := c.Portfolio.MaxTotalExposure; s != "" {
		if limits.MaxTotalExposure, err = decimal.NewFromString(s); err != nil {
			return limits, fmt.Errorf("portfolio.max_total_exposure: %w", err)
		}
	}
	return limits, nil
}

func venueParams(in map[string]map[string]any) map[model.Venue]venue.Params {
	out := make(map[model.Venue]venue.Params, len(in))
	for key, params := range in {
		p := make(venue.Params, len(params))
		for k, v := range params {
			p[k] = v
		}
		out[Venue(key)] = p
	}
	return out
}
