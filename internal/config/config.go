package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"cexdex-arb/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Data       DataConfig       `mapstructure:"data"`
	Decoder    DecoderConfig    `mapstructure:"decoder"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Align      AlignConfig      `mapstructure:"align"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Cache      CacheConfig      `mapstructure:"cache"`
	S3         S3Config         `mapstructure:"s3"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Server     ServerConfig     `mapstructure:"server"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Binance    BinanceConfig    `mapstructure:"binance"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DataConfig points at the raw input files produced by the acquisition jobs.
type DataConfig struct {
	OnchainLogs   string `mapstructure:"onchain_logs"`
	TradesDir     string `mapstructure:"trades_dir"`
	GasCSV        string `mapstructure:"gas_csv"`
	TradeTimeUnit string `mapstructure:"trade_time_unit"`
}

// DecoderConfig controls how pool logs are turned into prices.
type DecoderConfig struct {
	Mode           string  `mapstructure:"mode"`
	ScaleExponent  int     `mapstructure:"scale_exponent"`
	PlausibleMin   float64 `mapstructure:"plausible_min"`
	PlausibleMax   float64 `mapstructure:"plausible_max"`
	SanityMin      float64 `mapstructure:"sanity_min"`
	SanityMax      float64 `mapstructure:"sanity_max"`
	Token0Decimals int     `mapstructure:"token0_decimals"`
	Token1Decimals int     `mapstructure:"token1_decimals"`
	BaseIsToken0   bool    `mapstructure:"base_is_token0"`
}

// AggregatorConfig configures off-chain bar construction.
type AggregatorConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	VolatilityFloor float64       `mapstructure:"volatility_floor"`
}

// AlignConfig governs the as-of join.
type AlignConfig struct {
	Tolerance       time.Duration `mapstructure:"tolerance"`
	FallbackBaseFee float64       `mapstructure:"fallback_base_fee"`
}

// OptimizerConfig carries the cost model and search grid.
type OptimizerConfig struct {
	TradeSizes           []float64 `mapstructure:"trade_sizes"`
	CEXTakerFee          float64   `mapstructure:"cex_taker_fee"`
	DEXFeeTier           float64   `mapstructure:"dex_fee_tier"`
	GasLimit             float64   `mapstructure:"gas_limit"`
	PriorityFeeWei       float64   `mapstructure:"priority_fee_wei"`
	TransferCost         float64   `mapstructure:"transfer_cost"`
	MinSpread            float64   `mapstructure:"min_spread"`
	ImpactFactor         float64   `mapstructure:"impact_factor"`
	VolatilityFloor      float64   `mapstructure:"volatility_floor"`
	BaseDecimals         int       `mapstructure:"base_decimals"`
	LinearScale          float64   `mapstructure:"linear_scale"`
	ZeroLiquidityPenalty float64   `mapstructure:"zero_liquidity_penalty"`
	Workers              int       `mapstructure:"workers"`
	MinProfit            float64   `mapstructure:"min_profit"`
}

// CacheConfig selects where the aligned dataset is materialised.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Backend string        `mapstructure:"backend"`
	Path    string        `mapstructure:"path"`
	Key     string        `mapstructure:"key"`
	Lock    string        `mapstructure:"lock"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// S3Config describes an S3-compatible bucket for cache artifacts.
type S3Config struct {
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	UseSSL         bool   `mapstructure:"use_ssl"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// RedisConfig is used for the distributed cache writer lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig selects run persistence: PostgreSQL, a local SQLite file,
// or none.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the refresh cadence in serve mode.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ServerConfig configures the HTTP query surface.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// EthereumConfig covers on-chain log acquisition.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	PoolAddress    string        `mapstructure:"pool_address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BlockChunk     uint64        `mapstructure:"block_chunk"`
	HeaderWorkers  int           `mapstructure:"header_workers"`
}

// BinanceConfig covers exchange trade acquisition.
type BinanceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Symbol         string        `mapstructure:"symbol"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	PageLimit      int           `mapstructure:"page_limit"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	MinProfit float64        `mapstructure:"min_profit"`
	TopN      int            `mapstructure:"top_n"`
	Channels  []string       `mapstructure:"channels"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
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
	MaxDataPoints  int    `mapstructure:"max_data_points"`
	ChartTimeframe string `mapstructure:"chart_timeframe"`
}

// Load builds configuration from file, .env, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CEXDEXARB")
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
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cexdexarb")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "cexdexarb")

	v.SetDefault("data.onchain_logs", "data/uniswap_v3_logs.json")
	v.SetDefault("data.trades_dir", "data/binance_trades")
	v.SetDefault("data.gas_csv", "data/block_base_fee.csv")
	v.SetDefault("data.trade_time_unit", "auto")

	v.SetDefault("decoder.mode", "heuristic")
	v.SetDefault("decoder.scale_exponent", 12)
	v.SetDefault("decoder.plausible_min", 1000.0)
	v.SetDefault("decoder.plausible_max", 10000.0)
	v.SetDefault("decoder.sanity_min", 100.0)
	v.SetDefault("decoder.sanity_max", 20000.0)
	v.SetDefault("decoder.token0_decimals", 18)
	v.SetDefault("decoder.token1_decimals", 6)
	v.SetDefault("decoder.base_is_token0", true)

	v.SetDefault("aggregator.interval", "1s")
	v.SetDefault("aggregator.volatility_floor", 5.0)

	v.SetDefault("align.tolerance", "5m")
	v.SetDefault("align.fallback_base_fee", 20e9)

	v.SetDefault("optimizer.trade_sizes", []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50, 100})
	v.SetDefault("optimizer.cex_taker_fee", 0.001)
	v.SetDefault("optimizer.dex_fee_tier", 0.0005)
	v.SetDefault("optimizer.gas_limit", 150000.0)
	v.SetDefault("optimizer.priority_fee_wei", 2e9)
	v.SetDefault("optimizer.transfer_cost", 5.0)
	v.SetDefault("optimizer.min_spread", 0.0015)
	v.SetDefault("optimizer.impact_factor", 0.0001)
	v.SetDefault("optimizer.volatility_floor", 5.0)
	v.SetDefault("optimizer.base_decimals", 18)
	v.SetDefault("optimizer.linear_scale", 0.5e18)
	v.SetDefault("optimizer.zero_liquidity_penalty", 0.1)
	v.SetDefault("optimizer.workers", 0)
	v.SetDefault("optimizer.min_profit", 10.0)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.path", "data/aligned_events.json")
	v.SetDefault("cache.key", "aligned/aligned_events.json")
	v.SetDefault("cache.lock", "file")
	v.SetDefault("cache.lock_ttl", "10m")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.use_ssl", true)

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.path", "data/cexdexarb.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63646172))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("ethereum.pool_address", "0x11b815efb8f581194ae79006d24e0d814b7697f6")
	v.SetDefault("ethereum.request_timeout", "30s")
	v.SetDefault("ethereum.block_chunk", 2000)
	v.SetDefault("ethereum.header_workers", 8)

	v.SetDefault("binance.base_url", "https://api.binance.com")
	v.SetDefault("binance.symbol", "ETHUSDT")
	v.SetDefault("binance.request_timeout", "15s")
	v.SetDefault("binance.user_agent", "cexdexarb/1.0")
	v.SetDefault("binance.page_limit", 0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_profit", 100.0)
	v.SetDefault("alerting.top_n", 5)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.chart_timeframe", "1h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Decoder.Mode {
	case "heuristic", "explicit":
	default:
		return fmt.Errorf("decoder.mode must be heuristic or explicit, got %q", c.Decoder.Mode)
	}
	if c.Decoder.SanityMin <= 0 || c.Decoder.SanityMax <= c.Decoder.SanityMin {
		return fmt.Errorf("decoder sanity band must satisfy 0 < sanity_min < sanity_max")
	}
	if c.Decoder.PlausibleMin <= 0 || c.Decoder.PlausibleMax <= c.Decoder.PlausibleMin {
		return fmt.Errorf("decoder plausible band must satisfy 0 < plausible_min < plausible_max")
	}
	if c.Aggregator.Interval <= 0 {
		return fmt.Errorf("aggregator.interval must be greater than zero")
	}
	if c.Aggregator.VolatilityFloor <= 0 {
		return fmt.Errorf("aggregator.volatility_floor must be greater than zero")
	}
	if c.Align.Tolerance < 0 {
		return fmt.Errorf("align.tolerance cannot be negative")
	}
	if len(c.Optimizer.TradeSizes) == 0 {
		return fmt.Errorf("optimizer.trade_sizes must not be empty")
	}
	for i, size := range c.Optimizer.TradeSizes {
		if size <= 0 {
			return fmt.Errorf("optimizer.trade_sizes[%d] must be greater than zero", i)
		}
		if i > 0 && size <= c.Optimizer.TradeSizes[i-1] {
			return fmt.Errorf("optimizer.trade_sizes must be strictly ascending")
		}
	}
	if c.Optimizer.MinSpread < 0 {
		return fmt.Errorf("optimizer.min_spread cannot be negative")
	}
	if c.Optimizer.GasLimit <= 0 {
		return fmt.Errorf("optimizer.gas_limit must be greater than zero")
	}
	switch c.Cache.Backend {
	case "file", "s3":
	default:
		return fmt.Errorf("cache.backend must be file or s3, got %q", c.Cache.Backend)
	}
	if c.Cache.Enabled && c.Cache.Backend == "s3" && c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when cache.backend is s3")
	}
	switch c.Cache.Lock {
	case "none", "file", "redis", "postgres":
	default:
		return fmt.Errorf("cache.lock must be one of none, file, redis, postgres")
	}
	if c.Cache.Lock == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when cache.lock is redis")
	}
	switch c.Database.Driver {
	case "none":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when database.driver is postgres")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required when database.driver is sqlite")
		}
	default:
		return fmt.Errorf("database.driver must be one of none, postgres, sqlite")
	}
	if c.Cache.Lock == "postgres" && c.Database.Driver != "postgres" {
		return fmt.Errorf("cache.lock postgres requires database.driver postgres")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
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

// ResolveMinProfit returns the override when set, else the configured default.
func (c *Config) ResolveMinProfit(override *float64) float64 {
	if override != nil {
		return *override
	}
	return c.Optimizer.MinProfit
}
