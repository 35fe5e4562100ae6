package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/leadcheck/internal/pipeline"
	"github.com/sells-group/leadcheck/internal/resilience"
	"github.com/sells-group/leadcheck/internal/store"
	"github.com/sells-group/leadcheck/internal/validate"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = eris.New("invalid configuration")

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig configures the CNPJ registry client.
type RegistryConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig controls in-call retries of transient lookup failures.
type RetryConfig struct {
	Attempts    int `yaml:"attempts" mapstructure:"attempts"`
	BackoffSecs int `yaml:"backoff_secs" mapstructure:"backoff_secs"`
}

// CircuitConfig controls the registry circuit breaker. A zero threshold
// disables it.
type CircuitConfig struct {
	Threshold int `yaml:"threshold" mapstructure:"threshold"`
	ResetSecs int `yaml:"reset_secs" mapstructure:"reset_secs"`
}

// Batch modes.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"
	ModeFast   = "fast"
)

// BatchConfig configures batch sizing and pacing.
type BatchConfig struct {
	Size               int    `yaml:"size" mapstructure:"size"`
	RowDelaySecs       int    `yaml:"row_delay_secs" mapstructure:"row_delay_secs"`
	BatchDelaySecs     int    `yaml:"batch_delay_secs" mapstructure:"batch_delay_secs"`
	FastBatchDelaySecs int    `yaml:"fast_batch_delay_secs" mapstructure:"fast_batch_delay_secs"`
	Mode               string `yaml:"mode" mapstructure:"mode"`
}

// ValidationConfig tunes spreadsheet validation.
type ValidationConfig struct {
	StrictPhone  bool     `yaml:"strict_phone" mapstructure:"strict_phone"`
	CheckDigits  bool     `yaml:"check_digits" mapstructure:"check_digits"`
	StatusFilter []string `yaml:"status_filter" mapstructure:"status_filter"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	// MaxUploadMB bounds spreadsheet uploads.
	MaxUploadMB int `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A .env file only seeds variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.database_url", "leadcheck.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("registry.base_url", "https://www.receitaws.com.br/v1/cnpj")
	v.SetDefault("registry.timeout_secs", 10)
	v.SetDefault("registry.retry.attempts", 1)
	v.SetDefault("registry.retry.backoff_secs", 2)
	v.SetDefault("registry.circuit.threshold", 5)
	v.SetDefault("registry.circuit.reset_secs", 60)
	v.SetDefault("batch.size", 3)
	v.SetDefault("batch.row_delay_secs", 5)
	v.SetDefault("batch.batch_delay_secs", 180)
	v.SetDefault("batch.fast_batch_delay_secs", 5)
	v.SetDefault("batch.mode", ModeManual)
	v.SetDefault("validation.strict_phone", false)
	v.SetDefault("validation.check_digits", false)
	v.SetDefault("validation.status_filter", []string{})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	return &cfg, nil
}

// Validate reports settings the application cannot start with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Store.Driver {
	case store.DriverSQLite:
	case store.DriverPostgres:
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for postgres")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres, got "+quote(c.Store.Driver))
	}
	if strings.TrimSpace(c.Registry.BaseURL) == "" {
		problems = append(problems, "registry.base_url is empty")
	}
	if c.Batch.Size <= 0 {
		problems = append(problems, "batch.size must be positive")
	}
	if c.Batch.RowDelaySecs < 0 || c.Batch.BatchDelaySecs < 0 || c.Batch.FastBatchDelaySecs < 0 {
		problems = append(problems, "batch delays must not be negative")
	}
	switch c.Batch.Mode {
	case "", ModeManual, ModeAuto, ModeFast:
	default:
		problems = append(problems, "batch.mode must be manual, auto or fast, got "+quote(c.Batch.Mode))
	}
	if len(problems) > 0 {
		return eris.Wrap(ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}

// StoreOpenConfig returns the settings for store.Open.
func (c *Config) StoreOpenConfig() store.Config {
	return store.Config{
		Driver:   c.Store.Driver,
		DSN:      c.Store.DatabaseURL,
		MaxConns: c.Store.MaxConns,
		MinConns: c.Store.MinConns,
	}
}

// BatchDelay returns the pause between batches for the configured mode.
// Fast mode trades registry friendliness for throughput.
func (c *Config) BatchDelay() time.Duration {
	if c.Batch.Mode == ModeFast {
		return time.Duration(c.Batch.FastBatchDelaySecs) * time.Second
	}
	return time.Duration(c.Batch.BatchDelaySecs) * time.Second
}

// PipelineConfig returns the controller settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		BatchSize:  c.Batch.Size,
		RowDelay:   time.Duration(c.Batch.RowDelaySecs) * time.Second,
		BatchDelay: c.BatchDelay(),
	}
}

// ValidateOptions returns the row validation options.
func (c *Config) ValidateOptions() validate.Options {
	return validate.Options{
		StrictPhone:  c.Validation.StrictPhone,
		CheckDigits:  c.Validation.CheckDigits,
		StatusFilter: c.Validation.StatusFilter,
	}
}

// RegistryTimeout returns the per-request timeout.
func (c *Config) RegistryTimeout() time.Duration {
	return time.Duration(c.Registry.TimeoutSecs) * time.Second
}

// RetryPolicy builds the lookup retry policy. OnRetry stays unset so the
// registry client logs each retry with the CNPJ being looked up.
func (c *Config) RetryPolicy() resilience.Policy {
	return resilience.Policy{
		Attempts: c.Registry.Retry.Attempts,
		Backoff:  time.Duration(c.Registry.Retry.BackoffSecs) * time.Second,
		Jitter:   0.2,
	}
}

// Breaker builds the registry circuit breaker, or nil when disabled.
func (c *Config) Breaker() *resilience.Breaker {
	if c.Registry.Circuit.Threshold <= 0 {
		return nil
	}
	b := resilience.NewBreaker(c.Registry.Circuit.Threshold, time.Duration(c.Registry.Circuit.ResetSecs)*time.Second)
	b.OnChange = func(from, to resilience.BreakerState) {
		zap.L().Warn("registry circuit changed", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return b
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
	zapCfg.OutputPaths = []string{"stderr"}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
