// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Storage() StorageConfig
	Server() ServerConfig
	Autofill() AutofillConfig
	Regex() RegexConfig
	Browser() BrowserConfig

	// Setters used by CLI flags.
	SetServerAddr(addr string)
	SetBrowserHeadless(bool)
	SetLoggerLevel(level string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	StorageCfg  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	AutofillCfg AutofillConfig `mapstructure:"autofill" yaml:"autofill"`
	RegexCfg    RegexConfig    `mapstructure:"regex" yaml:"regex"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Storage() StorageConfig   { return c.StorageCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Autofill() AutofillConfig { return c.AutofillCfg }
func (c *Config) Regex() RegexConfig       { return c.RegexCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetServerAddr(addr string)   { c.ServerCfg.Addr = addr }
func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetLoggerLevel(level string) { c.LoggerCfg.Level = level }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL selects the file store.
type DatabaseConfig struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Table string `mapstructure:"table" yaml:"table"`
}

// StorageConfig bounds the persisted collections.
type StorageConfig struct {
	// DataDir holds the file-backed store when no database is configured. "~" is expanded.
	DataDir            string `mapstructure:"data_dir" yaml:"data_dir"`
	MaxCompleted       int    `mapstructure:"max_completed" yaml:"max_completed"`
	MaxInProgress      int    `mapstructure:"max_in_progress" yaml:"max_in_progress"`
	MaxAutoFillLogs    int    `mapstructure:"max_autofill_logs" yaml:"max_autofill_logs"`
	MaxPatternContexts int    `mapstructure:"max_pattern_contexts" yaml:"max_pattern_contexts"`
}

// ServerConfig configures the extension bridge.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// AutofillConfig controls the per-tab pipeline and its in-memory tables.
type AutofillConfig struct {
	LoadSettleDelay       time.Duration `mapstructure:"load_settle_delay" yaml:"load_settle_delay"`
	ActivationSettleDelay time.Duration `mapstructure:"activation_settle_delay" yaml:"activation_settle_delay"`
	DefaultDomainDelay    time.Duration `mapstructure:"default_domain_delay" yaml:"default_domain_delay"`
	SessionIdleTTL        time.Duration `mapstructure:"session_idle_ttl" yaml:"session_idle_ttl"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	MaxSessions           int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	MaxPending            int           `mapstructure:"max_pending" yaml:"max_pending"`
	QueueSize             int           `mapstructure:"queue_size" yaml:"queue_size"`
	NoticeDuration        time.Duration `mapstructure:"notice_duration" yaml:"notice_duration"`
}

// RegexConfig bounds user-authored regular expressions.
type RegexConfig struct {
	MaxLength      int           `mapstructure:"max_length" yaml:"max_length"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MatchTimeout   time.Duration `mapstructure:"match_timeout" yaml:"match_timeout"`
	MaxElements    int           `mapstructure:"max_elements" yaml:"max_elements"`
	ComplexityWarn int           `mapstructure:"complexity_warn" yaml:"complexity_warn"`
}

// BrowserConfig configures the headless browser used by `surveyfill fill`.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "surveyfill")
	v.SetDefault("logger.log_file", "surveyfill.log")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.table", "surveyfill_kv")

	// -- Storage --
	v.SetDefault("storage.data_dir", "~/.surveyfill")
	v.SetDefault("storage.max_completed", 1000)
	v.SetDefault("storage.max_in_progress", 50)
	v.SetDefault("storage.max_autofill_logs", 100)
	v.SetDefault("storage.max_pattern_contexts", 20)

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:7717")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"chrome-extension://*", "http://localhost:*"})

	// -- Autofill --
	v.SetDefault("autofill.load_settle_delay", "1s")
	v.SetDefault("autofill.activation_settle_delay", "500ms")
	v.SetDefault("autofill.default_domain_delay", "1s")
	v.SetDefault("autofill.session_idle_ttl", "24h")
	v.SetDefault("autofill.sweep_interval", "10m")
	v.SetDefault("autofill.max_sessions", 50)
	v.SetDefault("autofill.max_pending", 20)
	v.SetDefault("autofill.queue_size", 10)
	v.SetDefault("autofill.notice_duration", "5s")

	// -- Regex --
	v.SetDefault("regex.max_length", 200)
	v.SetDefault("regex.timeout", "5s")
	v.SetDefault("regex.match_timeout", "100ms")
	v.SetDefault("regex.max_elements", 1000)
	v.SetDefault("regex.complexity_warn", 50)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.settle_delay", "1s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The database URL carries credentials and is normally supplied through the environment.
	_ = v.BindEnv("database.url", "SURVEYFILL_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.StorageCfg.DataDir != "" {
		dir, err := homedir.Expand(cfg.StorageCfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand storage.data_dir: %w", err)
		}
		cfg.StorageCfg.DataDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.DatabaseCfg.URL == "" && c.StorageCfg.DataDir == "" {
		return fmt.Errorf("either database.url or storage.data_dir must be set")
	}
	if err := c.StorageCfg.Validate(); err != nil {
		return fmt.Errorf("storage configuration invalid: %w", err)
	}
	if c.ServerCfg.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive")
	}
	if c.ServerCfg.RateBurst <= 0 {
		return fmt.Errorf("server.rate_burst must be a positive integer")
	}
	if err := c.AutofillCfg.Validate(); err != nil {
		return fmt.Errorf("autofill configuration invalid: %w", err)
	}
	if err := c.RegexCfg.Validate(); err != nil {
		return fmt.Errorf("regex configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the collection caps.
func (s *StorageConfig) Validate() error {
	if s.MaxCompleted <= 0 || s.MaxInProgress <= 0 || s.MaxAutoFillLogs <= 0 {
		return fmt.Errorf("collection caps must be positive integers")
	}
	return nil
}

// Validate checks the pipeline timings and table sizes.
func (a *AutofillConfig) Validate() error {
	if a.LoadSettleDelay < 0 || a.ActivationSettleDelay < 0 {
		return fmt.Errorf("settle delays must not be negative")
	}
	if a.SessionIdleTTL <= 0 {
		return fmt.Errorf("session_idle_ttl must be a positive duration")
	}
	if a.MaxSessions <= 0 || a.MaxPending <= 0 || a.QueueSize <= 0 {
		return fmt.Errorf("max_sessions, max_pending and queue_size must be positive integers")
	}
	return nil
}

// Validate checks the regex safety bounds.
func (r *RegexConfig) Validate() error {
	if r.MaxLength <= 0 {
		return fmt.Errorf("max_length must be a positive integer")
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if r.MaxElements <= 0 {
		return fmt.Errorf("max_elements must be a positive integer")
	}
	return nil
}
