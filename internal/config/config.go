// The application's root configuration.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Source modes select the adapter used to read the primary document.
const (
	ModeJSON   = "json"
	ModeBundle = "bundle"
)

// Output formats supported by the tabular sinks.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// Defaults shared by SetDefaults and the components that fall back to them.
const (
	DefaultRawBase        = "https://raw.githubusercontent.com/mitre/emb3d/main"
	DefaultMappingPath    = "_data/threats_properties_mitigations_mappings.json"
	DefaultOutputPath     = "emb3d_mapping.csv"
	DefaultWorkers        = 12
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Network  NetworkConfig  `mapstructure:"network"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Source   SourceConfig   `mapstructure:"source"`
	Output   OutputConfig   `mapstructure:"output"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// NetworkConfig holds settings for HTTP requests.
type NetworkConfig struct {
	Timeout   time.Duration     `mapstructure:"timeout"`
	UserAgent string            `mapstructure:"user_agent"`
	Headers   map[string]string `mapstructure:"headers"`
}

// FetcherConfig holds settings for the concurrent enrichment fetcher.
type FetcherConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Workers        int           `mapstructure:"workers"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	BaseURL        string        `mapstructure:"base_url"`
}

// SourceConfig selects and locates the primary document.
type SourceConfig struct {
	Mode string `mapstructure:"mode"`
	// Location is a local path or an http(s) URL. When empty and Dir is set,
	// the newest file in Dir matching Glob is used.
	Location string `mapstructure:"location"`
	Dir      string `mapstructure:"dir"`
	Glob     string `mapstructure:"glob"`
}

// OutputConfig controls the tabular sink.
type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// CacheConfig enables the on-disk document cache.
type CacheConfig struct {
	Path string        `mapstructure:"path"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// PostgresConfig holds settings for the optional database sink.
type PostgresConfig struct {
	URL   string `mapstructure:"url"`
	Table string `mapstructure:"table"`
}

// SetDefaults registers every default with the given viper instance so the
// tool runs without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "emb3d-mapper")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("network.timeout", DefaultRequestTimeout)
	v.SetDefault("network.user_agent", "emb3d-mapper")

	v.SetDefault("fetcher.enabled", true)
	v.SetDefault("fetcher.workers", DefaultWorkers)
	v.SetDefault("fetcher.max_attempts", DefaultMaxAttempts)
	v.SetDefault("fetcher.initial_backoff", DefaultInitialBackoff)
	v.SetDefault("fetcher.max_backoff", DefaultMaxBackoff)
	v.SetDefault("fetcher.base_url", DefaultRawBase)

	v.SetDefault("source.mode", ModeJSON)
	v.SetDefault("source.location", DefaultRawBase+"/"+DefaultMappingPath)
	v.SetDefault("source.glob", "*.json")

	v.SetDefault("output.path", DefaultOutputPath)
	v.SetDefault("output.format", FormatCSV)

	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("postgres.table", "emb3d_mapping")
}

// Validate checks the fields the pipeline cannot run without.
func (c *Config) Validate() error {
	switch c.Source.Mode {
	case ModeJSON, ModeBundle:
	default:
		return &pipelineerr.ConfigurationError{
			Field:  "source.mode",
			Reason: fmt.Sprintf("must be %q or %q, got %q", ModeJSON, ModeBundle, c.Source.Mode),
		}
	}
	if c.Source.Location == "" && c.Source.Dir == "" {
		return &pipelineerr.ConfigurationError{Field: "source.location", Reason: "a location or a source directory is required"}
	}
	switch strings.ToLower(c.Output.Format) {
	case FormatCSV, FormatJSON, FormatXLSX:
	default:
		return &pipelineerr.ConfigurationError{Field: "output.format", Reason: fmt.Sprintf("unsupported format %q", c.Output.Format)}
	}
	if c.Output.Path == "" {
		return &pipelineerr.ConfigurationError{Field: "output.path", Reason: "is a required configuration field"}
	}
	if c.Fetcher.Enabled {
		if c.Fetcher.Workers <= 0 {
			return &pipelineerr.ConfigurationError{Field: "fetcher.workers", Reason: "must be a positive integer"}
		}
		if c.Fetcher.MaxAttempts <= 0 {
			return &pipelineerr.ConfigurationError{Field: "fetcher.max_attempts", Reason: "must be a positive integer"}
		}
		if c.Fetcher.BaseURL == "" {
			return &pipelineerr.ConfigurationError{Field: "fetcher.base_url", Reason: "is a required configuration field"}
		}
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Set installs cfg as the global configuration, bypassing Load.
func Set(cfg *Config) {
	once.Do(func() {})
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
