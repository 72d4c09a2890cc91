package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Blob     BlobConfig     `yaml:"blob" mapstructure:"blob"`
	Overpass OverpassConfig `yaml:"overpass" mapstructure:"overpass"`
	Harvest  HarvestConfig  `yaml:"harvest" mapstructure:"harvest"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// StoreConfig configures the job store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BlobConfig configures the Redis-backed blob tier for oversized result sets.
type BlobConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// OverpassConfig configures the Overpass API client.
type OverpassConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// HarvestConfig configures address-harvest job orchestration and reads.
type HarvestConfig struct {
	ChunkAreaSqMi     float64 `yaml:"chunk_area_sq_mi" mapstructure:"chunk_area_sq_mi"`
	MaxAreaSqMi       float64 `yaml:"max_area_sq_mi" mapstructure:"max_area_sq_mi"`
	BlobThreshold     int     `yaml:"blob_threshold" mapstructure:"blob_threshold"`
	MaxConcurrentJobs int64   `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	StreamPollSecs    int     `yaml:"stream_poll_secs" mapstructure:"stream_poll_secs"`
	StreamMaxPolls    int     `yaml:"stream_max_polls" mapstructure:"stream_max_polls"`
	StreamBatchSize   int     `yaml:"stream_batch_size" mapstructure:"stream_batch_size"`
	DefaultPageSize   int     `yaml:"default_page_size" mapstructure:"default_page_size"`
	MaxPageSize       int     `yaml:"max_page_size" mapstructure:"max_page_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "harvest.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("blob.addr", "localhost:6379")
	v.SetDefault("blob.key_prefix", "harvest:results:")
	v.SetDefault("overpass.base_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout_secs", 60)
	v.SetDefault("overpass.rate_per_sec", 1)
	v.SetDefault("harvest.chunk_area_sq_mi", 20)
	v.SetDefault("harvest.max_area_sq_mi", 100)
	v.SetDefault("harvest.blob_threshold", 50000)
	v.SetDefault("harvest.max_concurrent_jobs", 4)
	v.SetDefault("harvest.stream_poll_secs", 1)
	v.SetDefault("harvest.stream_max_polls", 120)
	v.SetDefault("harvest.stream_batch_size", 100)
	v.SetDefault("harvest.default_page_size", 100)
	v.SetDefault("harvest.max_page_size", 500)
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
