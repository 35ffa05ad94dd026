// Package config loads needscore configuration from config.yaml and
// NEEDSCORE_* environment variables, and initializes the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/needscore/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Data   DataConfig   `yaml:"data" mapstructure:"data"`
	Model  ModelConfig  `yaml:"model" mapstructure:"model"`
	Train  TrainConfig  `yaml:"train" mapstructure:"train"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the record table and region definitions.
type DataConfig struct {
	Records      string `yaml:"records" mapstructure:"records"`
	Regions      string `yaml:"regions" mapstructure:"regions"`
	Charset      string `yaml:"charset" mapstructure:"charset"`             // record CSV encoding; empty = UTF-8
	Sheet        string `yaml:"sheet" mapstructure:"sheet"`                 // XLSX sheet; empty = first
	NameProperty string `yaml:"name_property" mapstructure:"name_property"` // GeoJSON/shapefile attribute holding the region name
	TempDir      string `yaml:"temp_dir" mapstructure:"temp_dir"`           // scratch space for zipped shapefiles
}

// ModelConfig configures the risk model artifact.
type ModelConfig struct {
	Path     string   `yaml:"path" mapstructure:"path"`
	Features []string `yaml:"features" mapstructure:"features"`
}

// TrainConfig configures random forest training.
type TrainConfig struct {
	Seed        uint64  `yaml:"seed" mapstructure:"seed"`
	ValFraction float64 `yaml:"val_fraction" mapstructure:"val_fraction"`
	Trees       int     `yaml:"trees" mapstructure:"trees"`
	MaxDepth    int     `yaml:"max_depth" mapstructure:"max_depth"`
	MinLeaf     int     `yaml:"min_leaf" mapstructure:"min_leaf"`
}

// StoreConfig configures the training ledger backend. An empty driver
// disables the ledger.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimit      float64  `yaml:"rate_limit" mapstructure:"rate_limit"` // requests/sec; 0 disables
	Burst          int      `yaml:"burst" mapstructure:"burst"`
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
	v.SetEnvPrefix("NEEDSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.records", "data/311_data.csv")
	v.SetDefault("data.regions", "data/neighborhoods.geojson")
	v.SetDefault("data.name_property", "neighborhood")
	v.SetDefault("data.temp_dir", "/tmp/needscore")
	v.SetDefault("model.path", "models/risk_model.json.gz")
	v.SetDefault("model.features", []string{"req_count", "avg_res_time"})
	v.SetDefault("train.seed", 42)
	v.SetDefault("train.val_fraction", 0.3)
	v.SetDefault("train.trees", 100)
	v.SetDefault("train.max_depth", 0)
	v.SetDefault("train.min_leaf", 1)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "needscore.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.burst", 40)
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

// Validate checks the settings a command needs. mode is one of "train",
// "aggregate", "serve" or "regions".
func (c *Config) Validate(mode string) error {
	var errs []string

	requireRegions := func() {
		if c.Data.Regions == "" {
			errs = append(errs, "data.regions is required")
		}
	}
	requireRecords := func() {
		if c.Data.Records == "" {
			errs = append(errs, "data.records is required")
		}
	}
	requireModel := func() {
		if c.Model.Path == "" {
			errs = append(errs, "model.path is required")
		}
		if len(c.Model.Features) == 0 {
			errs = append(errs, "model.features must list at least one feature")
		}
	}

	switch mode {
	case "regions":
		requireRegions()
	case "aggregate":
		requireRegions()
		requireRecords()
		requireModel()
	case "train":
		requireRegions()
		requireRecords()
		requireModel()
		if c.Train.ValFraction <= 0 || c.Train.ValFraction >= 1 {
			errs = append(errs, "train.val_fraction must be between 0 and 1 (exclusive)")
		}
		if c.Train.Trees < 1 {
			errs = append(errs, "train.trees must be >= 1")
		}
		if c.Train.MaxDepth < 0 {
			errs = append(errs, "train.max_depth must be >= 0")
		}
		if c.Train.MinLeaf < 1 {
			errs = append(errs, "train.min_leaf must be >= 1")
		}
		if c.Store.Driver != "" && c.Train.Seed > store.MaxSeed {
			errs = append(errs, fmt.Sprintf("train.seed must be <= %d when the training ledger is enabled", store.MaxSeed))
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "serve":
		requireRegions()
		requireRecords()
		requireModel()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server.rate_limit must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
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
