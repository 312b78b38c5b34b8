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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Load      LoadConfig      `yaml:"load" mapstructure:"load"`
	Transform TransformConfig `yaml:"transform" mapstructure:"transform"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SourcesConfig names the three extract locations. Each accepts a local
// path or an http(s)/ftp/file URL.
type SourcesConfig struct {
	Patients   string `yaml:"patients" mapstructure:"patients"`
	Encounters string `yaml:"encounters" mapstructure:"encounters"`
	Diagnoses  string `yaml:"diagnoses" mapstructure:"diagnoses"`
	TempDir    string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// LoadConfig configures how a cleaned batch lands in the store.
type LoadConfig struct {
	Mode string `yaml:"mode" mapstructure:"mode"`
}

// TransformConfig overrides the validation defaults.
type TransformConfig struct {
	MaxFutureYears     int     `yaml:"max_future_years" mapstructure:"max_future_years"`
	HeightMinCM        float64 `yaml:"height_min_cm" mapstructure:"height_min_cm"`
	HeightMaxCM        float64 `yaml:"height_max_cm" mapstructure:"height_max_cm"`
	WeightMinKG        float64 `yaml:"weight_min_kg" mapstructure:"weight_min_kg"`
	WeightMaxKG        float64 `yaml:"weight_max_kg" mapstructure:"weight_max_kg"`
	LogExactDuplicates bool    `yaml:"log_exact_duplicates" mapstructure:"log_exact_duplicates"`
}

// FetchConfig configures the remote source client.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
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
	v.SetEnvPrefix("PATIENT_ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("load.mode", "truncate")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("sources.temp_dir", "/tmp/patient-etl")
	v.SetDefault("transform.max_future_years", 3)
	v.SetDefault("transform.height_min_cm", 30)
	v.SetDefault("transform.height_max_cm", 272)
	v.SetDefault("transform.weight_min_kg", 2)
	v.SetDefault("transform.weight_max_kg", 635)
	v.SetDefault("fetch.user_agent", "patient-etl/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_sec", 5)

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

// Validate checks the fields a given command needs. mode is the command
// family: "run" needs sources and a store, "store" needs only the store.
func (c *Config) Validate(mode string) error {
	var problems []string

	requireStore := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			problems = append(problems, "store.driver must be postgres or sqlite")
		}
	}

	switch mode {
	case "run":
		requireStore()
		if c.Sources.Patients == "" {
			problems = append(problems, "sources.patients is required")
		}
		if c.Sources.Encounters == "" {
			problems = append(problems, "sources.encounters is required")
		}
		if c.Sources.Diagnoses == "" {
			problems = append(problems, "sources.diagnoses is required")
		}
		if c.Transform.MaxFutureYears < 0 {
			problems = append(problems, "transform.max_future_years must be >= 0")
		}
		if c.Transform.HeightMaxCM <= c.Transform.HeightMinCM {
			problems = append(problems, "transform height bounds must satisfy min < max")
		}
		if c.Transform.WeightMaxKG <= c.Transform.WeightMinKG {
			problems = append(problems, "transform weight bounds must satisfy min < max")
		}
	case "store":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
