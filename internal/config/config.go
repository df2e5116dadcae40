package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"daily-quiz-composer/internal/domain"
	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Name string `yaml:"name" env:"APP_NAME"`
		Env  string `yaml:"env" env:"APP_ENV"`
	} `yaml:"app"`
	Server struct {
		Port string `yaml:"port" env:"PORT"`
	} `yaml:"server"`
	Redis struct {
		Addr        string `yaml:"addr" env:"REDIS_ADDR"`
		Password    string `yaml:"password" env:"REDIS_PASSWORD"`
		DB          int    `yaml:"db" env:"REDIS_DB"`
		TemplateTTL string `yaml:"template_ttl" env:"REDIS_TEMPLATE_TTL"`
		LockTTL     string `yaml:"lock_ttl" env:"REDIS_LOCK_TTL"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" env:"POSTGRES_URL"`
	} `yaml:"postgres"`
	Pool struct {
		// SeedFile is a JSON array of questions loaded into the in-memory store.
		SeedFile string `yaml:"seed_file" env:"POOL_SEED_FILE"`
	} `yaml:"pool"`
	Templates struct {
		BaseURL  string `yaml:"base_url" env:"TEMPLATE_BASE_URL"`
		Secret   string `yaml:"secret" env:"TEMPLATE_SECRET"`
		CacheTTL string `yaml:"cache_ttl" env:"TEMPLATE_CACHE_TTL"`
	} `yaml:"templates"`
	Composer Composer `yaml:"composer"`
	Health   struct {
		Window               int     `yaml:"window" env:"HEALTH_WINDOW"`
		MaxFailureRate       float64 `yaml:"max_failure_rate" env:"HEALTH_MAX_FAILURE_RATE"`
		MaxAverageRelaxation float64 `yaml:"max_average_relaxation" env:"HEALTH_MAX_AVERAGE_RELAXATION"`
		PoolSafetyFactor     float64 `yaml:"pool_safety_factor" env:"HEALTH_POOL_SAFETY_FACTOR"`
		Lookahead            string  `yaml:"lookahead" env:"HEALTH_LOOKAHEAD"`
	} `yaml:"health"`
	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log"`
}

// Composer holds the default selection constraints. Zero values keep the
// built-in defaults.
type Composer struct {
	SlateSize           int                `yaml:"slate_size" env:"COMPOSER_SLATE_SIZE"`
	DifficultyTargets   map[string]float64 `yaml:"difficulty_targets"`
	DifficultyTolerance int                `yaml:"difficulty_tolerance" env:"COMPOSER_DIFFICULTY_TOLERANCE"`
	MaxPerTheme         int                `yaml:"max_per_theme" env:"COMPOSER_MAX_PER_THEME"`
	MaxPerSubject       int                `yaml:"max_per_subject" env:"COMPOSER_MAX_PER_SUBJECT"`
	MaxPerType          int                `yaml:"max_per_type" env:"COMPOSER_MAX_PER_TYPE"`
	CooldownDays        *int               `yaml:"cooldown_days" env:"COMPOSER_COOLDOWN_DAYS"`
	MaxRelaxationLevel  *int               `yaml:"max_relaxation_level" env:"COMPOSER_MAX_RELAXATION_LEVEL"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error; the environment alone may configure the service.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.App.Name == "" {
		cfg.App.Name = "daily-quiz-composer"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	return cfg, nil
}

// ComposerDefaults overlays the configured values on the built-in defaults
// and validates the result.
func (c Config) ComposerDefaults() (domain.ComposerConfig, error) {
	o := domain.ComposerOverrides{
		SlateSize:           positive(c.Composer.SlateSize),
		DifficultyTolerance: positive(c.Composer.DifficultyTolerance),
		MaxPerTheme:         positive(c.Composer.MaxPerTheme),
		MaxPerSubject:       positive(c.Composer.MaxPerSubject),
		MaxPerType:          positive(c.Composer.MaxPerType),
		CooldownDays:        c.Composer.CooldownDays,
		MaxRelaxationLevel:  c.Composer.MaxRelaxationLevel,
	}
	if len(c.Composer.DifficultyTargets) > 0 {
		o.DifficultyTargets = make(map[domain.Difficulty]float64, len(c.Composer.DifficultyTargets))
		for k, v := range c.Composer.DifficultyTargets {
			o.DifficultyTargets[domain.Difficulty(k)] = v
		}
	}
	cfg := domain.DefaultComposerConfig().Merge(o)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("composer config: %w", err)
	}
	return cfg, nil
}

func positive(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
