// Package config provides configuration loading for the render cache
// subsystem.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("tokenforge.yaml").
//	    WithEnvPrefix("TOKENFORGE").
//	    Load()
//
// Precedence: defaults, then YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tokenforge/rendercache/cache"
	"github.com/tokenforge/rendercache/prerender"
	"github.com/tokenforge/rendercache/warming"
)

// Config is the complete configuration of the subsystem.
type Config struct {
	// Tokens configures the shared token render store.
	Tokens cache.StoreConfig `yaml:"tokens"`

	// Images configures the decoded-image store.
	Images cache.StoreConfig `yaml:"images"`

	// Fonts configures the measured-font-string store.
	Fonts cache.StoreConfig `yaml:"fonts"`

	// Encoder sizes the encode pool; Workers 0 selects inline encoding.
	Encoder prerender.EncoderConfig `yaml:"encoder"`

	// Artifact configures the optional redis tier.
	Artifact ArtifactConfig `yaml:"artifact"`

	// Strategies bounds the per-strategy proactive work.
	Strategies StrategiesConfig `yaml:"strategies"`

	// Warming configures the lifecycle warming policies.
	Warming warming.PolicyConfig `yaml:"warming"`

	// MetricsNamespace prefixes every prometheus metric.
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// ArtifactConfig wraps the redis tier config with an enable switch; the
// tier is optional and off by default in browser-embedded hosts.
type ArtifactConfig struct {
	Enabled bool `yaml:"enabled"`

	cache.ArtifactConfig `yaml:",inline"`
}

// StrategiesConfig groups the strategy bounds.
type StrategiesConfig struct {
	TokensHover  prerender.TokensHoverConfig  `yaml:"tokens_hover"`
	Characters   prerender.CharactersConfig   `yaml:"characters"`
	Gallery      prerender.GalleryConfig      `yaml:"gallery"`
	ProjectHover prerender.ProjectHoverConfig `yaml:"project_hover"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Tokens:  cache.StoreConfig{Name: "tokens", Capacity: 200, DefaultTTL: 30 * time.Minute},
		Images:  cache.StoreConfig{Name: "images", Capacity: 100, DefaultTTL: time.Hour},
		Fonts:   cache.StoreConfig{Name: "fonts", Capacity: 500},
		Encoder: prerender.DefaultEncoderConfig(),
		Artifact: ArtifactConfig{
			Enabled:        false,
			ArtifactConfig: cache.DefaultArtifactConfig(),
		},
		Strategies: StrategiesConfig{
			TokensHover:  prerender.DefaultTokensHoverConfig(),
			Characters:   prerender.DefaultCharactersConfig(),
			Gallery:      prerender.DefaultGalleryConfig(),
			ProjectHover: prerender.DefaultProjectHoverConfig(),
		},
		Warming:          warming.DefaultPolicyConfig(),
		MetricsNamespace: "tokenforge",
	}
}

// Loader loads configuration with defaults -> YAML -> env precedence.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a Loader.
func NewLoader() *Loader { return &Loader{envPrefix: "TOKENFORGE"} }

// WithConfigPath sets the YAML file path; optional.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Missing file falls back to defaults, same as no path.
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the operational knobs that hosts commonly tune.
func (l *Loader) applyEnv(cfg *Config) {
	l.envString("REDIS_ADDR", &cfg.Artifact.Addr)
	l.envString("REDIS_PASSWORD", &cfg.Artifact.Password)
	l.envBool("ARTIFACT_ENABLED", &cfg.Artifact.Enabled)
	l.envInt("ENCODER_WORKERS", &cfg.Encoder.Workers)
	l.envInt("ENCODER_QUEUE_SIZE", &cfg.Encoder.QueueSize)
	l.envInt("TOKENS_CAPACITY", &cfg.Tokens.Capacity)
	l.envInt("IMAGES_CAPACITY", &cfg.Images.Capacity)
	l.envString("METRICS_NAMESPACE", &cfg.MetricsNamespace)
}

func (l *Loader) envString(key string, dst *string) {
	if v, ok := os.LookupEnv(l.envPrefix + "_" + key); ok {
		*dst = v
	}
}

func (l *Loader) envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(l.envPrefix + "_" + key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (l *Loader) envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(l.envPrefix + "_" + key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Encoder.Workers < 0 {
		return fmt.Errorf("encoder.workers must not be negative, got %d", c.Encoder.Workers)
	}
	if c.Artifact.Enabled && c.Artifact.Addr == "" {
		return fmt.Errorf("artifact.addr is required when the artifact tier is enabled")
	}
	for _, sc := range []cache.StoreConfig{c.Tokens, c.Images, c.Fonts} {
		if sc.Name == "" {
			return fmt.Errorf("every store requires a name")
		}
		if sc.Capacity < 0 {
			return fmt.Errorf("store %s: capacity must not be negative", sc.Name)
		}
	}
	return nil
}
