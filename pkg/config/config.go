// Package config loads vecenv run settings from YAML with VECENV_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	WorkersInProcess  = "inprocess"
	WorkersSubprocess = "subprocess"
)

type Config struct {
	Env            string        `yaml:"env"`
	NumEnvs        int           `yaml:"num_envs"`
	Workers        string        `yaml:"workers"`
	SharedMemory   bool          `yaml:"shared_memory"`
	Seed           int64         `yaml:"seed"`
	Steps          int           `yaml:"steps"`
	StepTimeout    time.Duration `yaml:"step_timeout"`
	StartTimeout   time.Duration `yaml:"start_timeout"`
	ProxyCacheSize int           `yaml:"proxy_cache_size"`
	// StatsPath is the CSV file episode statistics are appended to; empty
	// disables it
	StatsPath string          `yaml:"stats_path"`
	Logging   LogConfig       `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	DonorGame DonorGameConfig `yaml:"donor_game"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

type TracingConfig struct {
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

// DonorGameConfig overrides the donor game's rules on every worker. The
// provider and model only matter for DonorGameLLM-v0.
type DonorGameConfig struct {
	Endowment  float64 `yaml:"endowment"`
	Multiplier float64 `yaml:"multiplier"`
	Rounds     int     `yaml:"rounds"`
	Provider   string  `yaml:"provider"`
	Model      string  `yaml:"model"`
}

func Default() *Config {
	return &Config{
		Env:            "CartPole-v1",
		NumEnvs:        4,
		Workers:        WorkersInProcess,
		Steps:          1000,
		StartTimeout:   30 * time.Second,
		ProxyCacheSize: 64,
		Logging:        LogConfig{Level: "info"},
		Tracing:        TracingConfig{Exporter: "none", SampleRatio: 1},
		DonorGame: DonorGameConfig{
			Endowment:  10,
			Multiplier: 2,
			Rounds:     10,
			Provider:   "openai",
			Model:      "gpt-4o-mini",
		},
	}
}

// LoadConfig reads path over the defaults. An empty path yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from VECENV_* variables that are set.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	parse := func(key string, set func(string) error) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if err := set(strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.Atoi(v)
			return err
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		}
	}

	str("VECENV_ENV", &c.Env)
	str("VECENV_WORKERS", &c.Workers)
	str("VECENV_STATS_PATH", &c.StatsPath)
	str("VECENV_LOG_LEVEL", &c.Logging.Level)
	str("VECENV_LOG_PATH", &c.Logging.Path)
	str("VECENV_TRACING_EXPORTER", &c.Tracing.Exporter)
	str("VECENV_TRACING_ENDPOINT", &c.Tracing.Endpoint)
	str("VECENV_DONOR_PROVIDER", &c.DonorGame.Provider)
	str("VECENV_DONOR_MODEL", &c.DonorGame.Model)
	parse("VECENV_NUM_ENVS", integer(&c.NumEnvs))
	parse("VECENV_STEPS", integer(&c.Steps))
	parse("VECENV_PROXY_CACHE_SIZE", integer(&c.ProxyCacheSize))
	parse("VECENV_STEP_TIMEOUT", duration(&c.StepTimeout))
	parse("VECENV_START_TIMEOUT", duration(&c.StartTimeout))
	parse("VECENV_SEED", func(v string) (err error) {
		c.Seed, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("VECENV_SHARED_MEMORY", func(v string) (err error) {
		c.SharedMemory, err = strconv.ParseBool(v)
		return err
	})
	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Env) == "" {
		errs = append(errs, errors.New("env is required"))
	}
	if c.NumEnvs <= 0 {
		errs = append(errs, fmt.Errorf("num_envs must be positive, got %d", c.NumEnvs))
	}
	switch c.Workers {
	case WorkersInProcess, WorkersSubprocess:
	default:
		errs = append(errs, fmt.Errorf("workers must be %s or %s, got %q", WorkersInProcess, WorkersSubprocess, c.Workers))
	}
	if c.Steps < 0 {
		errs = append(errs, fmt.Errorf("steps must not be negative, got %d", c.Steps))
	}
	if c.StepTimeout < 0 || c.StartTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.ProxyCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("proxy_cache_size must be positive, got %d", c.ProxyCacheSize))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug or info, got %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "none", "stdout", "otlphttp", "http":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter must be none, stdout or otlphttp, got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be in [0, 1], got %v", c.Tracing.SampleRatio))
	}
	if c.DonorGame.Rounds <= 0 || c.DonorGame.Endowment <= 0 || c.DonorGame.Multiplier < 0 {
		errs = append(errs, errors.New("donor_game needs positive rounds and endowment and a non-negative multiplier"))
	}
	return errors.Join(errs...)
}

// Debug reports whether debug logging is on.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}
