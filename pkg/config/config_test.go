package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("empty path gives defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		require.Equal(t, Default(), cfg)
		require.NoError(t, cfg.Validate())
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vecenv.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
env: DonorGame-v0
num_envs: 8
workers: subprocess
shared_memory: true
step_timeout: 250ms
logging:
  level: debug
tracing:
  exporter: stdout
donor_game:
  rounds: 5
`), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, "DonorGame-v0", cfg.Env)
		require.Equal(t, 8, cfg.NumEnvs)
		require.Equal(t, WorkersSubprocess, cfg.Workers)
		require.True(t, cfg.SharedMemory)
		require.Equal(t, 250*time.Millisecond, cfg.StepTimeout)
		require.True(t, cfg.Debug())
		require.Equal(t, "stdout", cfg.Tracing.Exporter)
		require.Equal(t, 5, cfg.DonorGame.Rounds)
		// untouched fields keep their defaults
		require.Equal(t, 30*time.Second, cfg.StartTimeout)
		require.Equal(t, 2.0, cfg.DonorGame.Multiplier)
		require.NoError(t, cfg.Validate())
	})

	t.Run("missing and malformed files", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)

		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("num_envs: [1"), 0o644))
		_, err = LoadConfig(path)
		require.ErrorContains(t, err, "parse config file")
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("VECENV_NUM_ENVS", "3")
	t.Setenv("VECENV_SHARED_MEMORY", "true")
	t.Setenv("VECENV_STEP_TIMEOUT", "2s")
	t.Setenv("VECENV_SEED", "42")
	t.Setenv("VECENV_ENV", " DonorGame-v0 ")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	require.Equal(t, 3, cfg.NumEnvs)
	require.True(t, cfg.SharedMemory)
	require.Equal(t, 2*time.Second, cfg.StepTimeout)
	require.Equal(t, int64(42), cfg.Seed)
	require.Equal(t, "DonorGame-v0", cfg.Env)

	t.Setenv("VECENV_STEPS", "many")
	t.Setenv("VECENV_START_TIMEOUT", "soon")
	err := Default().ApplyEnv()
	require.ErrorContains(t, err, "VECENV_STEPS")
	require.ErrorContains(t, err, "VECENV_START_TIMEOUT")
}

func TestApplyEnvFromDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("VECENV_WORKERS=subprocess\nVECENV_LOG_LEVEL=debug\n"), 0o644))

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	for k, v := range values {
		t.Setenv(k, v)
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	require.Equal(t, WorkersSubprocess, cfg.Workers)
	require.True(t, cfg.Debug())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no env", func(c *Config) { c.Env = "" }},
		{"zero envs", func(c *Config) { c.NumEnvs = 0 }},
		{"unknown workers", func(c *Config) { c.Workers = "threads" }},
		{"negative steps", func(c *Config) { c.Steps = -1 }},
		{"negative timeout", func(c *Config) { c.StepTimeout = -time.Second }},
		{"zero cache", func(c *Config) { c.ProxyCacheSize = 0 }},
		{"unknown level", func(c *Config) { c.Logging.Level = "trace" }},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }},
		{"bad ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }},
		{"no rounds", func(c *Config) { c.DonorGame.Rounds = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
