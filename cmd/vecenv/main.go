package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/boristopalov/vecenv/internal/observability"
	"github.com/boristopalov/vecenv/pkg/config"
	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/experiment"
	"github.com/boristopalov/vecenv/pkg/vecenv"
)

const serviceName = "vecenv"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "vecenv",
		Short:        "vecenv runs many copies of an environment in parallel workers behind one batched interface.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Step a vectorized environment with random actions and report episode statistics",
		RunE:  runRollout,
	}
	addEnvFlags(runCmd)

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactively reset, step and inspect the workers of a vectorized environment",
		RunE:  runShell,
	}
	addEnvFlags(shellCmd)

	envsCmd := &cobra.Command{
		Use:   "envs",
		Short: "List registered environments",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range core.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(runCmd, shellCmd, envsCmd, newWorkerCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addEnvFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("env", "", "registered environment name")
	flags.Int("num-envs", 0, "number of workers")
	flags.String("workers", "", "worker kind: inprocess or subprocess")
	flags.Bool("shm", false, "deliver observations through shared memory")
	flags.Int("steps", 0, "vectorized steps to run")
	flags.Int64("seed", 0, "seed for workers and random actions")
}

// loadConfig layers the config file, VECENV_* variables and flags, in that
// order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("env") {
		cfg.Env, _ = flags.GetString("env")
	}
	if flags.Changed("num-envs") {
		cfg.NumEnvs, _ = flags.GetInt("num-envs")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetString("workers")
	}
	if flags.Changed("shm") {
		cfg.SharedMemory, _ = flags.GetBool("shm")
	}
	if flags.Changed("steps") {
		cfg.Steps, _ = flags.GetInt("steps")
	}
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*log.Logger, io.Closer, error) {
	if cfg.Logging.Path == "" {
		return log.Default(), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(cfg.Logging.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return log.New(f, "", log.LstdFlags), f, nil
}

// newVectorEnv builds the workers described by cfg and applies the donor
// game settings to every one of them.
func newVectorEnv(ctx context.Context, cfg *config.Config, logger *log.Logger, tp trace.TracerProvider) (*vecenv.VectorEnv, error) {
	if isDonorGame(cfg.Env) {
		// workers build their partner from these, subprocesses included
		setDefaultEnv(environment.EnvDonorProvider, cfg.DonorGame.Provider)
		setDefaultEnv(environment.EnvDonorModel, cfg.DonorGame.Model)
	}

	opts := []vecenv.Option{
		vecenv.WithLogger(logger),
		vecenv.WithDebug(cfg.Debug()),
		vecenv.WithSharedMemory(cfg.SharedMemory),
		vecenv.WithSeed(cfg.Seed),
		vecenv.WithStartTimeout(cfg.StartTimeout),
		vecenv.WithProxyCacheSize(cfg.ProxyCacheSize),
		vecenv.WithTracerProvider(tp),
	}
	if cfg.Workers == config.WorkersSubprocess {
		opts = append(opts, vecenv.WithLauncher(vecenv.ExecLauncher{}))
	}

	v, err := vecenv.Make(cfg.Env, cfg.NumEnvs, opts...)
	if err != nil {
		return nil, err
	}
	if err := v.Seed(ctx, cfg.Seed); err != nil {
		v.Terminate()
		return nil, fmt.Errorf("seed workers: %w", err)
	}
	if isDonorGame(cfg.Env) {
		err := v.All().SetAttributes(ctx, map[string]any{
			"Endowment":  cfg.DonorGame.Endowment,
			"Multiplier": cfg.DonorGame.Multiplier,
			"Rounds":     cfg.DonorGame.Rounds,
		})
		if err != nil {
			v.Terminate()
			return nil, fmt.Errorf("configure donor game: %w", err)
		}
	}
	logger.Printf("Started %s with %d %s workers (id %s)", cfg.Env, v.Len(), cfg.Workers, v.ID())
	return v, nil
}

func isDonorGame(name string) bool {
	return strings.HasPrefix(name, "DonorGame")
}

func setDefaultEnv(key, value string) {
	if _, ok := os.LookupEnv(key); !ok && value != "" {
		os.Setenv(key, value)
	}
}

// withSignals cancels the returned context on interrupt.
func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runRollout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, cancel := withSignals(cmd.Context())
	defer cancel()

	tp, shutdown, err := observability.InitTracing(ctx, serviceName, observability.TracingOptions{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Printf("Warning: tracing shutdown: %v", err)
		}
	}()

	v, err := newVectorEnv(ctx, cfg, logger, tp)
	if err != nil {
		return err
	}
	defer func() {
		if err := v.Close(); err != nil {
			logger.Printf("Warning: close: %v", err)
		}
	}()

	opts := []experiment.RolloutOption{
		experiment.WithSteps(cfg.Steps),
		experiment.WithStepTimeout(cfg.StepTimeout),
		experiment.WithLogger(logger),
	}
	if cfg.StatsPath != "" {
		statsFile, err := experiment.OpenStats(cfg.StatsPath)
		if err != nil {
			return err
		}
		defer statsFile.Close()
		opts = append(opts, experiment.WithStats(statsFile))
	}

	summary, err := experiment.NewRollout(v, opts...).Run(ctx)
	if err != nil {
		return fmt.Errorf("rollout failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "steps=%d episodes=%d failures=%d mean_return=%.2f mean_length=%.1f\n",
		summary.Steps, summary.Episodes, summary.Failures, summary.MeanReturn, summary.MeanLength)
	return nil
}
