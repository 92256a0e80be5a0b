// Package experiment drives a vectorized environment with random actions
// and reports episode statistics.
package experiment

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/vecenv"
)

var statsHeader = []string{"Episode", "Env", "Return", "Length", "Truncated"}

// VectorEnv is the part of *vecenv.VectorEnv a rollout needs.
type VectorEnv interface {
	Len() int
	Reset(ctx context.Context) ([]core.Observation, error)
	StepAsync(actions []core.Action) error
	StepWait(ctx context.Context, timeout time.Duration) ([]core.StepResult, error)
	RandomActions() []core.Action
}

type Episode struct {
	Env       int
	Return    float64
	Length    int
	Truncated bool
}

// Summary aggregates a rollout.
type Summary struct {
	Steps    int
	Episodes int
	// Failures counts rounds where a worker failed or timed out
	Failures   int
	MeanReturn float64
	StdDev     float64
	// Inequality is max - min episode return
	Inequality float64
	MeanLength float64
}

type Rollout struct {
	env         VectorEnv
	steps       int
	stepTimeout time.Duration
	stats       *csv.Writer
	logger      *log.Logger

	returns  []float64
	lengths  []int
	episodes []Episode
	failures int
}

type RolloutOption func(*Rollout)

func WithSteps(steps int) RolloutOption {
	return func(r *Rollout) {
		r.steps = steps
	}
}

// WithStepTimeout bounds each StepWait. Zero waits indefinitely.
func WithStepTimeout(d time.Duration) RolloutOption {
	return func(r *Rollout) {
		r.stepTimeout = d
	}
}

// WithStats writes one CSV row per finished episode to w.
func WithStats(w io.Writer) RolloutOption {
	return func(r *Rollout) {
		r.stats = csv.NewWriter(w)
	}
}

func WithLogger(logger *log.Logger) RolloutOption {
	return func(r *Rollout) {
		r.logger = logger
	}
}

func NewRollout(env VectorEnv, opts ...RolloutOption) *Rollout {
	r := &Rollout{
		env:    env,
		steps:  1000,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run resets every env, then steps them all with random actions. A worker
// failure or a timed out round is logged and counted; the rollout goes on.
func (r *Rollout) Run(ctx context.Context) (Summary, error) {
	n := r.env.Len()
	r.returns = make([]float64, n)
	r.lengths = make([]int, n)
	r.episodes = nil
	r.failures = 0
	defer r.flush()

	if _, err := r.env.Reset(ctx); err != nil {
		return Summary{}, fmt.Errorf("reset: %w", err)
	}

	for step := 0; step < r.steps; step++ {
		if err := ctx.Err(); err != nil {
			return r.summary(step), err
		}
		if err := r.env.StepAsync(r.env.RandomActions()); err != nil {
			return r.summary(step), fmt.Errorf("step %d: %w", step, err)
		}
		results, err := r.env.StepWait(ctx, r.stepTimeout)
		failed := -1
		if err != nil {
			if !errors.Is(err, vecenv.ErrRemote) && !errors.Is(err, vecenv.ErrTimeout) {
				return r.summary(step), fmt.Errorf("step %d: %w", step, err)
			}
			r.failures++
			r.logger.Printf("step %d: %v", step, err)
			if errors.Is(err, vecenv.ErrTimeout) {
				continue
			}
			var remoteErr *vecenv.RemoteError
			if errors.As(err, &remoteErr) {
				failed = remoteErr.Index
			}
		}
		r.record(results, failed)
	}

	summary := r.summary(r.steps)
	r.printSummary(summary)
	return summary, nil
}

// Episodes returns the episodes finished so far.
func (r *Rollout) Episodes() []Episode {
	return append([]Episode(nil), r.episodes...)
}

// record adds one step of results. The slot of the worker that failed holds
// no step and is skipped.
func (r *Rollout) record(results []core.StepResult, failed int) {
	for i, result := range results {
		if i >= len(r.returns) {
			break
		}
		if i == failed {
			continue
		}
		r.returns[i] += result.Reward
		r.lengths[i]++
		if !result.Done {
			continue
		}
		truncated, _ := result.Info["truncated"].(bool)
		episode := Episode{Env: i, Return: r.returns[i], Length: r.lengths[i], Truncated: truncated}
		r.episodes = append(r.episodes, episode)
		r.writeEpisode(len(r.episodes), episode)
		r.returns[i], r.lengths[i] = 0, 0
	}
}

func (r *Rollout) flush() {
	if r.stats == nil {
		return
	}
	r.stats.Flush()
	if err := r.stats.Error(); err != nil {
		r.logger.Printf("Warning: Failed to write stats: %v", err)
	}
}

func (r *Rollout) writeEpisode(number int, e Episode) {
	if r.stats == nil {
		return
	}
	row := []string{
		strconv.Itoa(number),
		strconv.Itoa(e.Env),
		strconv.FormatFloat(e.Return, 'f', 2, 64),
		strconv.Itoa(e.Length),
		strconv.FormatBool(e.Truncated),
	}
	if err := r.stats.Write(row); err != nil {
		r.logger.Printf("Warning: Failed to write to stats file: %v", err)
	}
}

func (r *Rollout) summary(steps int) Summary {
	s := Summary{Steps: steps, Episodes: len(r.episodes), Failures: r.failures}
	if len(r.episodes) == 0 {
		return s
	}

	minReturn, maxReturn := math.MaxFloat64, -math.MaxFloat64
	var total float64
	var totalLength int
	for _, e := range r.episodes {
		total += e.Return
		totalLength += e.Length
		minReturn = math.Min(minReturn, e.Return)
		maxReturn = math.Max(maxReturn, e.Return)
	}
	s.MeanReturn = total / float64(len(r.episodes))
	s.MeanLength = float64(totalLength) / float64(len(r.episodes))

	var sumSquares float64
	for _, e := range r.episodes {
		diff := e.Return - s.MeanReturn
		sumSquares += diff * diff
	}
	s.StdDev = math.Sqrt(sumSquares / float64(len(r.episodes)))
	s.Inequality = maxReturn - minReturn
	return s
}

func (r *Rollout) printSummary(s Summary) {
	r.logger.Printf("=== Rollout Statistics ===")
	r.logger.Printf("Steps: %d across %d envs", s.Steps, r.env.Len())
	r.logger.Printf("Episodes: %d (failed rounds: %d)", s.Episodes, s.Failures)
	r.logger.Printf("  Average Return: %.2f", s.MeanReturn)
	r.logger.Printf("  Standard Deviation: %.2f", s.StdDev)
	r.logger.Printf("  Return Inequality (max-min): %.2f", s.Inequality)
	r.logger.Printf("  Average Length: %.1f", s.MeanLength)
	r.logger.Printf("==========================")
}

// OpenStats opens path for appending episode rows, writing the CSV header
// when the file is new.
func OpenStats(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stats file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat stats file: %w", err)
	}
	if info.Size() == 0 {
		w := csv.NewWriter(f)
		w.Write(statsHeader)
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write stats header: %w", err)
		}
	}
	return f, nil
}
