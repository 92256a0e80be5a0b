package environment

import (
	"context"

	"github.com/boristopalov/vecenv/pkg/core"
)

// EpisodeInfoKey is the Info entry EpisodeStats fills on the last step of
// an episode, holding "r" (return) and "l" (length).
const EpisodeInfoKey = "episode"

// historySize bounds the completed episodes EpisodeStats keeps.
const historySize = 100

// TimeLimit ends an episode after MaxSteps steps. A cut-short episode
// reports Info["truncated"] = true.
type TimeLimit struct {
	MaxSteps int
	Elapsed  int

	env core.Env
}

func NewTimeLimit(env core.Env, maxSteps int) *TimeLimit {
	return &TimeLimit{env: env, MaxSteps: maxSteps}
}

func (t *TimeLimit) Unwrap() core.Env { return t.env }

func (t *TimeLimit) Reset(ctx context.Context) (core.Observation, error) {
	t.Elapsed = 0
	return t.env.Reset(ctx)
}

func (t *TimeLimit) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	result, err := t.env.Step(ctx, action)
	if err != nil {
		return result, err
	}
	t.Elapsed++
	if t.MaxSteps > 0 && t.Elapsed >= t.MaxSteps && !result.Done {
		result.Done = true
		if result.Info == nil {
			result.Info = core.Info{}
		}
		result.Info["truncated"] = true
	}
	return result, nil
}

func (t *TimeLimit) Seed(seed int64) error        { return t.env.Seed(seed) }
func (t *TimeLimit) ActionSpace() core.Space      { return t.env.ActionSpace() }
func (t *TimeLimit) ObservationSpace() core.Space { return t.env.ObservationSpace() }
func (t *TimeLimit) Close() error                 { return t.env.Close() }

// EpisodeStats accumulates the return and length of the running episode
// and remembers the last completed ones.
type EpisodeStats struct {
	Return   float64
	Length   int
	Episodes int
	Returns  []float64
	Lengths  []int

	env core.Env
}

func NewEpisodeStats(env core.Env) *EpisodeStats {
	return &EpisodeStats{env: env}
}

func (s *EpisodeStats) Unwrap() core.Env { return s.env }

func (s *EpisodeStats) Reset(ctx context.Context) (core.Observation, error) {
	s.Return, s.Length = 0, 0
	return s.env.Reset(ctx)
}

func (s *EpisodeStats) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	result, err := s.env.Step(ctx, action)
	if err != nil {
		return result, err
	}
	s.Return += result.Reward
	s.Length++
	if result.Done {
		if result.Info == nil {
			result.Info = core.Info{}
		}
		result.Info[EpisodeInfoKey] = map[string]any{"r": s.Return, "l": s.Length}
		s.record()
	}
	return result, nil
}

func (s *EpisodeStats) record() {
	s.Episodes++
	s.Returns = append(s.Returns, s.Return)
	s.Lengths = append(s.Lengths, s.Length)
	if len(s.Returns) > historySize {
		s.Returns = s.Returns[1:]
		s.Lengths = s.Lengths[1:]
	}
}

// MeanReturn averages the remembered episodes, or 0 before the first ends.
func (s *EpisodeStats) MeanReturn() float64 {
	if len(s.Returns) == 0 {
		return 0
	}
	var sum float64
	for _, r := range s.Returns {
		sum += r
	}
	return sum / float64(len(s.Returns))
}

func (s *EpisodeStats) Seed(seed int64) error        { return s.env.Seed(seed) }
func (s *EpisodeStats) ActionSpace() core.Space      { return s.env.ActionSpace() }
func (s *EpisodeStats) ObservationSpace() core.Space { return s.env.ObservationSpace() }
func (s *EpisodeStats) Close() error                 { return s.env.Close() }
