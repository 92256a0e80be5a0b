package experiment

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/vecenv"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func makeEnv(t *testing.T, name string, n int) *vecenv.VectorEnv {
	t.Helper()
	v, err := vecenv.Make(name, n, vecenv.WithLogger(quietLogger()), vecenv.WithSeed(1))
	require.NoError(t, err)
	t.Cleanup(func() { v.Terminate() })
	return v
}

// scriptedEnv returns one reward per step and fails the steps listed in
// failAt.
type scriptedEnv struct {
	n        int
	step     int
	failAt   map[int]error
	asyncErr error
}

func (e *scriptedEnv) Len() int { return e.n }

func (e *scriptedEnv) Reset(ctx context.Context) ([]core.Observation, error) {
	return make([]core.Observation, e.n), nil
}

func (e *scriptedEnv) StepAsync(actions []core.Action) error { return e.asyncErr }

func (e *scriptedEnv) StepWait(ctx context.Context, timeout time.Duration) ([]core.StepResult, error) {
	e.step++
	results := make([]core.StepResult, e.n)
	for i := range results {
		results[i] = core.StepResult{Reward: 1, Done: e.step%2 == 0}
	}
	if err, ok := e.failAt[e.step]; ok {
		results[0] = core.StepResult{}
		return results, err
	}
	return results, nil
}

func (e *scriptedEnv) RandomActions() []core.Action { return make([]core.Action, e.n) }

func TestRollout(t *testing.T) {
	ctx := context.Background()

	t.Run("cartpole episodes", func(t *testing.T) {
		var stats bytes.Buffer
		r := NewRollout(makeEnv(t, environment.CartPoleV1, 2),
			WithSteps(300), WithStats(&stats), WithLogger(quietLogger()))

		summary, err := r.Run(ctx)
		require.NoError(t, err)
		require.Equal(t, 300, summary.Steps)
		require.Positive(t, summary.Episodes)
		require.Zero(t, summary.Failures)

		for _, e := range r.Episodes() {
			require.Positive(t, e.Length)
			require.Equal(t, float64(e.Length), e.Return)
		}
		rows, err := csv.NewReader(&stats).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, summary.Episodes)
	})

	t.Run("donor game episodes", func(t *testing.T) {
		r := NewRollout(makeEnv(t, environment.DonorGameV0, 3),
			WithSteps(20), WithLogger(quietLogger()))

		summary, err := r.Run(ctx)
		require.NoError(t, err)
		require.Equal(t, 6, summary.Episodes)
		require.Equal(t, 10.0, summary.MeanLength)
	})

	t.Run("failures are counted", func(t *testing.T) {
		env := &scriptedEnv{n: 2, failAt: map[int]error{
			2: &vecenv.RemoteError{Index: 0, Description: "boom"},
			3: &vecenv.TimeoutError{Call: "step", Timeout: time.Millisecond, Pending: []int{1}},
		}}
		r := NewRollout(env, WithSteps(4), WithLogger(quietLogger()))

		summary, err := r.Run(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, summary.Failures)
		// step 2 ends env 1's episode, step 4 ends both; the timed out
		// step 3 is not recorded, nor is env 0's failed step 2
		require.Equal(t, 3, summary.Episodes)
		episodes := r.Episodes()
		require.Equal(t, Episode{Env: 1, Return: 2, Length: 2}, episodes[0])
		require.Equal(t, Episode{Env: 0, Return: 2, Length: 2}, episodes[1])
		require.Equal(t, Episode{Env: 1, Return: 1, Length: 1}, episodes[2])
	})

	t.Run("protocol errors stop the rollout", func(t *testing.T) {
		env := &scriptedEnv{n: 1, asyncErr: vecenv.ErrClosed}
		_, err := NewRollout(env, WithLogger(quietLogger())).Run(ctx)
		require.ErrorIs(t, err, vecenv.ErrClosed)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewRollout(&scriptedEnv{n: 1}, WithLogger(quietLogger())).Run(cctx)
		require.True(t, errors.Is(err, context.Canceled))
	})
}

func TestOpenStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.csv")
	for i := 0; i < 2; i++ {
		f, err := OpenStats(path)
		require.NoError(t, err)
		r := NewRollout(&scriptedEnv{n: 1}, WithSteps(2), WithStats(f), WithLogger(quietLogger()))
		_, err = r.Run(context.Background())
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Equal(t, []string{
		"Episode,Env,Return,Length,Truncated",
		"1,0,2.00,2,false",
		"1,0,2.00,2,false",
	}, lines)
}
