package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boristopalov/vecenv/pkg/core"
)

type testEnv struct {
	core.Attrs
	Gravity float64
	Label   string
	resets  int
}

func (e *testEnv) Reset(ctx context.Context) (core.Observation, error) {
	e.resets++
	return core.Observation{0}, nil
}

func (e *testEnv) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	return core.StepResult{Observation: core.Observation{1}}, nil
}

func (e *testEnv) Seed(seed int64) error        { return nil }
func (e *testEnv) ActionSpace() core.Space      { return core.Discrete{N: 2} }
func (e *testEnv) ObservationSpace() core.Space { return core.NewBox(1, -1, 1) }
func (e *testEnv) Close() error                 { return nil }

func (e *testEnv) Scale(x float64) float64 { return x * e.Gravity }

func (e *testEnv) Sum(ctx context.Context, xs ...int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

func (e *testEnv) Fail() error { return errors.New("failed on purpose") }

func (e *testEnv) Pair() (int, string) { return 1, "a" }

type testWrapper struct {
	core.Env
	Limit int
}

func (w *testWrapper) Unwrap() core.Env { return w.Env }

func newChain() (*testWrapper, *testEnv) {
	inner := &testEnv{Gravity: 9.8, Label: "inner"}
	return &testWrapper{Env: inner, Limit: 10}, inner
}

func TestChain(t *testing.T) {
	t.Run("walks wrappers outermost first", func(t *testing.T) {
		outer, inner := newChain()
		chain := Chain(outer)
		require.Len(t, chain, 2)
		require.Same(t, outer, chain[0])
		require.Same(t, inner, chain[1])
	})

	t.Run("stops at a cycle", func(t *testing.T) {
		w := &testWrapper{}
		w.Env = w
		require.Len(t, Chain(w), 1)

		_, err := Lookup(w, "Missing")
		var attrErr *AttributeError
		require.ErrorAs(t, err, &attrErr)
		require.Equal(t, "Missing", attrErr.Name)

		_, err = Assign(w, "Missing", 1)
		require.ErrorAs(t, err, &attrErr)
	})
}

func TestLookup(t *testing.T) {
	outer, _ := newChain()

	v, err := Lookup(outer, "Gravity")
	require.NoError(t, err)
	require.Equal(t, 9.8, v)

	v, err = Lookup(outer, "Limit")
	require.NoError(t, err)
	require.Equal(t, 10, v)

	v, err = Lookup(outer, "Scale")
	require.NoError(t, err)
	require.Equal(t, MethodRef{Name: "Scale"}, v)

	_, err = Lookup(outer, "resets")
	var attrErr *AttributeError
	require.ErrorAs(t, err, &attrErr, "unexported fields are not attributes")
}

func TestAssign(t *testing.T) {
	t.Run("writes the first wrapper that has the field", func(t *testing.T) {
		outer, _ := newChain()
		target, err := Assign(outer, "Limit", 3)
		require.NoError(t, err)
		require.Equal(t, "*remote.testWrapper", target)
		require.Equal(t, 3, outer.Limit)
	})

	t.Run("converts numeric values", func(t *testing.T) {
		outer, inner := newChain()
		target, err := Assign(outer, "Gravity", 3)
		require.NoError(t, err)
		require.Equal(t, "*remote.testEnv", target)
		require.Equal(t, 3.0, inner.Gravity)
	})

	t.Run("falls back to the innermost attribute store", func(t *testing.T) {
		outer, inner := newChain()
		target, err := Assign(outer, "difficulty", "hard")
		require.NoError(t, err)
		require.Equal(t, "*remote.testEnv", target)

		v, ok := inner.GetAttr("difficulty")
		require.True(t, ok)
		require.Equal(t, "hard", v)

		v, err = Lookup(outer, "difficulty")
		require.NoError(t, err)
		require.Equal(t, "hard", v)
	})

	t.Run("rejects methods and bad types", func(t *testing.T) {
		outer, _ := newChain()
		_, err := Assign(outer, "Scale", 1)
		require.Error(t, err)

		_, err = Assign(outer, "Label", 5)
		require.Error(t, err)
	})
}

func TestInvoke(t *testing.T) {
	outer, _ := newChain()
	ctx := context.Background()

	v, err := Invoke(ctx, outer, "Scale", 2)
	require.NoError(t, err)
	require.InDelta(t, 19.6, v, 1e-9)

	v, err = Invoke(ctx, outer, "Sum", 1, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 6, v)

	v, err = Invoke(ctx, outer, "Pair")
	require.NoError(t, err)
	require.Equal(t, []any{1, "a"}, v)

	_, err = Invoke(ctx, outer, "Fail")
	require.EqualError(t, err, "failed on purpose")

	_, err = Invoke(ctx, outer, "Scale")
	require.Error(t, err, "missing argument")

	_, err = Invoke(ctx, outer, "Gravity")
	require.Error(t, err, "fields are not callable")

	_, err = Invoke(ctx, outer, "Nope")
	var attrErr *AttributeError
	require.ErrorAs(t, err, &attrErr)
}

func TestWork(t *testing.T) {
	outer, inner := newChain()
	ctx := context.Background()

	v, err := GetMany{Names: []string{"Label", "Limit", "Reset"}}.Apply(ctx, outer)
	require.NoError(t, err)
	require.Equal(t, []any{"inner", 10, MethodRef{Name: "Reset"}}, v)

	v, err = SetMany{Values: map[string]any{"Label": "renamed", "Limit": 4}}.Apply(ctx, outer)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"Label": "*remote.testEnv", "Limit": "*remote.testWrapper"}, v)
	require.Equal(t, "renamed", inner.Label)
	require.Equal(t, 4, outer.Limit)

	v, err = Has{Name: "Gravity"}.Apply(ctx, outer)
	require.NoError(t, err)
	require.Equal(t, true, v)

	v, err = Has{Name: "Missing"}.Apply(ctx, outer)
	require.NoError(t, err)
	require.Equal(t, false, v)

	_, err = Call{Name: "Reset"}.Apply(ctx, outer)
	require.NoError(t, err)
	require.Equal(t, 1, inner.resets)
}

// declaredWork reports its own portability.
type declaredWork struct{ portable bool }

func (w declaredWork) Apply(ctx context.Context, env core.Env) (any, error) { return nil, nil }
func (w declaredWork) Portable() bool                                       { return w.portable }

func TestPortable(t *testing.T) {
	require.True(t, Portable(Get{Name: "x"}))
	require.True(t, Portable(Call{Name: "x"}))
	require.False(t, Portable(Func(func(ctx context.Context, env core.Env) (any, error) { return nil, nil })))
	require.True(t, Portable(declaredWork{portable: true}))
	require.False(t, Portable(declaredWork{portable: false}))
}
