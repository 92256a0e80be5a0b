package vecenv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProxy(t *testing.T) {
	ctx := context.Background()

	t.Run("plain attribute", func(t *testing.T) {
		v := newProbe(t, 3)
		p, err := v.Slice(0, 2)
		require.NoError(t, err)

		values, err := p.Get(ctx, "Gravity")
		require.NoError(t, err)
		require.Equal(t, []any{1.0, 2.0}, values)

		attr, err := p.Resolve(ctx, "Gravity")
		require.NoError(t, err)
		require.False(t, attr.IsMethod())
		require.Equal(t, []any{1.0, 2.0}, attr.Values)

		_, err = p.Method(ctx, "Gravity")
		require.ErrorIs(t, err, ErrAttribute)
	})

	t.Run("batched method", func(t *testing.T) {
		v := newProbe(t, 3)
		p, err := v.Slice(0, 2)
		require.NoError(t, err)

		attr, err := p.Resolve(ctx, "Scale")
		require.NoError(t, err)
		require.True(t, attr.IsMethod())
		require.Equal(t, []int{0, 1}, attr.Method.Indices())

		results, err := attr.Method.Call(ctx, 10.0)
		require.NoError(t, err)
		require.Equal(t, []any{10.0, 20.0}, results)

		method, err := v.All().Method(ctx, "Scale")
		require.NoError(t, err)
		results, err = method.Call(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, []any{2.0, 4.0, 6.0}, results)
	})

	t.Run("set then get", func(t *testing.T) {
		v := newProbe(t, 3)
		p, err := v.At(1)
		require.NoError(t, err)
		require.True(t, p.Scalar())

		require.NoError(t, p.Set(ctx, "Gravity", 3.5))
		value, err := p.Value(ctx, "Gravity")
		require.NoError(t, err)
		require.Equal(t, 3.5, value)

		// other workers are untouched
		values, err := v.All().Get(ctx, "Gravity")
		require.NoError(t, err)
		require.Equal(t, []any{1.0, 3.5, 3.0}, values)

		// names no wrapper has land in the env's attribute store
		require.NoError(t, p.Set(ctx, "Color", "red"))
		value, err = p.Value(ctx, "Color")
		require.NoError(t, err)
		require.Equal(t, "red", value)
	})

	t.Run("missing attribute", func(t *testing.T) {
		v := newProbe(t, 2)
		_, err := v.All().Get(ctx, "Nope")
		var remoteErr *RemoteError
		require.ErrorAs(t, err, &remoteErr)
		require.Contains(t, remoteErr.Description, "Nope")

		p, err := v.At(0)
		require.NoError(t, err)
		value, err := p.Value(ctx, "Nope")
		require.ErrorAs(t, err, &remoteErr)
		require.Nil(t, value)
	})

	t.Run("bulk attributes", func(t *testing.T) {
		v := newProbe(t, 3)
		p, err := v.Select(2, 0)
		require.NoError(t, err)

		require.NoError(t, p.SetAttributes(ctx, map[string]any{"Gravity": 0.5, "Label": "x"}))
		values, err := p.GetAttributes(ctx, "ID", "Gravity", "Label")
		require.NoError(t, err)
		require.Equal(t, [][]any{{2, 0.5, "x"}, {0, 0.5, "x"}}, values)
	})

	t.Run("indexing", func(t *testing.T) {
		v := newProbe(t, 4)

		p, err := v.At(-1)
		require.NoError(t, err)
		require.Equal(t, []int{3}, p.Indices())

		p, err = v.Slice(-2, 10)
		require.NoError(t, err)
		require.Equal(t, []int{2, 3}, p.Indices())

		p, err = v.Mask([]bool{true, false, true, false})
		require.NoError(t, err)
		require.Equal(t, []int{0, 2}, p.Indices())

		p, err = v.Select(1, 1, 0)
		require.NoError(t, err)
		require.Equal(t, []int{1, 1, 0}, p.Indices())
		ids, err := p.Get(ctx, "ID")
		require.NoError(t, err)
		require.Equal(t, []any{1, 1, 0}, ids)

		_, err = v.Slice(3, 1)
		require.Error(t, err)
		_, err = v.Mask([]bool{true})
		require.Error(t, err)
		_, err = v.Mask([]bool{false, false, false, false})
		require.Error(t, err)
		_, err = v.Select(4)
		require.Error(t, err)
	})

	t.Run("proxy cache", func(t *testing.T) {
		v := newProbe(t, 4, WithProxyCacheSize(2))

		a, err := v.Select(0, 1)
		require.NoError(t, err)
		b, err := v.Slice(0, 2)
		require.NoError(t, err)
		require.Same(t, a, b)

		scalar, err := v.At(0)
		require.NoError(t, err)
		plain, err := v.Select(0)
		require.NoError(t, err)
		require.NotSame(t, scalar, plain)

		require.Equal(t, 2, v.proxies.Len())
		require.NoError(t, v.Close())
		require.Equal(t, 0, v.proxies.Len())
	})
}

func TestGetAttr(t *testing.T) {
	ctx := context.Background()
	v := newProbe(t, 3)

	attr, err := v.GetAttr(ctx, "Gravity")
	require.NoError(t, err)
	require.Equal(t, []any{1.0, 2.0, 3.0}, attr.Values)

	attr, err = v.GetAttr(ctx, "Scale")
	require.NoError(t, err)
	require.True(t, attr.IsMethod())

	p, err := v.At(0)
	require.NoError(t, err)
	require.NoError(t, p.Set(ctx, "Color", "blue"))

	_, err = v.GetAttr(ctx, "Color")
	require.ErrorIs(t, err, ErrAttribute)
	var attrErr *AttributeError
	require.ErrorAs(t, err, &attrErr)
	require.Equal(t, "Color", attrErr.Name)
	require.Equal(t, []int{1, 2}, attrErr.Missing)
}
