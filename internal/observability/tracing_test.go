package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracing(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		tp, shutdown, err := InitTracing(context.Background(), "vecenv-test", TracingOptions{})
		require.NoError(t, err)
		require.NotNil(t, tp)
		require.NoError(t, shutdown(context.Background()))
	})

	t.Run("stdout", func(t *testing.T) {
		tp, shutdown, err := InitTracing(context.Background(), "vecenv-test", TracingOptions{Exporter: "stdout", SampleRatio: 0.5})
		require.NoError(t, err)
		_, span := tp.Tracer("test").Start(context.Background(), "span")
		span.End()
		require.NoError(t, shutdown(context.Background()))
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, _, err := InitTracing(context.Background(), "vecenv-test", TracingOptions{Exporter: "carrier-pigeon"})
		require.Error(t, err)
	})
}
