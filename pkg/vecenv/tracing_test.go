package vecenv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/remote"
)

func TestRoundSpans(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	v := newProbe(t, 2, WithTracerProvider(tp))

	_, err := v.Reset(ctx)
	require.NoError(t, err)
	_, err = v.ApplyAt(ctx, remote.Func(func(ctx context.Context, env core.Env) (any, error) {
		return nil, errors.New("nope")
	}), 1)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "vecenv.reset", spans[0].Name())
	require.Equal(t, "vecenv.apply", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Contains(t, spans[1].Attributes(), attribute.Int("vecenv.addressed", 1))
}
