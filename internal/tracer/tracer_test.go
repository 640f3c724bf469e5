package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetup_Noop(t *testing.T) {
	for _, name := range []string{"", "noop"} {
		shutdown, err := Setup(context.Background(), name)
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))

		_, ok := otel.GetTracerProvider().(noop.TracerProvider)
		assert.True(t, ok, "exporter %q should install the noop provider", name)
	}
}

func TestSetup_Stdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), "stdout")
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	_, span := StartSpan(context.Background(), "test.span", StringAttr("k", "v"), IntAttr("n", 1))
	RecordError(span, errors.New("boom"))
	span.End()
}

func TestSetup_Unsupported(t *testing.T) {
	_, err := Setup(context.Background(), "jaeger")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter")
}
