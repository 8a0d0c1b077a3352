package telemetry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TracingDisabled_ReturnsNoopTracer(t *testing.T) {
	tel, err := New(context.Background(), Config{ServiceName: "test", LogLevel: slog.LevelInfo})
	require.NoError(t, err)
	assert.NotNil(t, tel.Logger)
	assert.NotNil(t, tel.Tracer)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_TracingEnabled_BuildsProvider(t *testing.T) {
	tel, err := New(context.Background(), Config{ServiceName: "test", TracingEnabled: true, SampleRatio: 1})
	require.NoError(t, err)

	ctx, span := tel.StartSpan(context.Background(), "unit-test-span")
	assert.NotNil(t, ctx)
	span.End()

	require.NoError(t, tel.Shutdown(context.Background()))
}
