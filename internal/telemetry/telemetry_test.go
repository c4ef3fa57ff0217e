package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_WritesJSONToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := InitLogger(dir, true)
	require.NoError(t, err)

	logger.Debug("debug line", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "autoscript.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"debug line"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestInitLogger_InfoLevelDropsDebug(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	logger, closer, err := InitLogger(dir, false)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "autoscript.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestInitTelemetry(t *testing.T) {
	dir := t.TempDir()

	p, err := InitTelemetry(context.Background(), dir, "test")
	require.NoError(t, err)
	require.NotNil(t, p.Tracer)
	require.NotNil(t, p.Meter)

	_, span := p.Tracer.Start(context.Background(), "startup")
	span.End()

	counter, err := p.Meter.Int64Counter("startup.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	p.Shutdown()

	_, err = os.Stat(filepath.Join(dir, "autoscript_traces.log"))
	assert.NoError(t, err)
}

func TestNoop(t *testing.T) {
	p := Noop()
	_, span := p.Tracer.Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
	p.Shutdown()
}
