package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_ProdWritesJSONWithServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Env: "prod", Level: "info", Version: "1.2.3"}, &buf)

	l.Info("hub started", ServerKey("alice/"))
	require.NoError(t, l.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hub started", line["msg"])
	assert.Equal(t, DefaultService, line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Equal(t, "alice/", line["server"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Env: "production", Level: "warn", ServiceName: "hub-a"}, &buf)

	l.Info("dropped")
	l.Warn("kept")
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, `"service":"hub-a"`)
}

func TestNew_DevIsConsole(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Env: "dev"}, &buf)
	l.Debug("hidden")
	l.Info("visible")
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestScoped_StacksFieldsOnContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).With(RequestID("req-9")))

	ctx = Scoped(ctx, Component("spawner"))
	ctx = Scoped(ctx, ServerKey("bob/gpu"))
	From(ctx).Info("transition")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "spawner", fields["component"])
	assert.Equal(t, "bob/gpu", fields["server"])
}

func TestFrom_FallsBackToGlobal(t *testing.T) {
	//nolint:staticcheck // ctx nil a propósito
	assert.Same(t, L(), From(nil))
	assert.Same(t, L(), From(context.Background()))
}
