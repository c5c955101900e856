package spawner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/spawner"
)

func TestTransitionLogs_CarryServerKeyOnce(t *testing.T) {
	h := newHarness(t, spawner.Config{}, "alice")
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core))

	sp, err := h.m.Start(ctx, "alice", "lab", nil)
	require.NoError(t, err)
	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sp.Wait(wctx))
	require.NoError(t, h.m.Stop(ctx, "alice", "lab"))

	transitions := logs.FilterMessage("server state changed").All()
	require.Len(t, transitions, 4) // stopped→spawning→running→stopping→stopped
	for _, e := range append(transitions, logs.All()...) {
		n := 0
		for _, f := range e.Context {
			if f.Key == "server" {
				n++
			}
		}
		require.LessOrEqual(t, n, 1, e.Message)
	}
	for _, e := range transitions {
		require.Equal(t, "alice/lab", e.ContextMap()["server"])
	}
}
