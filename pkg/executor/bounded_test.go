package executor

import (
	"context"
	"testing"
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowExecutor blocks every call until the context ends or delay passes.
type slowExecutor struct {
	delay time.Duration
}

func (s slowExecutor) wait(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s slowExecutor) Check(ctx context.Context, _ engine.Target, _ engine.CheckSpec) (bool, error) {
	return true, s.wait(ctx)
}

func (s slowExecutor) Apply(ctx context.Context, _ engine.Target, _ engine.Action) (engine.ApplyResult, error) {
	return engine.ApplyResult{Applied: true}, s.wait(ctx)
}

func (s slowExecutor) CurrentValue(ctx context.Context, _ engine.Target, _ string) (any, error) {
	return "yes", s.wait(ctx)
}

// snapshotOnly adds snapshots to slowExecutor.
type snapshotOnly struct{ slowExecutor }

func (snapshotOnly) Snapshot(context.Context, engine.Target) (map[string]any, error) {
	return map[string]any{"a": 1}, nil
}

func TestBound_PreservesCapabilities(t *testing.T) {
	plain := Bound(slowExecutor{}, BoundedOptions{})
	_, isSnap := plain.(engine.StateSnapshotter)
	_, isReader := plain.(engine.ConfigReader)
	assert.False(t, isSnap)
	assert.False(t, isReader)

	snap := Bound(snapshotOnly{}, BoundedOptions{})
	_, isSnap = snap.(engine.StateSnapshotter)
	_, isReader = snap.(engine.ConfigReader)
	assert.True(t, isSnap)
	assert.False(t, isReader)

	full := Bound(newTestState(t), BoundedOptions{})
	_, isSnap = full.(engine.StateSnapshotter)
	_, isReader = full.(engine.ConfigReader)
	assert.True(t, isSnap)
	assert.True(t, isReader)

	state, err := full.(engine.StateSnapshotter).Snapshot(context.Background(), web01)
	require.NoError(t, err)
	assert.Contains(t, state, "permit_root_login")
}

func TestBound_Timeout(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	exec := Bound(slowExecutor{delay: time.Second}, BoundedOptions{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Metrics: metrics,
	})

	_, err = exec.Check(context.Background(), web01, engine.CheckSpec{Parameter: "x"})
	require.Error(t, err)
	assert.True(t, engine.IsCheckExecution(err))

	var engErr *engine.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.ErrCodeTimeout, engErr.Code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	count, err := testutil.GatherAndCount(metrics.Registry(), "test_executor_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBound_ParentCancellationIsNotATimeout(t *testing.T) {
	exec := Bound(slowExecutor{delay: time.Second}, BoundedOptions{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.CurrentValue(ctx, web01, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, engine.IsCheckExecution(err))
}

func TestBound_RateLimit(t *testing.T) {
	exec := Bound(slowExecutor{}, BoundedOptions{RatePerSecond: 20, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := exec.Apply(ctx, web01, engine.Action{Kind: engine.ActionConfigure})
		require.NoError(t, err)
	}
	// One token up front, then four more at 50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := exec.Check(cancelled, web01, engine.CheckSpec{})
	assert.Error(t, err)
}
