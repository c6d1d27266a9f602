package drift

import (
	"context"
	"fmt"

	"github.com/openfroyo/policyforge/pkg/engine"
)

// Collect builds the live state of a target. Executors that can snapshot the
// whole target are preferred so unauthorized additions show up; otherwise
// every baseline parameter is read individually and absent ones are left out.
func Collect(ctx context.Context, executor engine.CheckExecutor, target engine.Target, baseline *Baseline) (map[string]any, error) {
	if snap, ok := executor.(engine.StateSnapshotter); ok {
		state, err := snap.Snapshot(ctx, target)
		if err != nil {
			return nil, engine.NewCheckExecutionError("failed to snapshot target state", err).WithTarget(target.Host)
		}
		live := make(map[string]any, len(state))
		for k, v := range state {
			live[k] = engine.Normalize(v)
		}
		return live, nil
	}

	live := make(map[string]any)
	if baseline == nil {
		return live, nil
	}
	for _, param := range sortedKeys(baseline.Parameters) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value, err := executor.CurrentValue(ctx, target, param)
		if err != nil {
			if engine.IsNotFound(err) {
				continue
			}
			return nil, engine.NewCheckExecutionError(fmt.Sprintf("failed to read parameter %s", param), err).
				WithTarget(target.Host).
				WithOperation(param)
		}
		live[param] = engine.Normalize(value)
	}
	return live, nil
}
