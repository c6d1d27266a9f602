package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/telemetry"
	"golang.org/x/time/rate"
)

// BoundedOptions limits calls into an executor.
type BoundedOptions struct {
	// Name labels the executor in metrics.
	Name string

	// Timeout bounds every call. Zero means no timeout.
	Timeout time.Duration

	// RatePerSecond is the sustained call rate. Zero means unlimited.
	RatePerSecond float64

	// Burst is the number of calls allowed at once. Defaults to 1.
	Burst int

	Metrics *telemetry.Metrics
}

// Bounded wraps an executor with a per-call timeout and a token-bucket rate
// limit shared by all calls.
type Bounded struct {
	inner   engine.CheckExecutor
	name    string
	timeout time.Duration
	limiter *rate.Limiter
	metrics *telemetry.Metrics
}

// Bound wraps inner. The returned executor implements engine.StateSnapshotter
// and engine.ConfigReader exactly when inner does.
func Bound(inner engine.CheckExecutor, opts BoundedOptions) engine.CheckExecutor {
	b := &Bounded{
		inner:   inner,
		name:    opts.Name,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
	}
	if b.name == "" {
		b.name = "executor"
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	snap, canSnap := inner.(engine.StateSnapshotter)
	reader, canRead := inner.(engine.ConfigReader)
	switch {
	case canSnap && canRead:
		return &boundedFull{b, snap, reader}
	case canSnap:
		return &boundedSnapshotter{b, snap}
	case canRead:
		return &boundedReader{b, reader}
	default:
		return b
	}
}

// Check runs inner.Check within the bounds.
func (b *Bounded) Check(ctx context.Context, target engine.Target, spec engine.CheckSpec) (bool, error) {
	var passed bool
	err := b.call(ctx, "check", func(ctx context.Context) error {
		var err error
		passed, err = b.inner.Check(ctx, target, spec)
		return err
	})
	return passed, err
}

// Apply runs inner.Apply within the bounds.
func (b *Bounded) Apply(ctx context.Context, target engine.Target, action engine.Action) (engine.ApplyResult, error) {
	var res engine.ApplyResult
	err := b.call(ctx, "apply", func(ctx context.Context) error {
		var err error
		res, err = b.inner.Apply(ctx, target, action)
		return err
	})
	return res, err
}

// CurrentValue runs inner.CurrentValue within the bounds.
func (b *Bounded) CurrentValue(ctx context.Context, target engine.Target, parameter string) (any, error) {
	var value any
	err := b.call(ctx, "current_value", func(ctx context.Context) error {
		var err error
		value, err = b.inner.CurrentValue(ctx, target, parameter)
		return err
	})
	return value, err
}

func (b *Bounded) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	b.metrics.RecordExecutorCall(b.name, op, time.Since(start), err)

	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return engine.NewCheckExecutionError(fmt.Sprintf("%s timed out after %s", op, b.timeout), err).
			WithCode(engine.ErrCodeTimeout)
	}
	return err
}

type boundedSnapshotter struct {
	*Bounded
	snap engine.StateSnapshotter
}

func (b *boundedSnapshotter) Snapshot(ctx context.Context, target engine.Target) (map[string]any, error) {
	return snapshot(ctx, b.Bounded, b.snap, target)
}

type boundedReader struct {
	*Bounded
	reader engine.ConfigReader
}

func (b *boundedReader) ReadConfig(ctx context.Context, target engine.Target) ([]byte, error) {
	return readConfig(ctx, b.Bounded, b.reader, target)
}

type boundedFull struct {
	*Bounded
	snap   engine.StateSnapshotter
	reader engine.ConfigReader
}

func (b *boundedFull) Snapshot(ctx context.Context, target engine.Target) (map[string]any, error) {
	return snapshot(ctx, b.Bounded, b.snap, target)
}

func (b *boundedFull) ReadConfig(ctx context.Context, target engine.Target) ([]byte, error) {
	return readConfig(ctx, b.Bounded, b.reader, target)
}

func snapshot(ctx context.Context, b *Bounded, snap engine.StateSnapshotter, target engine.Target) (map[string]any, error) {
	var state map[string]any
	err := b.call(ctx, "snapshot", func(ctx context.Context) error {
		var err error
		state, err = snap.Snapshot(ctx, target)
		return err
	})
	return state, err
}

func readConfig(ctx context.Context, b *Bounded, reader engine.ConfigReader, target engine.Target) ([]byte, error) {
	var data []byte
	err := b.call(ctx, "read_config", func(ctx context.Context) error {
		var err error
		data, err = reader.ReadConfig(ctx, target)
		return err
	})
	return data, err
}
