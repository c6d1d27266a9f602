package reconcile

import (
	"context"
	"errors"
	"sync"

	"github.com/openfroyo/policyforge/pkg/compliance"
	"github.com/openfroyo/policyforge/pkg/drift"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/openfroyo/policyforge/pkg/remediation"
	"github.com/openfroyo/policyforge/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is the host concurrency ceiling when none is set.
const DefaultMaxConcurrent = 5

// Options controls a reconciliation run.
type Options struct {
	Compliance  compliance.Options
	Drift       drift.Options
	Remediation remediation.Options

	// MaxConcurrent bounds how many hosts run at once.
	MaxConcurrent int
}

// HostReport is everything that happened on one host.
type HostReport struct {
	Host        string              `json:"host"`
	Compliance  *compliance.Result  `json:"compliance,omitempty"`
	Drift       *drift.Result       `json:"drift,omitempty"`
	Remediation *remediation.Result `json:"remediation,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Reconciler wires the evaluator, detector and orchestrator together.
type Reconciler struct {
	executor     engine.CheckExecutor
	evaluator    *compliance.Evaluator
	detector     *drift.Detector
	orchestrator *remediation.Orchestrator
	metrics      *telemetry.Metrics
	logger       zerolog.Logger
}

// New creates a reconciler. All components must share exec.
func New(exec engine.CheckExecutor, evaluator *compliance.Evaluator, detector *drift.Detector, orchestrator *remediation.Orchestrator, logger zerolog.Logger, metrics *telemetry.Metrics) *Reconciler {
	return &Reconciler{
		executor:     exec,
		evaluator:    evaluator,
		detector:     detector,
		orchestrator: orchestrator,
		metrics:      metrics,
		logger:       logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run reconciles every host. baseline may be nil to skip drift detection.
// The returned map always has one report per host. The error is non-nil only
// when ctx ended before every host finished.
func (r *Reconciler) Run(ctx context.Context, hosts []engine.Target, policies []*policy.Document, baseline *drift.Baseline, opts Options) (map[string]*HostReport, error) {
	ctx, span := otel.Tracer("policyforge/reconcile").Start(ctx, "reconcile.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("hosts", len(hosts)), attribute.Int("policies", len(policies)))

	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	sem := semaphore.NewWeighted(int64(limit))

	reports := make(map[string]*HostReport, len(hosts))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, host := range hosts {
		g.Go(func() error {
			r.metrics.AddQueueDepth("reconcile", 1)
			err := sem.Acquire(ctx, 1)
			r.metrics.AddQueueDepth("reconcile", -1)

			var report *HostReport
			if err != nil {
				report = &HostReport{Host: host.Host, Error: err.Error()}
			} else {
				report = r.reconcileHost(ctx, host, policies, baseline, opts)
				sem.Release(1)
			}

			mu.Lock()
			reports[host.Host] = report
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, report := range reports {
		if report.Error != "" {
			failed++
		}
	}
	r.logger.Info().Int("hosts", len(hosts)).Int("failed", failed).Msg("Reconciliation completed")

	return reports, ctx.Err()
}

func (r *Reconciler) reconcileHost(ctx context.Context, target engine.Target, policies []*policy.Document, baseline *drift.Baseline, opts Options) *HostReport {
	report := &HostReport{Host: target.Host}
	logger := r.logger.With().Str("target", target.Host).Logger()

	evaluation, err := r.evaluator.Evaluate(ctx, target, policies, opts.Compliance)
	report.Compliance = evaluation
	if err != nil {
		return r.fail(logger, report, "evaluate", err)
	}

	violations := append([]engine.Violation{}, evaluation.Violations...)

	if baseline != nil {
		live, err := drift.Collect(ctx, r.executor, target, baseline)
		if err != nil {
			return r.fail(logger, report, "collect", err)
		}
		result, err := r.detector.DetectDrift(ctx, target, baseline, live, opts.Drift)
		if err != nil {
			return r.fail(logger, report, "detect", err)
		}
		report.Drift = result
		violations = append(violations, driftViolations(violations, result.DriftDetails)...)
	}

	remOpts := opts.Remediation
	remOpts.Approval = batchApproval(opts.Remediation.Approval, policies, violations)
	remediated, err := r.orchestrator.Remediate(ctx, target, violations, remOpts)
	report.Remediation = remediated
	if err != nil {
		return r.fail(logger, report, "remediate", err)
	}
	return report
}

func (r *Reconciler) fail(logger zerolog.Logger, report *HostReport, stage string, err error) *HostReport {
	report.Error = err.Error()
	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		r.metrics.RecordError(string(engErr.Kind), engErr.Code)
	}
	logger.Warn().Err(err).Str("stage", stage).Msg("Host reconciliation failed")
	return report
}

// driftViolations converts drift records, skipping parameters a policy
// violation already covers.
func driftViolations(existing []engine.Violation, records []engine.DriftRecord) []engine.Violation {
	covered := make(map[string]bool, len(existing))
	for _, v := range existing {
		if v.Parameter != "" {
			covered[v.Parameter] = true
		}
	}
	var fresh []engine.DriftRecord
	for _, rec := range records {
		if !covered[rec.Parameter] {
			fresh = append(fresh, rec)
		}
	}
	return remediation.FromDrift(fresh)
}
