package enforce

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/policyforge/pkg/backup"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/executor"
	"github.com/openfroyo/policyforge/pkg/lock"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/openfroyo/policyforge/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Host messages.
const (
	MsgValidateOnly = "Validation only - no changes made"
	MsgDryRun       = "Dry run - no actual changes made"
)

// Enforcer applies one policy across many hosts.
type Enforcer struct {
	executor  engine.CheckExecutor
	validator *policy.Validator
	backups   engine.BackupStore
	locker    engine.TargetLocker
	audit     engine.AuditSink
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures optional collaborators.
type Option func(*Enforcer)

// WithAuditSink records every host run in sink.
func WithAuditSink(sink engine.AuditSink) Option {
	return func(e *Enforcer) { e.audit = sink }
}

// WithMetrics records enforcement metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Enforcer) { e.metrics = m }
}

// NewEnforcer creates an enforcer. validator is required only for runs that
// ask for validation, backups only for runs that ask for a backup.
func NewEnforcer(exec engine.CheckExecutor, validator *policy.Validator, backups engine.BackupStore, locker engine.TargetLocker, logger zerolog.Logger, opts ...Option) *Enforcer {
	if locker == nil {
		locker = lock.NewLocal()
	}
	e := &Enforcer{
		executor:  exec,
		validator: validator,
		backups:   backups,
		locker:    locker,
		logger:    logger.With().Str("component", "enforcer").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enforce applies doc to every host. Validation and approval failures abort
// the whole run. Failures on one host are reported in its result and never
// stop the others. If ctx ends while hosts are still queued, those hosts fail
// with the context error and the partial result is returned with it.
func (e *Enforcer) Enforce(ctx context.Context, doc *policy.Document, hosts []engine.Target, opts Options) (*Result, error) {
	if doc == nil {
		return nil, engine.NewStructuralError("policy document is nil", nil)
	}

	mode := opts.Mode
	if mode == "" || opts.CheckMode {
		mode = ModeDryRun
	}

	ctx, span := otel.Tracer("policyforge/enforce").Start(ctx, "enforce.Enforce")
	defer span.End()
	span.SetAttributes(
		attribute.String("policy.name", doc.Name()),
		attribute.String("mode", string(mode)),
		attribute.Int("hosts", len(hosts)),
	)

	result := &Result{
		RunID:              uuid.NewString(),
		Policy:             doc.Name(),
		Mode:               mode,
		EnforcementResults: make(map[string]*HostResult, len(hosts)),
		StartedAt:          e.now().UTC(),
	}

	if opts.ValidationRequired {
		if e.validator == nil {
			return nil, engine.NewStructuralError("validation requested but no validator is configured", nil)
		}
		validation, err := e.validator.Validate(ctx, doc, opts.Validation)
		if err != nil {
			return nil, fmt.Errorf("failed to validate policy: %w", err)
		}
		result.ValidationResults = validation
		if !validation.Valid {
			err := engine.NewStructuralError("Policy validation failed", validation.Err()).
				WithOperation("enforce").
				WithDetail("validation_results", validation)
			span.RecordError(err)
			return nil, err
		}
	}

	if opts.ApprovalRequired && mode == ModeApply {
		status := checkApproval(doc)
		result.Approval = &status
		if !status.Approved {
			e.metrics.RecordApprovalDenied("enforce")
			e.logger.Warn().
				Str("policy", doc.Name()).
				Int("required", status.RequiredApprovers).
				Int("actual", status.ActualApprovers).
				Msg("Enforcement rejected by approval gate")
			err := engine.NewApprovalDeniedError("Policy enforcement requires approval").
				WithOperation("enforce").
				WithDetail("approval_status", status)
			span.RecordError(err)
			return nil, err
		}
	}

	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	sem := semaphore.NewWeighted(int64(limit))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	changes := plannedChanges(doc)

	for _, host := range hosts {
		g.Go(func() error {
			e.metrics.AddQueueDepth("enforce", 1)
			err := sem.Acquire(ctx, 1)
			e.metrics.AddQueueDepth("enforce", -1)

			var hr *HostResult
			if err != nil {
				hr = &HostResult{Host: host.Host, Errors: []string{err.Error()}}
			} else {
				hr = e.enforceHost(ctx, doc, host, mode, changes, opts)
				sem.Release(1)
			}

			mu.Lock()
			result.EnforcementResults[host.Host] = hr
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.ChangesSummary = summarize(result.EnforcementResults)
	result.Enforced = result.ChangesSummary.Failed == 0
	result.Changed = mode == ModeApply && result.ChangesSummary.Successful > 0
	for _, hr := range result.EnforcementResults {
		if hr.RolledBack {
			result.RollbackPerformed = true
		}
	}
	result.CompletedAt = e.now().UTC()

	e.logger.Info().
		Str("policy", doc.Name()).
		Str("mode", string(mode)).
		Int("hosts", result.ChangesSummary.TotalHosts).
		Int("failed", result.ChangesSummary.Failed).
		Int("changes", result.ChangesSummary.TotalChanges).
		Msg("Enforcement completed")

	return result, ctx.Err()
}

func (e *Enforcer) enforceHost(ctx context.Context, doc *policy.Document, target engine.Target, mode Mode, planned []Change, opts Options) *HostResult {
	hr := &HostResult{Host: target.Host, Errors: []string{}}

	unlock, err := e.locker.Lock(ctx, "target:"+target.Host)
	if err != nil {
		hr.Errors = append(hr.Errors, fmt.Sprintf("failed to lock target: %v", err))
		return hr
	}
	defer unlock()

	var snapshot *engine.BackupHandle
	if opts.Backup && mode == ModeApply {
		handle, err := backup.Take(ctx, e.backups, e.executor, target, e.now())
		if err != nil {
			e.metrics.RecordError(string(engine.ErrorKindBackupFailure), engine.ErrCodeBackupFailed)
			hr.Errors = append(hr.Errors, err.Error())
			e.recordAudit(ctx, doc, target, hr)
			return hr
		}
		snapshot = &handle
		hr.BackupCreated = true
		hr.BackupPath = handle.Location
	}

	switch mode {
	case ModeValidateOnly:
		hr.Success = true
		hr.Message = MsgValidateOnly
	case ModeDryRun:
		hr.ProposedChanges = e.simulate(ctx, target, planned)
		hr.Success = true
		hr.Message = MsgDryRun
	default:
		err := e.applyChanges(ctx, target, planned, hr)
		if err == nil {
			hr.Success = true
			hr.Message = fmt.Sprintf("Successfully applied %d changes", hr.ChangesMade)
			break
		}

		hr.Errors = append(hr.Errors, err.Error())
		e.metrics.RecordError(string(engine.ErrorKindRemediationFailure), engine.ErrCodeRemediationFailed)
		e.logger.Warn().Err(err).Str("target", target.Host).Str("policy", doc.Name()).Msg("Enforcement failed")

		if opts.RollbackOnFailure && snapshot != nil {
			rbErr := backup.Restore(ctx, e.backups, e.executor, target, *snapshot)
			e.metrics.RecordRollback(rbErr == nil)
			if rbErr != nil {
				hr.RollbackError = rbErr.Error()
				e.logger.Error().Err(rbErr).Str("target", target.Host).Msg("Rollback failed")
			} else {
				hr.RolledBack = true
				e.logger.Info().Str("target", target.Host).Msg("Rolled back failed enforcement")
			}
		}
	}

	e.recordAudit(ctx, doc, target, hr)
	return hr
}

// simulate attaches the live value of every planned change target.
func (e *Enforcer) simulate(ctx context.Context, target engine.Target, planned []Change) []Change {
	proposed := make([]Change, 0, len(planned))
	for _, c := range planned {
		current, err := e.executor.CurrentValue(ctx, target, c.Target)
		if err != nil {
			if !engine.IsNotFound(err) {
				e.logger.Debug().Err(err).Str("target", target.Host).Str("parameter", c.Target).Msg("Failed to read current value")
			}
			current = nil
		}
		c.CurrentValue = current
		proposed = append(proposed, c)
	}
	return proposed
}

func (e *Enforcer) applyChanges(ctx context.Context, target engine.Target, planned []Change, hr *HostResult) error {
	formatter := executor.FormatterFor(target.Platform)
	for _, c := range planned {
		action := engine.Action{
			Kind:        actionKind(c.Action),
			Parameter:   c.Target,
			Value:       c.ExpectedValue,
			Description: c.Description,
		}
		if action.Kind == engine.ActionConfigure {
			action.Command = formatter.Configure(c.Target, c.ExpectedValue)
		} else {
			action.Artifact = fmt.Sprint(c.ExpectedValue)
		}

		res, err := e.executor.Apply(ctx, target, action)
		if err != nil {
			return engine.NewRemediationFailureError(fmt.Sprintf("failed to apply %s", c.Target), err).
				WithTarget(target.Host).
				WithOperation("enforce")
		}
		if !res.Applied {
			return engine.NewRemediationFailureError(fmt.Sprintf("change to %s was not applied", c.Target), nil).
				WithTarget(target.Host).
				WithOperation("enforce").
				WithDetail("detail", res.Detail)
		}

		at := e.now().UTC()
		c.Command = action.Command
		c.Applied = true
		c.AppliedAt = &at
		hr.AppliedChanges = append(hr.AppliedChanges, c)
		hr.ChangesMade++
	}
	return nil
}

func (e *Enforcer) recordAudit(ctx context.Context, doc *policy.Document, target engine.Target, hr *HostResult) {
	if e.audit == nil {
		return
	}
	status := "success"
	if !hr.Success {
		status = "failed"
	}
	record := engine.AuditRecord{
		ID:             uuid.NewString(),
		Operation:      "enforce",
		Target:         target.Host,
		Status:         status,
		StartedAt:      e.now().UTC(),
		CompletedAt:    e.now().UTC(),
		Attempted:      1,
		BackupLocation: hr.BackupPath,
		Details: map[string]any{
			"policy": doc.Name(),
			"result": hr,
		},
	}
	if hr.Success {
		record.Successful = 1
	} else {
		record.Failed = 1
	}
	if err := e.audit.RecordAudit(context.WithoutCancel(ctx), record); err != nil {
		e.logger.Warn().Err(err).Str("target", target.Host).Msg("Failed to record enforcement audit")
	}
}

// plannedChanges lists the changes a policy makes, from its enforcement
// actions or, without any, from its requirements.
func plannedChanges(doc *policy.Document) []Change {
	var changes []Change
	if doc.Enforcement != nil {
		for _, a := range doc.Enforcement.Actions {
			changes = append(changes, Change{
				Action:        orDefault(a.Type, string(engine.ActionConfigure)),
				Target:        orDefault(a.Target, "unknown"),
				Description:   orDefault(a.Description, "No description"),
				ExpectedValue: a.Value,
			})
		}
	}
	if len(changes) > 0 {
		return changes
	}
	for _, req := range doc.Requirements {
		changes = append(changes, Change{
			Action:        string(engine.ActionConfigure),
			Target:        orDefault(req.Parameter, "unknown"),
			Description:   orDefault(req.Description, "No description"),
			ExpectedValue: req.ExpectedValue,
		})
	}
	return changes
}

func checkApproval(doc *policy.Document) ApprovalStatus {
	var record engine.ApprovalRecord
	if doc.Approval != nil {
		record = *doc.Approval
	}
	critical := doc.Severity() == engine.SeverityCritical
	approvers := record.Distinct()
	return ApprovalStatus{
		Approved:          record.Approved(critical),
		RequiredApprovers: record.Required(critical),
		ActualApprovers:   len(approvers),
		Approvers:         approvers,
	}
}

func summarize(results map[string]*HostResult) Summary {
	s := Summary{TotalHosts: len(results), PoliciesApplied: []string{}}
	seen := map[string]bool{}
	for _, hr := range results {
		if hr.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		s.TotalChanges += hr.ChangesMade
		for _, c := range hr.AppliedChanges {
			if !seen[c.Description] {
				seen[c.Description] = true
				s.PoliciesApplied = append(s.PoliciesApplied, c.Description)
			}
		}
	}
	sort.Strings(s.PoliciesApplied)
	return s
}

func actionKind(name string) engine.ActionKind {
	switch engine.ActionKind(name) {
	case engine.ActionScript, engine.ActionPlaybook:
		return engine.ActionKind(name)
	default:
		return engine.ActionConfigure
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
