package remediation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/policyforge/pkg/backup"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/executor"
	"github.com/openfroyo/policyforge/pkg/lock"
	"github.com/openfroyo/policyforge/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Messages used in results.
const (
	MsgNoViolations       = "No violations to remediate"
	MsgCheckMode          = "Check mode - no changes made"
	MsgManualRequired     = "Manual remediation required"
	MsgNoInstructions     = "No instructions provided"
	MsgValidationMismatch = "Configuration did not change as expected"
	MsgReverted           = "Change reverted by rollback of a later remediation"
)

// Options controls a remediation run.
type Options struct {
	Mode                     Mode
	BackupBeforeRemediation  bool
	ValidateAfterRemediation bool
	RequireApproval          bool
	Approval                 engine.ApprovalRecord

	// CheckMode reports what would run without touching the target.
	CheckMode bool
}

// ItemResult is the outcome of one violation.
type ItemResult struct {
	ViolationID     string          `json:"violation_id"`
	Parameter       string          `json:"parameter"`
	Severity        engine.Severity `json:"severity"`
	Strategy        Strategy        `json:"strategy"`
	Status          Status          `json:"status"`
	ActionTaken     string          `json:"action_taken,omitempty"`
	BeforeValue     any             `json:"before_value"`
	AfterValue      any             `json:"after_value"`
	Instructions    string          `json:"instructions,omitempty"`
	Duration        float64         `json:"duration"`
	Error           string          `json:"error,omitempty"`
	RolledBack      bool            `json:"rolled_back"`
	RollbackError   string          `json:"rollback_error,omitempty"`
	ValidationError string          `json:"validation_error,omitempty"`

	// Reverted is set on a successful item whose change was undone when a
	// later item restored the batch backup.
	Reverted bool `json:"reverted,omitempty"`
}

// ValidationSummary counts post-remediation verification outcomes.
type ValidationSummary struct {
	Validated           bool      `json:"validated"`
	Passed              int       `json:"passed"`
	Failed              int       `json:"failed"`
	ValidationTimestamp time.Time `json:"validation_timestamp"`
}

// Result is the outcome of a remediation run.
type Result struct {
	RunID                 string               `json:"run_id"`
	Target                string               `json:"target"`
	RemediationSuccessful bool                 `json:"remediation_successful"`
	Attempted             int                  `json:"remediations_attempted"`
	Successful            int                  `json:"remediations_successful"`
	Failed                int                  `json:"remediations_failed"`
	Results               []ItemResult         `json:"remediation_results"`
	BackupCreated         bool                 `json:"backup_created"`
	BackupPath            string               `json:"backup_path,omitempty"`
	Backup                *engine.BackupHandle `json:"backup,omitempty"`
	ValidationResults     *ValidationSummary   `json:"validation_results,omitempty"`
	Approval              *ApprovalStatus      `json:"approval,omitempty"`
	Message               string               `json:"message,omitempty"`
	Changed               bool                 `json:"changed"`
	Cancelled             bool                 `json:"cancelled,omitempty"`
	Skipped               int                  `json:"skipped,omitempty"`
	StartedAt             time.Time            `json:"started_at"`
	CompletedAt           time.Time            `json:"completed_at"`
}

// Orchestrator remediates violations on one target at a time.
type Orchestrator struct {
	executor engine.CheckExecutor
	backups  engine.BackupStore
	locker   engine.TargetLocker
	audit    engine.AuditSink
	scripts  *executor.ScriptRunner
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*Orchestrator)

// WithAuditSink records every run in sink.
func WithAuditSink(sink engine.AuditSink) OrchestratorOption {
	return func(o *Orchestrator) { o.audit = sink }
}

// WithScriptRunner runs .star remediation scripts through runner.
func WithScriptRunner(runner *executor.ScriptRunner) OrchestratorOption {
	return func(o *Orchestrator) { o.scripts = runner }
}

// WithMetrics records remediation metrics.
func WithMetrics(m *telemetry.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator. backups may be nil when runs never
// request a backup, and a nil locker uses an in-process lock.
func NewOrchestrator(exec engine.CheckExecutor, backups engine.BackupStore, locker engine.TargetLocker, logger zerolog.Logger, opts ...OrchestratorOption) *Orchestrator {
	if locker == nil {
		locker = lock.NewLocal()
	}
	o := &Orchestrator{
		executor: exec,
		backups:  backups,
		locker:   locker,
		logger:   logger.With().Str("component", "remediation").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Remediate fixes violations on target in severity order.
//
// A failed backup or a denied approval aborts the run before any change and
// returns no result. Per-violation failures are recorded in the result. When
// ctx is cancelled the violation in progress completes, the rest are skipped
// and the partial result is returned together with the context error.
func (o *Orchestrator) Remediate(ctx context.Context, target engine.Target, violations []engine.Violation, opts Options) (*Result, error) {
	ctx, span := otel.Tracer("policyforge/remediation").Start(ctx, "remediation.Remediate")
	defer span.End()
	span.SetAttributes(
		attribute.String("target", target.Host),
		attribute.Int("violations", len(violations)),
		attribute.String("mode", string(opts.Mode)),
	)

	result := &Result{
		RunID:     uuid.NewString(),
		Target:    target.Host,
		Results:   []ItemResult{},
		StartedAt: o.now().UTC(),
	}

	if len(violations) == 0 {
		result.RemediationSuccessful = true
		result.Message = MsgNoViolations
		result.CompletedAt = o.now().UTC()
		return result, nil
	}

	if opts.CheckMode {
		result.RemediationSuccessful = true
		result.Attempted = len(violations)
		result.Message = MsgCheckMode
		result.CompletedAt = o.now().UTC()
		return result, nil
	}

	unlock, err := o.locker.Lock(ctx, "target:"+target.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to lock target %s: %w", target.Host, err)
	}
	defer unlock()

	var snapshot *engine.BackupHandle
	if opts.BackupBeforeRemediation {
		handle, err := o.createBackup(ctx, target)
		if err != nil {
			o.metrics.RecordError(string(engine.ErrorKindBackupFailure), engine.ErrCodeBackupFailed)
			span.RecordError(err)
			return nil, err
		}
		snapshot = &handle
		result.Backup = snapshot
		result.BackupCreated = true
		result.BackupPath = handle.Location
	}

	if opts.RequireApproval {
		critical := 0
		for _, v := range violations {
			if v.Severity == engine.SeverityCritical {
				critical++
			}
		}
		if critical > 0 {
			status := CheckApproval(opts.Mode, opts.Approval, critical)
			result.Approval = &status
			if !status.Approved {
				o.metrics.RecordApprovalDenied("remediate")
				o.logger.Warn().
					Str("target", target.Host).
					Int("critical", critical).
					Str("reason", status.Reason).
					Msg("Remediation batch rejected by approval gate")
				err := approvalError(target.Host, status)
				span.RecordError(err)
				return nil, err
			}
		}
	}

	ordered := SortBySeverity(violations)
	if opts.ValidateAfterRemediation {
		result.ValidationResults = &ValidationSummary{Validated: true}
	}

	var runErr error
	for i, v := range ordered {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			result.Skipped = len(ordered) - i
			runErr = err
			o.logger.Warn().
				Str("target", target.Host).
				Int("skipped", result.Skipped).
				Msg("Remediation cancelled, skipping remaining violations")
			break
		}

		// The item in progress finishes even if ctx is cancelled meanwhile.
		itemCtx := context.WithoutCancel(ctx)
		item, batchRestored := o.remediateOne(itemCtx, target, v, opts, snapshot)
		if opts.ValidateAfterRemediation && item.Status == StatusSuccess {
			o.verify(itemCtx, target, v, &item, result.ValidationResults)
		}
		if batchRestored {
			o.markReverted(itemCtx, target, ordered[:i], result)
		}
		o.metrics.RecordRemediation(string(item.Strategy), string(item.Status))
		result.Results = append(result.Results, item)
	}

	for _, item := range result.Results {
		switch {
		case item.Status == StatusSuccess && !item.Reverted:
			result.Successful++
		case item.Status == StatusFailed:
			result.Failed++
		}
	}
	result.Attempted = len(result.Results)
	result.RemediationSuccessful = result.Failed == 0
	result.Changed = result.Successful > 0
	if result.ValidationResults != nil {
		result.ValidationResults.ValidationTimestamp = o.now().UTC()
	}
	result.CompletedAt = o.now().UTC()

	o.recordAudit(ctx, target, result)

	o.logger.Info().
		Str("target", target.Host).
		Int("attempted", result.Attempted).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Bool("cancelled", result.Cancelled).
		Msg("Remediation completed")

	return result, runErr
}

// SortBySeverity returns a copy of violations ordered critical, high, medium,
// low, then unknown. Ties keep their original order.
func SortBySeverity(violations []engine.Violation) []engine.Violation {
	ordered := make([]engine.Violation, len(violations))
	copy(ordered, violations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Severity.Order() < ordered[j].Severity.Order()
	})
	return ordered
}

// remediateOne fixes one violation. When a backup was taken, a failed change
// is undone from a checkpoint read just before it, or from the batch backup
// when the executor cannot read configuration; batchRestored reports the
// latter.
func (o *Orchestrator) remediateOne(ctx context.Context, target engine.Target, v engine.Violation, opts Options, snapshot *engine.BackupHandle) (item ItemResult, batchRestored bool) {
	start := time.Now()

	item = ItemResult{
		ViolationID: v.ID(),
		Parameter:   v.Parameter,
		Severity:    v.Severity,
		Status:      StatusPending,
		BeforeValue: v.Actual,
	}
	if item.Parameter == "" {
		item.Parameter = "unknown"
	}
	if item.Severity == "" {
		item.Severity = "unknown"
	}

	strategy, unknownMsg := selectStrategy(v.RemediationStrategy, v.Parameter)
	if opts.Mode == ModeManual {
		strategy, unknownMsg = StrategyManual, ""
	}
	item.Strategy = strategy

	var checkpoint []byte
	if snapshot != nil && mutates(strategy) {
		content, ok, err := backup.Checkpoint(ctx, o.executor, target)
		switch {
		case err != nil:
			o.logger.Warn().
				Err(err).
				Str("target", target.Host).
				Str("violation", item.ViolationID).
				Msg("Failed to checkpoint target, falling back to batch backup")
		case ok:
			checkpoint = content
		}
	}

	var err error
	switch strategy {
	case StrategyConfigure:
		err = o.configure(ctx, target, v, &item)
	case StrategyScript:
		err = o.runScript(ctx, target, v, &item)
	case StrategyPlaybook:
		err = o.runPlaybook(ctx, target, v, &item)
	case StrategyManual:
		item.Status = StatusManualRequired
		item.ActionTaken = MsgManualRequired
		item.Instructions = v.Remediation
		if item.Instructions == "" {
			item.Instructions = MsgNoInstructions
		}
	default:
		item.Status = StatusUnknownStrategy
		item.Error = unknownMsg
	}

	if err != nil {
		item.Status = StatusFailed
		item.Error = err.Error()
		o.metrics.RecordError(string(engine.ErrorKindRemediationFailure), engine.ErrCodeRemediationFailed)
		o.logger.Warn().
			Err(err).
			Str("target", target.Host).
			Str("violation", item.ViolationID).
			Str("strategy", string(strategy)).
			Msg("Remediation failed")

		switch {
		case checkpoint != nil:
			o.rollback(ctx, target, &item, func() error {
				return backup.RestoreCheckpoint(ctx, o.executor, target, checkpoint)
			})
		case snapshot != nil:
			o.rollback(ctx, target, &item, func() error {
				return backup.Restore(ctx, o.backups, o.executor, target, *snapshot)
			})
			batchRestored = item.RolledBack
		}
	}

	item.Duration = math.Round(time.Since(start).Seconds()*100) / 100
	return item, batchRestored
}

func mutates(s Strategy) bool {
	switch s {
	case StrategyConfigure, StrategyScript, StrategyPlaybook:
		return true
	default:
		return false
	}
}

// markReverted re-verifies the successful items before a batch restore and
// marks those whose change no longer holds.
func (o *Orchestrator) markReverted(ctx context.Context, target engine.Target, earlier []engine.Violation, result *Result) {
	for i := range result.Results {
		item := &result.Results[i]
		if item.Status != StatusSuccess || item.Reverted {
			continue
		}
		ok, err := o.verified(ctx, target, earlier[i])
		if err == nil && ok {
			continue
		}
		item.Reverted = true
		if summary := result.ValidationResults; summary != nil && item.ValidationError == "" {
			summary.Passed--
			summary.Failed++
		}
		item.ValidationError = MsgReverted
		o.logger.Warn().
			Str("target", target.Host).
			Str("violation", item.ViolationID).
			Msg("Successful remediation was reverted by batch rollback")
	}
}

func (o *Orchestrator) configure(ctx context.Context, target engine.Target, v engine.Violation, item *ItemResult) error {
	command := executor.FormatterFor(target.Platform).Configure(v.Parameter, v.Expected)
	action := engine.Action{
		Kind:        engine.ActionConfigure,
		Parameter:   v.Parameter,
		Value:       v.Expected,
		Command:     command,
		Description: fmt.Sprintf("Set %s to %v", v.Parameter, v.Expected),
	}
	if err := o.apply(ctx, target, action, item.ViolationID); err != nil {
		return err
	}
	item.ActionTaken = command
	item.AfterValue = v.Expected
	item.Status = StatusSuccess
	return nil
}

func (o *Orchestrator) runScript(ctx context.Context, target engine.Target, v engine.Violation, item *ItemResult) error {
	name := v.RemediationScript
	if name == "" {
		name = DefaultScript
	}

	if o.scripts.Handles(name) {
		actions, err := o.scripts.Run(ctx, name, target, v)
		if err != nil {
			return engine.NewRemediationFailureError("remediation script failed", err).
				WithTarget(target.Host).
				WithOperation(item.ViolationID)
		}
		formatter := executor.FormatterFor(target.Platform)
		for _, action := range actions {
			if action.Kind == engine.ActionConfigure && action.Command == "" {
				action.Command = formatter.Configure(action.Parameter, action.Value)
			}
			if err := o.apply(ctx, target, action, item.ViolationID); err != nil {
				return err
			}
		}
	} else {
		action := engine.Action{
			Kind:        engine.ActionScript,
			Parameter:   v.Parameter,
			Value:       v.Expected,
			Artifact:    name,
			Description: fmt.Sprintf("Run remediation script %s", name),
		}
		if err := o.apply(ctx, target, action, item.ViolationID); err != nil {
			return err
		}
	}

	item.ActionTaken = fmt.Sprintf("Executed remediation script: %s", name)
	item.Status = StatusSuccess
	return nil
}

func (o *Orchestrator) runPlaybook(ctx context.Context, target engine.Target, v engine.Violation, item *ItemResult) error {
	name := v.RemediationPlaybook
	if name == "" {
		name = DefaultPlaybook
	}
	action := engine.Action{
		Kind:        engine.ActionPlaybook,
		Parameter:   v.Parameter,
		Value:       v.Expected,
		Artifact:    name,
		Description: fmt.Sprintf("Run remediation playbook %s", name),
	}
	if err := o.apply(ctx, target, action, item.ViolationID); err != nil {
		return err
	}
	item.ActionTaken = fmt.Sprintf("Executed remediation playbook: %s", name)
	item.Status = StatusSuccess
	return nil
}

// apply runs a mutating action and turns errors and unapplied results into
// remediation failures.
func (o *Orchestrator) apply(ctx context.Context, target engine.Target, action engine.Action, violationID string) error {
	res, err := o.executor.Apply(ctx, target, action)
	if err != nil {
		return engine.NewRemediationFailureError(fmt.Sprintf("%s action failed", action.Kind), err).
			WithTarget(target.Host).
			WithOperation(violationID)
	}
	if !res.Applied {
		msg := fmt.Sprintf("%s action was not applied", action.Kind)
		if res.Detail != "" {
			msg += ": " + res.Detail
		}
		return engine.NewRemediationFailureError(msg, nil).
			WithTarget(target.Host).
			WithOperation(violationID)
	}
	return nil
}

func (o *Orchestrator) createBackup(ctx context.Context, target engine.Target) (engine.BackupHandle, error) {
	handle, err := backup.Take(ctx, o.backups, o.executor, target, o.now())
	if err != nil {
		return engine.BackupHandle{}, err
	}
	o.logger.Info().
		Str("target", target.Host).
		Str("backup", handle.Location).
		Msg("Configuration backup created")
	return handle, nil
}

func (o *Orchestrator) rollback(ctx context.Context, target engine.Target, item *ItemResult, restore func() error) {
	err := restore()
	o.metrics.RecordRollback(err == nil)
	if err != nil {
		item.RollbackError = err.Error()
		o.metrics.RecordError(string(engine.ErrorKindRollbackFailure), engine.ErrCodeRollbackFailed)
		o.logger.Error().
			Err(err).
			Str("target", target.Host).
			Str("violation", item.ViolationID).
			Msg("Rollback failed")
		return
	}
	item.RolledBack = true
	o.logger.Info().
		Str("target", target.Host).
		Str("violation", item.ViolationID).
		Msg("Rolled back failed remediation")
}

// verify re-reads the target after a successful fix. Mismatches are attached
// to the item without changing its status.
func (o *Orchestrator) verify(ctx context.Context, target engine.Target, v engine.Violation, item *ItemResult, summary *ValidationSummary) {
	ok, err := o.verified(ctx, target, v)
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str("target", target.Host).
			Str("violation", item.ViolationID).
			Msg("Post-remediation verification failed to execute")
	}
	if ok {
		summary.Passed++
		return
	}
	summary.Failed++
	item.ValidationError = MsgValidationMismatch
}

func (o *Orchestrator) verified(ctx context.Context, target engine.Target, v engine.Violation) (bool, error) {
	if v.Expected != nil && v.Parameter != "" {
		current, err := o.executor.CurrentValue(ctx, target, v.Parameter)
		if err != nil {
			return false, err
		}
		return engine.ValuesEqual(v.Expected, current), nil
	}
	return o.executor.Check(ctx, target, engine.CheckSpec{
		PolicyName:    v.PolicyName,
		RequirementID: v.RequirementID,
		Parameter:     v.Parameter,
	})
}

func (o *Orchestrator) recordAudit(ctx context.Context, target engine.Target, result *Result) {
	if o.audit == nil {
		return
	}
	status := "success"
	switch {
	case result.Cancelled:
		status = "cancelled"
	case !result.RemediationSuccessful:
		status = "failed"
	}
	record := engine.AuditRecord{
		ID:             result.RunID,
		Operation:      "remediate",
		Target:         target.Host,
		Status:         status,
		StartedAt:      result.StartedAt,
		CompletedAt:    result.CompletedAt,
		Attempted:      result.Attempted,
		Successful:     result.Successful,
		Failed:         result.Failed,
		BackupLocation: result.BackupPath,
		Details:        result,
	}
	if err := o.audit.RecordAudit(context.WithoutCancel(ctx), record); err != nil {
		o.logger.Warn().Err(err).Str("target", target.Host).Msg("Failed to record remediation audit")
	}
}
