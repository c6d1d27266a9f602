// Package engine provides the core types and interfaces for the policyforge reconciliation engine.
//
// # Overview
//
// policyforge evaluates declarative policy documents against infrastructure
// targets, detects configuration drift against recorded baselines, and
// orchestrates remediation with backup, approval and rollback guarantees.
// The pipeline runs in four stages:
//
//  1. Validate - Check policy documents for structural and domain rules (policy.Validator)
//  2. Evaluate - Run requirement and framework checks and score them (compliance.Evaluator)
//  3. Drift - Compare live state against a baseline and trend it over time (drift.Detector)
//  4. Remediate - Order, approve, apply, verify and roll back fixes (remediation.Orchestrator)
//
// # Core Domain Types
//
//   - Severity: The ordinal scale critical > high > medium > low
//   - Target: A host and the platform family it belongs to
//   - Violation: A non-compliant requirement or drift item for one run
//   - DriftRecord: A single baseline parameter that differs from live state
//   - HistoryEntry: The persisted summary of one drift detection
//   - BackupHandle: A reference to a configuration snapshot taken before mutation
//   - ApprovalRecord: The approvers collected for a critical change
//
// # Check Executor
//
// The engine never talks to devices directly. All verification and mutation
// goes through the CheckExecutor capability:
//
//	type CheckExecutor interface {
//	    Check(ctx context.Context, target Target, spec CheckSpec) (bool, error)
//	    Apply(ctx context.Context, target Target, action Action) (ApplyResult, error)
//	    CurrentValue(ctx context.Context, target Target, parameter string) (any, error)
//	}
//
// Implementations live in pkg/executor. Every call takes a context so callers
// can bound it with a timeout.
//
// # Errors
//
// Failures are reported as *EngineError values classified by ErrorKind.
// Kinds that guard a run's preconditions (structural, approval, backup) are
// fatal; per-item kinds are aggregated into results instead of aborting.
package engine
