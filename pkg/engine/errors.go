package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an engine error for propagation decisions.
type ErrorKind string

const (
	// ErrorKindStructural indicates a malformed policy or missing required input.
	// Fatal: the run aborts.
	ErrorKindStructural ErrorKind = "structural"

	// ErrorKindValidation indicates policy rule violations.
	// Reported in results; fatal only in strict mode.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindCheckExecution indicates the check executor failed.
	// Recorded as a failed check; never aborts the batch.
	ErrorKindCheckExecution ErrorKind = "check_execution"

	// ErrorKindApprovalDenied indicates the approval gate rejected a batch.
	// Fatal for the current batch only.
	ErrorKindApprovalDenied ErrorKind = "approval_denied"

	// ErrorKindBackupFailure indicates a backup could not be created.
	// Fatal before any mutation is attempted.
	ErrorKindBackupFailure ErrorKind = "backup_failure"

	// ErrorKindRemediationFailure indicates a single remediation failed.
	// Triggers a rollback attempt, then processing continues.
	ErrorKindRemediationFailure ErrorKind = "remediation_failure"

	// ErrorKindRollbackFailure indicates a rollback failed.
	// Recorded and surfaced; never fatal.
	ErrorKindRollbackFailure ErrorKind = "rollback_failure"
)

// Fatal reports whether errors of this kind abort the whole run.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrorKindStructural, ErrorKindApprovalDenied, ErrorKindBackupFailure:
		return true
	default:
		return false
	}
}

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Target is the host the error relates to, if any.
	Target string `json:"target,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	switch {
	case e.Target != "" && e.Operation != "":
		msg += fmt.Sprintf(" (target=%s, operation=%s)", e.Target, e.Operation)
	case e.Target != "":
		msg += fmt.Sprintf(" (target=%s)", e.Target)
	case e.Operation != "":
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when their kind and code match.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Fatal reports whether the error aborts the whole run.
func (e *EngineError) Fatal() bool {
	return e.Kind.Fatal()
}

func newError(kind ErrorKind, code, message string, err error) *EngineError {
	return &EngineError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewStructuralError creates a new structural error.
func NewStructuralError(message string, err error) *EngineError {
	return newError(ErrorKindStructural, ErrCodeStructural, message, err)
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return newError(ErrorKindValidation, ErrCodeValidation, message, err)
}

// NewCheckExecutionError creates a new check execution error.
func NewCheckExecutionError(message string, err error) *EngineError {
	return newError(ErrorKindCheckExecution, ErrCodeCheckFailed, message, err)
}

// NewApprovalDeniedError creates a new approval denied error.
func NewApprovalDeniedError(message string) *EngineError {
	return newError(ErrorKindApprovalDenied, ErrCodeApprovalDenied, message, nil)
}

// NewBackupFailureError creates a new backup failure error.
func NewBackupFailureError(message string, err error) *EngineError {
	return newError(ErrorKindBackupFailure, ErrCodeBackupFailed, message, err)
}

// NewRemediationFailureError creates a new remediation failure error.
func NewRemediationFailureError(message string, err error) *EngineError {
	return newError(ErrorKindRemediationFailure, ErrCodeRemediationFailed, message, err)
}

// NewRollbackFailureError creates a new rollback failure error.
func NewRollbackFailureError(message string, err error) *EngineError {
	return newError(ErrorKindRollbackFailure, ErrCodeRollbackFailed, message, err)
}

// WithTarget adds target context to an error.
func (e *EngineError) WithTarget(target string) *EngineError {
	e.Target = target
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode overrides the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first EngineError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func isKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsStructural returns true if the error is classified as structural.
func IsStructural(err error) bool {
	return isKind(err, ErrorKindStructural)
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	return isKind(err, ErrorKindValidation)
}

// IsCheckExecution returns true if the error came from the check executor.
func IsCheckExecution(err error) bool {
	return isKind(err, ErrorKindCheckExecution)
}

// IsApprovalDenied returns true if the approval gate rejected the batch.
func IsApprovalDenied(err error) bool {
	return isKind(err, ErrorKindApprovalDenied)
}

// IsBackupFailure returns true if a backup could not be created.
func IsBackupFailure(err error) bool {
	return isKind(err, ErrorKindBackupFailure)
}

// IsRemediationFailure returns true if a remediation failed.
func IsRemediationFailure(err error) bool {
	return isKind(err, ErrorKindRemediationFailure)
}

// IsRollbackFailure returns true if a rollback failed.
func IsRollbackFailure(err error) bool {
	return isKind(err, ErrorKindRollbackFailure)
}

// IsFatal returns true if err aborts the whole run.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	return ok && k.Fatal()
}

// Common error codes.
const (
	ErrCodeStructural        = "STRUCTURAL_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeCheckFailed       = "CHECK_EXECUTION_FAILED"
	ErrCodeApprovalDenied    = "APPROVAL_DENIED"
	ErrCodeBackupFailed      = "BACKUP_FAILED"
	ErrCodeRemediationFailed = "REMEDIATION_FAILED"
	ErrCodeRollbackFailed    = "ROLLBACK_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnknownStrategy   = "UNKNOWN_STRATEGY"
	ErrCodeTimeout           = "TIMEOUT"
)

// NewNotFoundError reports that a parameter does not exist on the target.
// Executors return it from CurrentValue so callers can tell an absent
// parameter from a failed read.
func NewNotFoundError(target, parameter string) *EngineError {
	return newError(ErrorKindCheckExecution, ErrCodeNotFound, fmt.Sprintf("parameter %q not found", parameter), nil).
		WithTarget(target)
}

// IsNotFound returns true if err reports an absent parameter.
func IsNotFound(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Code == ErrCodeNotFound
}
