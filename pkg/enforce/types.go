package enforce

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/policyforge/pkg/policy"
)

// Mode selects what the enforcer does on each host.
type Mode string

const (
	ModeApply        Mode = "apply"
	ModeDryRun       Mode = "dry_run"
	ModeValidateOnly Mode = "validate_only"
)

// ParseMode converts a mode name. An empty name is dry_run.
func ParseMode(name string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(name))); m {
	case "":
		return ModeDryRun, nil
	case ModeApply, ModeDryRun, ModeValidateOnly:
		return m, nil
	default:
		return "", fmt.Errorf("unknown enforce mode %q", name)
	}
}

// DefaultMaxConcurrent is the host concurrency ceiling when none is set.
const DefaultMaxConcurrent = 5

// Options controls an enforcement run.
type Options struct {
	Mode Mode

	// CheckMode forces dry_run.
	CheckMode bool

	Backup             bool
	RollbackOnFailure  bool
	ValidationRequired bool
	ApprovalRequired   bool

	// Validation is passed to the policy validator.
	Validation policy.Options

	// MaxConcurrent bounds how many hosts run at once.
	MaxConcurrent int
}

// Change is one configuration change proposed or applied on a host.
type Change struct {
	Action        string     `json:"action"`
	Target        string     `json:"target"`
	Description   string     `json:"description"`
	ExpectedValue any        `json:"expected_value"`
	CurrentValue  any        `json:"current_value"`
	Command       string     `json:"command,omitempty"`
	Applied       bool       `json:"applied,omitempty"`
	AppliedAt     *time.Time `json:"applied_at,omitempty"`
}

// HostResult is the outcome on one host.
type HostResult struct {
	Host            string   `json:"host"`
	Success         bool     `json:"success"`
	ChangesMade     int      `json:"changes_made"`
	Errors          []string `json:"errors"`
	BackupCreated   bool     `json:"backup_created"`
	BackupPath      string   `json:"backup_path,omitempty"`
	Message         string   `json:"message,omitempty"`
	ProposedChanges []Change `json:"proposed_changes,omitempty"`
	AppliedChanges  []Change `json:"applied_changes,omitempty"`
	RolledBack      bool     `json:"rolled_back,omitempty"`
	RollbackError   string   `json:"rollback_error,omitempty"`
}

// Summary aggregates host results.
type Summary struct {
	TotalHosts      int      `json:"total_hosts"`
	Successful      int      `json:"successful"`
	Failed          int      `json:"failed"`
	TotalChanges    int      `json:"total_changes"`
	PoliciesApplied []string `json:"policies_applied"`
}

// ApprovalStatus describes the approval decision for an apply run.
type ApprovalStatus struct {
	Approved          bool     `json:"approved"`
	RequiredApprovers int      `json:"required_approvers"`
	ActualApprovers   int      `json:"actual_approvers"`
	Approvers         []string `json:"approvers"`
}

// Result is the outcome of an enforcement run.
type Result struct {
	RunID              string                   `json:"run_id"`
	Policy             string                   `json:"policy"`
	Mode               Mode                     `json:"mode"`
	Enforced           bool                     `json:"enforced"`
	EnforcementResults map[string]*HostResult   `json:"enforcement_results"`
	ValidationResults  *policy.ValidationResult `json:"validation_results,omitempty"`
	Approval           *ApprovalStatus          `json:"approval,omitempty"`
	ChangesSummary     Summary                  `json:"changes_summary"`
	RollbackPerformed  bool                     `json:"rollback_performed"`
	Changed            bool                     `json:"changed"`
	StartedAt          time.Time                `json:"started_at"`
	CompletedAt        time.Time                `json:"completed_at"`
}
