package engine

import (
	"strings"
	"time"
)

// Severity is the impact level of a policy, requirement or drift item.
type Severity string

const (
	// SeverityCritical requires immediate action and human approval before remediation.
	SeverityCritical Severity = "critical"

	// SeverityHigh should be remediated within 24 hours.
	SeverityHigh Severity = "high"

	// SeverityMedium should be reviewed within 7 days.
	SeverityMedium Severity = "medium"

	// SeverityLow can wait for the next maintenance window.
	SeverityLow Severity = "low"
)

// Severities lists every valid severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Rank returns the ordinal weight of the severity (critical=4 ... low=1).
// Unknown severities rank 0 so they never pass a threshold.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Order returns the processing position used when sorting remediation work.
// Unknown severities sort last.
func (s Severity) Order() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 99
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s ranks at or above threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() >= threshold.Rank()
}

// ParseSeverity converts a string into a Severity, ignoring case and surrounding space.
func ParseSeverity(value string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	return s, s.Valid()
}

// Platform identifies the platform family of a target.
type Platform string

const (
	// PlatformCiscoIOS is Cisco IOS network gear.
	PlatformCiscoIOS Platform = "cisco_ios"

	// PlatformPaloAlto is PAN-OS firewalls.
	PlatformPaloAlto Platform = "palo_alto"

	// PlatformVMware is vSphere / ESXi managed through PowerCLI.
	PlatformVMware Platform = "vmware"

	// PlatformLinux is a generic Linux host.
	PlatformLinux Platform = "linux"

	// PlatformGeneric is any platform without dedicated command syntax.
	PlatformGeneric Platform = "generic"
)

// Target identifies a single host the engine operates on.
type Target struct {
	// Host is the hostname or address of the target.
	Host string `json:"host" yaml:"host"`

	// Platform is the platform family of the target.
	Platform Platform `json:"platform" yaml:"platform"`

	// Labels are free-form attributes available to check expressions.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// String returns the host name.
func (t Target) String() string {
	return t.Host
}

// CheckSpec describes a single verification to run against a target.
type CheckSpec struct {
	// PolicyName is the policy that owns the check.
	PolicyName string `json:"policy_name,omitempty"`

	// RequirementID is the requirement being checked, if any.
	RequirementID string `json:"requirement_id,omitempty"`

	// Parameter is the configuration parameter under test.
	Parameter string `json:"parameter,omitempty"`

	// Expected is the value the parameter must hold.
	Expected any `json:"expected,omitempty"`

	// Command is a platform command whose output is compared with Expected.
	Command string `json:"command,omitempty"`

	// Expression is a boolean expression evaluated over the current value.
	Expression string `json:"expression,omitempty"`

	// Framework is set for framework control checks.
	Framework string `json:"framework,omitempty"`

	// Control is the framework control, finding, requirement or standard ID.
	Control string `json:"control,omitempty"`

	// Params carries any additional check_spec fields verbatim.
	Params map[string]any `json:"params,omitempty"`
}

// ActionKind is the kind of mutation requested from an executor.
type ActionKind string

const (
	// ActionConfigure sets a parameter to a value.
	ActionConfigure ActionKind = "configure"

	// ActionScript runs a named remediation script.
	ActionScript ActionKind = "script"

	// ActionPlaybook runs a named remediation playbook.
	ActionPlaybook ActionKind = "playbook"

	// ActionRestore restores a configuration backup.
	ActionRestore ActionKind = "restore"
)

// Action is a mutating request passed to CheckExecutor.Apply.
type Action struct {
	// Kind is the kind of mutation.
	Kind ActionKind `json:"kind"`

	// Parameter is the parameter being configured.
	Parameter string `json:"parameter,omitempty"`

	// Value is the desired value for configure actions.
	Value any `json:"value,omitempty"`

	// Command is the platform-specific command line describing the change.
	Command string `json:"command,omitempty"`

	// Artifact names the script or playbook to run.
	Artifact string `json:"artifact,omitempty"`

	// Description is a human-readable summary of the change.
	Description string `json:"description,omitempty"`

	// Backup is the backup being restored for restore actions.
	Backup *BackupHandle `json:"backup,omitempty"`

	// Payload is the backup content for restore actions.
	Payload []byte `json:"-"`
}

// ApplyResult is the outcome of an Apply call.
type ApplyResult struct {
	// Applied reports whether the change took effect.
	Applied bool `json:"applied"`

	// Detail is executor-specific output describing what happened.
	Detail string `json:"detail,omitempty"`
}

// ViolationSource records which stage produced a violation.
type ViolationSource string

const (
	// SourceEvaluation marks violations from requirement checks.
	SourceEvaluation ViolationSource = "evaluation"

	// SourceDrift marks violations converted from drift records.
	SourceDrift ViolationSource = "drift"
)

// Violation is a requirement or drift item found non-compliant in one run.
// Violations are regenerated every run and never mutated once produced.
type Violation struct {
	// ViolationID uniquely identifies the violation within a run.
	ViolationID string `json:"violation_id,omitempty"`

	// PolicyName is the policy the violation belongs to.
	PolicyName string `json:"policy,omitempty"`

	// RequirementID is the failed requirement, if produced by evaluation.
	RequirementID string `json:"requirement_id,omitempty"`

	// Parameter is the configuration parameter involved.
	Parameter string `json:"parameter,omitempty"`

	// Description is the requirement or drift description.
	Description string `json:"description,omitempty"`

	// Severity is the violation's severity.
	Severity Severity `json:"severity"`

	// Category groups related parameters (security, general, unauthorized_change).
	Category string `json:"category,omitempty"`

	// Finding explains why the check failed.
	Finding string `json:"finding,omitempty"`

	// Remediation is the stored remediation text surfaced for manual work.
	Remediation string `json:"remediation,omitempty"`

	// Impact describes the consequence of leaving the violation open.
	Impact string `json:"impact,omitempty"`

	// Expected is the compliant value.
	Expected any `json:"expected,omitempty"`

	// Actual is the value observed on the target.
	Actual any `json:"actual,omitempty"`

	// RemediationStrategy overrides strategy inference when set.
	RemediationStrategy string `json:"remediation_strategy,omitempty"`

	// RemediationScript names the script used by the script strategy.
	RemediationScript string `json:"remediation_script,omitempty"`

	// RemediationPlaybook names the playbook used by the playbook strategy.
	RemediationPlaybook string `json:"remediation_playbook,omitempty"`

	// Source is the stage that produced the violation.
	Source ViolationSource `json:"source,omitempty"`
}

// ID returns the violation identifier, falling back to the requirement ID.
func (v Violation) ID() string {
	if v.ViolationID != "" {
		return v.ViolationID
	}
	if v.RequirementID != "" {
		return v.RequirementID
	}
	return "unknown"
}

// Drift categories with special handling.
const (
	CategoryGeneral            = "general"
	CategorySecurity           = "security"
	CategoryUnauthorizedChange = "unauthorized_change"
)

// DriftRecord is one parameter whose live value differs from its baseline.
type DriftRecord struct {
	// Parameter is the drifted parameter name.
	Parameter string `json:"parameter"`

	// Expected is the baseline value, nil for unauthorized additions.
	Expected any `json:"expected"`

	// Actual is the live value, nil when the parameter is missing.
	Actual any `json:"actual"`

	// Severity is taken from the baseline parameter metadata.
	Severity Severity `json:"severity"`

	// Category is taken from the baseline parameter metadata.
	Category string `json:"category"`

	// DetectedAt is when the drift was observed.
	DetectedAt time.Time `json:"detected_at"`

	// Note carries extra context, such as why an addition is suspicious.
	Note string `json:"note,omitempty"`

	// Changes lists JSON pointer paths that differ between expected and actual.
	Changes []string `json:"changes,omitempty"`
}

// ParameterSeverity pairs a drifted parameter with its severity in history entries.
type ParameterSeverity struct {
	Parameter string   `json:"parameter"`
	Severity  Severity `json:"severity"`
}

// HistoryEntry is the persisted summary of a single drift detection.
type HistoryEntry struct {
	// Timestamp is when the detection ran.
	Timestamp time.Time `json:"timestamp"`

	// DriftPercentage is the share of baseline parameters that drifted.
	DriftPercentage float64 `json:"drift_percentage"`

	// DriftedParameters is the number of drift items.
	DriftedParameters int `json:"drifted_parameters"`

	// CriticalDriftCount is the number of critical drift items.
	CriticalDriftCount int `json:"critical_drift_count"`

	// Summary lists each drifted parameter with its severity.
	Summary []ParameterSeverity `json:"drift_summary"`
}

// ApprovalRecord holds the approvers collected for a change.
type ApprovalRecord struct {
	// RequiredApprovers is the number of approvers the policy demands.
	RequiredApprovers int `json:"required_approvers" yaml:"required_approvers"`

	// Approvers lists who approved the change.
	Approvers []string `json:"approvers" yaml:"approvers"`
}

// MinCriticalApprovers is the approver floor for critical changes.
const MinCriticalApprovers = 2

// Required returns the number of approvers needed, applying the critical floor.
// A record without an explicit requirement needs one approver.
func (a ApprovalRecord) Required(critical bool) int {
	required := a.RequiredApprovers
	if required <= 0 {
		required = 1
	}
	if critical && required < MinCriticalApprovers {
		required = MinCriticalApprovers
	}
	return required
}

// Distinct returns the approvers with surrounding space trimmed, blank names
// dropped and duplicates removed, in first-seen order.
func (a ApprovalRecord) Distinct() []string {
	seen := make(map[string]bool, len(a.Approvers))
	out := make([]string, 0, len(a.Approvers))
	for _, name := range a.Approvers {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Approved reports whether enough distinct approvers signed off.
func (a ApprovalRecord) Approved(critical bool) bool {
	return len(a.Distinct()) >= a.Required(critical)
}

// BackupHandle references a configuration snapshot taken before mutation.
type BackupHandle struct {
	// ID is the backup name, unique per host, platform and second.
	ID string `json:"id"`

	// Host is the backed-up target.
	Host string `json:"host"`

	// Platform is the target's platform family.
	Platform Platform `json:"platform"`

	// CreatedAt is when the backup was taken.
	CreatedAt time.Time `json:"created_at"`

	// Location is the store-specific path or URL of the backup.
	Location string `json:"location"`
}

// BackupName builds the canonical backup file name for a target.
func BackupName(target Target, at time.Time) string {
	platform := target.Platform
	if platform == "" {
		platform = PlatformGeneric
	}
	return target.Host + "_" + string(platform) + "_" + at.Format("20060102_150405") + ".backup"
}

// AuditRecord summarizes one remediation or enforcement run for audit storage.
type AuditRecord struct {
	// ID is the run identifier.
	ID string `json:"id"`

	// Operation is the kind of run (remediate, enforce).
	Operation string `json:"operation"`

	// Target is the host the run operated on.
	Target string `json:"target"`

	// Status is the overall outcome.
	Status string `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Attempted is the number of items attempted.
	Attempted int `json:"attempted"`

	// Successful is the number of items that succeeded.
	Successful int `json:"successful"`

	// Failed is the number of items that failed.
	Failed int `json:"failed"`

	// BackupLocation is the backup taken for the run, if any.
	BackupLocation string `json:"backup_location,omitempty"`

	// Details is the full run result.
	Details any `json:"details,omitempty"`
}
