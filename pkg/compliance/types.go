package compliance

import (
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
)

// PolicyBucket is the framework status key for requirement checks.
const PolicyBucket = "policy"

// Defaults applied to violations when the policy leaves fields empty.
const (
	DefaultFinding     = "Requirement not met"
	DefaultRemediation = "Manual remediation required"
	DefaultImpact      = "Unknown impact"
	DefaultDescription = "No description"
)

// Options controls an evaluation run.
type Options struct {
	// Frameworks are evaluated for policies that map them. Empty means the defaults.
	Frameworks []policy.Framework

	// SeverityThreshold skips policies ranked below it. Empty means low.
	SeverityThreshold engine.Severity
}

// FrameworkResult aggregates the checks of one framework or of the policy bucket.
type FrameworkResult struct {
	// ControlsChecked is the number of items checked.
	ControlsChecked int `json:"controls_checked"`

	// ControlsPassed is the number of items that passed.
	ControlsPassed int `json:"controls_passed"`

	// Findings identify the items that failed.
	Findings []string `json:"findings"`

	// Score is the pass rate in percent, rounded to 2 decimals.
	Score float64 `json:"score"`

	// Compliant is true only for a score of exactly 100.
	Compliant bool `json:"compliant"`
}

// Result is the outcome of evaluating policies against one target.
type Result struct {
	Target            string                      `json:"target"`
	Compliant         bool                        `json:"compliant"`
	ComplianceScore   float64                     `json:"compliance_score"`
	TotalChecks       int                         `json:"total_checks"`
	PassedChecks      int                         `json:"passed_checks"`
	FailedChecks      int                         `json:"failed_checks"`
	Violations        []engine.Violation          `json:"violations"`
	FrameworkStatus   map[string]*FrameworkResult `json:"framework_status"`
	Recommendations   []string                    `json:"recommendations"`
	PoliciesEvaluated int                         `json:"policies_evaluated"`
	PoliciesSkipped   int                         `json:"policies_skipped"`
	EvaluatedAt       time.Time                   `json:"evaluated_at"`

	// FrameworkOrder lists FrameworkStatus keys in first-seen order.
	FrameworkOrder []string `json:"-"`
}

// bucket returns the aggregate for name, creating it on first use.
func (r *Result) bucket(name string) *FrameworkResult {
	if fr, ok := r.FrameworkStatus[name]; ok {
		return fr
	}
	fr := &FrameworkResult{Findings: []string{}}
	r.FrameworkStatus[name] = fr
	r.FrameworkOrder = append(r.FrameworkOrder, name)
	return fr
}
