package recommend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/policyforge/pkg/engine"
)

// Fixed recommendation lines.
const (
	FullyCompliant = "All compliance checks passed - system is fully compliant"
	NoDrift        = "No significant drift detected - configuration is compliant"
)

// driftFollowUps are appended to every drift recommendation list.
var driftFollowUps = []string{
	"Review change logs to identify source of drift",
	"Execute drift remediation playbook to restore compliance",
	"Investigate and document any intentional changes",
}

// FrameworkScore is the per-framework aggregate used for recommendations.
type FrameworkScore struct {
	// Name is the framework or bucket name, such as "nist_800_53" or "policy".
	Name string

	// Checked is the number of controls checked.
	Checked int

	// Passed is the number of controls that passed.
	Passed int
}

// Compliance returns recommendations for an evaluation run. Frameworks are
// reported in the order given.
func Compliance(violations []engine.Violation, frameworks []FrameworkScore) []string {
	var out []string

	source := 0
	for _, v := range violations {
		if strings.Contains(strings.ToLower(v.Description), "source") {
			source++
		}
	}
	if source > 0 {
		out = append(out, fmt.Sprintf("CRITICAL: %d source protection violations found - immediate action required", source))
	}

	counts := countViolations(violations)
	for _, t := range tiers {
		if n := counts[t.Severity]; n > 0 {
			out = append(out, fmt.Sprintf(t.complianceFormat, n))
		}
	}

	for _, f := range frameworks {
		if f.Checked == 0 {
			continue
		}
		score := float64(f.Passed) / float64(f.Checked) * 100
		if score < 100 {
			out = append(out, fmt.Sprintf("%s: %d controls not compliant (Score: %.1f%%)",
				strings.ToUpper(f.Name), f.Checked-f.Passed, score))
		}
	}

	if len(out) == 0 {
		out = append(out, FullyCompliant)
	}
	return out
}

// Drift returns recommendations for a drift detection run.
func Drift(detected bool, percentage float64, details []engine.DriftRecord) []string {
	if !detected {
		return []string{NoDrift}
	}

	var out []string

	counts := make(map[engine.Severity]int)
	categories := make(map[string]int)
	for _, d := range details {
		counts[d.Severity]++
		categories[d.Category]++
	}
	for _, t := range tiers {
		if n := counts[t.Severity]; n > 0 {
			out = append(out, fmt.Sprintf(t.driftFormat, n))
		}
	}

	switch {
	case percentage > 20:
		out = append(out, fmt.Sprintf("Significant drift detected (%.1f%%) - consider full baseline re-application", percentage))
	case percentage > 10:
		out = append(out, fmt.Sprintf("Moderate drift detected (%.1f%%) - review change control processes", percentage))
	}

	if n := categories[engine.CategorySecurity]; n > 0 {
		out = append(out, fmt.Sprintf("Security drift detected: %d security parameters have changed", n))
	}
	if n := categories[engine.CategoryUnauthorizedChange]; n > 0 {
		out = append(out, fmt.Sprintf("Unauthorized changes detected: %d parameters not in baseline", n))
	}

	return append(out, driftFollowUps...)
}

// Action is a single prioritized remediation task.
type Action struct {
	// Tier is the urgency label of the action.
	Tier string `json:"tier"`

	// SLA is the handling window.
	SLA string `json:"sla"`

	// Severity is the violation severity.
	Severity engine.Severity `json:"severity"`

	// ViolationID identifies the violation.
	ViolationID string `json:"violation_id"`

	// Message describes what to do.
	Message string `json:"message"`
}

// Prioritize ranks violations by severity, keeping input order within a
// tier, and describes the action for each.
func Prioritize(violations []engine.Violation) []Action {
	ordered := append([]engine.Violation(nil), violations...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Severity.Order() < ordered[j].Severity.Order()
	})

	actions := make([]Action, 0, len(ordered))
	for _, v := range ordered {
		t := TierFor(v.Severity)
		subject := v.Parameter
		if subject == "" {
			subject = v.ID()
		}
		msg := fmt.Sprintf("Remediate %s %s", subject, t.SLA)
		if v.PolicyName != "" {
			msg += fmt.Sprintf(" (%s)", v.PolicyName)
		}
		if v.Finding != "" {
			msg += ": " + v.Finding
		}
		actions = append(actions, Action{
			Tier:        t.Label,
			SLA:         t.SLA,
			Severity:    v.Severity,
			ViolationID: v.ID(),
			Message:     msg,
		})
	}
	return actions
}

func countViolations(violations []engine.Violation) map[engine.Severity]int {
	counts := make(map[engine.Severity]int)
	for _, v := range violations {
		counts[v.Severity]++
	}
	return counts
}
