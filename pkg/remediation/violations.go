package remediation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/openfroyo/policyforge/pkg/engine"
)

// FromDrift converts drift records into violations. Drifted parameters are
// configured back to their baseline value. Unauthorized additions have no
// baseline value to restore, so they are left for a human.
func FromDrift(records []engine.DriftRecord) []engine.Violation {
	violations := make([]engine.Violation, 0, len(records))
	for _, rec := range records {
		v := engine.Violation{
			ViolationID: uuid.NewString(),
			PolicyName:  "baseline",
			Parameter:   rec.Parameter,
			Description: fmt.Sprintf("Parameter %s drifted from baseline", rec.Parameter),
			Severity:    rec.Severity,
			Category:    rec.Category,
			Finding:     fmt.Sprintf("expected %v, found %v", rec.Expected, rec.Actual),
			Remediation: fmt.Sprintf("Restore %s to its baseline value", rec.Parameter),
			Expected:    rec.Expected,
			Actual:      rec.Actual,
			Source:      engine.SourceDrift,
		}
		if rec.Category == engine.CategoryUnauthorizedChange {
			v.Description = fmt.Sprintf("Parameter %s is not in baseline", rec.Parameter)
			v.Finding = rec.Note
			v.Remediation = fmt.Sprintf("Review %s and either remove it or add it to the baseline", rec.Parameter)
			v.RemediationStrategy = string(StrategyManual)
		}
		violations = append(violations, v)
	}
	return violations
}
