package recommend

import (
	"testing"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/stretchr/testify/assert"
)

func TestCompliance(t *testing.T) {
	t.Run("no findings", func(t *testing.T) {
		got := Compliance(nil, []FrameworkScore{{Name: "policy", Checked: 3, Passed: 3}})
		assert.Equal(t, []string{FullyCompliant}, got)
	})

	t.Run("severity, framework and source lines", func(t *testing.T) {
		violations := []engine.Violation{
			{Severity: engine.SeverityHigh, Description: "Source code repository is public"},
			{Severity: engine.SeverityCritical, Description: "Root login enabled"},
			{Severity: engine.SeverityHigh, Description: "Weak ciphers"},
			{Severity: engine.SeverityLow, Description: "Banner missing"},
		}
		frameworks := []FrameworkScore{
			{Name: "policy", Checked: 8, Passed: 4},
			{Name: "nist_800_53", Checked: 2, Passed: 2},
			{Name: "disa_stig", Checked: 3, Passed: 1},
			{Name: "nerc_cip", Checked: 0, Passed: 0},
		}

		got := Compliance(violations, frameworks)
		assert.Equal(t, []string{
			"CRITICAL: 1 source protection violations found - immediate action required",
			"URGENT: Address 1 critical severity violations immediately",
			"HIGH PRIORITY: Remediate 2 high severity violations within 24 hours",
			"LOW PRIORITY: Address 1 low severity findings during next maintenance window",
			"POLICY: 4 controls not compliant (Score: 50.0%)",
			"DISA_STIG: 2 controls not compliant (Score: 33.3%)",
		}, got)
	})

	t.Run("medium only", func(t *testing.T) {
		got := Compliance([]engine.Violation{{Severity: engine.SeverityMedium}}, nil)
		assert.Equal(t, []string{"MEDIUM PRIORITY: Review and update 1 medium severity findings within 7 days"}, got)
	})
}

func TestDrift(t *testing.T) {
	t.Run("not detected", func(t *testing.T) {
		assert.Equal(t, []string{NoDrift}, Drift(false, 50, nil))
	})

	t.Run("significant drift", func(t *testing.T) {
		details := []engine.DriftRecord{
			{Parameter: "ssl.minimum_version", Severity: engine.SeverityCritical, Category: engine.CategorySecurity},
			{Parameter: "session.timeout", Severity: engine.SeverityHigh, Category: engine.CategorySecurity},
			{Parameter: "motd", Severity: engine.SeverityMedium, Category: engine.CategoryUnauthorizedChange},
		}
		got := Drift(true, 50, details)
		assert.Equal(t, []string{
			"URGENT: 1 critical severity drift items detected - immediate remediation required",
			"HIGH PRIORITY: Remediate 1 high severity drift items within 24 hours",
			"MEDIUM PRIORITY: Review 1 medium severity drift items",
			"Significant drift detected (50.0%) - consider full baseline re-application",
			"Security drift detected: 2 security parameters have changed",
			"Unauthorized changes detected: 1 parameters not in baseline",
			"Review change logs to identify source of drift",
			"Execute drift remediation playbook to restore compliance",
			"Investigate and document any intentional changes",
		}, got)
	})

	t.Run("moderate drift", func(t *testing.T) {
		got := Drift(true, 12.5, []engine.DriftRecord{{Severity: engine.SeverityLow, Category: engine.CategoryGeneral}})
		assert.Equal(t, "LOW PRIORITY: Address 1 low severity drift items during next maintenance window", got[0])
		assert.Equal(t, "Moderate drift detected (12.5%) - review change control processes", got[1])
		assert.Len(t, got, 5)
	})
}

func TestPrioritize(t *testing.T) {
	violations := []engine.Violation{
		{ViolationID: "a", Severity: engine.SeverityLow, Parameter: "banner"},
		{ViolationID: "b", Severity: engine.SeverityCritical, Parameter: "root_login", PolicyName: "SSH", Finding: "enabled"},
		{ViolationID: "c", Severity: "unknown"},
		{ViolationID: "d", Severity: engine.SeverityCritical, Parameter: "telnet"},
	}

	actions := Prioritize(violations)
	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, a.ViolationID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
	assert.Equal(t, "URGENT", actions[0].Tier)
	assert.Equal(t, "Remediate root_login immediately (SSH): enabled", actions[0].Message)
	assert.Equal(t, "LOW PRIORITY", actions[3].Tier)

	assert.Equal(t, "b", violations[1].ViolationID, "input must not be reordered")
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, "within 24 hours", TierFor(engine.SeverityHigh).SLA)
	assert.Equal(t, "LOW PRIORITY", TierFor("bogus").Label)
	assert.Len(t, Tiers(), 4)
}
