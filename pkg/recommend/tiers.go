package recommend

import "github.com/openfroyo/policyforge/pkg/engine"

// Tier describes how urgently a severity level must be handled.
type Tier struct {
	// Severity is the severity the tier applies to.
	Severity engine.Severity `json:"severity"`

	// Label is the urgency prefix, such as "URGENT".
	Label string `json:"label"`

	// SLA is the handling window, such as "within 24 hours".
	SLA string `json:"sla"`

	complianceFormat string
	driftFormat      string
}

// tiers is ordered from most to least severe.
var tiers = []Tier{
	{
		Severity:         engine.SeverityCritical,
		Label:            "URGENT",
		SLA:              "immediately",
		complianceFormat: "URGENT: Address %d critical severity violations immediately",
		driftFormat:      "URGENT: %d critical severity drift items detected - immediate remediation required",
	},
	{
		Severity:         engine.SeverityHigh,
		Label:            "HIGH PRIORITY",
		SLA:              "within 24 hours",
		complianceFormat: "HIGH PRIORITY: Remediate %d high severity violations within 24 hours",
		driftFormat:      "HIGH PRIORITY: Remediate %d high severity drift items within 24 hours",
	},
	{
		Severity:         engine.SeverityMedium,
		Label:            "MEDIUM PRIORITY",
		SLA:              "within 7 days",
		complianceFormat: "MEDIUM PRIORITY: Review and update %d medium severity findings within 7 days",
		driftFormat:      "MEDIUM PRIORITY: Review %d medium severity drift items",
	},
	{
		Severity:         engine.SeverityLow,
		Label:            "LOW PRIORITY",
		SLA:              "during next maintenance window",
		complianceFormat: "LOW PRIORITY: Address %d low severity findings during next maintenance window",
		driftFormat:      "LOW PRIORITY: Address %d low severity drift items during next maintenance window",
	},
}

// TierFor returns the tier of a severity. Unknown severities get the low tier.
func TierFor(s engine.Severity) Tier {
	for _, t := range tiers {
		if t.Severity == s {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// Tiers returns the tier table from most to least severe.
func Tiers() []Tier {
	return append([]Tier(nil), tiers...)
}
