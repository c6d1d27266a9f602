package policy

// Extension is a Rego module that adds domain rules to validation.
// Modules produce findings through two partial set rules:
//
//	warn contains {"field": ..., "message": ..., "severity": ...} if { ... }
//	deny contains {"field": ..., "message": ..., "severity": ...} if { ... }
//
// warn findings become validation warnings and deny findings become errors.
// The policy document is the input.
type Extension struct {
	// Name identifies the extension in logs and findings.
	Name string `json:"name"`

	// Description explains the rule.
	Description string `json:"description"`

	// Rego is the module source.
	Rego string `json:"rego"`
}

// BuiltinExtensions returns the domain rules enabled in source protection mode.
func BuiltinExtensions() []Extension {
	return []Extension{
		sourceProtectionExtension(),
		criticalApprovalExtension(),
	}
}

// sourceProtectionExtension warns when a policy does not address source protection.
func sourceProtectionExtension() Extension {
	return Extension{
		Name:        "source-protection",
		Description: "Policies should declare a source_protection section",
		Rego: `package policyforge.extensions.source_protection

import rego.v1

warn contains finding if {
	section := object.get(input, "policy", {})
	not has_key(section, "source_protection")
	finding := {
		"field": "policy.source_protection",
		"message": "Policy should address source protection requirements",
		"severity": "high",
	}
}

has_key(obj, key) if {
	_ = obj[key]
}
`,
	}
}

// criticalApprovalExtension requires dual approval for critical policies.
func criticalApprovalExtension() Extension {
	return Extension{
		Name:        "critical-approval",
		Description: "Critical severity policies require at least two approvers",
		Rego: `package policyforge.extensions.critical_approval

import rego.v1

deny contains finding if {
	input.metadata.severity == "critical"
	object.get(input, ["approval", "required_approvers"], 0) < 2
	finding := {
		"field": "approval.required_approvers",
		"message": "Critical severity policies require at least 2 approvers",
		"severity": "high",
	}
}
`,
	}
}
