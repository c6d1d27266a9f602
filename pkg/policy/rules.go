package policy

import (
	"fmt"
	"strings"

	"github.com/openfroyo/policyforge/pkg/engine"
)

// Type is the policy class supplied by the caller. It selects the
// type-specific rules applied during validation.
type Type string

const (
	TypeSecurity   Type = "security"
	TypeCompliance Type = "compliance"
	TypeNetwork    Type = "network"
	TypeAccess     Type = "access"
	TypeData       Type = "data"
	TypeBackup     Type = "backup"
	TypeMonitoring Type = "monitoring"
	TypeChange     Type = "change"
)

// Types lists every policy type.
var Types = []Type{
	TypeSecurity, TypeCompliance, TypeNetwork, TypeAccess,
	TypeData, TypeBackup, TypeMonitoring, TypeChange,
}

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := typeRules(t); !ok {
		return "", fmt.Errorf("unknown policy type: %s", s)
	}
	return t, nil
}

// level separates blocking findings from advisory ones.
type level int

const (
	levelError level = iota
	levelWarning
)

// sectionRule requires one or more keys in the policy section.
type sectionRule struct {
	keys     []string
	field    string
	message  string
	level    level
	severity engine.Severity
}

// typeRules returns the rules for a policy type. The boolean is false for
// unknown types so callers report them instead of silently passing.
func typeRules(t Type) ([]sectionRule, bool) {
	switch t {
	case TypeSecurity:
		return []sectionRule{{
			keys: []string{"encryption"}, field: "policy.encryption",
			message: "Security policy should define encryption requirements",
			level:   levelWarning, severity: engine.SeverityMedium,
		}}, true
	case TypeCompliance:
		return []sectionRule{{
			keys: []string{"controls"}, field: "policy.controls",
			message: "Compliance policy must map to control frameworks",
			level:   levelError, severity: engine.SeverityHigh,
		}}, true
	case TypeNetwork:
		return []sectionRule{{
			keys: []string{"rules"}, field: "policy.rules",
			message: "Network policy should define firewall/routing rules",
			level:   levelWarning, severity: engine.SeverityMedium,
		}}, true
	case TypeAccess:
		return []sectionRule{{
			keys: []string{"roles"}, field: "policy.roles",
			message: "Access policy should define roles and permissions",
			level:   levelWarning, severity: engine.SeverityMedium,
		}}, true
	case TypeData:
		return []sectionRule{{
			keys: []string{"classification"}, field: "policy.classification",
			message: "Data policy must define data classification levels",
			level:   levelError, severity: engine.SeverityHigh,
		}}, true
	case TypeBackup:
		return []sectionRule{{
			keys: []string{"rpo", "rto"}, field: "policy.rpo/rto",
			message: "Backup policy must define RPO and RTO",
			level:   levelError, severity: engine.SeverityHigh,
		}}, true
	case TypeMonitoring:
		return []sectionRule{{
			keys: []string{"metrics"}, field: "policy.metrics",
			message: "Monitoring policy should define metrics and thresholds",
			level:   levelWarning, severity: engine.SeverityMedium,
		}}, true
	case TypeChange:
		return []sectionRule{{
			keys: []string{"approval_workflow"}, field: "policy.approval_workflow",
			message: "Change policy must define approval workflow",
			level:   levelError, severity: engine.SeverityHigh,
		}}, true
	default:
		return nil, false
	}
}

// satisfied reports whether every key of the rule is present.
func (r sectionRule) satisfied(section map[string]any) bool {
	for _, k := range r.keys {
		if _, ok := section[k]; !ok {
			return false
		}
	}
	return true
}
