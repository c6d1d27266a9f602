package policy

import (
	"fmt"
	"strings"
)

// Framework is an external compliance standard a policy can map to.
type Framework string

const (
	// FrameworkNIST80053 is NIST SP 800-53, mapped through "controls".
	FrameworkNIST80053 Framework = "nist_800_53"

	// FrameworkDISASTIG is DISA STIG, mapped through "findings".
	FrameworkDISASTIG Framework = "disa_stig"

	// FrameworkIEC62443 is IEC 62443 for OT/ICS, mapped through "requirements".
	FrameworkIEC62443 Framework = "iec_62443"

	// FrameworkNERCCIP is NERC CIP for critical infrastructure, mapped through "standards".
	FrameworkNERCCIP Framework = "nerc_cip"
)

// Frameworks lists every supported framework.
var Frameworks = []Framework{FrameworkNIST80053, FrameworkDISASTIG, FrameworkIEC62443, FrameworkNERCCIP}

// DefaultFrameworks are checked when the caller requests none.
var DefaultFrameworks = []Framework{FrameworkNIST80053, FrameworkDISASTIG}

// ParseFramework converts a string to a Framework.
func ParseFramework(s string) (Framework, error) {
	f := Framework(strings.ToLower(strings.TrimSpace(s)))
	if f.MappingKey() == "" {
		return "", fmt.Errorf("unknown compliance framework: %s", s)
	}
	return f, nil
}

// ParseFrameworks converts a list of strings, returning the defaults for an empty list.
func ParseFrameworks(values []string) ([]Framework, error) {
	if len(values) == 0 {
		return append([]Framework(nil), DefaultFrameworks...), nil
	}
	out := make([]Framework, 0, len(values))
	for _, v := range values {
		f, err := ParseFramework(v)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// MappingKey returns the field of the framework mapping that lists its items.
func (f Framework) MappingKey() string {
	switch f {
	case FrameworkNIST80053:
		return "controls"
	case FrameworkDISASTIG:
		return "findings"
	case FrameworkIEC62443:
		return "requirements"
	case FrameworkNERCCIP:
		return "standards"
	default:
		return ""
	}
}

// Label is the human-readable framework name used in warnings.
func (f Framework) Label() string {
	switch f {
	case FrameworkNIST80053:
		return "NIST 800-53 controls"
	case FrameworkDISASTIG:
		return "DISA STIG findings"
	case FrameworkIEC62443:
		return "IEC 62443 requirements"
	case FrameworkNERCCIP:
		return "NERC CIP standards"
	default:
		return string(f)
	}
}

// Items returns the controls, findings, requirements or standards a document
// maps for the framework.
func (d *Document) Items(f Framework) []string {
	mapping, ok := d.Compliance[string(f)]
	if !ok {
		return nil
	}
	return asStrings(mapping[f.MappingKey()])
}

// MapsFramework reports whether the document has a compliance section for f.
func (d *Document) MapsFramework(f Framework) bool {
	_, ok := d.Compliance[string(f)]
	return ok
}
