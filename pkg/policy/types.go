package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openfroyo/policyforge/pkg/engine"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a policy or baseline document.
type Format string

const (
	// FormatYAML is YAML, also used for .yml files.
	FormatYAML Format = "yaml"

	// FormatJSON is JSON.
	FormatJSON Format = "json"
)

// FormatFromPath picks the document format from a file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	default:
		return "", false
	}
}

// Document is a loaded policy. It is immutable once loaded and identified
// by its path and content hash.
type Document struct {
	// Path is the file the document was loaded from, empty for in-memory documents.
	Path string `json:"path,omitempty"`

	// Hash is the sha256 of the document content.
	Hash string `json:"hash"`

	// Raw is the decoded document with all sections, including type-specific fields.
	Raw map[string]any `json:"-"`

	// Metadata is the metadata section.
	Metadata Metadata `json:"metadata"`

	// Requirements are the checkable assertions from policy.requirements.
	Requirements []Requirement `json:"requirements"`

	// Enforcement is the enforcement section, nil when absent.
	Enforcement *Enforcement `json:"enforcement,omitempty"`

	// Compliance maps framework names to their raw mapping.
	Compliance map[string]map[string]any `json:"compliance,omitempty"`

	// Approval is the approval section, nil when absent.
	Approval *engine.ApprovalRecord `json:"approval,omitempty"`
}

// Metadata is the metadata section of a policy.
type Metadata struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Owner       string          `json:"owner"`
	Severity    engine.Severity `json:"severity"`
	Impact      string          `json:"impact,omitempty"`
}

// Requirement is one checkable assertion inside a policy.
type Requirement struct {
	// ID identifies the requirement within its policy.
	ID string `json:"id"`

	// Description describes what is being asserted.
	Description string `json:"description"`

	// Parameter is the configuration parameter the requirement covers.
	Parameter string `json:"parameter,omitempty"`

	// ExpectedValue is the compliant value.
	ExpectedValue any `json:"expected_value,omitempty"`

	// CheckSpec is the raw check specification.
	CheckSpec map[string]any `json:"check_spec,omitempty"`

	// FailureMessage is reported as the finding when the check fails.
	FailureMessage string `json:"failure_message,omitempty"`

	// RemediationStrategy optionally pins the remediation strategy.
	RemediationStrategy string `json:"remediation_strategy,omitempty"`

	// RemediationScript names the script for the script strategy.
	RemediationScript string `json:"remediation_script,omitempty"`

	// RemediationPlaybook names the playbook for the playbook strategy.
	RemediationPlaybook string `json:"remediation_playbook,omitempty"`
}

// Enforcement is the enforcement section of a policy.
type Enforcement struct {
	// Actions are explicit changes applied by the enforcer.
	Actions []EnforcementAction `json:"actions,omitempty"`

	// RemediationSteps is the stored remediation text.
	RemediationSteps string `json:"remediation_steps,omitempty"`
}

// EnforcementAction is one explicit change in the enforcement section.
type EnforcementAction struct {
	Type        string `json:"type"`
	Target      string `json:"target"`
	Description string `json:"description"`
	Value       any    `json:"value,omitempty"`
}

// Name returns the policy name, or a placeholder when it is missing.
func (d *Document) Name() string {
	if d.Metadata.Name != "" {
		return d.Metadata.Name
	}
	return "Unknown Policy"
}

// Severity returns the policy severity, defaulting to medium when absent.
func (d *Document) Severity() engine.Severity {
	if d.Metadata.Severity == "" {
		return engine.SeverityMedium
	}
	return d.Metadata.Severity
}

// HasSection reports whether the top-level section exists.
func (d *Document) HasSection(name string) bool {
	_, ok := d.Raw[name]
	return ok
}

// PolicySection returns the raw policy section, or nil.
func (d *Document) PolicySection() map[string]any {
	return asMap(d.Raw["policy"])
}

// Parse decodes policy content in the given format.
func Parse(data []byte, format Format, path string) (*Document, error) {
	var raw map[string]any

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, engine.NewStructuralError("failed to parse policy JSON", err).WithTarget(path)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, engine.NewStructuralError("failed to parse policy YAML", err).WithTarget(path)
		}
	default:
		return nil, engine.NewStructuralError(fmt.Sprintf("unsupported policy format %q", format), nil).WithTarget(path)
	}

	if raw == nil {
		return nil, engine.NewStructuralError("policy document is empty", nil).WithTarget(path)
	}

	doc := build(raw)
	doc.Path = path
	doc.Hash = hashBytes(data)
	return doc, nil
}

// FromMap builds a document from already decoded content.
func FromMap(raw map[string]any) (*Document, error) {
	if raw == nil {
		return nil, engine.NewStructuralError("policy document is empty", nil)
	}

	doc := build(raw)
	data, err := json.Marshal(doc.Raw)
	if err != nil {
		return nil, engine.NewStructuralError("policy document is not serializable", err)
	}
	doc.Hash = hashBytes(data)
	return doc, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func build(raw map[string]any) *Document {
	normalized, _ := engine.Normalize(raw).(map[string]any)
	doc := &Document{Raw: normalized}

	meta := asMap(normalized["metadata"])
	doc.Metadata = Metadata{
		Name:        asString(meta["name"]),
		Version:     asString(meta["version"]),
		Description: asString(meta["description"]),
		Owner:       asString(meta["owner"]),
		Severity:    engine.Severity(asString(meta["severity"])),
		Impact:      asString(meta["impact"]),
	}

	body := asMap(normalized["policy"])
	for _, item := range asSlice(body["requirements"]) {
		req := asMap(item)
		if req == nil {
			continue
		}
		spec := asMap(req["check_spec"])
		if spec == nil {
			spec = asMap(req["check"])
		}
		doc.Requirements = append(doc.Requirements, Requirement{
			ID:                  asString(req["id"]),
			Description:         asString(req["description"]),
			Parameter:           asString(req["parameter"]),
			ExpectedValue:       req["expected_value"],
			CheckSpec:           spec,
			FailureMessage:      asString(req["failure_message"]),
			RemediationStrategy: asString(req["remediation_strategy"]),
			RemediationScript:   asString(req["remediation_script"]),
			RemediationPlaybook: asString(req["remediation_playbook"]),
		})
	}

	if _, ok := normalized["enforcement"]; ok {
		enf := asMap(normalized["enforcement"])
		doc.Enforcement = &Enforcement{RemediationSteps: stepsText(enf["remediation_steps"])}
		for _, item := range asSlice(enf["actions"]) {
			a := asMap(item)
			if a == nil {
				continue
			}
			doc.Enforcement.Actions = append(doc.Enforcement.Actions, EnforcementAction{
				Type:        asString(a["type"]),
				Target:      asString(a["target"]),
				Description: asString(a["description"]),
				Value:       a["value"],
			})
		}
	}

	if comp := asMap(normalized["compliance"]); comp != nil {
		doc.Compliance = make(map[string]map[string]any, len(comp))
		for fw, mapping := range comp {
			doc.Compliance[fw] = asMap(mapping)
		}
	}

	if _, ok := normalized["approval"]; ok {
		ap := asMap(normalized["approval"])
		doc.Approval = &engine.ApprovalRecord{
			RequiredApprovers: asInt(ap["required_approvers"]),
			Approvers:         asStrings(ap["approvers"]),
		}
	}

	return doc
}

// stepsText accepts remediation steps as a string or a list of strings.
func stepsText(v any) string {
	if list := asStrings(v); len(list) > 0 {
		return strings.Join(list, "; ")
	}
	return asString(v)
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func asStrings(v any) []string {
	items := asSlice(v)
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, asString(item))
	}
	return out
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case uint64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}
