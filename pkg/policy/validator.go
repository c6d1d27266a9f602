package policy

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// minDescriptionLength is the description length below which a warning is issued.
const minDescriptionLength = 50

// requiredMetadata lists the metadata fields every policy must declare.
var requiredMetadata = []string{"name", "version", "description", "owner", "severity"}

// Issue is a single validation finding.
type Issue struct {
	// Field is the dotted path of the offending field.
	Field string `json:"field"`

	// Message describes the problem.
	Message string `json:"message"`

	// Severity is how serious the finding is.
	Severity engine.Severity `json:"severity"`

	// Rule names the rule that produced the finding, such as "structure" or an extension name.
	Rule string `json:"rule,omitempty"`
}

// FrameworkStatus records whether a policy maps to a framework.
type FrameworkStatus struct {
	// Compliant is true when the policy lists at least one mapped item.
	Compliant bool `json:"compliant"`

	// Mapping is the framework mapping key, such as "controls".
	Mapping string `json:"mapping"`

	// Items are the mapped controls, findings, requirements or standards.
	Items []string `json:"items"`
}

// Options controls a validation run.
type Options struct {
	// PolicyType selects the type-specific rules. Empty skips them.
	PolicyType Type

	// Frameworks are cross-checked against the compliance section. Empty means the defaults.
	Frameworks []Framework

	// StrictMode makes any warning invalidate the policy.
	StrictMode bool

	// SourceProtection enables the built-in domain extension rules.
	SourceProtection bool
}

// ValidationResult is the outcome of validating one policy document.
type ValidationResult struct {
	Valid            bool                          `json:"valid"`
	Errors           []Issue                       `json:"errors"`
	Warnings         []Issue                       `json:"warnings"`
	ComplianceStatus map[Framework]FrameworkStatus `json:"compliance_status"`
	PolicyMetadata   map[string]any                `json:"policy_metadata"`
	PolicyType       Type                          `json:"policy_type,omitempty"`
}

// Err returns nil for a valid result, otherwise an error summarizing the findings.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	if len(msgs) == 0 {
		msgs = append(msgs, fmt.Sprintf("%d warnings in strict mode", len(r.Warnings)))
	}
	return engine.NewStructuralError("policy validation failed: "+strings.Join(msgs, "; "), nil).
		WithDetail("errors", len(r.Errors)).
		WithDetail("warnings", len(r.Warnings))
}

func (r *ValidationResult) addError(field, message string, severity engine.Severity, rule string) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: message, Severity: severity, Rule: rule})
}

func (r *ValidationResult) addWarning(field, message string, severity engine.Severity, rule string) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: message, Severity: severity, Rule: rule})
}

// Validator checks policy documents for structure, metadata, type rules,
// framework mappings, extension rules and schemas. It never mutates documents.
type Validator struct {
	builtin *ExtensionEngine
	custom  *ExtensionEngine
	schemas *SchemaRegistry
	logger  zerolog.Logger
}

// NewValidator creates a validator. custom and schemas may be nil.
func NewValidator(ctx context.Context, logger zerolog.Logger, custom *ExtensionEngine, schemas *SchemaRegistry) (*Validator, error) {
	builtin, err := NewExtensionEngine(ctx, logger, BuiltinExtensions())
	if err != nil {
		return nil, fmt.Errorf("failed to compile built-in extensions: %w", err)
	}

	return &Validator{
		builtin: builtin,
		custom:  custom,
		schemas: schemas,
		logger:  logger.With().Str("component", "policy-validator").Logger(),
	}, nil
}

// Validate validates a policy document. An error is returned only when the
// document is nil or an extension cannot be evaluated; rule findings are
// reported in the result.
func (v *Validator) Validate(ctx context.Context, doc *Document, opts Options) (*ValidationResult, error) {
	if doc == nil {
		return nil, engine.NewStructuralError("policy document is nil", nil)
	}

	ctx, span := otel.Tracer("policyforge/policy").Start(ctx, "policy.Validate")
	defer span.End()
	span.SetAttributes(
		attribute.String("policy.name", doc.Name()),
		attribute.String("policy.type", string(opts.PolicyType)),
	)

	result := &ValidationResult{
		Errors:           []Issue{},
		Warnings:         []Issue{},
		ComplianceStatus: make(map[Framework]FrameworkStatus),
		PolicyType:       opts.PolicyType,
		PolicyMetadata: map[string]any{
			"name":                 doc.Metadata.Name,
			"version":              doc.Metadata.Version,
			"severity":             string(doc.Metadata.Severity),
			"hash":                 doc.Hash,
			"validation_timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	if !v.validateStructure(doc, result) {
		return v.finish(doc, result, opts), nil
	}

	v.validateMetadata(doc, result)
	v.validateType(doc, opts.PolicyType, result)
	v.validateFrameworks(doc, opts.Frameworks, result)

	if opts.SourceProtection {
		if err := v.applyExtensions(ctx, v.builtin, doc, result); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	if v.custom != nil {
		if err := v.applyExtensions(ctx, v.custom, doc, result); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if v.schemas != nil && opts.PolicyType != "" {
		result.Errors = append(result.Errors, v.schemas.Validate(opts.PolicyType, doc)...)
	}

	return v.finish(doc, result, opts), nil
}

func (v *Validator) finish(doc *Document, result *ValidationResult, opts Options) *ValidationResult {
	result.Valid = len(result.Errors) == 0
	if opts.StrictMode && len(result.Warnings) > 0 {
		result.Valid = false
	}

	v.logger.Debug().
		Str("policy", doc.Name()).
		Bool("valid", result.Valid).
		Int("errors", len(result.Errors)).
		Int("warnings", len(result.Warnings)).
		Msg("Policy validated")

	return result
}

// validateStructure reports missing top-level sections. It returns false
// when the document is too incomplete for further checks.
func (v *Validator) validateStructure(doc *Document, result *ValidationResult) bool {
	ok := true
	for _, section := range []string{"metadata", "policy"} {
		if !doc.HasSection(section) {
			result.addError(section, fmt.Sprintf("Missing required section: %s", section), engine.SeverityCritical, "structure")
			ok = false
		}
	}
	if !doc.HasSection("enforcement") {
		result.addWarning("enforcement", "Policy missing 'enforcement' section - using defaults", engine.SeverityMedium, "structure")
	}
	return ok
}

func (v *Validator) validateMetadata(doc *Document, result *ValidationResult) {
	meta := asMap(doc.Raw["metadata"])
	for _, field := range requiredMetadata {
		if asString(meta[field]) == "" {
			result.addError("metadata."+field, fmt.Sprintf("Missing required metadata field: %s", field), engine.SeverityHigh, "metadata")
		}
	}

	if sev := doc.Metadata.Severity; sev != "" && !sev.Valid() {
		result.addError("metadata.severity",
			fmt.Sprintf("Invalid severity '%s'. Must be one of: critical, high, medium, low", sev),
			engine.SeverityHigh, "metadata")
	}

	if version := doc.Metadata.Version; version != "" {
		if _, err := semver.StrictNewVersion(version); err != nil {
			result.addWarning("metadata.version",
				fmt.Sprintf("Version '%s' does not follow semantic versioning (X.Y.Z)", version),
				engine.SeverityLow, "metadata")
		}
	}

	if n := utf8.RuneCountInString(doc.Metadata.Description); n > 0 && n < minDescriptionLength {
		result.addWarning("metadata.description",
			fmt.Sprintf("Description is short (%d chars). Recommend >%d chars for clarity", n, minDescriptionLength),
			engine.SeverityLow, "metadata")
	}
}

func (v *Validator) validateType(doc *Document, t Type, result *ValidationResult) {
	if t == "" {
		return
	}

	rules, ok := typeRules(t)
	if !ok {
		result.addError("policy_type", fmt.Sprintf("Unknown policy type: %s", t), engine.SeverityHigh, "type")
		return
	}

	section := doc.PolicySection()
	for _, rule := range rules {
		if rule.satisfied(section) {
			continue
		}
		switch rule.level {
		case levelError:
			result.addError(rule.field, rule.message, rule.severity, string(t))
		case levelWarning:
			result.addWarning(rule.field, rule.message, rule.severity, string(t))
		}
	}
}

func (v *Validator) validateFrameworks(doc *Document, frameworks []Framework, result *ValidationResult) {
	if len(frameworks) == 0 {
		frameworks = DefaultFrameworks
	}

	for _, f := range frameworks {
		items := doc.Items(f)
		result.ComplianceStatus[f] = FrameworkStatus{
			Compliant: len(items) > 0,
			Mapping:   f.MappingKey(),
			Items:     items,
		}
		if len(items) == 0 {
			result.addWarning("compliance."+string(f), fmt.Sprintf("No %s mapped", f.Label()), engine.SeverityMedium, "framework")
		}
	}
}

func (v *Validator) applyExtensions(ctx context.Context, ext *ExtensionEngine, doc *Document, result *ValidationResult) error {
	warnings, errs, err := ext.Evaluate(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to evaluate extensions: %w", err)
	}
	result.Warnings = append(result.Warnings, warnings...)
	result.Errors = append(result.Errors, errs...)
	return nil
}
