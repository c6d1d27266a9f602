// Package policy loads and validates policy-as-code documents.
//
// A policy document is YAML or JSON with five sections:
//
//	metadata:    name, version, description, owner, severity, impact
//	policy:      requirements plus type-specific fields
//	enforcement: actions and remediation_steps
//	compliance:  framework name to mapping (controls, findings, ...)
//	approval:    required_approvers and approvers
//
// # Loading
//
// Loader reads files and directories, caching documents by path and content
// hash, and can watch paths for changes:
//
//	loader := policy.NewLoader(logger)
//	docs, err := loader.LoadFromPaths(ctx, []string{"./policies"})
//
// # Validation
//
// Validator applies, in order, the structural checks, metadata rules,
// policy-type rules, framework cross-checks, Rego extension rules and
// optional JSON Schema or CUE schemas:
//
//	v, err := policy.NewValidator(ctx, logger, nil, nil)
//	result, err := v.Validate(ctx, doc, policy.Options{
//	    PolicyType:       policy.TypeSecurity,
//	    SourceProtection: true,
//	})
//
// Findings are returned in the result. Validate only returns an error for a
// nil document or a failing extension. In strict mode any warning makes the
// result invalid.
//
// # Extensions
//
// Extensions are Rego modules defining warn and deny partial sets. The
// built-in source protection rules are enabled by Options.SourceProtection;
// operator modules are loaded with ExtensionEngine.LoadFiles.
package policy
