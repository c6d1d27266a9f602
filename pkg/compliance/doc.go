// Package compliance evaluates policy requirements and compliance framework
// mappings against a target through an engine.CheckExecutor.
//
// Requirement checks and framework checks are tracked separately: the
// requirement results drive the overall score and the violation list, while
// each framework gets its own aggregate built from independent checks of its
// mapped controls. A result is compliant only when it has no violations,
// which is stricter than a score of 100.
package compliance
