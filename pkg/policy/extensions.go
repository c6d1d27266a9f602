package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/rs/zerolog"
)

// ExtensionEngine evaluates Rego extension rules against policy documents.
type ExtensionEngine struct {
	mu      sync.RWMutex
	modules []*compiledExtension
	logger  zerolog.Logger
}

// compiledExtension is an extension with its queries prepared for reuse.
type compiledExtension struct {
	extension Extension
	pkg       string
	warn      rego.PreparedEvalQuery
	deny      rego.PreparedEvalQuery
}

// NewExtensionEngine creates an engine preloaded with the given extensions.
func NewExtensionEngine(ctx context.Context, logger zerolog.Logger, extensions []Extension) (*ExtensionEngine, error) {
	e := &ExtensionEngine{
		logger: logger.With().Str("component", "policy-extensions").Logger(),
	}

	for _, ext := range extensions {
		if err := e.Add(ctx, ext); err != nil {
			return nil, fmt.Errorf("failed to compile extension %s: %w", ext.Name, err)
		}
	}

	return e, nil
}

// Add compiles an extension and registers it. An extension with the same
// name replaces the previous one.
func (e *ExtensionEngine) Add(ctx context.Context, ext Extension) error {
	module, err := ast.ParseModule(ext.Name, ext.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse extension: %w", err)
	}
	pkg := module.Package.Path.String()

	warn, err := rego.New(
		rego.Module(ext.Name, ext.Rego),
		rego.Query(pkg+".warn"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare warn query: %w", err)
	}

	deny, err := rego.New(
		rego.Module(ext.Name, ext.Rego),
		rego.Query(pkg+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare deny query: %w", err)
	}

	compiled := &compiledExtension{extension: ext, pkg: pkg, warn: warn, deny: deny}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.modules {
		if existing.extension.Name == ext.Name {
			e.modules[i] = compiled
			return nil
		}
	}
	e.modules = append(e.modules, compiled)

	e.logger.Debug().
		Str("extension", ext.Name).
		Str("package", pkg).
		Msg("Extension compiled successfully")

	return nil
}

// LoadFiles compiles every .rego file found under the given paths.
func (e *ExtensionEngine) LoadFiles(ctx context.Context, paths []string) error {
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".rego") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read extension: %w", err)
			}
			name := strings.TrimSuffix(filepath.Base(path), ".rego")
			return e.Add(ctx, Extension{Name: name, Rego: string(data)})
		})
		if err != nil {
			return fmt.Errorf("failed to load extensions from %s: %w", root, err)
		}
	}
	return nil
}

// Names returns the registered extension names in sorted order.
func (e *ExtensionEngine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.modules))
	for _, m := range e.modules {
		names = append(names, m.extension.Name)
	}
	sort.Strings(names)
	return names
}

// Evaluate runs every extension against the document and returns the
// warnings and errors they produce.
func (e *ExtensionEngine) Evaluate(ctx context.Context, doc *Document) (warnings, errs []Issue, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := doc.Raw
	if input == nil {
		input = map[string]any{}
	}

	for _, m := range e.modules {
		w, err := evalFindings(ctx, m.warn, input, m.extension.Name)
		if err != nil {
			return nil, nil, err
		}
		d, err := evalFindings(ctx, m.deny, input, m.extension.Name)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, w...)
		errs = append(errs, d...)
	}

	return warnings, errs, nil
}

// evalFindings evaluates one prepared query and converts its set to issues.
func evalFindings(ctx context.Context, query rego.PreparedEvalQuery, input map[string]any, source string) ([]Issue, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, engine.NewValidationError("extension evaluation failed", err).WithOperation(source)
	}

	var issues []Issue
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		set, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, item := range set {
			issues = append(issues, findingToIssue(item, source))
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Field < issues[j].Field
	})
	return issues, nil
}

// findingToIssue converts a Rego finding into an Issue.
func findingToIssue(item interface{}, source string) Issue {
	issue := Issue{Severity: engine.SeverityMedium, Rule: source}

	switch v := item.(type) {
	case string:
		issue.Message = v
	case map[string]interface{}:
		if field, ok := v["field"].(string); ok {
			issue.Field = field
		}
		if msg, ok := v["message"].(string); ok {
			issue.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			if s, valid := engine.ParseSeverity(sev); valid {
				issue.Severity = s
			}
		}
	default:
		issue.Message = fmt.Sprintf("%v", item)
	}

	return issue
}
