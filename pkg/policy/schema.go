package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// cueDefinition is the definition a CUE policy schema must declare.
const cueDefinition = "#Policy"

// SchemaRegistry holds per-type document schemas. A type can have a JSON
// Schema (draft 2020-12), a CUE schema, or both.
type SchemaRegistry struct {
	mu          sync.RWMutex
	ctx         *cue.Context
	jsonSchemas map[Type]*jsonschema.Schema
	cueSchemas  map[Type]cue.Value
	logger      zerolog.Logger
}

// NewSchemaRegistry creates an empty schema registry.
func NewSchemaRegistry(logger zerolog.Logger) *SchemaRegistry {
	return &SchemaRegistry{
		ctx:         cuecontext.New(),
		jsonSchemas: make(map[Type]*jsonschema.Schema),
		cueSchemas:  make(map[Type]cue.Value),
		logger:      logger.With().Str("component", "policy-schemas").Logger(),
	}
}

// LoadDir registers schemas named <type>.schema.json and <type>.cue from dir.
// Files for unknown policy types are ignored. A missing directory is not an error.
func (r *SchemaRegistry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug().Str("dir", dir).Msg("Schema directory does not exist")
			return nil
		}
		return fmt.Errorf("failed to read schema directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)

		var (
			typeName string
			register func(Type, string) error
		)
		switch {
		case strings.HasSuffix(name, ".schema.json"):
			typeName = strings.TrimSuffix(name, ".schema.json")
			register = r.RegisterJSONSchema
		case strings.HasSuffix(name, ".cue"):
			typeName = strings.TrimSuffix(name, ".cue")
			register = r.RegisterCUESchema
		default:
			continue
		}

		t, err := ParseType(typeName)
		if err != nil {
			r.logger.Warn().Str("file", path).Msg("Ignoring schema for unknown policy type")
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read schema %s: %w", path, err)
		}
		if err := register(t, string(data)); err != nil {
			return fmt.Errorf("failed to register schema %s: %w", path, err)
		}
	}

	return nil
}

// RegisterJSONSchema compiles and registers a JSON Schema for a policy type.
func (r *SchemaRegistry) RegisterJSONSchema(t Type, schema string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://policyforge.local/schemas/%s.schema.json", t)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("schema compile failed: %w", err)
	}

	r.mu.Lock()
	r.jsonSchemas[t] = compiled
	r.mu.Unlock()
	return nil
}

// RegisterCUESchema compiles and registers a CUE schema for a policy type.
// The source must declare a #Policy definition.
func (r *SchemaRegistry) RegisterCUESchema(t Type, schema string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	val := r.ctx.CompileString(schema, cue.Filename(string(t)+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath(cueDefinition))
	if !def.Exists() {
		return fmt.Errorf("schema does not declare %s", cueDefinition)
	}

	r.cueSchemas[t] = def
	return nil
}

// Has reports whether any schema is registered for t.
func (r *SchemaRegistry) Has(t Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, j := r.jsonSchemas[t]
	_, c := r.cueSchemas[t]
	return j || c
}

// Validate checks the document against the schemas registered for t and
// returns one error issue per schema violation.
func (r *SchemaRegistry) Validate(t Type, doc *Document) []Issue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var issues []Issue
	if s, ok := r.jsonSchemas[t]; ok {
		issues = append(issues, r.validateJSON(s, doc)...)
	}
	if def, ok := r.cueSchemas[t]; ok {
		issues = append(issues, r.validateCUE(def, doc)...)
	}
	return issues
}

func (r *SchemaRegistry) validateJSON(s *jsonschema.Schema, doc *Document) []Issue {
	// The validator expects values shaped like encoding/json output.
	data, err := json.Marshal(doc.Raw)
	if err != nil {
		return []Issue{schemaIssue("", fmt.Sprintf("document is not valid JSON: %v", err))}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return []Issue{schemaIssue("", fmt.Sprintf("document is not valid JSON: %v", err))}
	}

	err = s.Validate(v)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Issue{schemaIssue("", err.Error())}
	}

	var issues []Issue
	for _, leaf := range leafCauses(ve) {
		issues = append(issues, schemaIssue(pointerToField(leaf.InstanceLocation), leaf.Message))
	}
	return issues
}

func (r *SchemaRegistry) validateCUE(def cue.Value, doc *Document) []Issue {
	data := r.ctx.Encode(doc.Raw)
	if err := data.Err(); err != nil {
		return []Issue{schemaIssue("", fmt.Sprintf("failed to encode document: %v", err))}
	}

	unified := def.Unify(data)
	err := unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var issues []Issue
	for _, e := range cueerrors.Errors(err) {
		issues = append(issues, schemaIssue(strings.Join(e.Path(), "."), cueerrors.Details(e, nil)))
	}
	return issues
}

// leafCauses flattens a validation error tree to its most specific causes.
func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafCauses(c)...)
	}
	return out
}

// pointerToField turns a JSON pointer like /metadata/name into metadata.name.
func pointerToField(pointer string) string {
	return strings.ReplaceAll(strings.TrimPrefix(pointer, "/"), "/", ".")
}

func schemaIssue(field, message string) Issue {
	if field == "" {
		field = "schema"
	} else {
		field = "schema:" + field
	}
	return Issue{
		Field:    field,
		Message:  strings.TrimSpace(message),
		Severity: engine.SeverityHigh,
		Rule:     "schema",
	}
}
