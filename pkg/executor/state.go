package executor

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// controlPrefix is the state key prefix that answers framework control checks,
// as in controls.<framework>.<control>.
const controlPrefix = "controls."

// StateFile is the on-disk layout read by LoadStateFile.
type StateFile struct {
	Hosts map[string]map[string]any `yaml:"hosts" json:"hosts"`
}

// State is an executor over recorded facts. Each host is a flat map of
// parameters. It is used for offline checks against exported state, for
// tests, and as the target of remediation dry runs.
type State struct {
	mu      sync.RWMutex
	hosts   map[string]map[string]any
	path    string
	exprs   *ExpressionEvaluator
	applied []engine.Action
	logger  zerolog.Logger
}

// NewState creates an executor over hosts. The map is copied.
func NewState(hosts map[string]map[string]any, logger zerolog.Logger) (*State, error) {
	exprs, err := NewExpressionEvaluator()
	if err != nil {
		return nil, err
	}
	s := &State{
		hosts:  make(map[string]map[string]any, len(hosts)),
		exprs:  exprs,
		logger: logger.With().Str("component", "state-executor").Logger(),
	}
	for host, params := range hosts {
		s.hosts[host] = copyParams(params)
	}
	return s, nil
}

// LoadStateFile reads a YAML or JSON state file. Changes applied through the
// executor are written back by Save.
func LoadStateFile(path string, logger zerolog.Logger) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var file StateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, engine.NewStructuralError("failed to parse state file", err).WithTarget(path)
	}
	s, err := NewState(file.Hosts, logger)
	if err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

// Save writes the current state back to the file it was loaded from.
func (s *State) Save() error {
	if s.path == "" {
		return fmt.Errorf("state was not loaded from a file")
	}
	s.mu.RLock()
	data, err := yaml.Marshal(StateFile{Hosts: s.hosts})
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Check evaluates a check. Expressions take precedence, then framework
// controls, then plain parameter comparison.
func (s *State) Check(ctx context.Context, target engine.Target, spec engine.CheckSpec) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	state, err := s.facts(target)
	if err != nil {
		return false, err
	}

	switch {
	case spec.Expression != "":
		return s.exprs.Eval(spec.Expression, target, state, spec)
	case spec.Framework != "":
		key := controlPrefix + spec.Framework + "." + spec.Control
		passed, _ := state[key].(bool)
		return passed, nil
	case spec.Parameter != "":
		actual, ok := state[spec.Parameter]
		if !ok {
			return false, nil
		}
		return engine.ValuesEqual(spec.Expected, actual), nil
	case spec.Command != "":
		return false, fmt.Errorf("state executor cannot run command %q", spec.Command)
	default:
		return false, fmt.Errorf("check %s has nothing to evaluate", spec.RequirementID)
	}
}

// Apply changes the recorded state. Scripts and playbooks cannot run offline
// and are only recorded.
func (s *State) Apply(ctx context.Context, target engine.Target, action engine.Action) (engine.ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return engine.ApplyResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	params, ok := s.hosts[target.Host]
	if !ok {
		return engine.ApplyResult{}, unknownHost(target.Host)
	}

	var result engine.ApplyResult
	switch action.Kind {
	case engine.ActionConfigure:
		if action.Parameter == "" {
			return engine.ApplyResult{}, fmt.Errorf("configure action has no parameter")
		}
		params[action.Parameter] = engine.Normalize(action.Value)
		result = engine.ApplyResult{Applied: true, Detail: action.Command}
	case engine.ActionRestore:
		var restored map[string]any
		if err := yaml.Unmarshal(action.Payload, &restored); err != nil {
			return engine.ApplyResult{}, fmt.Errorf("backup is not a state snapshot: %w", err)
		}
		s.hosts[target.Host] = copyParams(restored)
		result = engine.ApplyResult{Applied: true, Detail: "state restored"}
	case engine.ActionScript, engine.ActionPlaybook:
		result = engine.ApplyResult{Applied: true, Detail: fmt.Sprintf("%s %s recorded", action.Kind, action.Artifact)}
	default:
		return engine.ApplyResult{}, fmt.Errorf("unsupported action kind %q", action.Kind)
	}

	s.applied = append(s.applied, action)
	s.logger.Debug().
		Str("target", target.Host).
		Str("kind", string(action.Kind)).
		Str("parameter", action.Parameter).
		Msg("Action applied to state")
	return result, nil
}

// CurrentValue returns a parameter, or a not-found error.
func (s *State) CurrentValue(ctx context.Context, target engine.Target, parameter string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	params, ok := s.hosts[target.Host]
	if !ok {
		return nil, unknownHost(target.Host)
	}
	v, ok := params[parameter]
	if !ok {
		return nil, engine.NewNotFoundError(target.Host, parameter)
	}
	return v, nil
}

// Snapshot returns every parameter of the target except control answers.
func (s *State) Snapshot(ctx context.Context, target engine.Target) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := s.facts(target)
	if err != nil {
		return nil, err
	}
	return stripControls(state), nil
}

func (s *State) facts(target engine.Target) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	params, ok := s.hosts[target.Host]
	if !ok {
		return nil, unknownHost(target.Host)
	}
	return copyParams(params), nil
}

// ReadConfig renders the target's full state as YAML so it can be restored later.
func (s *State) ReadConfig(ctx context.Context, target engine.Target) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := s.facts(target)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(state)
}

// Applied returns the actions applied so far.
func (s *State) Applied() []engine.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]engine.Action(nil), s.applied...)
}

// Hosts lists the known hosts in lexical order.
func (s *State) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hosts := make([]string, 0, len(s.hosts))
	for h := range s.hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = engine.Normalize(v)
	}
	return out
}

// stripControls drops framework control answers from a state map.
func stripControls(state map[string]any) map[string]any {
	for k := range state {
		if strings.HasPrefix(k, controlPrefix) {
			delete(state, k)
		}
	}
	return state
}

func unknownHost(host string) error {
	return engine.NewCheckExecutionError(fmt.Sprintf("host %s is not in the state", host), nil).WithTarget(host)
}
