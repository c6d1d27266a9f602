package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ScriptExt is the extension of remediation scripts run by ScriptRunner.
const ScriptExt = ".star"

// maxScriptSteps bounds the work a single script may do.
const maxScriptSteps = 1_000_000

// ScriptRunner runs Starlark remediation scripts from a directory. A script
// defines remediate(target, violation) and returns a list of action dicts
// with the keys kind, parameter, value, command, artifact and description.
type ScriptRunner struct {
	dir     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewScriptRunner creates a runner for scripts under dir.
func NewScriptRunner(dir string, timeout time.Duration, logger zerolog.Logger) *ScriptRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ScriptRunner{
		dir:     dir,
		timeout: timeout,
		logger:  logger.With().Str("component", "script-runner").Logger(),
	}
}

// Handles reports whether the runner executes the named artifact.
func (r *ScriptRunner) Handles(name string) bool {
	return r != nil && strings.HasSuffix(name, ScriptExt)
}

// Run executes the named script and returns the actions it requested.
func (r *ScriptRunner) Run(ctx context.Context, name string, target engine.Target, violation engine.Violation) ([]engine.Action, error) {
	path, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "policyforge-remediation",
		Print: func(_ *starlark.Thread, msg string) {
			r.logger.Debug().Str("script", name).Msg(msg)
		},
	}
	thread.SetMaxExecutionSteps(maxScriptSteps)

	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	predeclared := starlark.StringDict{"struct": starlarkstruct.Default}
	globals, err := starlark.ExecFile(thread, name, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("script %s failed: %w", name, err)
	}

	fn, ok := globals["remediate"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("script %s does not define remediate(target, violation)", name)
	}

	targetVal, err := toStarlark(map[string]any{
		"host":     target.Host,
		"platform": string(target.Platform),
		"labels":   labelsAsAny(target.Labels),
	})
	if err != nil {
		return nil, err
	}
	violationVal, err := toStarlark(map[string]any{
		"id":          violation.ID(),
		"policy":      violation.PolicyName,
		"parameter":   violation.Parameter,
		"severity":    string(violation.Severity),
		"category":    violation.Category,
		"expected":    engine.Normalize(violation.Expected),
		"actual":      engine.Normalize(violation.Actual),
		"remediation": violation.Remediation,
	})
	if err != nil {
		return nil, err
	}

	out, err := starlark.Call(thread, fn, starlark.Tuple{targetVal, violationVal}, nil)
	if err != nil {
		return nil, fmt.Errorf("script %s failed: %w", name, err)
	}

	raw, err := fromStarlark(out)
	if err != nil {
		return nil, fmt.Errorf("script %s returned an unsupported value: %w", name, err)
	}
	actions, err := decodeActions(raw)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}

	r.logger.Debug().Str("script", name).Str("target", target.Host).Int("actions", len(actions)).Msg("Remediation script evaluated")
	return actions, nil
}

// resolve maps a script name to a path inside the script directory.
func (r *ScriptRunner) resolve(name string) (string, error) {
	clean := filepath.Clean("/" + name)
	path := filepath.Join(r.dir, clean)
	rel, err := filepath.Rel(r.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("script %s is outside the script directory", name)
	}
	return path, nil
}

func decodeActions(raw any) ([]engine.Action, error) {
	if raw == nil {
		return nil, nil
	}
	if single, ok := raw.(map[string]any); ok {
		raw = []any{single}
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("remediate must return a list of actions")
	}

	actions := make([]engine.Action, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("action %d is not a dict", i)
		}
		kind := engine.ActionKind(stringField(m, "kind"))
		switch kind {
		case "":
			kind = engine.ActionConfigure
		case engine.ActionConfigure, engine.ActionScript, engine.ActionPlaybook:
		default:
			return nil, fmt.Errorf("action %d has unsupported kind %q", i, kind)
		}
		actions = append(actions, engine.Action{
			Kind:        kind,
			Parameter:   stringField(m, "parameter"),
			Value:       m["value"],
			Command:     stringField(m, "command"),
			Artifact:    stringField(m, "artifact"),
			Description: stringField(m, "description"),
		})
	}
	return actions, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func labelsAsAny(labels map[string]string) map[string]any {
	out := make(map[string]any, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func toStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return starlark.String(fmt.Sprint(val)), nil
	}
}

func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			conv, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = conv
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
