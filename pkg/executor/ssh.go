package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	"al.essio.dev/pkg/shellescape"
	"github.com/openfroyo/policyforge/pkg/engine"
	sshtransport "github.com/openfroyo/policyforge/pkg/transports/ssh"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Remote is a connection to one host.
type Remote interface {
	Run(ctx context.Context, cmd string) (*sshtransport.ExecResult, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error
	Close() error
}

// Dialer opens a connection to a target.
type Dialer func(ctx context.Context, target engine.Target) (Remote, error)

// DialSSH returns a Dialer that connects with template specialized per host.
func DialSSH(template *sshtransport.Config, logger zerolog.Logger) Dialer {
	return func(ctx context.Context, target engine.Target) (Remote, error) {
		client, err := sshtransport.NewClient(template.ForHost(target.Host), logger)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Default configuration sources.
const (
	DefaultConfigFile      = "/etc/ssh/sshd_config"
	DefaultScriptCommand   = "sh %s"
	DefaultPlaybookCommand = "ansible-playbook %s"
)

var defaultConfigCommands = map[engine.Platform]string{
	engine.PlatformCiscoIOS: "show running-config",
	engine.PlatformPaloAlto: "show config running",
	engine.PlatformVMware:   "Get-AdvancedSetting -Entity (Get-VMHost)",
}

// SSHOptions configures the SSH executor.
type SSHOptions struct {
	// ConfigFile is read over SFTP on platforms without a config command.
	ConfigFile string

	// ConfigCommands print the running configuration per platform.
	ConfigCommands map[engine.Platform]string

	// ScriptCommand and PlaybookCommand take the shell-quoted artifact name.
	ScriptCommand   string
	PlaybookCommand string

	// ReloadCommand runs after ConfigFile is changed, for example
	// "systemctl reload sshd". Empty skips the reload.
	ReloadCommand string
}

// SSH runs checks and changes on remote hosts. The device configuration is
// read as "key value" lines; keys are normalized to snake_case so
// PermitRootLogin becomes permit_root_login. Connections are kept per host
// until Close.
type SSH struct {
	dial   Dialer
	opts   SSHOptions
	exprs  *ExpressionEvaluator
	logger zerolog.Logger

	mu    sync.Mutex
	conns map[string]Remote
}

// NewSSH creates an SSH executor.
func NewSSH(dial Dialer, opts SSHOptions, logger zerolog.Logger) (*SSH, error) {
	exprs, err := NewExpressionEvaluator()
	if err != nil {
		return nil, err
	}
	if opts.ConfigFile == "" {
		opts.ConfigFile = DefaultConfigFile
	}
	if opts.ConfigCommands == nil {
		opts.ConfigCommands = defaultConfigCommands
	}
	if opts.ScriptCommand == "" {
		opts.ScriptCommand = DefaultScriptCommand
	}
	if opts.PlaybookCommand == "" {
		opts.PlaybookCommand = DefaultPlaybookCommand
	}
	return &SSH{
		dial:   dial,
		opts:   opts,
		exprs:  exprs,
		logger: logger.With().Str("component", "ssh-executor").Logger(),
		conns:  make(map[string]Remote),
	}, nil
}

// Close closes every cached connection.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for host, conn := range s.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.conns, host)
	}
	return firstErr
}

func (s *SSH) remote(ctx context.Context, target engine.Target) (Remote, error) {
	s.mu.Lock()
	conn, ok := s.conns[target.Host]
	s.mu.Unlock()
	if ok {
		return conn, nil
	}

	conn, err := s.dial(ctx, target)
	if err != nil {
		return nil, engine.NewCheckExecutionError("failed to connect", err).WithTarget(target.Host)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conns[target.Host]; ok {
		// Another caller connected first.
		_ = conn.Close()
		return existing, nil
	}
	s.conns[target.Host] = conn
	return conn, nil
}

// Check runs a command check, a CEL expression or a parameter comparison.
func (s *SSH) Check(ctx context.Context, target engine.Target, spec engine.CheckSpec) (bool, error) {
	switch {
	case spec.Command != "":
		res, err := s.run(ctx, target, spec.Command)
		if err != nil {
			return false, err
		}
		if res.ExitCode != 0 {
			return false, nil
		}
		return spec.Expected == nil || res.Stdout == fmt.Sprint(spec.Expected), nil
	case spec.Expression != "":
		state, err := s.Snapshot(ctx, target)
		if err != nil {
			return false, err
		}
		return s.exprs.Eval(spec.Expression, target, state, spec)
	case spec.Parameter != "":
		actual, err := s.CurrentValue(ctx, target, spec.Parameter)
		if engine.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return engine.ValuesEqual(spec.Expected, actual), nil
	case spec.Framework != "":
		return false, fmt.Errorf("no remote check for %s control %s", spec.Framework, spec.Control)
	default:
		return false, fmt.Errorf("check %s has nothing to evaluate", spec.RequirementID)
	}
}

// Apply changes the host. On platforms with a config command, configure
// actions run the platform command. File-configured platforms have the
// parameter's line rewritten in ConfigFile over SFTP instead, and restores
// write the backup back the same way.
func (s *SSH) Apply(ctx context.Context, target engine.Target, action engine.Action) (engine.ApplyResult, error) {
	var cmd string
	switch action.Kind {
	case engine.ActionConfigure:
		if !s.commandConfigured(target.Platform) {
			return s.configureFile(ctx, target, action.Parameter, action.Value)
		}
		if unsafeCommandInput(action.Parameter) || unsafeCommandInput(fmt.Sprint(action.Value)) {
			return engine.ApplyResult{Applied: false, Detail: fmt.Sprintf("refusing to configure %s: parameter or value contains command separators", action.Parameter)}, nil
		}
		cmd = action.Command
		if cmd == "" {
			cmd = FormatterFor(target.Platform).Configure(action.Parameter, action.Value)
		}
	case engine.ActionScript:
		cmd = fmt.Sprintf(s.opts.ScriptCommand, shellescape.Quote(action.Artifact))
	case engine.ActionPlaybook:
		cmd = fmt.Sprintf(s.opts.PlaybookCommand, shellescape.Quote(action.Artifact))
	case engine.ActionRestore:
		return s.restore(ctx, target, action.Payload)
	default:
		return engine.ApplyResult{}, fmt.Errorf("unsupported action kind %q", action.Kind)
	}

	res, err := s.run(ctx, target, cmd)
	if err != nil {
		return engine.ApplyResult{}, err
	}
	if res.ExitCode != 0 {
		detail := res.Stderr
		if detail == "" {
			detail = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return engine.ApplyResult{Applied: false, Detail: detail}, nil
	}
	return engine.ApplyResult{Applied: true, Detail: res.Stdout}, nil
}

// unsafeCommandInput reports whether s could end or chain a device command.
func unsafeCommandInput(s string) bool {
	return strings.ContainsAny(s, "\r\n;|&`$<>")
}

func (s *SSH) commandConfigured(platform engine.Platform) bool {
	_, ok := s.opts.ConfigCommands[platform]
	return ok
}

func (s *SSH) restore(ctx context.Context, target engine.Target, payload []byte) (engine.ApplyResult, error) {
	if s.commandConfigured(target.Platform) {
		return engine.ApplyResult{}, fmt.Errorf("restore is not supported on %s over SSH", target.Platform)
	}
	if err := s.writeConfig(ctx, target, payload); err != nil {
		return engine.ApplyResult{}, err
	}
	return s.reload(ctx, target, "configuration restored to "+s.opts.ConfigFile)
}

// configureFile sets parameter in ConfigFile. Every line whose key matches
// the parameter is rewritten with its original key spelling; a missing key
// is appended.
func (s *SSH) configureFile(ctx context.Context, target engine.Target, parameter string, value any) (engine.ApplyResult, error) {
	if parameter == "" {
		return engine.ApplyResult{}, fmt.Errorf("configure action has no parameter")
	}
	rendered := fmt.Sprint(value)
	if strings.ContainsAny(parameter+rendered, "\r\n") || strings.ContainsAny(parameter, " \t") {
		return engine.ApplyResult{Applied: false, Detail: fmt.Sprintf("refusing to write %s: value spans lines or key has spaces", parameter)}, nil
	}

	data, err := s.ReadConfig(ctx, target)
	if err != nil {
		return engine.ApplyResult{}, err
	}
	updated, replaced := SetKeyValue(data, parameter, rendered)
	if err := s.writeConfig(ctx, target, updated); err != nil {
		return engine.ApplyResult{}, err
	}

	verb := "updated"
	if replaced == 0 {
		verb = "added"
	}
	return s.reload(ctx, target, fmt.Sprintf("%s %s in %s", verb, parameter, s.opts.ConfigFile))
}

func (s *SSH) writeConfig(ctx context.Context, target engine.Target, data []byte) error {
	conn, err := s.remote(ctx, target)
	if err != nil {
		return err
	}
	if err := conn.WriteFile(ctx, s.opts.ConfigFile, data, 0o600); err != nil {
		return engine.NewCheckExecutionError("failed to write configuration", err).WithTarget(target.Host)
	}
	return nil
}

func (s *SSH) reload(ctx context.Context, target engine.Target, detail string) (engine.ApplyResult, error) {
	if s.opts.ReloadCommand == "" {
		return engine.ApplyResult{Applied: true, Detail: detail}, nil
	}
	res, err := s.run(ctx, target, s.opts.ReloadCommand)
	if err != nil {
		return engine.ApplyResult{}, err
	}
	if res.ExitCode != 0 {
		return engine.ApplyResult{Applied: false, Detail: fmt.Sprintf("%s, but %q exited with %d: %s", detail, s.opts.ReloadCommand, res.ExitCode, res.Stderr)}, nil
	}
	return engine.ApplyResult{Applied: true, Detail: detail}, nil
}

// SetKeyValue sets key to value in "key value" configuration data. Keys match
// after snake_case normalization, so permit_root_login rewrites a
// PermitRootLogin line. It returns the new data and how many lines were
// rewritten; when none were, "key value" is appended.
func SetKeyValue(data []byte, key, value string) ([]byte, int) {
	lines := strings.Split(string(data), "\n")
	want := snakeCase(key)
	replaced := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed[0] == '#' || trimmed[0] == '!' {
			continue
		}
		name, _, _ := strings.Cut(trimmed, " ")
		if snakeCase(name) != want {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		lines[i] = indent + name + " " + value
		replaced++
	}
	if replaced == 0 {
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines[n-1] = key + " " + value
			lines = append(lines, "")
		} else {
			lines = append(lines, key+" "+value)
		}
	}
	return []byte(strings.Join(lines, "\n")), replaced
}

// CurrentValue reads one parameter from the device configuration.
func (s *SSH) CurrentValue(ctx context.Context, target engine.Target, parameter string) (any, error) {
	state, err := s.Snapshot(ctx, target)
	if err != nil {
		return nil, err
	}
	v, ok := state[parameter]
	if !ok {
		return nil, engine.NewNotFoundError(target.Host, parameter)
	}
	return v, nil
}

// Snapshot parses the whole device configuration.
func (s *SSH) Snapshot(ctx context.Context, target engine.Target) (map[string]any, error) {
	data, err := s.ReadConfig(ctx, target)
	if err != nil {
		return nil, err
	}
	return ParseKeyValueConfig(data), nil
}

// ReadConfig returns the raw device configuration.
func (s *SSH) ReadConfig(ctx context.Context, target engine.Target) ([]byte, error) {
	if cmd, ok := s.opts.ConfigCommands[target.Platform]; ok {
		res, err := s.run(ctx, target, cmd)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return nil, engine.NewCheckExecutionError(fmt.Sprintf("%q exited with %d", cmd, res.ExitCode), nil).WithTarget(target.Host)
		}
		return []byte(res.Stdout), nil
	}

	conn, err := s.remote(ctx, target)
	if err != nil {
		return nil, err
	}
	data, err := conn.ReadFile(ctx, s.opts.ConfigFile)
	if err != nil {
		return nil, engine.NewCheckExecutionError("failed to read configuration", err).WithTarget(target.Host)
	}
	return data, nil
}

func (s *SSH) run(ctx context.Context, target engine.Target, cmd string) (*sshtransport.ExecResult, error) {
	conn, err := s.remote(ctx, target)
	if err != nil {
		return nil, err
	}
	res, err := conn.Run(ctx, cmd)
	if err != nil {
		return nil, engine.NewCheckExecutionError("remote command failed", err).
			WithTarget(target.Host).
			WithDetail("command", cmd)
	}
	s.logger.Debug().Str("target", target.Host).Str("command", cmd).Int("exit_code", res.ExitCode).Msg("Remote command finished")
	return res, nil
}

// ParseKeyValueConfig parses "key value" configuration lines. Blank lines
// and lines starting with # or ! are skipped. Values are decoded as YAML
// scalars so numbers and booleans keep their type. Later keys win.
func ParseKeyValueConfig(data []byte) map[string]any {
	state := make(map[string]any)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		key, raw, _ := strings.Cut(line, " ")
		raw = strings.TrimSpace(raw)

		var value any = raw
		if raw != "" {
			var decoded any
			if err := yaml.Unmarshal([]byte(raw), &decoded); err == nil {
				switch decoded.(type) {
				case string, int, float64, bool:
					value = decoded
				}
			}
		}
		state[snakeCase(key)] = value
	}
	return state
}

func snakeCase(key string) string {
	var b strings.Builder
	runes := []rune(key)
	for i, r := range runes {
		switch {
		case r == '-' || r == '.':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
