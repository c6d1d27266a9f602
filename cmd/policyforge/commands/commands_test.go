package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/policyforge/pkg/compliance"
	"github.com/openfroyo/policyforge/pkg/drift"
	"github.com/openfroyo/policyforge/pkg/enforce"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/reconcile"
	"github.com/openfroyo/policyforge/pkg/remediation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testState = `
hosts:
  web-01:
    permit_root_login: "yes"
    max_auth_tries: 3
`

const testPolicy = `
metadata:
  name: SSH Hardening
  version: 1.0.0
  description: Restricts remote root access on managed Linux hosts
  owner: platform-security
  severity: high
policy:
  requirements:
    - id: ssh-01
      description: Root login over SSH is disabled
      parameter: permit_root_login
      expected_value: "no"
      failure_message: Root login is permitted
    - id: ssh-02
      description: Authentication attempts are limited
      parameter: max_auth_tries
      expected_value: 3
enforcement:
  remediation_steps: Set PermitRootLogin no in sshd_config
`

const testBaseline = `
parameters:
  permit_root_login: "no"
  max_auth_tries: 3
parameter_metadata:
  permit_root_login:
    severity: critical
    category: security
`

const testViolations = `
- violation_id: v-1
  parameter: permit_root_login
  severity: high
  expected: "no"
  actual: "yes"
`

type fixture struct {
	dir    string
	config string
	state  string
}

func (f fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{dir: dir, config: filepath.Join(dir, "policyforge.yaml"), state: filepath.Join(dir, "state.yaml")}

	files := map[string]string{
		"state.yaml":      testState,
		"policy.yaml":     testPolicy,
		"baseline.yaml":   testBaseline,
		"violations.yaml": testViolations,
		"broken.yaml":     "metadata:\n  name: Broken\n",
		"policyforge.yaml": `
executor:
  type: state
  state_file: ` + f.state + `
history:
  backend: file
  dir: ` + filepath.Join(dir, "history") + `
backup:
  backend: file
  dir: ` + filepath.Join(dir, "backups") + `
remediation:
  script_dir: ""
telemetry:
  logging:
    level: error
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return f
}

func execute(t *testing.T, f fixture, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("1.2.3", "abc123", "2024-03-09")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", f.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, f, "version")
	require.NoError(t, err)
	assert.Equal(t, "policyforge 1.2.3 (commit: abc123, built: 2024-03-09)\n", out)

	out, err = execute(t, f, "version", "-o", "json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "abc123", info["commit"])

	_, err = execute(t, f, "version", "-o", "xml")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, f, "validate", f.path("policy.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "policy.yaml: valid")

	out, err = execute(t, f, "validate", f.path("broken.yaml"))
	require.Error(t, err)
	assert.Contains(t, out, "INVALID")
	assert.Contains(t, out, "Missing required section: policy")
}

func TestCheckCommand(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, f, "check", "--target", "web-01", "--platform", "linux", "--policies", f.path("policy.yaml"), "-o", "json")
	require.NoError(t, err)

	var results []compliance.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "web-01", results[0].Target)
	assert.Equal(t, 2, results[0].TotalChecks)
	assert.Equal(t, 1, results[0].PassedChecks)
	assert.Equal(t, 50.0, results[0].ComplianceScore)
	assert.False(t, results[0].Compliant)
	require.Len(t, results[0].Violations, 1)
	assert.Equal(t, "permit_root_login", results[0].Violations[0].Parameter)

	// Without --target the hosts of the state file are used.
	out, err = execute(t, f, "check", "--policies", f.path("policy.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "Target:     web-01")
	assert.Contains(t, out, "Score:      50.0%")
}

func TestDriftAndHistoryCommands(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, f, "drift", "--target", "web-01", "--baseline", f.path("baseline.yaml"), "--threshold", "0", "-o", "json")
	require.NoError(t, err)

	var results []drift.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].DriftDetected)
	assert.Equal(t, 50.0, results[0].DriftPercentage)
	require.Len(t, results[0].CriticalDrift, 1)
	assert.Equal(t, "permit_root_login", results[0].CriticalDrift[0].Parameter)

	out, err = execute(t, f, "history", "--target", "web-01", "-o", "json")
	require.NoError(t, err)
	var history map[string][]engine.HistoryEntry
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history["web-01"], 1)
	assert.Equal(t, 50.0, history["web-01"][0].DriftPercentage)

	out, err = execute(t, f, "history", "--target", "db-01")
	require.NoError(t, err)
	assert.Contains(t, out, "No drift history for db-01")

	_, err = execute(t, f, "drift", "--target", "db-01", "--baseline", f.path("baseline.yaml"))
	assert.True(t, engine.IsCheckExecution(err))

	_, err = execute(t, f, "drift", "--target", "web-01")
	assert.Error(t, err, "--baseline is required")
}

func TestRemediateCommand(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, f, "remediate", "--target", "web-01", "--violations", f.path("violations.yaml"), "--check", "-o", "json")
	require.NoError(t, err)
	var preview remediation.Result
	require.NoError(t, json.Unmarshal([]byte(out), &preview))
	assert.Equal(t, remediation.MsgCheckMode, preview.Message)

	out, err = execute(t, f, "remediate", "--target", "web-01", "--violations", f.path("violations.yaml"), "-o", "json")
	require.NoError(t, err)
	var result remediation.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.RemediationSuccessful)
	assert.Equal(t, 1, result.Successful)
	assert.True(t, result.BackupCreated)
	assert.FileExists(t, result.BackupPath)

	// Applied changes are written back to the state file.
	data, err := os.ReadFile(f.state)
	require.NoError(t, err)
	var state struct {
		Hosts map[string]map[string]any `yaml:"hosts"`
	}
	require.NoError(t, yaml.Unmarshal(data, &state))
	assert.Equal(t, "no", state.Hosts["web-01"]["permit_root_login"])
}

func TestEnforceCommand(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, f, "enforce", "--policy", f.path("policy.yaml"), "--target", "web-01", "-o", "json")
	require.NoError(t, err)

	var result enforce.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, enforce.ModeDryRun, result.Mode)
	assert.True(t, result.Enforced)
	require.Contains(t, result.EnforcementResults, "web-01")
	assert.Len(t, result.EnforcementResults["web-01"].ProposedChanges, 2)

	_, err = execute(t, f, "enforce", "--policy", f.path("broken.yaml"), "--target", "web-01")
	require.Error(t, err)
	assert.True(t, engine.IsStructural(err))
}

func TestReconcileCommand(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, f, "reconcile", "--policies", f.path("policy.yaml"), "--baseline", f.path("baseline.yaml"), "--check", "-o", "json")
	require.NoError(t, err)

	var reports map[string]*reconcile.HostReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Contains(t, reports, "web-01")
	report := reports["web-01"]
	assert.Empty(t, report.Error)
	require.NotNil(t, report.Compliance)
	assert.Equal(t, 50.0, report.Compliance.ComplianceScore)
	require.NotNil(t, report.Drift)
	require.NotNil(t, report.Remediation)
	assert.Equal(t, remediation.MsgCheckMode, report.Remediation.Message)
}

func TestLoadViolations(t *testing.T) {
	dir := t.TempDir()

	list := filepath.Join(dir, "list.json")
	require.NoError(t, os.WriteFile(list, []byte(`[{"violation_id":"a","severity":"low"}]`), 0o644))
	violations, err := loadViolations(list)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, engine.SeverityLow, violations[0].Severity)

	wrapped := filepath.Join(dir, "wrapped.yaml")
	require.NoError(t, os.WriteFile(wrapped, []byte("violations:\n  - violation_id: b\n    severity: critical\n"), 0o644))
	violations, err = loadViolations(wrapped)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "b", violations[0].ViolationID)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"violations": 3}`), 0o644))
	_, err = loadViolations(bad)
	assert.Error(t, err)
}
