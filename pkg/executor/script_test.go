package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

var rootLogin = engine.Violation{
	ViolationID: "v-1",
	PolicyName:  "ssh-hardening",
	Parameter:   "permit_root_login",
	Severity:    engine.SeverityHigh,
	Expected:    "no",
	Actual:      "yes",
}

func TestScriptRunner_Run(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ssh.star", `
def remediate(target, violation):
    print("fixing", violation["parameter"], "on", target["host"])
    actions = [{
        "parameter": violation["parameter"],
        "value": violation["expected"],
        "description": "restore " + violation["parameter"],
    }]
    if target["labels"].get("env") == "prod":
        actions.append({"kind": "script", "artifact": "reload-sshd.sh"})
    return actions
`)
	runner := NewScriptRunner(dir, time.Second, zerolog.Nop())
	assert.True(t, runner.Handles("ssh.star"))
	assert.False(t, runner.Handles("ssh.sh"))

	actions, err := runner.Run(context.Background(), "ssh.star", web01, rootLogin)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	assert.Equal(t, engine.Action{
		Kind:        engine.ActionConfigure,
		Parameter:   "permit_root_login",
		Value:       "no",
		Description: "restore permit_root_login",
	}, actions[0])
	assert.Equal(t, engine.ActionScript, actions[1].Kind)
	assert.Equal(t, "reload-sshd.sh", actions[1].Artifact)
}

func TestScriptRunner_SingleDict(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "one.star", `
def remediate(target, violation):
    return {"parameter": "max_auth_tries", "value": 3}
`)
	actions, err := NewScriptRunner(dir, time.Second, zerolog.Nop()).Run(context.Background(), "one.star", web01, rootLogin)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, int64(3), actions[0].Value)
}

func TestScriptRunner_Errors(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "noop.star", `x = 1`)
	writeScript(t, dir, "restore.star", `
def remediate(target, violation):
    return [{"kind": "restore"}]
`)
	writeScript(t, dir, "bad.star", `
def remediate(target, violation):
    return 42
`)
	writeScript(t, dir, "boom.star", `
def remediate(target, violation):
    fail("cannot fix " + violation["id"])
`)
	writeScript(t, dir, "spin.star", `
def remediate(target, violation):
    n = 0
    for i in range(100000000):
        n += i
    return []
`)
	runner := NewScriptRunner(dir, 50*time.Millisecond, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		script  string
		wantErr string
	}{
		{script: "noop.star", wantErr: "does not define remediate"},
		{script: "restore.star", wantErr: `unsupported kind "restore"`},
		{script: "bad.star", wantErr: "must return a list"},
		{script: "boom.star", wantErr: "cannot fix v-1"},
		{script: "spin.star", wantErr: "spin.star failed"},
		{script: "../../etc/passwd.star", wantErr: "failed to read script"},
		{script: "missing.star", wantErr: "failed to read script"},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			_, err := runner.Run(ctx, tt.script, web01, rootLogin)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestScriptRunner_ResolveStaysInDirectory(t *testing.T) {
	runner := NewScriptRunner("/srv/scripts", 0, zerolog.Nop())

	path, err := runner.resolve("../../etc/passwd.star")
	require.NoError(t, err)
	assert.Equal(t, "/srv/scripts/etc/passwd.star", path)

	path, err = runner.resolve("linux/ssh.star")
	require.NoError(t, err)
	assert.Equal(t, "/srv/scripts/linux/ssh.star", path)
}

func TestFormatterFor(t *testing.T) {
	tests := []struct {
		platform engine.Platform
		want     string
	}{
		{platform: engine.PlatformCiscoIOS, want: "configure terminal; ip_ssh_version 2"},
		{platform: engine.PlatformPaloAlto, want: "set ip_ssh_version 2"},
		{platform: engine.PlatformVMware, want: "Set-Configuration -Name ip_ssh_version -Value 2"},
		{platform: engine.PlatformLinux, want: "Set ip_ssh_version to 2"},
		{platform: "", want: "Set ip_ssh_version to 2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatterFor(tt.platform).Configure("ip_ssh_version", 2), string(tt.platform))
	}
}
