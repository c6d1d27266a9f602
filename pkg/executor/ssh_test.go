package executor

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/openfroyo/policyforge/pkg/engine"
	sshtransport "github.com/openfroyo/policyforge/pkg/transports/ssh"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sshdConfig = `# managed by policyforge
PermitRootLogin yes
PasswordAuthentication no
MaxAuthTries 6
X11Forwarding false
Ciphers aes256-gcm@openssh.com,chacha20-poly1305@openssh.com
`

// fakeRemote answers commands from a table and keeps files in memory.
type fakeRemote struct {
	mu       sync.Mutex
	replies  map[string]*sshtransport.ExecResult
	files    map[string][]byte
	commands []string
	runErr   error
	closed   bool
}

func (f *fakeRemote) Run(_ context.Context, cmd string) (*sshtransport.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if f.runErr != nil {
		return nil, f.runErr
	}
	if r, ok := f.replies[cmd]; ok {
		return r, nil
	}
	return &sshtransport.ExecResult{}, nil
}

func (f *fakeRemote) ReadFile(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (f *fakeRemote) WriteFile(_ context.Context, path string, data []byte, _ os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
	return nil
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}

func newSSHExecutor(t *testing.T, remote *fakeRemote) (*SSH, *int) {
	return newSSHExecutorWith(t, remote, SSHOptions{})
}

func newSSHExecutorWith(t *testing.T, remote *fakeRemote, opts SSHOptions) (*SSH, *int) {
	t.Helper()
	dials := 0
	exec, err := NewSSH(func(context.Context, engine.Target) (Remote, error) {
		dials++
		return remote, nil
	}, opts, zerolog.Nop())
	require.NoError(t, err)
	return exec, &dials
}

func linuxRemote() *fakeRemote {
	return &fakeRemote{
		replies: map[string]*sshtransport.ExecResult{},
		files:   map[string][]byte{DefaultConfigFile: []byte(sshdConfig)},
	}
}

func TestParseKeyValueConfig(t *testing.T) {
	state := ParseKeyValueConfig([]byte(sshdConfig + "\n! cisco comment\nhostname core-sw-01\n"))

	assert.Equal(t, map[string]any{
		"permit_root_login":       "yes",
		"password_authentication": "no",
		"max_auth_tries":          6,
		"x11forwarding":           false,
		"ciphers":                 "aes256-gcm@openssh.com,chacha20-poly1305@openssh.com",
		"hostname":                "core-sw-01",
	}, state)
}

func TestSnakeCase(t *testing.T) {
	for in, want := range map[string]string{
		"PermitRootLogin":     "permit_root_login",
		"ClientAliveInterval": "client_alive_interval",
		"hostname":            "hostname",
		"ip-domain.name":      "ip_domain_name",
		"SSHPort":             "ssh_port",
	} {
		assert.Equal(t, want, snakeCase(in), in)
	}
}

func TestSSH_CheckAndCurrentValue(t *testing.T) {
	remote := linuxRemote()
	remote.replies["sshd -T | grep -i permitrootlogin"] = &sshtransport.ExecResult{Stdout: "permitrootlogin yes"}
	remote.replies["test -f /etc/nologin"] = &sshtransport.ExecResult{ExitCode: 1}
	exec, dials := newSSHExecutor(t, remote)
	ctx := context.Background()

	tests := []struct {
		name string
		spec engine.CheckSpec
		want bool
	}{
		{name: "parameter", spec: engine.CheckSpec{Parameter: "password_authentication", Expected: "no"}, want: true},
		{name: "parameter mismatch", spec: engine.CheckSpec{Parameter: "permit_root_login", Expected: "no"}},
		{name: "missing parameter", spec: engine.CheckSpec{Parameter: "banner", Expected: "x"}},
		{name: "typed value", spec: engine.CheckSpec{Parameter: "max_auth_tries", Expected: 6}, want: true},
		{name: "command output", spec: engine.CheckSpec{Command: "sshd -T | grep -i permitrootlogin", Expected: "permitrootlogin yes"}, want: true},
		{name: "command exit status", spec: engine.CheckSpec{Command: "test -f /etc/nologin"}},
		{name: "expression", spec: engine.CheckSpec{Expression: `state.max_auth_tries > 3 && !state.x11forwarding`}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exec.Check(ctx, web01, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := exec.Check(ctx, web01, engine.CheckSpec{Framework: "cis", Control: "5.2.8"})
	assert.Error(t, err)

	v, err := exec.CurrentValue(ctx, web01, "permit_root_login")
	require.NoError(t, err)
	assert.Equal(t, "yes", v)

	_, err = exec.CurrentValue(ctx, web01, "banner")
	assert.True(t, engine.IsNotFound(err))

	assert.Equal(t, 1, *dials, "connection is reused")
	require.NoError(t, exec.Close())
	assert.True(t, remote.closed)
}

func TestSSH_CommandPlatformsReadConfigByCommand(t *testing.T) {
	remote := &fakeRemote{
		replies: map[string]*sshtransport.ExecResult{
			"show running-config": {Stdout: "hostname core-sw-01\nservice password-encryption"},
		},
		files: map[string][]byte{},
	}
	exec, _ := newSSHExecutor(t, remote)
	cisco := engine.Target{Host: "core-sw-01", Platform: engine.PlatformCiscoIOS}

	v, err := exec.CurrentValue(context.Background(), cisco, "hostname")
	require.NoError(t, err)
	assert.Equal(t, "core-sw-01", v)

	_, err = exec.Apply(context.Background(), cisco, engine.Action{Kind: engine.ActionRestore, Payload: []byte("hostname x")})
	assert.Error(t, err, "running configs cannot be restored over SSH")
}

func TestSSH_Apply(t *testing.T) {
	remote := linuxRemote()
	remote.replies["sh harden.sh"] = &sshtransport.ExecResult{ExitCode: 2, Stderr: "permission denied"}
	exec, _ := newSSHExecutor(t, remote)
	ctx := context.Background()

	res, err := exec.Apply(ctx, web01, engine.Action{Kind: engine.ActionConfigure, Parameter: "max_auth_tries", Value: 3})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "updated max_auth_tries in "+DefaultConfigFile, res.Detail)
	assert.Contains(t, string(remote.files[DefaultConfigFile]), "\nMaxAuthTries 3\n")
	assert.NotContains(t, string(remote.files[DefaultConfigFile]), "MaxAuthTries 6")
	assert.Empty(t, remote.commands, "file-configured hosts are changed over SFTP only")
	v, err := exec.CurrentValue(ctx, web01, "max_auth_tries")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	res, err = exec.Apply(ctx, web01, engine.Action{Kind: engine.ActionConfigure, Parameter: "client_alive_interval", Value: 300})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "added client_alive_interval in "+DefaultConfigFile, res.Detail)
	v, err = exec.CurrentValue(ctx, web01, "client_alive_interval")
	require.NoError(t, err)
	assert.Equal(t, 300, v)

	before := string(remote.files[DefaultConfigFile])
	res, err = exec.Apply(ctx, web01, engine.Action{Kind: engine.ActionConfigure, Parameter: "banner", Value: "none\nPermitRootLogin yes"})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, before, string(remote.files[DefaultConfigFile]))

	res, err = exec.Apply(ctx, web01, engine.Action{Kind: engine.ActionScript, Artifact: "harden.sh"})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "permission denied", res.Detail)

	res, err = exec.Apply(ctx, web01, engine.Action{Kind: engine.ActionScript, Artifact: "fix.sh; reboot"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Contains(t, remote.commands, "sh 'fix.sh; reboot'")

	res, err = exec.Apply(ctx, web01, engine.Action{Kind: engine.ActionPlaybook, Artifact: "site.yml"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Contains(t, remote.commands, "ansible-playbook site.yml")

	res, err = exec.Apply(ctx, web01, engine.Action{Kind: engine.ActionRestore, Payload: []byte("PermitRootLogin no\n")})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	v, err = exec.CurrentValue(ctx, web01, "permit_root_login")
	require.NoError(t, err)
	assert.Equal(t, "no", v)
}

func TestSSH_ApplyReloadsService(t *testing.T) {
	remote := linuxRemote()
	exec, _ := newSSHExecutorWith(t, remote, SSHOptions{ReloadCommand: "systemctl reload sshd"})
	ctx := context.Background()

	res, err := exec.Apply(ctx, web01, engine.Action{Kind: engine.ActionConfigure, Parameter: "permit_root_login", Value: "no"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, []string{"systemctl reload sshd"}, remote.commands)
	assert.Contains(t, string(remote.files[DefaultConfigFile]), "PermitRootLogin no\n")

	remote.replies["systemctl reload sshd"] = &sshtransport.ExecResult{ExitCode: 1, Stderr: "bad configuration"}
	res, err = exec.Apply(ctx, web01, engine.Action{Kind: engine.ActionConfigure, Parameter: "x11_forwarding", Value: "no"})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Contains(t, res.Detail, "bad configuration")
}

func TestSSH_CommandPlatformsRefuseChainedInput(t *testing.T) {
	remote := &fakeRemote{replies: map[string]*sshtransport.ExecResult{}, files: map[string][]byte{}}
	exec, _ := newSSHExecutor(t, remote)
	cisco := engine.Target{Host: "core-sw-01", Platform: engine.PlatformCiscoIOS}
	ctx := context.Background()

	for _, action := range []engine.Action{
		{Kind: engine.ActionConfigure, Parameter: "hostname", Value: "x; reload"},
		{Kind: engine.ActionConfigure, Parameter: "snmp-server community $(id)", Value: "ro"},
		{Kind: engine.ActionConfigure, Parameter: "banner", Value: "a\nwrite erase"},
	} {
		res, err := exec.Apply(ctx, cisco, action)
		require.NoError(t, err)
		assert.False(t, res.Applied, action.Parameter)
	}
	assert.Empty(t, remote.commands)

	res, err := exec.Apply(ctx, cisco, engine.Action{Kind: engine.ActionConfigure, Parameter: "service", Value: "password-encryption"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, []string{"configure terminal; service password-encryption"}, remote.commands)
}

func TestSetKeyValue(t *testing.T) {
	tests := []struct {
		name         string
		data         string
		key, value   string
		want         string
		wantReplaced int
	}{
		{
			name: "rewrites camel case key",
			data: "# PermitRootLogin yes\nPermitRootLogin yes\n",
			key:  "permit_root_login", value: "no",
			want:         "# PermitRootLogin yes\nPermitRootLogin no\n",
			wantReplaced: 1,
		},
		{
			name: "keeps indentation",
			data: "Match User backup\n    PasswordAuthentication yes\n",
			key:  "password_authentication", value: "no",
			want:         "Match User backup\n    PasswordAuthentication no\n",
			wantReplaced: 1,
		},
		{
			name: "appends missing key",
			data: "Port 22\n",
			key:  "max_sessions", value: "4",
			want: "Port 22\nmax_sessions 4\n",
		},
		{
			name: "appends without trailing newline",
			data: "Port 22",
			key:  "Banner", value: "none",
			want: "Port 22\nBanner none",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, replaced := SetKeyValue([]byte(tt.data), tt.key, tt.value)
			assert.Equal(t, tt.want, string(got))
			assert.Equal(t, tt.wantReplaced, replaced)
		})
	}
}

func TestSSH_DialsHostsConcurrently(t *testing.T) {
	slowStarted := make(chan struct{})
	releaseSlow := make(chan struct{})
	var mu sync.Mutex
	remotes := map[string][]*fakeRemote{}

	exec, err := NewSSH(func(_ context.Context, target engine.Target) (Remote, error) {
		mu.Lock()
		remote := linuxRemote()
		remotes[target.Host] = append(remotes[target.Host], remote)
		first := len(remotes[target.Host]) == 1
		mu.Unlock()
		if target.Host == "slow-01" && first {
			close(slowStarted)
			<-releaseSlow
		}
		return remote, nil
	}, SSHOptions{}, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	slow := engine.Target{Host: "slow-01", Platform: engine.PlatformLinux}

	slowDone := make(chan error, 1)
	go func() {
		_, err := exec.ReadConfig(ctx, slow)
		slowDone <- err
	}()
	<-slowStarted

	// A stalled dial must not hold up other hosts or a second dial to the
	// same host.
	_, err = exec.ReadConfig(ctx, web01)
	require.NoError(t, err)
	_, err = exec.ReadConfig(ctx, slow)
	require.NoError(t, err)

	close(releaseSlow)
	require.NoError(t, <-slowDone)

	_, err = exec.ReadConfig(ctx, slow)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, remotes["slow-01"], 2, "the cached connection is reused")
	assert.True(t, remotes["slow-01"][0].closed, "the late connection is dropped")
	assert.False(t, remotes["slow-01"][1].closed)
	assert.Len(t, remotes[web01.Host], 1)
}

func TestSSH_Errors(t *testing.T) {
	remote := linuxRemote()
	remote.runErr = errors.New("broken pipe")
	exec, _ := newSSHExecutor(t, remote)

	_, err := exec.Check(context.Background(), web01, engine.CheckSpec{Command: "true"})
	require.Error(t, err)
	assert.True(t, engine.IsCheckExecution(err))

	failing, err := NewSSH(func(context.Context, engine.Target) (Remote, error) {
		return nil, errors.New("no route to host")
	}, SSHOptions{}, zerolog.Nop())
	require.NoError(t, err)
	_, err = failing.ReadConfig(context.Background(), web01)
	assert.ErrorContains(t, err, "no route to host")
}
