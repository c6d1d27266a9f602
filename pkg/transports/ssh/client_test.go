package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testServer is an in-process SSH server with a few canned commands and a
// real SFTP subsystem.
type testServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	commands map[string]cannedReply
}

type cannedReply struct {
	stdout string
	stderr string
	exit   uint32
	delay  time.Duration
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "netops" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("invalid credentials")
		},
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{
		listener: listener,
		config:   config,
		commands: map[string]cannedReply{
			"echo test":     {stdout: "test\n"},
			"echo err >&2":  {stderr: "err\n"},
			"exit 1":        {exit: 1},
			"sleep forever": {delay: time.Hour},
		},
	}
	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return s
}

func (s *testServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *testServer) handle(netConn net.Conn) {
	defer netConn.Close()

	conn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.session(channel, requests)
	}
}

func (s *testServer) session(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			command := string(req.Payload[4:])
			_ = req.Reply(true, nil)

			reply, ok := s.commands[command]
			if !ok {
				reply = cannedReply{stdout: "command: " + command + "\n"}
			}
			if reply.delay > 0 {
				time.Sleep(reply.delay)
			}
			_, _ = channel.Write([]byte(reply.stdout))
			_, _ = channel.Stderr().Write([]byte(reply.stderr))
			status := make([]byte, 4)
			binary.BigEndian.PutUint32(status, reply.exit)
			_, _ = channel.SendRequest("exit-status", false, status)
			return

		case "subsystem":
			if string(req.Payload[4:]) != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
			return

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) clientConfig(t *testing.T) *Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	config := DefaultConfig(host, "netops")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "secret"
	config.StrictHostKeyChecking = false
	config.ConnectionTimeout = 5 * time.Second
	return config
}

func connect(t *testing.T, config *Config) *Client {
	t.Helper()
	client, err := NewClient(config, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientConnect(t *testing.T) {
	server := newTestServer(t)
	client := connect(t, server.clientConfig(t))

	assert.True(t, client.IsConnected())
	require.NoError(t, client.Connect(context.Background()), "connect is idempotent")

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
	assert.NoError(t, client.Close())
}

func TestClientConnect_BadPassword(t *testing.T) {
	server := newTestServer(t)
	config := server.clientConfig(t)
	config.Password = "wrong"

	client, err := NewClient(config, zerolog.Nop())
	require.NoError(t, err)

	err = client.Connect(context.Background())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "connect", transportErr.Op)
}

func TestClientConnect_KeyAuth(t *testing.T) {
	server := newTestServer(t)
	config := server.clientConfig(t)
	config.AuthMethod = AuthMethodKey
	config.PrivateKeyPath = writeTestKey(t)

	client := connect(t, config)
	assert.True(t, client.IsConnected())
}

func TestClientRun(t *testing.T) {
	server := newTestServer(t)
	client := connect(t, server.clientConfig(t))
	ctx := context.Background()

	tests := []struct {
		name     string
		command  string
		stdout   string
		stderr   string
		exitCode int
	}{
		{name: "stdout", command: "echo test", stdout: "test"},
		{name: "stderr", command: "echo err >&2", stderr: "err"},
		{name: "non-zero exit", command: "exit 1", exitCode: 1},
		{name: "arbitrary", command: "show running-config", stdout: "command: show running-config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := client.Run(ctx, tt.command)
			require.NoError(t, err)
			assert.Equal(t, tt.stdout, result.Stdout)
			assert.Equal(t, tt.stderr, result.Stderr)
			assert.Equal(t, tt.exitCode, result.ExitCode)
		})
	}
}

func TestClientRun_Timeout(t *testing.T) {
	server := newTestServer(t)
	config := server.clientConfig(t)
	config.CommandTimeout = 100 * time.Millisecond
	client := connect(t, config)

	_, err := client.Run(context.Background(), "sleep forever")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientRun_NotConnected(t *testing.T) {
	server := newTestServer(t)
	client, err := NewClient(server.clientConfig(t), zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Run(context.Background(), "echo test")
	assert.ErrorContains(t, err, "not connected")
}

func TestClientFiles(t *testing.T) {
	server := newTestServer(t)
	client := connect(t, server.clientConfig(t))
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "sshd_config")
	require.NoError(t, os.WriteFile(path, []byte("PermitRootLogin yes\n"), 0o600))

	data, err := client.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "PermitRootLogin yes\n", string(data))

	require.NoError(t, client.WriteFile(ctx, path, []byte("PermitRootLogin no\n"), 0o600))
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PermitRootLogin no\n", string(onDisk))

	_, err = client.ReadFile(ctx, filepath.Join(t.TempDir(), "missing"))
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "read", transportErr.Op)
}
