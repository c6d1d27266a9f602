package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("core-sw-01", "netops")

	assert.Equal(t, "core-sw-01", config.Host)
	assert.Equal(t, "netops", config.User)
	assert.Equal(t, 22, config.Port)
	assert.Equal(t, AuthMethodKey, config.AuthMethod)
	assert.Equal(t, 30*time.Second, config.ConnectionTimeout)
	assert.True(t, config.StrictHostKeyChecking)
}

func TestConfigForHost(t *testing.T) {
	template := DefaultConfig("", "netops")
	template.Port = 2222

	c := template.ForHost("fw-01")
	assert.Equal(t, "fw-01", c.Host)
	assert.Equal(t, 2222, c.Port)
	assert.Empty(t, template.Host)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*Config)
		errorMsg string
	}{
		{
			name: "valid config",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
			},
		},
		{name: "missing host", modify: func(c *Config) { c.Host = "" }, errorMsg: "host is required"},
		{name: "invalid port", modify: func(c *Config) { c.Port = 0 }, errorMsg: "invalid port"},
		{name: "missing user", modify: func(c *Config) { c.User = "" }, errorMsg: "user is required"},
		{
			name: "password auth without password",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = ""
			},
			errorMsg: "password is required",
		},
		{
			name: "missing key file",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = "/nonexistent/key"
			},
			errorMsg: "private key file not found",
		},
		{
			name: "unknown auth method",
			modify: func(c *Config) {
				c.AuthMethod = "agent"
			},
			errorMsg: "unsupported auth method",
		},
		{
			name: "invalid connection timeout",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
				c.ConnectionTimeout = 0
			},
			errorMsg: "connection timeout must be positive",
		},
		{
			name: "invalid command timeout",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
				c.CommandTimeout = 0
			},
			errorMsg: "command timeout must be positive",
		},
		{
			name: "proxy with missing user",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
				c.ProxyHost = "bastion.example.com"
			},
			errorMsg: "proxy user is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("core-sw-01", "netops")
			tt.modify(config)

			err := config.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestConfigAddresses(t *testing.T) {
	config := DefaultConfig("core-sw-01", "netops")
	config.Port = 2222
	assert.Equal(t, "core-sw-01:2222", config.Address())

	assert.False(t, config.IsProxyEnabled())
	assert.Empty(t, config.ProxyAddress())

	config.ProxyHost = "bastion.example.com"
	config.ProxyPort = 2200
	assert.True(t, config.IsProxyEnabled())
	assert.Equal(t, "bastion.example.com:2200", config.ProxyAddress())
}

func TestBuildSSHClientConfig(t *testing.T) {
	t.Run("password authentication", func(t *testing.T) {
		config := DefaultConfig("core-sw-01", "netops")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.StrictHostKeyChecking = false

		clientConfig, err := config.BuildSSHClientConfig()
		require.NoError(t, err)
		assert.Equal(t, "netops", clientConfig.User)
		assert.Len(t, clientConfig.Auth, 2, "password plus keyboard-interactive")
		assert.Equal(t, 30*time.Second, clientConfig.Timeout)
	})

	t.Run("key authentication", func(t *testing.T) {
		config := DefaultConfig("core-sw-01", "netops")
		config.PrivateKeyPath = writeTestKey(t)
		config.StrictHostKeyChecking = false

		clientConfig, err := config.BuildSSHClientConfig()
		require.NoError(t, err)
		assert.Len(t, clientConfig.Auth, 1)
	})

	t.Run("unreadable known_hosts", func(t *testing.T) {
		config := DefaultConfig("core-sw-01", "netops")
		config.PrivateKeyPath = writeTestKey(t)
		config.KnownHostsPath = filepath.Join(t.TempDir(), "missing")

		_, err := config.BuildSSHClientConfig()
		assert.ErrorContains(t, err, "known_hosts")
	})
}

// writeTestKey writes a fresh ED25519 private key and returns its path.
func writeTestKey(t *testing.T) string {
	t.Helper()
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(privKey, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}
