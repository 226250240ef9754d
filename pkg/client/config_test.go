package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aeolun/framechat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientConfigWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "client.toml")

	config, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), config)
	assert.FileExists(t, path)

	reloaded, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config, reloaded)
}

func TestLoadClientConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connection]\ndefault_server = \"chat.example.com\"\n"), 0644))

	config, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "chat.example.com", config.Connection.DefaultServer)
	assert.Equal(t, 6465, config.Connection.DefaultPort)
	assert.Equal(t, MailboxFile, config.Local.Mailbox)
}

func TestLoadClientConfigParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connection]\ndefault_port = \n"), 0644))

	_, err := LoadClientConfig(path)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, path, cfgErr.Path)
	assert.Equal(t, 2, cfgErr.LineNumber)
}

func TestLoadClientConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"bad port", "[connection]\ndefault_port = 70000\n"},
		{"small frame", "[connection]\nframe_size = 8\n"},
		{"bad mailbox", "[local]\nmailbox = \"socket\"\n"},
		{"negative retry", "[local]\nretry_interval_ms = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "client.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.toml), 0644))

			_, err := LoadClientConfig(path)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Message, "Configuration validation failed")
		})
	}
}

func TestGetServerAddress(t *testing.T) {
	config := DefaultTOMLConfig()
	assert.Equal(t, "localhost:6465", config.GetServerAddress())

	config.Connection.DefaultServer = "ws://chat.example.com/ws"
	assert.Equal(t, "ws://chat.example.com/ws", config.GetServerAddress())

	config.Connection.DefaultServer = ""
	assert.Equal(t, "", config.GetServerAddress())
}

func TestToOptions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	config := DefaultTOMLConfig()
	config.Local.ChatLog = "~/chat.log"
	config.Local.RetryIntervalMillis = 250
	config.UI.Notify = true

	opts, err := config.ToOptions()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6465", opts.ServerAddr)
	assert.Equal(t, filepath.Join(home, "chat.log"), opts.ChatLogPath)
	assert.Equal(t, 250*time.Millisecond, opts.RetryInterval)
	assert.True(t, opts.Notify)
}

func TestToOptionsFallbacks(t *testing.T) {
	var config TOMLConfig

	opts, err := config.ToOptions()
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultFrameSize, opts.FrameSize)
	assert.Equal(t, os.TempDir(), opts.TempDir)
	assert.Equal(t, MailboxFile, opts.Mailbox)
	assert.Equal(t, time.Second, opts.RetryInterval)
}

func TestResetConfigToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte("[local]\nmailbox = \"memory\"\n"), 0644))

	require.NoError(t, ResetConfigToDefault(path, true))

	config, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, MailboxFile, config.Local.Mailbox)

	backups, err := filepath.Glob(path + ".backup-*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}
