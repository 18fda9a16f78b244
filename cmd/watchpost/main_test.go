package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/watchpost/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "watchpost dev\n", out)
}

func TestConfigCommand_PrintsEffectiveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operator:\n  id: alice\nserver:\n  listen: 127.0.0.1:9000\n"), 0o600))

	out, err := execute(t, "config", "--config", path, "--log-level", "debug")
	require.NoError(t, err)

	var s config.Settings
	require.NoError(t, yaml.Unmarshal([]byte(out), &s))
	assert.Equal(t, "alice", s.Operator.ID)
	assert.Equal(t, "127.0.0.1:9000", s.Server.Listen)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, config.Defaults().History.Capacity, s.History.Capacity)
}

func TestConfigCommand_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := execute(t, "config", "--config", path, "--write")
	// An explicit path must exist before it can be loaded.
	require.Error(t, err)
	assert.Empty(t, out)

	require.NoError(t, config.Defaults().WriteFile(path))
	_, err = execute(t, "config", "--config", path, "--write")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))
}

func TestConfigCommand_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("history:\n  capacity: 0\n"), 0o600))

	_, err := execute(t, "config", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history.capacity")
}
