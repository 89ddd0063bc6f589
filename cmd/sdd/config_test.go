package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/harunnryd/sdd/internal/config"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigInitCmd(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, configInitCmd.RunE(cmd, nil))

	configPath := filepath.Join(home, ".sdd", "config.yaml")
	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Contains(t, out.String(), "Initialized config")

	// the embedded template must load cleanly
	var parsed config.Config
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Equal(t, config.DefaultServerPort, parsed.Server.Port)
	assert.Equal(t, config.DefaultStreamEndToken, parsed.Stream.EndToken)

	out.Reset()
	require.NoError(t, configInitCmd.RunE(cmd, nil))
	assert.Contains(t, out.String(), "already exists")
}

func TestRenderConfig_MasksSignature(t *testing.T) {
	original := &config.Config{
		Server: config.ServerConfig{Port: 8000, LogLevel: "info"},
		Auth:   config.AuthConfig{Signature: "super-secret-key", Algorithm: "HS512"},
	}

	out, err := renderConfig(original)
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret-key")
	assert.Contains(t, out, "log_level: info")
	assert.Contains(t, out, "su************ey")
	assert.Equal(t, "super-secret-key", original.Auth.Signature, "original must not be mutated")

	_, err = renderConfig(nil)
	assert.Error(t, err)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "****"},
		{"abcd", "****"},
		{"abcdef", "ab**ef"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskSecret(tt.in), tt.in)
	}
}
