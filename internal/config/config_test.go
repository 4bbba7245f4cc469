package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5900, cfg.Server.Port)
	assert.Equal(t, 10, cfg.VNC.MaxConnections)
	assert.True(t, cfg.WebSocket.Enable)
	assert.Equal(t, ProfileAuto, cfg.VNC.NetworkProfileOverride)
}

func TestLoadWithOverrides(t *testing.T) {
	cfg, err := LoadWithOverrides(LoadOptions{
		Host:           "127.0.0.1",
		Port:           "5901",
		Password:       "secret",
		MaxConnections: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5901, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.VNC.Password)
	assert.Equal(t, 3, cfg.VNC.MaxConnections)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "server:\n  port: 6900\nvnc:\n  maxConnections: 42\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithOverrides(LoadOptions{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, 6900, cfg.Server.Port)
	assert.Equal(t, 42, cfg.VNC.MaxConnections)
}

func TestValidateRejectsBadNetworkProfile(t *testing.T) {
	cfg := defaultConfig()
	cfg.VNC.NetworkProfileOverride = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestGetGlobalConfig(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, GetGlobalConfig())
}
