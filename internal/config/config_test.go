package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644))
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: "9000"
jwt:
  secret: dev
  expire_hours: 2
storage:
  type: minio
workspace:
  root: `+filepath.Join(t.TempDir(), "ws")+`
`)
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 2*time.Hour, cfg.JWT.ExpireTime)
	assert.Equal(t, 0.5, cfg.Analysis.DefaultThreshold)
	assert.Equal(t, "auto-multiple-choice", cfg.Toolchain.AMCBinary)
	assert.Equal(t, 600*time.Second, cfg.Toolchain.Timeout())
	assert.DirExists(t, cfg.Workspace.Root)
}

func TestLoadConfigReleaseRequiresStrongSecret(t *testing.T) {
	dir := writeConfig(t, `
server:
  mode: release
jwt:
  secret: short
storage:
  type: minio
workspace:
  root: `+filepath.Join(t.TempDir(), "ws")+`
`)
	_, err := LoadConfig(dir)
	assert.ErrorContains(t, err, "JWT secret is too short")
}

func TestValidate(t *testing.T) {
	base := Config{
		Database:  DatabaseConfig{Driver: "postgres"},
		Toolchain: ToolchainConfig{TimeoutSeconds: 10},
		Analysis:  AnalysisConfig{DefaultThreshold: 0.4},
	}
	assert.NoError(t, base.Validate())

	bad := base
	bad.Database.Driver = "oracle"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Analysis.DefaultThreshold = 1.5
	assert.Error(t, bad.Validate())
}
