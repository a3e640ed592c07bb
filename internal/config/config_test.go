package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "policyd", cfg.Name)
	assert.Equal(t, 100000, cfg.Kernel.FactLimit)
	assert.Equal(t, 2, cfg.Guard.MaxAttempts)
	assert.Equal(t, "policyd.db", cfg.History.DBPath)
	assert.Equal(t, "health", cfg.Mission.DefaultWorld)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policyd.yaml")
	body := `
name: staging
kernel:
  fact_limit: 500
  query_timeout: 2s
guard:
  cooldown: 1m
history:
  db_path: /tmp/staging.db
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Name)
	assert.Equal(t, 500, cfg.Kernel.FactLimit)
	assert.Equal(t, "2s", cfg.Kernel.QueryTimeout)
	assert.Equal(t, "1m", cfg.Guard.Cooldown)
	assert.Equal(t, "/tmp/staging.db", cfg.History.DBPath)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Guard.MaxAttempts)
	assert.Equal(t, "health", cfg.Mission.DefaultWorld)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kernel: ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseDurations(t *testing.T) {
	k := KernelConfig{QueryTimeout: "250ms"}
	d, err := k.ParseQueryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	k.QueryTimeout = ""
	d, err = k.ParseQueryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	k.QueryTimeout = "soon"
	_, err = k.ParseQueryTimeout()
	assert.Error(t, err)

	g := GuardConfig{Cooldown: "45s"}
	d, err = g.ParseCooldown()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)

	g.Cooldown = "whenever"
	_, err = g.ParseCooldown()
	assert.Error(t, err)
}
