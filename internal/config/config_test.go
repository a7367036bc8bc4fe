package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lotkeep/internal/engine"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, ev := range envVars {
		t.Setenv(ev.name, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := load("", "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 25, cfg.MaxCapacity)
	assert.True(t, cfg.RequireRegisteredPlate)
	assert.Equal(t, engine.DefaultBackoff(), cfg.Backoff.Policy())
}

func TestLoad_PolicyFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "policy.yaml", `
facility_name: North Garage
max_capacity: 40
require_registered_plate: false
sync_interval: 1m
backoff:
  base: 2s
  max: 1m
  max_attempts: 5
notify:
  provider: noop
`)

	cfg, err := load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "North Garage", cfg.FacilityName)
	assert.Equal(t, 40, cfg.MaxCapacity)
	assert.False(t, cfg.RequireRegisteredPlate)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval, "unset keys keep defaults")
	assert.Equal(t, engine.BackoffPolicy{Base: 2 * time.Second, Max: time.Minute, MaxAttempts: 5}, cfg.Backoff.Policy())
	assert.Equal(t, "noop", cfg.Notify.SenderConfig().Provider)
}

func TestLoad_EmptyPolicyFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "empty.yaml", "")

	cfg, err := load(path, "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_PolicyRejectsUnknownKey(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "policy.yaml", "max_capacity: 10\nspaces: 12\n")

	_, err := load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spaces")
}

func TestLoad_PolicyRejectsOutOfRangeValues(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "policy.yaml", "max_capacity: 0\n")

	_, err := load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_capacity")
}

func TestLoad_PolicyRejectsUnknownProvider(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "policy.yaml", "notify:\n  provider: pager\n")

	_, err := load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}

func TestLoad_PolicyRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "policy.yaml", "sync_interval: soon\n")

	_, err := load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_interval")
}

func TestLoad_MissingPolicyFile(t *testing.T) {
	clearEnv(t)

	_, err := load(filepath.Join(t.TempDir(), "absent.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read policy file")
}

func TestLoad_EnvOverridesPolicy(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "policy.yaml", "max_capacity: 40\n")
	t.Setenv("LOTKEEP_MAX_CAPACITY", "12")
	t.Setenv("LOTKEEP_SYNC_INTERVAL", "45s")
	t.Setenv("LOTKEEP_REQUIRE_REGISTERED_PLATE", "false")

	cfg, err := load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxCapacity)
	assert.Equal(t, 45*time.Second, cfg.SyncInterval)
	assert.False(t, cfg.RequireRegisteredPlate)
}

func TestLoad_InvalidEnvReportedTogether(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOTKEEP_MAX_CAPACITY", "many")
	t.Setenv("LOTKEEP_PROBE_INTERVAL", "often")

	_, err := load("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOTKEEP_MAX_CAPACITY")
	assert.Contains(t, err.Error(), "LOTKEEP_PROBE_INTERVAL")
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	envFile := writeFile(t, ".env", "LOTKEEP_FACILITY_NAME=From Dotenv\n")
	// godotenv sets variables that are unset; clearEnv left them empty.
	require.NoError(t, os.Unsetenv("LOTKEEP_FACILITY_NAME"))
	t.Cleanup(func() { os.Unsetenv("LOTKEEP_FACILITY_NAME") })

	cfg, err := load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "From Dotenv", cfg.FacilityName)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	clearEnv(t)

	_, err := load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.MaxCapacity = 0
	cfg.Backoff.Max = time.Second
	cfg.Notify.Provider = "twilio"

	errs := cfg.Validate()
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0].Error(), "max_capacity")
	assert.Contains(t, errs[1].Error(), "backoff.max")
	assert.Contains(t, errs[2].Error(), "twilio")
}
