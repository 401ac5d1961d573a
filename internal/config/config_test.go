package config_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/fragility/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv is a helper that sets environment variables for a test and restores them after.
func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"FRAGILITY_BACKEND": "", "FRAGILITY_WORKERS": ""})

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "mock", cfg.Backend.Kind)
	assert.Equal(t, 0, cfg.Run.Workers)
	assert.Equal(t, 3, cfg.Run.MergeInterval)
	assert.Equal(t, time.Hour, cfg.Run.TaskTimeout)
	assert.Equal(t, 30*time.Second, cfg.Run.ReportInterval)
	assert.Equal(t, config.DefaultPGATargets, cfg.Analysis.PGATargets)
	assert.Equal(t, config.DefaultDamageStates, cfg.Analysis.DamageStates)
	assert.Equal(t, 0.10, cfg.Analysis.CollapseDrift)
	assert.Equal(t, 0.05, cfg.Analysis.GMTimeStep)
	assert.Equal(t, 5, cfg.Cache.Backups)
	assert.Equal(t, 3, cfg.Cache.LoadRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Cache.LoadRetryDelay)
	assert.Equal(t, 0, cfg.Server.Port)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, map[string]string{
		"FRAGILITY_LOG_LEVEL":          "DEBUG",
		"FRAGILITY_WORKERS":            "6",
		"FRAGILITY_SKIP_VALIDATION":    "true",
		"FRAGILITY_TASK_TIMEOUT_SECS":  "90",
		"FRAGILITY_PGA_TARGETS":        "0.1, 0.2,0.4",
		"FRAGILITY_DAMAGE_STATES":      "Minor=0.01,Collapse=0.05",
		"FRAGILITY_CACHE_LOCK_TIMEOUT": "2s",
		"FRAGILITY_STATUS_PORT":        "9090",
	})

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 6, cfg.Run.Workers)
	assert.True(t, cfg.Run.SkipValidation)
	assert.Equal(t, 90*time.Second, cfg.Run.TaskTimeout)
	assert.Equal(t, []float64{0.1, 0.2, 0.4}, cfg.Analysis.PGATargets)
	assert.Equal(t, []config.DamageState{{Name: "Minor", IDR: 0.01}, {Name: "Collapse", IDR: 0.05}}, cfg.Analysis.DamageStates)
	assert.Equal(t, 2*time.Second, cfg.Cache.LockTimeout)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	setEnv(t, map[string]string{
		"FRAGILITY_WORKERS":        "many",
		"FRAGILITY_PGA_TARGETS":    "0.1,abc",
		"FRAGILITY_DAMAGE_STATES":  "Slight",
		"FRAGILITY_COLLAPSE_DRIFT": "ten",
	})

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Run.Workers)
	assert.Equal(t, config.DefaultPGATargets, cfg.Analysis.PGATargets)
	assert.Equal(t, config.DefaultDamageStates, cfg.Analysis.DamageStates)
	assert.Equal(t, 0.10, cfg.Analysis.CollapseDrift)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{"log level", map[string]string{"FRAGILITY_LOG_LEVEL": "trace"}, "FRAGILITY_LOG_LEVEL"},
		{"negative workers", map[string]string{"FRAGILITY_WORKERS": "-1"}, "FRAGILITY_WORKERS"},
		{"merge interval", map[string]string{"FRAGILITY_MERGE_INTERVAL": "0"}, "FRAGILITY_MERGE_INTERVAL"},
		{"targets not increasing", map[string]string{"FRAGILITY_PGA_TARGETS": "0.2,0.1"}, "strictly increasing"},
		{"non-positive target", map[string]string{"FRAGILITY_PGA_TARGETS": "0,0.1"}, "FRAGILITY_PGA_TARGETS"},
		{"damping", map[string]string{"FRAGILITY_DAMPING": "1.5"}, "FRAGILITY_DAMPING"},
		{"unknown backend", map[string]string{"FRAGILITY_BACKEND": "opensees"}, "FRAGILITY_BACKEND"},
		{"exec without command", map[string]string{"FRAGILITY_BACKEND": "exec", "FRAGILITY_SOLVER_COMMAND": ""}, "FRAGILITY_SOLVER_COMMAND"},
		{"http without scheme", map[string]string{"FRAGILITY_BACKEND": "http", "FRAGILITY_SOLVER_URL": "solver:8000"}, "FRAGILITY_SOLVER_URL"},
		{"port", map[string]string{"FRAGILITY_STATUS_PORT": "70000"}, "FRAGILITY_STATUS_PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			_, err := config.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_ExecBackend(t *testing.T) {
	setEnv(t, map[string]string{
		"FRAGILITY_BACKEND":        "exec",
		"FRAGILITY_SOLVER_COMMAND": "/usr/local/bin/stick-solver",
		"FRAGILITY_SOLVER_ARGS":    "--json  --quiet",
	})

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/stick-solver", cfg.Backend.Exec.Command)
	assert.Equal(t, []string{"--json", "--quiet"}, cfg.Backend.Exec.Args)
}
