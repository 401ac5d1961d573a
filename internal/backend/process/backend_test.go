package process_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/kiranshivaraju/fragility/internal/backend/process"
	"github.com/kiranshivaraju/fragility/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "solver.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func request() models.BackendRequest {
	return models.BackendRequest{
		Params: models.StructuralParameterSet{
			Code:    "RC-PRE-3F-S",
			Stories: []models.StorySpec{{Story: 1, Mass: 1, Stiffness: 1, YieldStrength: 1, Height: 350}},
		},
		Waveform: []float64{0, 1, 0},
		DT:       0.05,
		Damping:  0.05,
	}
}

func TestRunOnce_DecodesStdout(t *testing.T) {
	path := script(t, `grep -q '"archetype_code":"RC-PRE-3F-S"' || exit 3
echo '{"max_drift_ratio":0.0123,"converged":true}'
`)
	b := process.NewBackend(path)
	resp, err := b.RunOnce(context.Background(), request())
	require.NoError(t, err)
	assert.InDelta(t, 0.0123, resp.MaxDriftRatio, 1e-12)
	assert.True(t, resp.Converged)
	assert.Equal(t, "exec", b.Name())
}

func TestRunOnce_NonConverged(t *testing.T) {
	path := script(t, "cat >/dev/null\necho '{\"max_drift_ratio\":0.3,\"converged\":false}'\n")
	resp, err := process.NewBackend(path).RunOnce(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, resp.Converged)
}

func TestRunOnce_ExitCode(t *testing.T) {
	path := script(t, "cat >/dev/null\necho 'matrix singular' >&2\nexit 2\n")
	_, err := process.NewBackend(path).RunOnce(context.Background(), request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 2")
	assert.Contains(t, err.Error(), "matrix singular")
}

func TestRunOnce_InvalidJSON(t *testing.T) {
	path := script(t, "cat >/dev/null\necho 'not json'\n")
	_, err := process.NewBackend(path).RunOnce(context.Background(), request())
	assert.ErrorIs(t, err, models.ErrInvalidResponse)
}

func TestRunOnce_Timeout(t *testing.T) {
	path := script(t, "exec sleep 5\n")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := process.NewBackend(path).RunOnce(ctx, request())
	assert.ErrorIs(t, err, models.ErrBackendTimeout)
}

func TestRunOnce_MissingCommand(t *testing.T) {
	_, err := process.NewBackend(filepath.Join(t.TempDir(), "missing")).RunOnce(context.Background(), request())
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}
