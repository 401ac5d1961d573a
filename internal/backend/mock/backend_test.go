package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/fragility/internal/backend/mock"
	"github.com/kiranshivaraju/fragility/internal/groundmotion"
	"github.com/kiranshivaraju/fragility/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pulse returns a waveform whose PGA is pga (g) at dt = 0.01.
func pulse(t *testing.T, pga float64) []float64 {
	t.Helper()
	base := make([]float64, 400)
	for i := 100; i < 300; i++ {
		base[i] = 100
	}
	scaled, _, err := groundmotion.Scale(base, 0.01, pga)
	require.NoError(t, err)
	return scaled
}

func sampleRequest(t *testing.T, pga float64) models.BackendRequest {
	return models.BackendRequest{
		Params: models.StructuralParameterSet{
			Code:    "RC-PRE-2F-S",
			Stories: []models.StorySpec{{Story: 1, Mass: 1, Stiffness: 10, YieldStrength: 5, Height: 350}, {Story: 2, Mass: 1, Stiffness: 10, YieldStrength: 5, Height: 350}},
		},
		Waveform: pulse(t, pga),
		DT:       0.01,
		Damping:  0.05,
	}
}

// --- MockBackend ---

func TestMockBackend_Defaults(t *testing.T) {
	m := &mock.MockBackend{Name_: "bare"}
	resp, err := m.RunOnce(context.Background(), models.BackendRequest{})
	require.NoError(t, err)
	assert.True(t, resp.Converged)
	assert.Equal(t, "bare", m.Name())
	assert.Equal(t, 1, m.Calls())
}

func TestNewPowerLawBackend(t *testing.T) {
	m := mock.NewPowerLawBackend(0.02, 1.2)
	resp, err := m.RunOnce(context.Background(), sampleRequest(t, 0.5))
	require.NoError(t, err)
	assert.True(t, resp.Converged)
	assert.InDelta(t, 0.02*0.4352752816480622, resp.MaxDriftRatio, 1e-9)
}

func TestNewPowerLawBackend_RejectsInvalidParams(t *testing.T) {
	m := mock.NewPowerLawBackend(0.02, 1.2)
	_, err := m.RunOnce(context.Background(), models.BackendRequest{Waveform: []float64{1, 2}, DT: 0.01})
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
}

func TestNewDivergingBackend(t *testing.T) {
	m := mock.NewDivergingBackend(0.3)

	below, err := m.RunOnce(context.Background(), sampleRequest(t, 0.2))
	require.NoError(t, err)
	assert.True(t, below.Converged)

	at, err := m.RunOnce(context.Background(), sampleRequest(t, 0.3))
	require.NoError(t, err)
	assert.False(t, at.Converged)
}

func TestNewFailingBackend(t *testing.T) {
	boom := errors.New("license server down")
	_, err := mock.NewFailingBackend(boom).RunOnce(context.Background(), models.BackendRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestNewTimeoutBackend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := mock.NewTimeoutBackend().RunOnce(ctx, models.BackendRequest{})
	assert.ErrorIs(t, err, models.ErrBackendTimeout)
}

func TestNewPanickingBackend(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = mock.NewPanickingBackend().RunOnce(context.Background(), models.BackendRequest{})
	})
}
