package mock

import (
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/fragility/internal/backend"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

// MockBackend satisfies models.StructuralBackend for testing.
type MockBackend struct {
	Name_       string
	RunOnceFunc func(ctx context.Context, req models.BackendRequest) (models.BackendResponse, error)

	calls atomic.Int64
}

func (m *MockBackend) Name() string { return m.Name_ }

func (m *MockBackend) RunOnce(ctx context.Context, req models.BackendRequest) (models.BackendResponse, error) {
	m.calls.Add(1)
	if m.RunOnceFunc != nil {
		return m.RunOnceFunc(ctx, req)
	}
	return models.BackendResponse{Converged: true}, nil
}

// Calls reports how many times RunOnce was invoked.
func (m *MockBackend) Calls() int { return int(m.calls.Load()) }

// NewPowerLawBackend returns a MockBackend answering drift = a·PGA^b.
func NewPowerLawBackend(a, b float64) *MockBackend {
	law := backend.NewPowerLaw(a, b, 0)
	return &MockBackend{
		Name_:       "mock-powerlaw",
		RunOnceFunc: law.RunOnce,
	}
}

// NewDivergingBackend behaves like NewPowerLawBackend(0.01, 1) but reports
// non-convergence whenever the scaled PGA reaches atPGA (g).
func NewDivergingBackend(atPGA float64) *MockBackend {
	law := backend.NewPowerLaw(0.01, 1, 0.01*atPGA*(1-1e-9))
	return &MockBackend{
		Name_:       "mock-diverging",
		RunOnceFunc: law.RunOnce,
	}
}

// NewFailingBackend returns a MockBackend that always returns the given error.
func NewFailingBackend(err error) *MockBackend {
	return &MockBackend{
		Name_: "mock-failing",
		RunOnceFunc: func(_ context.Context, _ models.BackendRequest) (models.BackendResponse, error) {
			return models.BackendResponse{}, err
		},
	}
}

// NewTimeoutBackend returns a MockBackend that blocks until context is cancelled.
func NewTimeoutBackend() *MockBackend {
	return &MockBackend{
		Name_: "mock-timeout",
		RunOnceFunc: func(ctx context.Context, _ models.BackendRequest) (models.BackendResponse, error) {
			<-ctx.Done()
			return models.BackendResponse{}, models.ErrBackendTimeout
		},
	}
}

// NewPanickingBackend returns a MockBackend whose RunOnce panics.
func NewPanickingBackend() *MockBackend {
	return &MockBackend{
		Name_: "mock-panicking",
		RunOnceFunc: func(_ context.Context, _ models.BackendRequest) (models.BackendResponse, error) {
			panic("solver crashed")
		},
	}
}

// Compile-time check that MockBackend implements StructuralBackend.
var _ models.StructuralBackend = (*MockBackend)(nil)
