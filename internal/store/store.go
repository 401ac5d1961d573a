// Package store persists runs, task outcomes and the latest fragility
// result per archetype in Postgres.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid run status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status string, opts ...RunUpdateOption) error

	RecordOutcome(ctx context.Context, runID uuid.UUID, outcome models.TaskOutcome) error
	ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]*models.TaskOutcome, int, error)

	UpsertFragilityResult(ctx context.Context, runID uuid.UUID, result *models.FragilityCurveResult) (bool, error)
	GetFragilityResult(ctx context.Context, code string) (*models.FragilityCurveResult, error)
	GetFragilityResultsByCodes(ctx context.Context, codes []string) ([]*models.FragilityCurveResult, error)
}

type OutcomeFilter struct {
	RunID         uuid.UUID
	Status        models.TaskStatus
	ArchetypeCode string
	Page          int
	Limit         int
}

// RunTotals are the counters written when a run finishes.
type RunTotals struct {
	TotalTasks       int
	UniqueArchetypes int
	Successful       int
	Failed           int
	CacheHits        int
}

type runUpdateParams struct {
	ErrorMessage *string
	QualityScore *float64
	Totals       *RunTotals
}

type RunUpdateOption func(*runUpdateParams)

func WithErrorMessage(msg string) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithQualityScore(score float64) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.QualityScore = &score
	}
}

func WithTotals(t RunTotals) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.Totals = &t
	}
}
