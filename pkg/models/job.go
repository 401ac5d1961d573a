package models

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusDispatched TaskStatus = "dispatched"
	TaskStatusCacheHit   TaskStatus = "cache_hit"
	TaskStatusComputing  TaskStatus = "computing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// JobTask is one (building, archetype) unit of work.
type JobTask struct {
	ID                 uuid.UUID     `json:"id"`
	BuildingID         string        `json:"building_id"`
	Code               ArchetypeCode `json:"archetype"`
	AreaSqm            float64       `json:"area_sqm"`
	RepresentativeArea float64       `json:"representative_area_sqm"`
}

// TaskOutcome is the terminal record of a JobTask.
type TaskOutcome struct {
	TaskID     uuid.UUID             `json:"task_id"`
	BuildingID string                `json:"building_id"`
	Code       string                `json:"archetype_code"`
	Status     TaskStatus            `json:"status"`
	CacheHit   bool                  `json:"cache_hit"`
	Result     *FragilityCurveResult `json:"result,omitempty"`
	Err        error                 `json:"-"`
	Error      string                `json:"error,omitempty"`
	WorkerID   int                   `json:"worker_id"`
	Duration   time.Duration         `json:"duration_ns"`
}

// Succeeded reports whether the outcome carries a usable result.
func (o TaskOutcome) Succeeded() bool {
	return o.Status == TaskStatusCompleted && o.Result != nil
}

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one batch invocation, persisted when a database is configured.
type Run struct {
	ID               uuid.UUID  `db:"id"                json:"id"`
	Status           string     `db:"status"            json:"status"`
	InventoryPath    string     `db:"inventory_path"    json:"inventory_path"`
	Workers          int        `db:"workers"           json:"workers"`
	TotalTasks       int        `db:"total_tasks"       json:"total_tasks"`
	UniqueArchetypes int        `db:"unique_archetypes" json:"unique_archetypes"`
	SuccessfulTasks  int        `db:"successful_tasks"  json:"successful_tasks"`
	FailedTasks      int        `db:"failed_tasks"      json:"failed_tasks"`
	CacheHits        int        `db:"cache_hits"        json:"cache_hits"`
	QualityScore     *float64   `db:"quality_score"     json:"quality_score,omitempty"`
	ErrorMessage     *string    `db:"error_message"     json:"error_message,omitempty"`
	StartedAt        time.Time  `db:"started_at"        json:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"      json:"completed_at,omitempty"`
}
