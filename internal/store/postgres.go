package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, inventory_path, workers, total_tasks, unique_archetypes, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Status, run.InventoryPath, run.Workers, run.TotalTasks, run.UniqueArchetypes, run.StartedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var r models.Run
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, inventory_path, workers, total_tasks, unique_archetypes, successful_tasks,
		        failed_tasks, cache_hits, quality_score, error_message, started_at, completed_at
		 FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Status, &r.InventoryPath, &r.Workers, &r.TotalTasks, &r.UniqueArchetypes,
		&r.SuccessfulTasks, &r.FailedTasks, &r.CacheHits, &r.QualityScore, &r.ErrorMessage,
		&r.StartedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

var validTransitions = map[string][]string{
	models.RunStatusRunning: {models.RunStatusCompleted, models.RunStatusFailed},
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status string, opts ...RunUpdateOption) error {
	params := &runUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	// Fetch current status
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}

	valid := false
	for _, a := range validTransitions[currentStatus] {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	query := `UPDATE runs SET status = $2, completed_at = $3`
	args := []any{id, status, time.Now().UTC()}
	argIdx := 4

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.QualityScore != nil {
		query += fmt.Sprintf(", quality_score = $%d", argIdx)
		args = append(args, *params.QualityScore)
		argIdx++
	}
	if t := params.Totals; t != nil {
		query += fmt.Sprintf(", total_tasks = $%d, unique_archetypes = $%d, successful_tasks = $%d, failed_tasks = $%d, cache_hits = $%d",
			argIdx, argIdx+1, argIdx+2, argIdx+3, argIdx+4)
		args = append(args, t.TotalTasks, t.UniqueArchetypes, t.Successful, t.Failed, t.CacheHits)
		argIdx += 5
	}

	query += " WHERE id = $1"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// --- Task outcomes ---

func (s *PostgresStore) RecordOutcome(ctx context.Context, runID uuid.UUID, o models.TaskOutcome) error {
	status := models.TaskStatusCompleted
	if !o.Succeeded() {
		status = models.TaskStatusFailed
	}
	var errMsg *string
	if msg := outcomeError(o); msg != "" {
		errMsg = &msg
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_outcomes (task_id, run_id, building_id, archetype_code, status, cache_hit, worker_id, duration_ms, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.TaskID, runID, o.BuildingID, o.Code, string(status), o.CacheHit, o.WorkerID,
		o.Duration.Milliseconds(), errMsg)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("record task outcome: %w", err)
	}
	return nil
}

func outcomeError(o models.TaskOutcome) string {
	if o.Error != "" {
		return o.Error
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	return ""
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]*models.TaskOutcome, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"run_id = $1"}
	args := []any{filter.RunID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ArchetypeCode != "" {
		conditions = append(conditions, fmt.Sprintf("archetype_code = $%d", argIdx))
		args = append(args, models.NormalizeKey(filter.ArchetypeCode))
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM task_outcomes WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count task outcomes: %w", err)
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT task_id, building_id, archetype_code, status, cache_hit, worker_id, duration_ms, error_message
		 FROM task_outcomes WHERE %s ORDER BY created_at, building_id LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list task outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*models.TaskOutcome
	for rows.Next() {
		var (
			o          models.TaskOutcome
			status     string
			durationMS int64
			errMsg     *string
		)
		if err := rows.Scan(&o.TaskID, &o.BuildingID, &o.Code, &status, &o.CacheHit, &o.WorkerID,
			&durationMS, &errMsg); err != nil {
			return nil, 0, fmt.Errorf("scan task outcome: %w", err)
		}
		o.Status = models.TaskStatus(status)
		o.Duration = time.Duration(durationMS) * time.Millisecond
		if errMsg != nil {
			o.Error = *errMsg
		}
		outcomes = append(outcomes, &o)
	}
	return outcomes, total, rows.Err()
}

// --- Fragility results ---

// UpsertFragilityResult stores result unless the table already holds a
// result for the same archetype computed at the same time or later. It
// reports whether the row was written.
func (s *PostgresStore) UpsertFragilityResult(ctx context.Context, runID uuid.UUID, result *models.FragilityCurveResult) (bool, error) {
	probs, err := json.Marshal(result.CollapseProbabilities)
	if err != nil {
		return false, fmt.Errorf("encode collapse probabilities: %w", err)
	}
	var params []byte
	if len(result.FragilityParams) > 0 {
		if params, err = json.Marshal(result.FragilityParams); err != nil {
			return false, fmt.Errorf("encode fragility params: %w", err)
		}
	}
	var run *uuid.UUID
	if runID != uuid.Nil {
		run = &runID
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO fragility_results (archetype_code, run_id, collapse_probabilities, fragility_params, source_method,
		                                confidence, computation_time, n_samples, computed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (archetype_code) DO UPDATE SET
		   run_id = EXCLUDED.run_id,
		   collapse_probabilities = EXCLUDED.collapse_probabilities,
		   fragility_params = EXCLUDED.fragility_params,
		   source_method = EXCLUDED.source_method,
		   confidence = EXCLUDED.confidence,
		   computation_time = EXCLUDED.computation_time,
		   n_samples = EXCLUDED.n_samples,
		   computed_at = EXCLUDED.computed_at,
		   updated_at = NOW()
		 WHERE fragility_results.computed_at < EXCLUDED.computed_at`,
		models.NormalizeKey(result.ArchetypeCode), run, probs, params, string(result.SourceMethod),
		string(result.Confidence), result.ComputationTime, result.SampleCount, result.ComputedAt)
	if err != nil {
		return false, fmt.Errorf("upsert fragility result: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const fragilityColumns = `archetype_code, collapse_probabilities, fragility_params, source_method, confidence,
	computation_time, n_samples, computed_at`

func scanFragility(row pgx.Row) (*models.FragilityCurveResult, error) {
	var (
		r             models.FragilityCurveResult
		probs, params []byte
		method, conf  string
	)
	if err := row.Scan(&r.ArchetypeCode, &probs, &params, &method, &conf,
		&r.ComputationTime, &r.SampleCount, &r.ComputedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(probs, &r.CollapseProbabilities); err != nil {
		return nil, fmt.Errorf("decode collapse probabilities: %w", err)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.FragilityParams); err != nil {
			return nil, fmt.Errorf("decode fragility params: %w", err)
		}
	}
	r.SourceMethod = models.SourceMethod(method)
	r.Confidence = models.Confidence(conf)
	r.ComputedAt = r.ComputedAt.UTC()
	return &r, nil
}

func (s *PostgresStore) GetFragilityResult(ctx context.Context, code string) (*models.FragilityCurveResult, error) {
	r, err := scanFragility(s.pool.QueryRow(ctx,
		`SELECT `+fragilityColumns+` FROM fragility_results WHERE archetype_code = $1`,
		models.NormalizeKey(code)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fragility result: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetFragilityResultsByCodes(ctx context.Context, codes []string) ([]*models.FragilityCurveResult, error) {
	if len(codes) == 0 {
		return []*models.FragilityCurveResult{}, nil
	}
	keys := make([]string, len(codes))
	for i, c := range codes {
		keys[i] = models.NormalizeKey(c)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+fragilityColumns+` FROM fragility_results WHERE archetype_code = ANY($1) ORDER BY archetype_code`, keys)
	if err != nil {
		return nil, fmt.Errorf("get fragility results by codes: %w", err)
	}
	defer rows.Close()

	var out []*models.FragilityCurveResult
	for rows.Next() {
		r, err := scanFragility(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fragility result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
