// Package counters mirrors per-run task counters and progress snapshots into
// Redis so other processes can watch a run.
package counters

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// Counters is the run-counter interface. Implementations must be safe for
// concurrent use.
type Counters interface {
	Ping(ctx context.Context) error
	RecordOutcome(ctx context.Context, runID uuid.UUID, outcome models.TaskOutcome) error
	Counts(ctx context.Context, runID uuid.UUID) (map[string]int64, error)
	SetRunStatus(ctx context.Context, runID uuid.UUID, status string) error
	RunStatus(ctx context.Context, runID uuid.UUID) (string, bool, error)
	PublishProgress(ctx context.Context, runID uuid.UUID, snapshot any) error
	Progress(ctx context.Context, runID uuid.UUID) ([]byte, bool, error)
}

var _ Counters = (*RedisCounters)(nil)

// RedisCounters implements Counters using go-redis/v9. Every key expires
// after ttl so abandoned runs clean themselves up.
type RedisCounters struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCounters creates a RedisCounters from a Redis URL.
func NewRedisCounters(redisURL string, ttl time.Duration) (*RedisCounters, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCounters{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *RedisCounters) Close() error {
	return c.client.Close()
}

func (c *RedisCounters) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RecordOutcome bumps the completed counter plus the fields the outcome
// falls under, in one transaction.
func (c *RedisCounters) RecordOutcome(ctx context.Context, runID uuid.UUID, outcome models.TaskOutcome) error {
	fields := []string{FieldCompleted}
	if outcome.Succeeded() {
		fields = append(fields, FieldSuccessful)
		if outcome.CacheHit {
			fields = append(fields, FieldCacheHits)
		} else {
			fields = append(fields, FieldNewAnalyses)
		}
	} else {
		fields = append(fields, FieldFailed)
	}

	pipe := c.client.TxPipeline()
	for _, f := range fields {
		key := RunCounterKey(runID, f)
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// IncrWithExpiry increments key and refreshes its expiry atomically.
func (c *RedisCounters) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Counts returns every counter field for runID. Missing fields read as 0.
func (c *RedisCounters) Counts(ctx context.Context, runID uuid.UUID) (map[string]int64, error) {
	keys := make([]string, len(Fields))
	for i, f := range Fields {
		keys[i] = RunCounterKey(runID, f)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(Fields))
	for i, f := range Fields {
		out[f] = 0
		s, ok := vals[i].(string)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			out[f] = n
		}
	}
	return out, nil
}

func (c *RedisCounters) SetRunStatus(ctx context.Context, runID uuid.UUID, status string) error {
	return c.client.Set(ctx, RunStatusKey(runID), status, c.ttl).Err()
}

func (c *RedisCounters) RunStatus(ctx context.Context, runID uuid.UUID) (string, bool, error) {
	val, err := c.client.Get(ctx, RunStatusKey(runID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// PublishProgress stores snapshot as JSON under the run's progress key.
func (c *RedisCounters) PublishProgress(ctx context.Context, runID uuid.UUID, snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, ProgressKey(runID), data, c.ttl).Err()
}

func (c *RedisCounters) Progress(ctx context.Context, runID uuid.UUID) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, ProgressKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}
