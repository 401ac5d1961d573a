package counters

import (
	"fmt"

	"github.com/google/uuid"
)

// Counter fields kept per run.
const (
	FieldCompleted   = "completed"
	FieldSuccessful  = "successful"
	FieldFailed      = "failed"
	FieldCacheHits   = "cache_hits"
	FieldNewAnalyses = "new_analyses"
)

// Fields lists every counter field in report order.
var Fields = []string{FieldCompleted, FieldSuccessful, FieldFailed, FieldCacheHits, FieldNewAnalyses}

func RunCounterKey(runID uuid.UUID, field string) string {
	return fmt.Sprintf("fragility:run:%s:count:%s", runID, field)
}

func RunStatusKey(runID uuid.UUID) string {
	return fmt.Sprintf("fragility:run:%s:status", runID)
}

func ProgressKey(runID uuid.UUID) string {
	return fmt.Sprintf("fragility:run:%s:progress", runID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("fragility:ratelimit:%s", client)
}
