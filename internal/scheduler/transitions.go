package scheduler

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

var ErrInvalidTransition = errors.New("invalid task status transition")

var validTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusQueued:     {models.TaskStatusDispatched, models.TaskStatusFailed},
	models.TaskStatusDispatched: {models.TaskStatusCacheHit, models.TaskStatusComputing, models.TaskStatusFailed},
	models.TaskStatusCacheHit:   {models.TaskStatusCompleted},
	models.TaskStatusComputing:  {models.TaskStatusCompleted, models.TaskStatusFailed},
}

// Transition returns to when the move from from is legal.
func Transition(from, to models.TaskStatus) (models.TaskStatus, error) {
	for _, a := range validTransitions[from] {
		if a == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Terminal reports whether no transition leaves s.
func Terminal(s models.TaskStatus) bool {
	return len(validTransitions[s]) == 0
}
