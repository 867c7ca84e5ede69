package task

import (
	"context"
	"fmt"
	"time"

	"github.com/firmdesk/firmdesk/events"
)

// allowedEdges is the task status state machine. completed and cancelled
// are terminal and appear only as targets.
var allowedEdges = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the edge from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range allowedEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lifecycle validates and applies task status transitions. A transition
// that lands on completed publishes a completion event on the bus.
type Lifecycle struct {
	store Store
	bus   events.Bus
}

// NewLifecycle creates a Lifecycle over the given store. bus may be nil,
// in which case completion events are dropped.
func NewLifecycle(store Store, bus events.Bus) *Lifecycle {
	return &Lifecycle{store: store, bus: bus}
}

// Transition moves the task to target if the edge is allowed.
// It returns ErrNotFound for missing or soft-deleted tasks and
// ErrInvalidTransition for disallowed edges, including any transition
// out of a terminal state. A task completed twice does not re-emit its
// completion event: the second attempt fails before the update.
func (l *Lifecycle) Transition(ctx context.Context, taskID string, target Status) (*Task, error) {
	for {
		t, err := l.store.Get(taskID)
		if err != nil {
			return nil, err
		}
		if !CanTransition(t.Status, target) {
			return nil, fmt.Errorf("task %s: %s -> %s: %w", taskID, t.Status, target, ErrInvalidTransition)
		}

		updated, err := l.store.UpdateStatus(taskID, t.Status, target)
		if err != nil {
			return nil, err
		}
		if !updated {
			// Lost a race with a concurrent transition; re-read and
			// re-validate against the new status.
			continue
		}

		t.Status = target
		if target == StatusCompleted && l.bus != nil {
			_ = l.bus.Publish(ctx, events.Event{
				Type:      events.TypeTaskCompleted,
				TaskID:    taskID,
				Timestamp: time.Now().UTC(),
			})
		}
		return t, nil
	}
}
