// Package events provides the in-process bus for task lifecycle events.
package events

import (
	"context"
	"time"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	// TypeTaskCompleted is published when a transition lands on completed.
	// It is the sole trigger for immediate invoice generation.
	TypeTaskCompleted Type = "task_completed"
)

// Event describes a single task lifecycle occurrence.
type Event struct {
	Type      Type      `json:"type"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes published events.
type Handler func(ctx context.Context, ev Event) error

// Bus delivers lifecycle events from publishers to subscribers.
type Bus interface {
	// Publish delivers the event to all subscribers of its type.
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers a handler for events of the given type.
	// Returns an unsubscribe function.
	Subscribe(t Type, handler Handler) (unsubscribe func())
}
