// Package scheduler provides the worker pool that runs decode and stream work
// items in priority order, plus a queue of items that must run on the owning
// goroutine.
package scheduler

import (
	"github.com/tphakala/audiostream/internal/errors"
)

// ComponentScheduler is the error component name used by this package.
const ComponentScheduler = "scheduler"

// Common errors that can be returned by pool operations
var (
	ErrNilWork       = errors.New(errors.NewStd("cannot queue nil work")).Component(ComponentScheduler).Category(errors.CategoryValidation).Build()
	ErrPoolClosed    = errors.New(errors.NewStd("worker pool has been closed")).Component(ComponentScheduler).Category(errors.CategoryState).Build()
	ErrAlreadyQueued = errors.New(errors.NewStd("work item was already queued")).Component(ComponentScheduler).Category(errors.CategoryConflict).Build()
)

// ItemStatus represents the lifecycle state of a work item
type ItemStatus int32

const (
	// ItemStatusCreated indicates the item has not been queued yet
	ItemStatusCreated ItemStatus = iota
	// ItemStatusQueued indicates the item is waiting for a worker
	ItemStatusQueued
	// ItemStatusRunning indicates the item is executing
	ItemStatusRunning
	// ItemStatusCompleted indicates the item ran to completion
	ItemStatusCompleted
	// ItemStatusCancelled indicates the item was cancelled before it ran
	ItemStatusCancelled
	// ItemStatusPanicked indicates the item panicked and was recovered
	ItemStatusPanicked
)

// String returns a string representation of the item status
func (s ItemStatus) String() string {
	switch s {
	case ItemStatusCreated:
		return "Created"
	case ItemStatusQueued:
		return "Queued"
	case ItemStatusRunning:
		return "Running"
	case ItemStatusCompleted:
		return "Completed"
	case ItemStatusCancelled:
		return "Cancelled"
	case ItemStatusPanicked:
		return "Panicked"
	default:
		return "Unknown"
	}
}

// Finished reports whether the status is terminal.
func (s ItemStatus) Finished() bool {
	return s >= ItemStatusCompleted
}

// Stats is a snapshot of pool counters
type Stats struct {
	Workers    int
	Queued     int64 // waiting for a worker
	Running    int64
	MainThread int   // waiting on the main-thread queue
	Completed  uint64
	Cancelled  uint64
	Panicked   uint64
	Moved      uint64 // priority changes applied by the update pass
}
