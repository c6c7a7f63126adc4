// Package metrics provides constants used across metric definitions.
package metrics

// Work item outcome labels.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusPanicked  = "panicked"
)

// Packet submission results.
const (
	ResultQueued  = "queued"
	ResultDropped = "dropped"
)

// Pool allocation sources.
const (
	SourceFresh  = "fresh"
	SourceReused = "reused"
)

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)
