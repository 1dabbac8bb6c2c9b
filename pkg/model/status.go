package model

import "strings"

// TaskStatus is the lifecycle status of a task or of a single job.
// Transitions are monotonic toward a final state; processing may persist
// indefinitely while the engine is still working.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusAborted    TaskStatus = "aborted"
)

// IsFinal reports whether no further status transitions can occur.
func (s TaskStatus) IsFinal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// Symbol returns a single-rune marker used in rendered progress snapshots.
func (s TaskStatus) Symbol() string {
	switch s {
	case StatusCompleted:
		return "✓"
	case StatusFailed:
		return "✗"
	case StatusAborted:
		return "!"
	case StatusProcessing:
		return "~"
	default:
		return "."
	}
}

// StatusFromEngine maps an engine-server status string onto a TaskStatus.
// Unknown strings map to processing so pollers keep waiting.
func StatusFromEngine(s string) TaskStatus {
	switch strings.ToLower(s) {
	case "submitted", "queued", "on hold":
		return StatusQueued
	case "running", "processing", "starting":
		return StatusProcessing
	case "succeeded", "done", "completed", "success":
		return StatusCompleted
	case "failed", "fail", "error":
		return StatusFailed
	case "aborting", "aborted":
		return StatusAborted
	default:
		return StatusProcessing
	}
}
