// Package jobs persists indexing job history and last-indexed file hashes.
package jobs

import "time"

// Status is the lifecycle state of an indexing job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job records one indexing run: what was queued on the embedding server,
// how far it got, and how it ended. RemoteID is the server-assigned job id
// and may stop being recognized after a server restart; local records
// survive that.
type Job struct {
	ID              string     `json:"id"`
	RemoteID        string     `json:"remoteId,omitempty"`
	Status          Status     `json:"status"`
	TotalChunks     int        `json:"totalChunks"`
	ProcessedChunks int        `json:"processedChunks"`
	BatchSize       int        `json:"batchSize"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// IsTerminal reports whether the job can no longer change state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ListOptions filters and pages job listings.
type ListOptions struct {
	Status []Status
	Limit  int
	Offset int
}
