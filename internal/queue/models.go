// Package queue implements the persistent job queue that drives the
// processing pipeline. Each submission expands into a small graph of stage
// jobs plus a root job that tracks the run as a whole.
package queue

import "time"

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusAdded means the job is runnable as soon as a worker is free.
	StatusAdded Status = "added"
	// StatusWaiting means the job has unmet dependencies.
	StatusWaiting Status = "waiting"
	// StatusProcessing means a worker holds the job and is executing it.
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusStalled marks a job whose worker stopped heartbeating.
	StatusStalled Status = "stalled"
)

// TerminalStatuses are states a job never leaves on its own.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one unit of pipeline work. RootID groups all jobs of a single run;
// the root job's own ID equals its RootID. Stage is carried explicitly in the
// row rather than inferred from position in the graph.
type Job struct {
	ID              string
	RootID          string
	SubmissionID    int64
	Stage           string
	DependsOn       []string
	Status          Status
	ProgressPercent float64
	ProgressMessage string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// IsRoot reports whether this job is the run-level tracking job.
func (j *Job) IsRoot() bool { return j.ID == j.RootID }

// Stats summarizes queue contents by status.
type Stats struct {
	Added      int64 `json:"added"`
	Waiting    int64 `json:"waiting"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Stalled    int64 `json:"stalled"`
	Total      int64 `json:"total"`
}
