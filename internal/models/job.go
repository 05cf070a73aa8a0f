package models

import "time"

// JobState is the lifecycle state of a tracked job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobKind distinguishes the two job flavours sharing the registry.
type JobKind string

const (
	JobKindBatch   JobKind = "batch"
	JobKindCheckIn JobKind = "checkin"
)

// JobSnapshot is a point-in-time copy of a job, safe to serialize.
type JobSnapshot struct {
	ID              string     `json:"jobId"`
	Kind            JobKind    `json:"kind"`
	State           JobState   `json:"state"`
	SourceObjectKey string     `json:"sourceObjectKey,omitempty"`
	Progress        int        `json:"progress"`
	Message         string     `json:"message,omitempty"`
	Error           string     `json:"error,omitempty"`
	Summary         *Summary   `json:"summary,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}
