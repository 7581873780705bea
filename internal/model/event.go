package model

import "time"

// EventKind identifies a pipeline notification.
type EventKind string

const (
	EventJobCompleted    EventKind = "job_completed"
	EventJobFailed       EventKind = "job_failed"
	EventReevalCompleted EventKind = "reeval_completed"
)

// PipelineEvent is published when a job or re-evaluation reaches a terminal
// outcome. Consumers (the task UI, notifications) subscribe to these; the
// pipeline never waits on them.
type PipelineEvent struct {
	Kind     EventKind `json:"kind"`
	TenantID string    `json:"tenant_id"`
	JobID    string    `json:"job_id,omitempty"`
	PlanID   string    `json:"plan_id,omitempty"`
	TaskIDs  []string  `json:"task_ids,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
