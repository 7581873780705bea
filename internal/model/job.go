package model

import (
	"time"
)

// JobState represents the current state of an analysis job.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateCrawling   JobState = "crawling"
	JobStateRetrieving JobState = "retrieving"
	JobStateGenerating JobState = "generating"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether the state is one of the two terminal states.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Stage identifies one pipeline stage of an analysis job.
type Stage string

const (
	StageCrawling   Stage = "crawling"
	StageRetrieving Stage = "retrieving"
	StageGenerating Stage = "generating"
)

// StageFor returns the stage executed while the job is in the given state.
// Terminal states and queued have no stage.
func StageFor(s JobState) (Stage, bool) {
	switch s {
	case JobStateCrawling:
		return StageCrawling, true
	case JobStateRetrieving:
		return StageRetrieving, true
	case JobStateGenerating:
		return StageGenerating, true
	default:
		return "", false
	}
}

// NextState returns the state entered after the given state's stage succeeds.
func NextState(s JobState) JobState {
	switch s {
	case JobStateQueued:
		return JobStateCrawling
	case JobStateCrawling:
		return JobStateRetrieving
	case JobStateRetrieving:
		return JobStateGenerating
	case JobStateGenerating:
		return JobStateCompleted
	default:
		return s
	}
}

// StageError captures enough structured detail about a stage failure to
// reconstruct root cause from the job record alone.
type StageError struct {
	Stage   Stage  `json:"stage"`
	Attempt int    `json:"attempt"`
	Message string `json:"message"`
	// Retryable is false for contract errors (e.g. missing target URL)
	// where retrying cannot change the outcome.
	Retryable bool `json:"retryable"`
}

// AnalysisJob is one end-to-end crawl → retrieve → generate run for a tenant.
// Jobs are created by the trigger API, mutated only by the orchestrator, and
// never deleted.
type AnalysisJob struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	RequestedAt    time.Time      `json:"requested_at"`
	TargetURL      string         `json:"target_url"`
	CompetitorURLs []string       `json:"competitor_urls,omitempty"`
	State          JobState       `json:"state"`
	Attempts       map[Stage]int  `json:"attempts,omitempty"`
	LastError      *StageError    `json:"last_error,omitempty"`
	Checkpoint     *JobCheckpoint `json:"checkpoint,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AttemptCount returns the recorded attempt count for a stage.
func (j *AnalysisJob) AttemptCount(stage Stage) int {
	if j.Attempts == nil {
		return 0
	}
	return j.Attempts[stage]
}

// RecordAttempt increments the attempt count for a stage.
func (j *AnalysisJob) RecordAttempt(stage Stage) int {
	if j.Attempts == nil {
		j.Attempts = make(map[Stage]int)
	}
	j.Attempts[stage]++
	return j.Attempts[stage]
}

// JobCheckpoint holds stage outputs persisted after each transition so a job
// interrupted mid-pipeline resumes at the last completed stage instead of
// restarting from zero.
type JobCheckpoint struct {
	CrawlResults []CrawlResult      `json:"crawl_results,omitempty"`
	Summaries    []TargetSummary    `json:"summaries,omitempty"`
	Snippets     []RetrievedSnippet `json:"snippets,omitempty"`
}

// JobFilter specifies criteria for listing analysis jobs.
type JobFilter struct {
	TenantID string   `json:"tenant_id,omitempty"`
	State    JobState `json:"state,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
}
