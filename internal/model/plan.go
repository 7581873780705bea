package model

import "time"

// FocusArea is one ordered entry in a plan's strategy outline.
type FocusArea struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Goal        string `json:"goal,omitempty"` // the tenant goal this area serves
}

// Plan is the structured marketing plan produced by one completed job.
// Plans are superseded, never deleted; the most recent completed job's plan
// is the tenant's current plan.
type Plan struct {
	ID              string      `json:"id"`
	TenantID        string      `json:"tenant_id"`
	JobID           string      `json:"job_id"`
	Goals           []string    `json:"goals"` // at most 3, copied from tenant context
	StrategyOutline []FocusArea `json:"strategy_outline"`
	CreatedAt       time.Time   `json:"created_at"`
}

// TaskStatus tracks user-facing task progress. Status changes are owned by
// the task-management surface; the pipeline only appends suggested tasks.
type TaskStatus string

const (
	TaskToDo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskIgnored    TaskStatus = "ignored"
)

// TaskOrigin records who created a task.
type TaskOrigin string

const (
	TaskAiSuggested TaskOrigin = "ai_suggested"
	TaskUserAdded   TaskOrigin = "user_added"
)

// Task is one actionable item attached to a plan.
type Task struct {
	ID          string     `json:"id"`
	PlanID      string     `json:"plan_id"`
	TenantID    string     `json:"tenant_id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Origin      TaskOrigin `json:"origin"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RetrievedSnippet is one knowledge-base passage returned by similarity
// search. Snippets are transient per job: logged for traceability and kept in
// the job checkpoint only until generation completes.
type RetrievedSnippet struct {
	SnippetID        string  `json:"snippet_id"`
	SourceDocumentID string  `json:"source_document_id"`
	Text             string  `json:"text"`
	RelevanceScore   float64 `json:"relevance_score"` // 0..1
}
