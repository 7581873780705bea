// Package store persists tenants, analysis jobs, plans, and tasks. Postgres
// is the production backend; SQLite serves single-node development and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/beaconhq/growth-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Tenants. The tenant store is owned by the external CRUD subsystem;
	// the pipeline reads it and the upsert exists for seeding and tests.
	GetTenant(ctx context.Context, tenantID string) (*model.TenantContext, error)
	UpsertTenant(ctx context.Context, tc model.TenantContext) error

	// Jobs
	CreateJob(ctx context.Context, job *model.AnalysisJob) error
	GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error)
	UpdateJob(ctx context.Context, job *model.AnalysisJob) error
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.AnalysisJob, error)
	// ActiveJob returns the tenant's single non-terminal job, or nil.
	ActiveJob(ctx context.Context, tenantID string) (*model.AnalysisJob, error)
	// LastCompletedAt returns when the tenant's most recent job completed;
	// the zero time means no job has ever completed.
	LastCompletedAt(ctx context.Context, tenantID string) (time.Time, error)
	// CompleteJob writes the plan, its tasks, and the completed job record in
	// one transaction. A completed job is never visible without its plan.
	CompleteJob(ctx context.Context, job *model.AnalysisJob, plan *model.Plan, tasks []model.Task) error

	// Plans and tasks
	GetPlan(ctx context.Context, planID string) (*model.Plan, error)
	// CurrentPlan returns the tenant's most recently created plan, or nil.
	CurrentPlan(ctx context.Context, tenantID string) (*model.Plan, error)
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	ListTasks(ctx context.Context, planID string) ([]model.Task, error)
	UpdateTaskDescription(ctx context.Context, taskID, description string) error
	CreateTasks(ctx context.Context, tasks []model.Task) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
