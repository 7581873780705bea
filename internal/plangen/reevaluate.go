package plangen

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/resilience"
)

// TaskStore is the slice of the result store the re-evaluation flow needs.
type TaskStore interface {
	GetPlan(ctx context.Context, planID string) (*model.Plan, error)
	ListTasks(ctx context.Context, planID string) ([]model.Task, error)
	UpdateTaskDescription(ctx context.Context, taskID, description string) error
	CreateTasks(ctx context.Context, tasks []model.Task) error
}

// Locker serializes access to a keyed resource. Acquire returns false when
// the lock is already held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Publisher delivers pipeline events to external consumers.
type Publisher interface {
	Publish(ctx context.Context, event model.PipelineEvent) error
}

// DeadLetter records re-evaluation requests that failed after retries.
type DeadLetter interface {
	Push(ctx context.Context, entry resilience.ReevalDLQEntry) error
}

// reevalLockTTL bounds how long one re-evaluation may hold its task lock.
const reevalLockTTL = 2 * time.Minute

// Reevaluator runs the lightweight re-evaluation sub-flow: when a user edits
// an existing task or adds one, the model reviews it against the current plan
// and either refines the task's description or suggests related tasks. It
// never re-runs crawling or retrieval and never creates a plan or a job.
type Reevaluator struct {
	gen     TextGenerator
	store   TaskStore
	locks   Locker
	events  Publisher
	dlq     DeadLetter
	nowFunc func() time.Time
}

// NewReevaluator creates a Reevaluator. events and dlq may be nil.
func NewReevaluator(gen TextGenerator, store TaskStore, locks Locker, events Publisher, dlq DeadLetter) *Reevaluator {
	return &Reevaluator{
		gen:     gen,
		store:   store,
		locks:   locks,
		events:  events,
		dlq:     dlq,
		nowFunc: time.Now,
	}
}

// ErrTaskBusy is returned when another re-evaluation of the same task is in
// flight.
var ErrTaskBusy = eris.New("plangen: task re-evaluation already in progress")

// Reevaluate processes one changed or added task under a per-task lock. The
// tenant's full-job lock is not touched; re-evaluation runs concurrently with
// anything except another edit of the same task. Failures are pushed to the
// dead letter queue before the error is returned.
func (r *Reevaluator) Reevaluate(ctx context.Context, tenantID string, task model.Task) error {
	log := zap.L().With(
		zap.String("tenant_id", tenantID),
		zap.String("task_id", task.ID),
	)

	release, acquired, err := r.locks.Acquire(ctx, "reeval:task:"+task.ID, reevalLockTTL)
	if err != nil {
		return eris.Wrap(err, "plangen: acquire task lock")
	}
	if !acquired {
		return ErrTaskBusy
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			log.Warn("failed to release task lock", zap.Error(relErr))
		}
	}()

	taskIDs, err := r.run(ctx, tenantID, task)
	if err != nil {
		r.deadLetter(ctx, tenantID, task, err)
		return err
	}

	if r.events != nil && len(taskIDs) > 0 {
		event := model.PipelineEvent{
			Kind:     model.EventReevalCompleted,
			TenantID: tenantID,
			PlanID:   task.PlanID,
			TaskIDs:  taskIDs,
			At:       r.nowFunc().UTC(),
		}
		if pubErr := r.events.Publish(ctx, event); pubErr != nil {
			log.Warn("failed to publish re-evaluation event", zap.Error(pubErr))
		}
	}

	log.Info("re-evaluation complete", zap.Int("tasks_touched", len(taskIDs)))
	return nil
}

// run executes the re-evaluation under the already-held lock and returns the
// IDs of tasks it updated or created.
func (r *Reevaluator) run(ctx context.Context, tenantID string, task model.Task) ([]string, error) {
	plan, err := r.store.GetPlan(ctx, task.PlanID)
	if err != nil {
		return nil, eris.Wrapf(err, "plangen: load plan %s", task.PlanID)
	}
	if plan.TenantID != tenantID {
		return nil, eris.Errorf("plangen: plan %s does not belong to tenant %s", plan.ID, tenantID)
	}

	siblings, err := r.store.ListTasks(ctx, plan.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "plangen: list tasks for plan %s", plan.ID)
	}

	raw, err := r.gen.GenerateText(ctx, reevalSystemPrompt, buildReevalPrompt(plan, siblings, task))
	if err != nil {
		return nil, eris.Wrap(err, "plangen: reevaluate generate")
	}
	resp, err := parseReevalResponse(raw)
	if err != nil {
		return nil, eris.Wrap(err, "plangen: reevaluate response invalid")
	}

	var touched []string
	if resp.UpdatedDescription != "" && resp.UpdatedDescription != task.Description {
		if err := r.store.UpdateTaskDescription(ctx, task.ID, resp.UpdatedDescription); err != nil {
			return nil, eris.Wrapf(err, "plangen: update task %s", task.ID)
		}
		touched = append(touched, task.ID)
	}

	if len(resp.RelatedTasks) > 0 {
		now := r.nowFunc().UTC()
		newTasks := make([]model.Task, 0, len(resp.RelatedTasks))
		for _, desc := range resp.RelatedTasks {
			t := model.Task{
				ID:          uuid.NewString(),
				PlanID:      plan.ID,
				TenantID:    tenantID,
				Description: desc,
				Status:      model.TaskToDo,
				Origin:      model.TaskAiSuggested,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			newTasks = append(newTasks, t)
			touched = append(touched, t.ID)
		}
		if err := r.store.CreateTasks(ctx, newTasks); err != nil {
			return nil, eris.Wrap(err, "plangen: create suggested tasks")
		}
	}

	return touched, nil
}

func (r *Reevaluator) deadLetter(ctx context.Context, tenantID string, task model.Task, cause error) {
	if r.dlq == nil {
		return
	}
	now := r.nowFunc().UTC()
	entry := resilience.ReevalDLQEntry{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Task:         task,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		MaxRetries:   3,
		NextRetryAt:  now.Add(time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := r.dlq.Push(context.WithoutCancel(ctx), entry); err != nil {
		zap.L().Error("failed to push re-evaluation dead letter",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
}
