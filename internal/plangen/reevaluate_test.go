package plangen

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/resilience"
)

type fakeTaskStore struct {
	plan    *model.Plan
	tasks   []model.Task
	updated map[string]string
	created []model.Task
}

func (f *fakeTaskStore) GetPlan(_ context.Context, planID string) (*model.Plan, error) {
	if f.plan == nil || f.plan.ID != planID {
		return nil, eris.Errorf("plan %s not found", planID)
	}
	return f.plan, nil
}

func (f *fakeTaskStore) ListTasks(_ context.Context, _ string) ([]model.Task, error) {
	return f.tasks, nil
}

func (f *fakeTaskStore) UpdateTaskDescription(_ context.Context, taskID, description string) error {
	if f.updated == nil {
		f.updated = make(map[string]string)
	}
	f.updated[taskID] = description
	return nil
}

func (f *fakeTaskStore) CreateTasks(_ context.Context, tasks []model.Task) error {
	f.created = append(f.created, tasks...)
	return nil
}

type fakeLocker struct {
	held     map[string]bool
	acquired []string
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	if f.held[key] {
		return nil, false, nil
	}
	f.acquired = append(f.acquired, key)
	return func(context.Context) error {
		f.released++
		return nil
	}, true, nil
}

type fakePublisher struct {
	events []model.PipelineEvent
}

func (f *fakePublisher) Publish(_ context.Context, e model.PipelineEvent) error {
	f.events = append(f.events, e)
	return nil
}

type fakeDLQ struct {
	entries []resilience.ReevalDLQEntry
}

func (f *fakeDLQ) Push(_ context.Context, e resilience.ReevalDLQEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func reevalFixture() (*fakeTaskStore, model.Task) {
	plan := &model.Plan{
		ID:       "p-1",
		TenantID: "t-1",
		JobID:    "j-1",
		Goals:    []string{"more leads"},
		StrategyOutline: []model.FocusArea{
			{Title: "Local Search", Description: "Own the map pack.", Goal: "more leads"},
		},
	}
	task := model.Task{
		ID:          "task-1",
		PlanID:      "p-1",
		TenantID:    "t-1",
		Description: "Set up Google profile",
		Status:      model.TaskToDo,
		Origin:      model.TaskAiSuggested,
	}
	store := &fakeTaskStore{plan: plan, tasks: []model.Task{task}}
	return store, task
}

func TestReevaluate_UpdatesDescription(t *testing.T) {
	store, task := reevalFixture()
	gen := &fakeGen{responses: []string{`{"updated_description":"Set up and verify the Google Business Profile","related_tasks":[]}`}}
	locks := &fakeLocker{}
	events := &fakePublisher{}

	r := NewReevaluator(gen, store, locks, events, nil)
	err := r.Reevaluate(context.Background(), "t-1", task)
	require.NoError(t, err)

	assert.Equal(t, "Set up and verify the Google Business Profile", store.updated["task-1"])
	assert.Empty(t, store.created, "no plan or extra tasks created")
	assert.Equal(t, []string{"reeval:task:task-1"}, locks.acquired)
	assert.Equal(t, 1, locks.released)

	require.Len(t, events.events, 1)
	assert.Equal(t, model.EventReevalCompleted, events.events[0].Kind)
	assert.Equal(t, []string{"task-1"}, events.events[0].TaskIDs)
}

func TestReevaluate_AppendsRelatedTasks(t *testing.T) {
	store, task := reevalFixture()
	gen := &fakeGen{responses: []string{`{"updated_description":"","related_tasks":["Add review links to invoices","Reply to all reviews weekly"]}`}}

	r := NewReevaluator(gen, store, &fakeLocker{}, nil, nil)
	err := r.Reevaluate(context.Background(), "t-1", task)
	require.NoError(t, err)

	assert.Empty(t, store.updated)
	require.Len(t, store.created, 2)
	for _, created := range store.created {
		assert.Equal(t, "p-1", created.PlanID)
		assert.Equal(t, model.TaskAiSuggested, created.Origin)
		assert.Equal(t, model.TaskToDo, created.Status)
		assert.NotEmpty(t, created.ID)
	}
}

func TestReevaluate_TaskLockHeld(t *testing.T) {
	store, task := reevalFixture()
	locks := &fakeLocker{held: map[string]bool{"reeval:task:task-1": true}}

	r := NewReevaluator(&fakeGen{}, store, locks, nil, nil)
	err := r.Reevaluate(context.Background(), "t-1", task)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrTaskBusy))
}

func TestReevaluate_WrongTenant(t *testing.T) {
	store, task := reevalFixture()

	r := NewReevaluator(&fakeGen{}, store, &fakeLocker{}, nil, nil)
	err := r.Reevaluate(context.Background(), "t-other", task)
	require.Error(t, err)
}

func TestReevaluate_FailurePushesDeadLetter(t *testing.T) {
	store, task := reevalFixture()
	gen := &fakeGen{err: resilience.NewTransientError(eris.New("overloaded"), 529)}
	dlq := &fakeDLQ{}
	locks := &fakeLocker{}

	r := NewReevaluator(gen, store, locks, nil, dlq)
	err := r.Reevaluate(context.Background(), "t-1", task)
	require.Error(t, err)

	require.Len(t, dlq.entries, 1)
	entry := dlq.entries[0]
	assert.Equal(t, "t-1", entry.TenantID)
	assert.Equal(t, "task-1", entry.Task.ID)
	assert.Equal(t, "transient", entry.ErrorType)
	assert.True(t, entry.CanRetry())
	assert.Equal(t, 1, locks.released, "lock released even on failure")
}

func TestReevaluate_NoChangeIsValid(t *testing.T) {
	store, task := reevalFixture()
	gen := &fakeGen{responses: []string{`{"updated_description":"","related_tasks":[]}`}}
	events := &fakePublisher{}

	r := NewReevaluator(gen, store, &fakeLocker{}, events, nil)
	err := r.Reevaluate(context.Background(), "t-1", task)
	require.NoError(t, err)

	assert.Empty(t, store.updated)
	assert.Empty(t, store.created)
	assert.Empty(t, events.events, "nothing touched, nothing published")
}
