package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/growth-engine/internal/crawler"
	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/plangen"
	"github.com/beaconhq/growth-engine/internal/queue"
	"github.com/beaconhq/growth-engine/internal/retrieval"
	"github.com/beaconhq/growth-engine/internal/store"
)

// The production components plug straight into the stage seams.
var (
	_ CrawlStage    = (*crawler.Crawler)(nil)
	_ RetrieveStage = (*retrieval.Retriever)(nil)
	_ GenerateStage = (*plangen.Generator)(nil)
	_ JobQueue      = (*queue.MemoryQueue)(nil)
	_ JobQueue      = (*queue.RedisQueue)(nil)
	_ Locker        = (*queue.MemoryLocker)(nil)
	_ Locker        = (*queue.RedisLocker)(nil)
	_ Publisher     = (*queue.MemoryEvents)(nil)
)

type fakeCrawl struct {
	mu      sync.Mutex
	calls   int
	results []model.CrawlResult
	block   bool // wait for ctx cancellation instead of returning
}

func (f *fakeCrawl) CrawlAll(ctx context.Context, targets []model.CrawlTarget) []model.CrawlResult {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil
	}
	if f.results != nil {
		return f.results
	}
	out := make([]model.CrawlResult, 0, len(targets))
	for _, t := range targets {
		out = append(out, model.CrawlResult{
			Target: t, URL: t.URL, Status: model.CrawlOK,
			Title: "Home", FetchedAt: time.Now().UTC(),
		})
	}
	return out
}

func (f *fakeCrawl) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRetrieve struct {
	calls    int
	snippets []model.RetrievedSnippet
	err      error
}

func (f *fakeRetrieve) Retrieve(_ context.Context, _ model.TenantContext, _ []model.TargetSummary) ([]model.RetrievedSnippet, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snippets, nil
}

type fakeGenerate struct {
	calls        int
	err          error
	gotSummaries []model.TargetSummary
	gotSnippets  []model.RetrievedSnippet
}

func (f *fakeGenerate) Generate(_ context.Context, _ model.TenantContext, summaries []model.TargetSummary, snippets []model.RetrievedSnippet) (*model.Plan, []model.Task, error) {
	f.calls++
	f.gotSummaries = summaries
	f.gotSnippets = snippets
	if f.err != nil {
		return nil, nil, f.err
	}
	plan := &model.Plan{
		ID:       "p-1",
		TenantID: "t-1",
		Goals:    []string{"more leads"},
		StrategyOutline: []model.FocusArea{
			{Title: "Local Search", Description: "Own the map pack.", Goal: "more leads"},
		},
		CreatedAt: time.Now().UTC(),
	}
	tasks := []model.Task{{
		ID: "task-1", PlanID: "p-1", TenantID: "t-1",
		Description: "Claim the business profile.",
		Status:      model.TaskToDo, Origin: model.TaskAiSuggested,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}}
	return plan, tasks, nil
}

type harness struct {
	orch     *Orchestrator
	store    *store.SQLiteStore
	queue    *queue.MemoryQueue
	locks    *queue.MemoryLocker
	events   *queue.MemoryEvents
	crawl    *fakeCrawl
	retrieve *fakeRetrieve
	generate *fakeGenerate
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	h := &harness{
		store:    st,
		queue:    queue.NewMemoryQueue(),
		locks:    queue.NewMemoryLocker(),
		events:   queue.NewMemoryEvents(),
		crawl:    &fakeCrawl{},
		retrieve: &fakeRetrieve{},
		generate: &fakeGenerate{},
	}
	h.orch = New(st, h.queue, h.locks, h.crawl, h.retrieve, h.generate, h.events, cfg)
	return h
}

func (h *harness) seedTenant(t *testing.T, tc model.TenantContext) {
	t.Helper()
	require.NoError(t, h.store.UpsertTenant(context.Background(), tc))
}

func (h *harness) seedJob(t *testing.T, job *model.AnalysisJob) {
	t.Helper()
	require.NoError(t, h.store.CreateJob(context.Background(), job))
}

func validTenant() model.TenantContext {
	return model.TenantContext{
		TenantID:     "t-1",
		BusinessName: "Acme Plumbing",
		TargetURL:    "https://acme.example",
		Goals:        []string{"more leads"},
		Tier:         model.TierBasic,
	}
}

func queuedJob(id string) *model.AnalysisJob {
	now := time.Now().UTC()
	return &model.AnalysisJob{
		ID:             id,
		TenantID:       "t-1",
		RequestedAt:    now,
		TargetURL:      "https://acme.example",
		CompetitorURLs: []string{"https://rival.example"},
		State:          model.JobStateQueued,
		UpdatedAt:      now,
	}
}

func TestProcess_HappyPath(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.seedTenant(t, validTenant())
	h.seedJob(t, queuedJob("j-1"))

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	job, err := h.store.GetJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, job.State)
	assert.Nil(t, job.LastError)

	// Each stage ran exactly once, in order.
	assert.Equal(t, 1, h.crawl.callCount())
	assert.Equal(t, 1, h.retrieve.calls)
	assert.Equal(t, 1, h.generate.calls)

	// The plan landed with the job's identity stamped on.
	plan, err := h.store.CurrentPlan(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "j-1", plan.JobID)

	tasks, err := h.store.ListTasks(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventJobCompleted, events[0].Kind)
	assert.Equal(t, "j-1", events[0].JobID)
	assert.Equal(t, []string{"task-1"}, events[0].TaskIDs)

	// The tenant lock is free again.
	held, err := h.locks.Holder(ctx, TenantLockKey("t-1"))
	require.NoError(t, err)
	assert.False(t, held)
}

func TestProcess_CrawlSummariesFlowDownstream(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.seedTenant(t, validTenant())
	h.seedJob(t, queuedJob("j-1"))
	h.retrieve.snippets = []model.RetrievedSnippet{{SnippetID: "s-1", Text: "Fix broken links first."}}

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	require.NotEmpty(t, h.generate.gotSummaries)
	assert.Equal(t, model.TargetSite, h.generate.gotSummaries[0].Target.Kind)
	require.Len(t, h.generate.gotSnippets, 1)
	assert.Equal(t, "s-1", h.generate.gotSnippets[0].SnippetID)
}

// A seed that never answers is per-URL degradation, not a crawl failure: the
// stage succeeds with timed_out results and the pipeline carries on to
// generation grounded on whatever else it has.
func TestProcess_UnreachableSeedDegradesInsteadOfFailing(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.seedTenant(t, validTenant())
	h.seedJob(t, queuedJob("j-1"))
	h.crawl.results = []model.CrawlResult{
		{
			Target: model.CrawlTarget{Kind: model.TargetSite, URL: "https://acme.example"},
			URL:    "https://acme.example", Status: model.CrawlTimedOut,
		},
		{
			Target: model.CrawlTarget{Kind: model.TargetCompetitor, URL: "https://rival.example"},
			URL:    "https://rival.example", Status: model.CrawlTimedOut,
		},
	}

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	job, err := h.store.GetJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, job.State)
	assert.Zero(t, job.AttemptCount(model.StageCrawling), "degraded crawl consumes no attempt")

	// Generation saw the degraded summaries.
	require.NotEmpty(t, h.generate.gotSummaries)
	for _, s := range h.generate.gotSummaries {
		assert.Zero(t, s.PagesOK)
	}
}

func TestProcess_MalformedTenantFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	tc := validTenant()
	tc.TargetURL = ""
	h.seedTenant(t, tc)
	h.seedJob(t, queuedJob("j-1"))

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	job, err := h.store.GetJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, job.State)
	require.NotNil(t, job.LastError)
	assert.False(t, job.LastError.Retryable)
	assert.Contains(t, job.LastError.Message, "missing target url")

	// No stage ever ran and nothing was rescheduled.
	assert.Zero(t, h.crawl.callCount())
	_, _, delayed := h.queue.Depth()
	assert.Zero(t, delayed)

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventJobFailed, events[0].Kind)
}

func TestProcess_MissingTenantFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.seedJob(t, queuedJob("j-1"))

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	job, err := h.store.GetJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, job.State)
	require.NotNil(t, job.LastError)
	assert.False(t, job.LastError.Retryable)
}

func TestProcess_LockHeldRequeuesWithoutAttempt(t *testing.T) {
	h := newHarness(t, Config{RetryBackoffBase: time.Millisecond})
	ctx := context.Background()

	h.seedTenant(t, validTenant())
	h.seedJob(t, queuedJob("j-1"))

	_, acquired, err := h.locks.Acquire(ctx, TenantLockKey("t-1"), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	// Untouched: still queued, no attempts recorded, no stage ran.
	job, err := h.store.GetJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateQueued, job.State)
	assert.Zero(t, job.AttemptCount(model.StageCrawling))
	assert.Zero(t, h.crawl.callCount())

	// The job comes back through the delayed set.
	_, _, delayed := h.queue.Depth()
	assert.Equal(t, 1, delayed)
	time.Sleep(5 * time.Millisecond)
	promoted, err := h.queue.PromoteDelayed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
}

func TestProcess_StageFailureSchedulesRetry(t *testing.T) {
	h := newHarness(t, Config{RetryBackoffBase: time.Millisecond, StageRetryBudget: 3})
	ctx := context.Background()

	h.seedTenant(t, validTenant())
	h.seedJob(t, queuedJob("j-1"))
	h.retrieve.err = eris.New("knowledge base unreachable")

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	job, err := h.store.GetJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateRetrieving, job.State, "stays in the failed stage's state")
	assert.Equal(t, 1, job.AttemptCount(model.StageRetrieving))
	require.NotNil(t, job.LastError)
	assert.Equal(t, model.StageRetrieving, job.LastError.Stage)
	assert.True(t, job.LastError.Retryable)

	_, _, delayed := h.queue.Depth()
	assert.Equal(t, 1, delayed)
	assert.Empty(t, h.events.Events())
}

func TestProcess_RetryBudgetExhaustedFailsJob(t *testing.T) {
	h := newHarness(t, Config{RetryBackoffBase: time.Millisecond, StageRetryBudget: 2})
	ctx := context.Background()

	h.seedTenant(t, validTenant())
	h.seedJob(t, queuedJob("j-1"))
	h.retrieve.err = eris.New("knowledge base unreachable")

	require.NoError(t, h.orch.Process(ctx, "j-1"))
	time.Sleep(5 * time.Millisecond)
	_, err := h.queue.PromoteDelayed(ctx)
	require.NoError(t, err)
	require.NoError(t, h.orch.Process(ctx, "j-1"))

	job, err := h.store.GetJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, job.State)
	assert.Equal(t, 2, job.AttemptCount(model.StageRetrieving))
	require.NotNil(t, job.LastError)
	assert.Contains(t, job.LastError.Message, "knowledge base unreachable")

	// The crawl was not repeated on the second claim: the job resumed from
	// its persisted retrieving state.
	assert.Equal(t, 1, h.crawl.callCount())

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventJobFailed, events[0].Kind)
}

func TestProcess_CrawlBudgetExceededIsAttemptFailure(t *testing.T) {
	h := newHarness(t, Config{CrawlBudget: 20 * time.Millisecond, RetryBackoffBase: time.Millisecond})
	ctx := context.Background()

	h.seedTenant(t, validTenant())
	h.seedJob(t, queuedJob("j-1"))
	h.crawl.block = true

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	job, err := h.store.GetJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCrawling, job.State)
	assert.Equal(t, 1, job.AttemptCount(model.StageCrawling))
	require.NotNil(t, job.LastError)
	assert.Contains(t, job.LastError.Message, "crawl budget exceeded")

	_, _, delayed := h.queue.Depth()
	assert.Equal(t, 1, delayed)
}

func TestProcess_ResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.seedTenant(t, validTenant())
	job := queuedJob("j-1")
	job.State = model.JobStateRetrieving
	job.Checkpoint = &model.JobCheckpoint{
		Summaries: []model.TargetSummary{{
			Target:  model.CrawlTarget{Kind: model.TargetSite, URL: "https://acme.example"},
			Topics:  []string{"Emergency plumbing"},
			PagesOK: 4,
		}},
	}
	h.seedJob(t, job)

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	got, err := h.store.GetJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, got.State)

	// The crawl stage was skipped; downstream stages saw the checkpoint.
	assert.Zero(t, h.crawl.callCount())
	require.NotEmpty(t, h.generate.gotSummaries)
	assert.Equal(t, 4, h.generate.gotSummaries[0].PagesOK)
}

func TestProcess_TerminalJobIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.seedTenant(t, validTenant())
	job := queuedJob("j-1")
	h.seedJob(t, job)
	job.State = model.JobStateFailed
	job.LastError = &model.StageError{Stage: model.StageCrawling, Message: "gave up"}
	require.NoError(t, h.store.UpdateJob(ctx, job))

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	assert.Zero(t, h.crawl.callCount())
	assert.Empty(t, h.events.Events())
}

func TestProcess_UnknownJobIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.orch.Process(context.Background(), "ghost"))
	assert.Zero(t, h.crawl.callCount())
}

func TestProcess_GenerateFailureAfterRepairIsRetried(t *testing.T) {
	h := newHarness(t, Config{RetryBackoffBase: time.Millisecond, StageRetryBudget: 3})
	ctx := context.Background()

	h.seedTenant(t, validTenant())
	h.seedJob(t, queuedJob("j-1"))
	h.generate.err = eris.New("plangen: response invalid after repair")

	require.NoError(t, h.orch.Process(ctx, "j-1"))

	job, err := h.store.GetJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateGenerating, job.State)
	assert.Equal(t, 1, job.AttemptCount(model.StageGenerating))

	// No plan exists for a job that has not completed.
	plan, err := h.store.CurrentPlan(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, plan)
}
