// Package orchestrator drives analysis jobs through the pipeline state
// machine: queued → crawling → retrieving → generating → completed, with
// failed reachable from any non-terminal state. Workers claim job IDs from
// the queue and hand them to Process; everything between claim and ack
// happens here.
package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/resilience"
	"github.com/beaconhq/growth-engine/internal/store"
)

// CrawlStage fetches every target's pages. It degrades per URL and never
// fails outright; a stage failure is only declared when the wall-clock
// budget runs out.
type CrawlStage interface {
	CrawlAll(ctx context.Context, targets []model.CrawlTarget) []model.CrawlResult
}

// RetrieveStage pulls grounding snippets from the knowledge base.
type RetrieveStage interface {
	Retrieve(ctx context.Context, tenant model.TenantContext, summaries []model.TargetSummary) ([]model.RetrievedSnippet, error)
}

// GenerateStage produces the plan and its tasks from everything gathered so
// far. The returned plan carries no job ID; the orchestrator owns that.
type GenerateStage interface {
	Generate(ctx context.Context, tenant model.TenantContext, summaries []model.TargetSummary, snippets []model.RetrievedSnippet) (*model.Plan, []model.Task, error)
}

// JobQueue is the slice of the queue the orchestrator needs: scheduling
// retries. Claiming and acking stay with the worker.
type JobQueue interface {
	EnqueueDelayed(ctx context.Context, jobID string, delay time.Duration) error
}

// Locker serializes job processing per tenant.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Publisher emits pipeline lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event model.PipelineEvent) error
}

// Config bounds stage execution and retries.
type Config struct {
	StageRetryBudget int
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
	CrawlBudget      time.Duration
	RetrieveBudget   time.Duration
	GenerateBudget   time.Duration
	LockTTL          time.Duration
}

func (c Config) withDefaults() Config {
	if c.StageRetryBudget <= 0 {
		c.StageRetryBudget = 3
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = 5 * time.Second
	}
	if c.RetryBackoffCap <= 0 {
		c.RetryBackoffCap = 2 * time.Minute
	}
	if c.CrawlBudget <= 0 {
		c.CrawlBudget = 90 * time.Second
	}
	if c.RetrieveBudget <= 0 {
		c.RetrieveBudget = 10 * time.Second
	}
	if c.GenerateBudget <= 0 {
		c.GenerateBudget = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	return c
}

// Orchestrator executes claimed jobs stage by stage.
type Orchestrator struct {
	store    store.Store
	jobs     JobQueue
	locks    Locker
	events   Publisher
	crawl    CrawlStage
	retrieve RetrieveStage
	generate GenerateStage
	cfg      Config
	nowFunc  func() time.Time
}

// New wires an Orchestrator. events may be nil when nothing listens.
func New(st store.Store, jobs JobQueue, locks Locker, crawl CrawlStage, retrieve RetrieveStage, generate GenerateStage, events Publisher, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    st,
		jobs:     jobs,
		locks:    locks,
		events:   events,
		crawl:    crawl,
		retrieve: retrieve,
		generate: generate,
		cfg:      cfg.withDefaults(),
		nowFunc:  time.Now,
	}
}

// TenantLockKey is the lock key guarding a tenant's job processing.
func TenantLockKey(tenantID string) string {
	return "tenant:" + tenantID
}

// Process runs one claimed job as far as it can go in a single claim: to
// completion, to a scheduled retry, or to failed. A job whose tenant lock is
// held elsewhere is requeued with backoff without consuming a stage attempt.
// Process returning nil means the claim may be acked.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			zap.L().Warn("claimed job does not exist, dropping", zap.String("job_id", jobID))
			return nil
		}
		return eris.Wrapf(err, "orchestrator: load job %s", jobID)
	}
	if job.State.Terminal() {
		zap.L().Debug("claimed job already terminal",
			zap.String("job_id", jobID), zap.String("state", string(job.State)))
		return nil
	}

	tenant, err := o.loadTenant(ctx, job)
	if err != nil {
		// A job whose tenant context cannot satisfy the pipeline's contract
		// can never succeed; retrying would change nothing.
		return o.failJob(ctx, job, model.StageError{
			Stage:     stageOrQueued(job.State),
			Message:   err.Error(),
			Retryable: false,
		})
	}

	release, acquired, err := o.locks.Acquire(ctx, TenantLockKey(job.TenantID), o.cfg.LockTTL)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: acquire tenant lock for %s", job.TenantID)
	}
	if !acquired {
		// Another worker holds this tenant. Back off without touching the
		// job's attempt counters.
		zap.L().Info("tenant lock held, requeueing",
			zap.String("job_id", job.ID), zap.String("tenant_id", job.TenantID))
		return o.jobs.EnqueueDelayed(ctx, job.ID, o.cfg.RetryBackoffBase)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			zap.L().Warn("release tenant lock", zap.String("tenant_id", job.TenantID), zap.Error(err))
		}
	}()

	for !job.State.Terminal() {
		if job.State == model.JobStateQueued {
			if err := o.transition(ctx, job, model.JobStateCrawling); err != nil {
				return err
			}
			continue
		}
		proceed, err := o.runStage(ctx, job, *tenant)
		if err != nil || !proceed {
			return err
		}
	}
	return nil
}

// loadTenant reads and validates the tenant context a job runs under.
func (o *Orchestrator) loadTenant(ctx context.Context, job *model.AnalysisJob) (*model.TenantContext, error) {
	tenant, err := o.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, eris.Errorf("tenant %s not found", job.TenantID)
		}
		return nil, eris.Wrapf(err, "load tenant %s", job.TenantID)
	}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return tenant, nil
}

// runStage executes the stage for the job's current state under its budget.
// It returns proceed=false when processing must stop for this claim, either
// because a retry was scheduled or the job went terminal.
func (o *Orchestrator) runStage(ctx context.Context, job *model.AnalysisJob, tenant model.TenantContext) (proceed bool, err error) {
	stage, ok := model.StageFor(job.State)
	if !ok {
		return false, eris.Errorf("orchestrator: no stage for state %s", job.State)
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.stageBudget(stage))
	defer cancel()

	var stageErr error
	switch stage {
	case model.StageCrawling:
		stageErr = o.runCrawl(stageCtx, job)
	case model.StageRetrieving:
		stageErr = o.runRetrieve(stageCtx, job, tenant)
	case model.StageGenerating:
		stageErr = o.runGenerate(stageCtx, job, tenant)
	}

	if stageErr != nil {
		return false, o.handleStageFailure(ctx, job, stage, stageErr)
	}

	if stage == model.StageGenerating {
		// runGenerate completed the job atomically.
		return false, nil
	}
	return true, o.transition(ctx, job, model.NextState(job.State))
}

func (o *Orchestrator) stageBudget(stage model.Stage) time.Duration {
	switch stage {
	case model.StageCrawling:
		return o.cfg.CrawlBudget
	case model.StageRetrieving:
		return o.cfg.RetrieveBudget
	default:
		return o.cfg.GenerateBudget
	}
}

// runCrawl fetches all targets and checkpoints results plus summaries.
// Unreachable seeds and per-page failures degrade into error results; the
// only stage-level failure is blowing the wall-clock budget.
func (o *Orchestrator) runCrawl(ctx context.Context, job *model.AnalysisJob) error {
	targets := make([]model.CrawlTarget, 0, 1+len(job.CompetitorURLs))
	targets = append(targets, model.CrawlTarget{Kind: model.TargetSite, URL: job.TargetURL})
	for _, u := range job.CompetitorURLs {
		targets = append(targets, model.CrawlTarget{Kind: model.TargetCompetitor, URL: u})
	}

	results := o.crawl.CrawlAll(ctx, targets)
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "crawl budget exceeded")
	}

	if job.Checkpoint == nil {
		job.Checkpoint = &model.JobCheckpoint{}
	}
	job.Checkpoint.CrawlResults = results
	job.Checkpoint.Summaries = model.SummarizeCrawl(results)
	return nil
}

func (o *Orchestrator) runRetrieve(ctx context.Context, job *model.AnalysisJob, tenant model.TenantContext) error {
	var summaries []model.TargetSummary
	if job.Checkpoint != nil {
		summaries = job.Checkpoint.Summaries
	}
	snippets, err := o.retrieve.Retrieve(ctx, tenant, summaries)
	if err != nil {
		return err
	}
	if job.Checkpoint == nil {
		job.Checkpoint = &model.JobCheckpoint{}
	}
	job.Checkpoint.Snippets = snippets
	return nil
}

// runGenerate produces the plan and finishes the job. The plan, its tasks,
// and the completed job record land in one transaction so a completed job is
// never visible without its plan.
func (o *Orchestrator) runGenerate(ctx context.Context, job *model.AnalysisJob, tenant model.TenantContext) error {
	var (
		summaries []model.TargetSummary
		snippets  []model.RetrievedSnippet
	)
	if job.Checkpoint != nil {
		summaries = job.Checkpoint.Summaries
		snippets = job.Checkpoint.Snippets
	}

	plan, tasks, err := o.generate.Generate(ctx, tenant, summaries, snippets)
	if err != nil {
		return err
	}
	plan.JobID = job.ID

	if err := o.store.CompleteJob(ctx, job, plan, tasks); err != nil {
		return eris.Wrapf(err, "complete job %s", job.ID)
	}

	taskIDs := make([]string, 0, len(tasks))
	for _, task := range tasks {
		taskIDs = append(taskIDs, task.ID)
	}
	o.publish(ctx, model.PipelineEvent{
		Kind:     model.EventJobCompleted,
		TenantID: job.TenantID,
		JobID:    job.ID,
		PlanID:   plan.ID,
		TaskIDs:  taskIDs,
		At:       o.nowFunc().UTC(),
	})
	zap.L().Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID),
		zap.String("plan_id", plan.ID),
		zap.Int("tasks", len(tasks)))
	return nil
}

// handleStageFailure records the attempt and either schedules a retry of the
// same stage or fails the job when the retry budget is spent.
func (o *Orchestrator) handleStageFailure(ctx context.Context, job *model.AnalysisJob, stage model.Stage, stageErr error) error {
	attempt := job.RecordAttempt(stage)
	job.LastError = &model.StageError{
		Stage:     stage,
		Attempt:   attempt,
		Message:   stageErr.Error(),
		Retryable: true,
	}

	if attempt >= o.cfg.StageRetryBudget {
		return o.failJob(ctx, job, *job.LastError)
	}

	job.UpdatedAt = o.nowFunc().UTC()
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return eris.Wrapf(err, "orchestrator: persist attempt for job %s", job.ID)
	}

	delay := resilience.Backoff(attempt-1, resilience.StageRetryConfig(
		o.cfg.StageRetryBudget, o.cfg.RetryBackoffBase, o.cfg.RetryBackoffCap))
	zap.L().Warn("stage failed, scheduling retry",
		zap.String("job_id", job.ID),
		zap.String("stage", string(stage)),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(stageErr))
	return o.jobs.EnqueueDelayed(ctx, job.ID, delay)
}

// failJob moves the job to failed and emits the failure event.
func (o *Orchestrator) failJob(ctx context.Context, job *model.AnalysisJob, stageErr model.StageError) error {
	job.State = model.JobStateFailed
	job.LastError = &stageErr
	job.UpdatedAt = o.nowFunc().UTC()
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return eris.Wrapf(err, "orchestrator: persist failed job %s", job.ID)
	}

	o.publish(ctx, model.PipelineEvent{
		Kind:     model.EventJobFailed,
		TenantID: job.TenantID,
		JobID:    job.ID,
		Error:    stageErr.Message,
		At:       o.nowFunc().UTC(),
	})
	zap.L().Error("job failed",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID),
		zap.String("stage", string(stageErr.Stage)),
		zap.Int("attempt", stageErr.Attempt),
		zap.String("error", stageErr.Message))
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, job *model.AnalysisJob, next model.JobState) error {
	job.State = next
	job.UpdatedAt = o.nowFunc().UTC()
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return eris.Wrapf(err, "orchestrator: transition job %s to %s", job.ID, next)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event model.PipelineEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, event); err != nil {
		zap.L().Warn("publish pipeline event", zap.String("kind", string(event.Kind)), zap.Error(err))
	}
}

// stageOrQueued maps a state to its stage for error records, defaulting to
// crawling for a job that never started a stage.
func stageOrQueued(s model.JobState) model.Stage {
	if stage, ok := model.StageFor(s); ok {
		return stage
	}
	return model.StageCrawling
}
