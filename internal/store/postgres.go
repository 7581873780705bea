package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/beaconhq/growth-engine/internal/db"
	"github.com/beaconhq/growth-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hottest store operations.
var preparedStatements = map[string]string{
	"get_job":     `SELECT id, tenant_id, requested_at, target_url, competitor_urls, state, attempts, last_error, checkpoint, updated_at FROM analysis_jobs WHERE id = $1`,
	"update_job":  `UPDATE analysis_jobs SET state = $1, attempts = $2, last_error = $3, checkpoint = $4, updated_at = $5 WHERE id = $6`,
	"get_tenant":  `SELECT context FROM tenants WHERE id = $1`,
	"active_job":  `SELECT id, tenant_id, requested_at, target_url, competitor_urls, state, attempts, last_error, checkpoint, updated_at FROM analysis_jobs WHERE tenant_id = $1 AND state NOT IN ('completed', 'failed') LIMIT 1`,
	"get_task":    `SELECT id, plan_id, tenant_id, description, status, origin, created_at, updated_at FROM tasks WHERE id = $1`,
	"list_tasks":  `SELECT id, plan_id, tenant_id, description, status, origin, created_at, updated_at FROM tasks WHERE plan_id = $1 ORDER BY created_at ASC, id ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests and by callers
// that share one pool across subsystems.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g. the knowledge base).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// The partial unique index on analysis_jobs is the storage-level backstop for
// per-tenant serialization: even if the redis lock misbehaves, a second
// non-terminal job for the same tenant cannot be inserted.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	context    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_jobs (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	requested_at    TIMESTAMPTZ NOT NULL,
	target_url      TEXT NOT NULL,
	competitor_urls JSONB,
	state           TEXT NOT NULL DEFAULT 'queued',
	attempts        JSONB,
	last_error      JSONB,
	checkpoint      JSONB,
	completed_at    TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active_per_tenant
	ON analysis_jobs(tenant_id)
	WHERE state NOT IN ('completed', 'failed');

CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON analysis_jobs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON analysis_jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant_completed ON analysis_jobs(tenant_id, completed_at DESC);

CREATE TABLE IF NOT EXISTS plans (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	job_id           TEXT NOT NULL REFERENCES analysis_jobs(id),
	goals            JSONB NOT NULL,
	strategy_outline JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_plans_tenant_created ON plans(tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_plans_job ON plans(job_id);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	plan_id     TEXT NOT NULL REFERENCES plans(id),
	tenant_id   TEXT NOT NULL,
	description TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'todo',
	origin      TEXT NOT NULL DEFAULT 'ai_suggested',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_plan ON tasks(plan_id);
CREATE INDEX IF NOT EXISTS idx_tasks_tenant ON tasks(tenant_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*model.TenantContext, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT context FROM tenants WHERE id = $1`, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "tenant %s", tenantID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tenant %s", tenantID)
	}

	var tc model.TenantContext
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal tenant context")
	}
	tc.TenantID = tenantID
	return &tc, nil
}

func (s *PostgresStore) UpsertTenant(ctx context.Context, tc model.TenantContext) error {
	raw, err := json.Marshal(tc)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tenant context")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tenants (id, context, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET context = EXCLUDED.context, updated_at = EXCLUDED.updated_at`,
		tc.TenantID, raw, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert tenant %s", tc.TenantID)
}

const jobColumns = `id, tenant_id, requested_at, target_url, competitor_urls, state, attempts, last_error, checkpoint, updated_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.AnalysisJob) error {
	competitors, attempts, lastErr, checkpoint, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.TenantID, job.RequestedAt, job.TargetURL, competitors,
		string(job.State), attempts, lastErr, checkpoint, job.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.AnalysisJob) error {
	_, attempts, lastErr, checkpoint, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET state = $1, attempts = $2, last_error = $3, checkpoint = $4, updated_at = $5 WHERE id = $6`,
		string(job.State), attempts, lastErr, checkpoint, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += ` ORDER BY requested_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) ActiveJob(ctx context.Context, tenantID string) (*model.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs
		 WHERE tenant_id = $1 AND state NOT IN ('completed', 'failed') LIMIT 1`,
		tenantID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: active job for tenant %s", tenantID)
	}
	return job, nil
}

func (s *PostgresStore) LastCompletedAt(ctx context.Context, tenantID string) (time.Time, error) {
	var completedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT max(completed_at) FROM analysis_jobs WHERE tenant_id = $1 AND state = 'completed'`,
		tenantID,
	).Scan(&completedAt)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "postgres: last completion for tenant %s", tenantID)
	}
	if completedAt == nil {
		return time.Time{}, nil
	}
	return *completedAt, nil
}

// CompleteJob writes the job's terminal state, the plan, and its tasks in one
// transaction.
func (s *PostgresStore) CompleteJob(ctx context.Context, job *model.AnalysisJob, plan *model.Plan, tasks []model.Task) error {
	if len(tasks) == 0 {
		return eris.New("postgres: completed job requires at least one task")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin completion tx")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	job.State = model.JobStateCompleted
	job.UpdatedAt = now

	_, attempts, lastErr, checkpoint, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE analysis_jobs SET state = $1, attempts = $2, last_error = $3, checkpoint = $4, completed_at = $5, updated_at = $5 WHERE id = $6`,
		string(model.JobStateCompleted), attempts, lastErr, checkpoint, now, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", job.ID)
	}

	goals, err := json.Marshal(plan.Goals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal plan goals")
	}
	outline, err := json.Marshal(plan.StrategyOutline)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal strategy outline")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO plans (id, tenant_id, job_id, goals, strategy_outline, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		plan.ID, plan.TenantID, plan.JobID, goals, outline, plan.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert plan %s", plan.ID)
	}

	for _, task := range tasks {
		_, err = tx.Exec(ctx,
			`INSERT INTO tasks (id, plan_id, tenant_id, description, status, origin, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			task.ID, task.PlanID, task.TenantID, task.Description,
			string(task.Status), string(task.Origin), task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert task %s", task.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit completion tx")
}

func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (*model.Plan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, job_id, goals, strategy_outline, created_at FROM plans WHERE id = $1`,
		planID)
	plan, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "plan %s", planID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get plan %s", planID)
	}
	return plan, nil
}

func (s *PostgresStore) CurrentPlan(ctx context.Context, tenantID string) (*model.Plan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, job_id, goals, strategy_outline, created_at FROM plans
		 WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT 1`,
		tenantID)
	plan, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: current plan for tenant %s", tenantID)
	}
	return plan, nil
}

const taskColumns = `id, plan_id, tenant_id, description, status, origin, created_at, updated_at`

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	var t model.Task
	err := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID,
	).Scan(&t.ID, &t.PlanID, &t.TenantID, &t.Description, &t.Status, &t.Origin, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "task %s", taskID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get task %s", taskID)
	}
	return &t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, planID string) ([]model.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE plan_id = $1 ORDER BY created_at ASC, id ASC`,
		planID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list tasks for plan %s", planID)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		if err := rows.Scan(&t.ID, &t.PlanID, &t.TenantID, &t.Description, &t.Status, &t.Origin, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

func (s *PostgresStore) UpdateTaskDescription(ctx context.Context, taskID, description string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET description = $1, updated_at = $2 WHERE id = $3`,
		description, time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update task %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "task %s", taskID)
	}
	return nil
}

func (s *PostgresStore) CreateTasks(ctx context.Context, tasks []model.Task) error {
	for _, task := range tasks {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO tasks (`+taskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			task.ID, task.PlanID, task.TenantID, task.Description,
			string(task.Status), string(task.Origin), task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert task %s", task.ID)
		}
	}
	return nil
}

// marshalJobJSON serializes the job's JSONB columns. Nil maps and structs
// become SQL NULLs, not "null" blobs.
func marshalJobJSON(job *model.AnalysisJob) (competitors, attempts, lastErr, checkpoint []byte, err error) {
	if len(job.CompetitorURLs) > 0 {
		if competitors, err = json.Marshal(job.CompetitorURLs); err != nil {
			return nil, nil, nil, nil, eris.Wrap(err, "postgres: marshal competitor urls")
		}
	}
	if len(job.Attempts) > 0 {
		if attempts, err = json.Marshal(job.Attempts); err != nil {
			return nil, nil, nil, nil, eris.Wrap(err, "postgres: marshal attempts")
		}
	}
	if job.LastError != nil {
		if lastErr, err = json.Marshal(job.LastError); err != nil {
			return nil, nil, nil, nil, eris.Wrap(err, "postgres: marshal last error")
		}
	}
	if job.Checkpoint != nil {
		if checkpoint, err = json.Marshal(job.Checkpoint); err != nil {
			return nil, nil, nil, nil, eris.Wrap(err, "postgres: marshal checkpoint")
		}
	}
	return competitors, attempts, lastErr, checkpoint, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.AnalysisJob, error) {
	var j model.AnalysisJob
	var state string
	var competitors, attempts, lastErr, checkpoint []byte

	err := row.Scan(&j.ID, &j.TenantID, &j.RequestedAt, &j.TargetURL, &competitors,
		&state, &attempts, &lastErr, &checkpoint, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.State = model.JobState(state)

	if len(competitors) > 0 {
		if err := json.Unmarshal(competitors, &j.CompetitorURLs); err != nil {
			return nil, eris.Wrap(err, "unmarshal competitor urls")
		}
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &j.Attempts); err != nil {
			return nil, eris.Wrap(err, "unmarshal attempts")
		}
	}
	if len(lastErr) > 0 {
		j.LastError = &model.StageError{}
		if err := json.Unmarshal(lastErr, j.LastError); err != nil {
			return nil, eris.Wrap(err, "unmarshal last error")
		}
	}
	if len(checkpoint) > 0 {
		j.Checkpoint = &model.JobCheckpoint{}
		if err := json.Unmarshal(checkpoint, j.Checkpoint); err != nil {
			return nil, eris.Wrap(err, "unmarshal checkpoint")
		}
	}
	return &j, nil
}

func scanPlan(row scannable) (*model.Plan, error) {
	var p model.Plan
	var goals, outline []byte

	if err := row.Scan(&p.ID, &p.TenantID, &p.JobID, &goals, &outline, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(goals, &p.Goals); err != nil {
		return nil, eris.Wrap(err, "unmarshal plan goals")
	}
	if err := json.Unmarshal(outline, &p.StrategyOutline); err != nil {
		return nil, eris.Wrap(err, "unmarshal strategy outline")
	}
	return &p, nil
}
