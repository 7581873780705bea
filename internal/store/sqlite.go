package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/beaconhq/growth-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	context    TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analysis_jobs (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	requested_at    DATETIME NOT NULL,
	target_url      TEXT NOT NULL,
	competitor_urls TEXT,
	state           TEXT NOT NULL DEFAULT 'queued',
	attempts        TEXT,
	last_error      TEXT,
	checkpoint      TEXT,
	completed_at    DATETIME,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active_per_tenant
	ON analysis_jobs(tenant_id)
	WHERE state NOT IN ('completed', 'failed');

CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON analysis_jobs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON analysis_jobs(state);

CREATE TABLE IF NOT EXISTS plans (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	job_id           TEXT NOT NULL REFERENCES analysis_jobs(id),
	goals            TEXT NOT NULL,
	strategy_outline TEXT NOT NULL,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_plans_tenant_created ON plans(tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	plan_id     TEXT NOT NULL REFERENCES plans(id),
	tenant_id   TEXT NOT NULL,
	description TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'todo',
	origin      TEXT NOT NULL DEFAULT 'ai_suggested',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tasks_plan ON tasks(plan_id);
CREATE INDEX IF NOT EXISTS idx_tasks_tenant ON tasks(tenant_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetTenant(ctx context.Context, tenantID string) (*model.TenantContext, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT context FROM tenants WHERE id = ?`, tenantID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "tenant %s", tenantID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tenant %s", tenantID)
	}

	var tc model.TenantContext
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tenant context")
	}
	tc.TenantID = tenantID
	return &tc, nil
}

func (s *SQLiteStore) UpsertTenant(ctx context.Context, tc model.TenantContext) error {
	raw, err := json.Marshal(tc)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tenant context")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, context, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at`,
		tc.TenantID, string(raw), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert tenant %s", tc.TenantID)
}

const sqliteJobColumns = `id, tenant_id, requested_at, target_url, competitor_urls, state, attempts, last_error, checkpoint, updated_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.AnalysisJob) error {
	competitors, attempts, lastErr, checkpoint, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_jobs (`+sqliteJobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.RequestedAt, job.TargetURL, nullableText(competitors),
		string(job.State), nullableText(attempts), nullableText(lastErr), nullableText(checkpoint), job.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM analysis_jobs WHERE id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.AnalysisJob) error {
	_, attempts, lastErr, checkpoint, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET state = ?, attempts = ?, last_error = ?, checkpoint = ?, updated_at = ? WHERE id = ?`,
		string(job.State), nullableText(attempts), nullableText(lastErr), nullableText(checkpoint), job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.AnalysisJob, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM analysis_jobs WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY requested_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.AnalysisJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) ActiveJob(ctx context.Context, tenantID string) (*model.AnalysisJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM analysis_jobs
		 WHERE tenant_id = ? AND state NOT IN ('completed', 'failed') LIMIT 1`,
		tenantID)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: active job for tenant %s", tenantID)
	}
	return job, nil
}

func (s *SQLiteStore) LastCompletedAt(ctx context.Context, tenantID string) (time.Time, error) {
	// max() strips the column's DATETIME decltype, so the driver hands the
	// stored text back as a string instead of a time.Time.
	var completedAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT max(completed_at) FROM analysis_jobs WHERE tenant_id = ? AND state = 'completed'`,
		tenantID,
	).Scan(&completedAt)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: last completion for tenant %s", tenantID)
	}
	if !completedAt.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", completedAt.String)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse last completion for tenant %s", tenantID)
	}
	return t, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, job *model.AnalysisJob, plan *model.Plan, tasks []model.Task) error {
	if len(tasks) == 0 {
		return eris.New("sqlite: completed job requires at least one task")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin completion tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	job.State = model.JobStateCompleted
	job.UpdatedAt = now

	_, attempts, lastErr, checkpoint, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE analysis_jobs SET state = ?, attempts = ?, last_error = ?, checkpoint = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStateCompleted), nullableText(attempts), nullableText(lastErr), nullableText(checkpoint), now, now, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", job.ID)
	}
	if err := checkRowsAffected(res, "job", job.ID); err != nil {
		return err
	}

	goals, err := json.Marshal(plan.Goals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal plan goals")
	}
	outline, err := json.Marshal(plan.StrategyOutline)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal strategy outline")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO plans (id, tenant_id, job_id, goals, strategy_outline, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.TenantID, plan.JobID, string(goals), string(outline), plan.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert plan %s", plan.ID)
	}

	for _, task := range tasks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (id, plan_id, tenant_id, description, status, origin, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.PlanID, task.TenantID, task.Description,
			string(task.Status), string(task.Origin), task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert task %s", task.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit completion tx")
}

func (s *SQLiteStore) GetPlan(ctx context.Context, planID string) (*model.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, job_id, goals, strategy_outline, created_at FROM plans WHERE id = ?`,
		planID)
	plan, err := scanSQLitePlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "plan %s", planID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get plan %s", planID)
	}
	return plan, nil
}

func (s *SQLiteStore) CurrentPlan(ctx context.Context, tenantID string) (*model.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, job_id, goals, strategy_outline, created_at FROM plans
		 WHERE tenant_id = ? ORDER BY created_at DESC LIMIT 1`,
		tenantID)
	plan, err := scanSQLitePlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: current plan for tenant %s", tenantID)
	}
	return plan, nil
}

const sqliteTaskColumns = `id, plan_id, tenant_id, description, status, origin, created_at, updated_at`

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	var t model.Task
	err := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTaskColumns+` FROM tasks WHERE id = ?`, taskID,
	).Scan(&t.ID, &t.PlanID, &t.TenantID, &t.Description, &t.Status, &t.Origin, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "task %s", taskID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get task %s", taskID)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, planID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTaskColumns+` FROM tasks WHERE plan_id = ? ORDER BY created_at ASC, id ASC`,
		planID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list tasks for plan %s", planID)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		if err := rows.Scan(&t.ID, &t.PlanID, &t.TenantID, &t.Description, &t.Status, &t.Origin, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

func (s *SQLiteStore) UpdateTaskDescription(ctx context.Context, taskID, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET description = ?, updated_at = ? WHERE id = ?`,
		description, time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update task %s", taskID)
	}
	return checkRowsAffected(res, "task", taskID)
}

func (s *SQLiteStore) CreateTasks(ctx context.Context, tasks []model.Task) error {
	for _, task := range tasks {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tasks (`+sqliteTaskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.PlanID, task.TenantID, task.Description,
			string(task.Status), string(task.Origin), task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert task %s", task.ID)
		}
	}
	return nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// nullableText converts empty JSON blobs to SQL NULL.
func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func scanSQLiteJob(row scannable) (*model.AnalysisJob, error) {
	var j model.AnalysisJob
	var state string
	var competitors, attempts, lastErr, checkpoint sql.NullString

	err := row.Scan(&j.ID, &j.TenantID, &j.RequestedAt, &j.TargetURL, &competitors,
		&state, &attempts, &lastErr, &checkpoint, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.State = model.JobState(state)

	if competitors.Valid {
		if err := json.Unmarshal([]byte(competitors.String), &j.CompetitorURLs); err != nil {
			return nil, eris.Wrap(err, "unmarshal competitor urls")
		}
	}
	if attempts.Valid {
		if err := json.Unmarshal([]byte(attempts.String), &j.Attempts); err != nil {
			return nil, eris.Wrap(err, "unmarshal attempts")
		}
	}
	if lastErr.Valid {
		j.LastError = &model.StageError{}
		if err := json.Unmarshal([]byte(lastErr.String), j.LastError); err != nil {
			return nil, eris.Wrap(err, "unmarshal last error")
		}
	}
	if checkpoint.Valid {
		j.Checkpoint = &model.JobCheckpoint{}
		if err := json.Unmarshal([]byte(checkpoint.String), j.Checkpoint); err != nil {
			return nil, eris.Wrap(err, "unmarshal checkpoint")
		}
	}
	return &j, nil
}

func scanSQLitePlan(row scannable) (*model.Plan, error) {
	var p model.Plan
	var goals, outline string

	if err := row.Scan(&p.ID, &p.TenantID, &p.JobID, &goals, &outline, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(goals), &p.Goals); err != nil {
		return nil, eris.Wrap(err, "unmarshal plan goals")
	}
	if err := json.Unmarshal([]byte(outline), &p.StrategyOutline); err != nil {
		return nil, eris.Wrap(err, "unmarshal strategy outline")
	}
	return &p, nil
}
