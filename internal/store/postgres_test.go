package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/growth-engine/internal/model"
)

var _ Store = (*PostgresStore)(nil)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func jobRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "tenant_id", "requested_at", "target_url", "competitor_urls",
		"state", "attempts", "last_error", "checkpoint", "updated_at",
	})
}

func TestPostgres_CreateJob(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO analysis_jobs").
		WithArgs("j-1", "t-1", pgxmock.AnyArg(), "https://acme.example",
			[]byte(`["https://rival.example"]`), "queued", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.CreateJob(context.Background(), testJob("j-1", "t-1"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetJob(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM analysis_jobs WHERE id").
		WithArgs("j-1").
		WillReturnRows(jobRows().AddRow(
			"j-1", "t-1", now, "https://acme.example", []byte(`["https://rival.example"]`),
			"crawling", []byte(`{"crawling":2}`), nil, nil, now,
		))

	job, err := s.GetJob(context.Background(), "j-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCrawling, job.State)
	assert.Equal(t, 2, job.AttemptCount(model.StageCrawling))
	assert.Equal(t, []string{"https://rival.example"}, job.CompetitorURLs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetJobNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM analysis_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestPostgres_ActiveJobNone(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM analysis_jobs").
		WithArgs("t-1").
		WillReturnError(pgx.ErrNoRows)

	job, err := s.ActiveJob(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestPostgres_UpdateJobNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE analysis_jobs SET").
		WithArgs("crawling", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	job := testJob("missing", "t-1")
	job.State = model.JobStateCrawling
	job.CompetitorURLs = nil
	err := s.UpdateJob(context.Background(), job)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestPostgres_LastCompletedAt(t *testing.T) {
	s, mock := newMockStore(t)
	completed := time.Now().UTC().Add(-2 * time.Hour)

	mock.ExpectQuery("SELECT max").
		WithArgs("t-1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&completed))

	got, err := s.LastCompletedAt(context.Background(), "t-1")
	require.NoError(t, err)
	assert.WithinDuration(t, completed, got, time.Second)
}

func TestPostgres_LastCompletedAtNull(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT max").
		WithArgs("t-1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow((*time.Time)(nil)))

	got, err := s.LastCompletedAt(context.Background(), "t-1")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestPostgres_CompleteJobTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	job := testJob("j-1", "t-1")
	job.CompetitorURLs = nil
	job.State = model.JobStateGenerating
	plan := testPlan("p-1", "t-1", "j-1")
	tasks := testTasks("t-1", "p-1", "task-1", "task-2")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE analysis_jobs SET").
		WithArgs("completed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "j-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO plans").
		WithArgs("p-1", "t-1", "j-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO tasks").
		WithArgs("task-1", "p-1", "t-1", "task task-1", "todo", "ai_suggested", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO tasks").
		WithArgs("task-2", "p-1", "t-1", "task task-2", "todo", "ai_suggested", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.CompleteJob(context.Background(), job, plan, tasks)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, job.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteJobRollsBackOnTaskFailure(t *testing.T) {
	s, mock := newMockStore(t)

	job := testJob("j-1", "t-1")
	job.CompetitorURLs = nil
	plan := testPlan("p-1", "t-1", "j-1")
	tasks := testTasks("t-1", "p-1", "task-1")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE analysis_jobs SET").
		WithArgs("completed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "j-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO plans").
		WithArgs("p-1", "t-1", "j-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO tasks").
		WithArgs("task-1", "p-1", "t-1", "task task-1", "todo", "ai_suggested", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(eris.New("connection lost"))
	mock.ExpectRollback()

	err := s.CompleteJob(context.Background(), job, plan, tasks)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetTenant(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT context FROM tenants").
		WithArgs("t-1").
		WillReturnRows(pgxmock.NewRows([]string{"context"}).
			AddRow([]byte(`{"business_name":"Acme","target_url":"https://acme.example","tier":"basic"}`)))

	tc, err := s.GetTenant(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", tc.TenantID)
	assert.Equal(t, "Acme", tc.BusinessName)
	assert.Equal(t, model.TierBasic, tc.Tier)
}

func TestPostgres_UpdateTaskDescription(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE tasks SET description").
		WithArgs("refined", pgxmock.AnyArg(), "task-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateTaskDescription(context.Background(), "task-1", "refined")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
