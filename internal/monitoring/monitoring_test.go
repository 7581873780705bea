package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/growth-engine/internal/config"
	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/queue"
	"github.com/beaconhq/growth-engine/internal/store"
)

var _ DLQDepther = (*queue.RedisDLQ)(nil)

type fakeDLQ struct{ depth int64 }

func (f *fakeDLQ) Len(context.Context) (int64, error) { return f.depth, nil }

func seedStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedJob(t *testing.T, st *store.SQLiteStore, id, tenantID string, state model.JobState, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Add(-age)
	job := &model.AnalysisJob{
		ID: id, TenantID: tenantID, RequestedAt: now,
		TargetURL: "https://acme.example", State: model.JobStateQueued, UpdatedAt: now,
	}
	require.NoError(t, st.CreateJob(ctx, job))
	if state != model.JobStateQueued {
		job.State = state
		if state == model.JobStateFailed {
			job.LastError = &model.StageError{Stage: model.StageCrawling, Message: "gave up"}
		}
		require.NoError(t, st.UpdateJob(ctx, job))
	}
}

func TestCollector_Collect(t *testing.T) {
	st := seedStore(t)
	seedJob(t, st, "j-1", "t-1", model.JobStateFailed, time.Hour)
	seedJob(t, st, "j-2", "t-2", model.JobStateFailed, 2*time.Hour)
	seedJob(t, st, "j-3", "t-3", model.JobStateCrawling, time.Hour)
	// Outside the lookback window.
	seedJob(t, st, "j-4", "t-4", model.JobStateFailed, 48*time.Hour)

	c := NewCollector(st, &fakeDLQ{depth: 7})
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.JobsTotal)
	assert.Equal(t, 2, snap.JobsFailed)
	assert.Equal(t, 1, snap.JobsActive)
	assert.Equal(t, 0, snap.JobsCompleted)
	assert.InDelta(t, 1.0, snap.JobFailRate, 0.001)
	assert.Equal(t, int64(7), snap.DLQDepth)
}

func TestCollector_NilDLQ(t *testing.T) {
	st := seedStore(t)

	c := NewCollector(st, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.DLQDepth)
	assert.Zero(t, snap.JobFailRate)
}

func TestAlerter_FailureRateNeedsVolume(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})

	// Four finished jobs, all failed: below the volume floor, no alert.
	snap := &MetricsSnapshot{JobsFailed: 4, JobFailRate: 1.0, LookbackHours: 24}
	assert.Empty(t, a.Evaluate(snap))

	// Six finished, five failed: alert.
	snap = &MetricsSnapshot{JobsCompleted: 1, JobsFailed: 5, JobFailRate: 5.0 / 6.0, LookbackHours: 24}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertJobFailureRate, alerts[0].Type)
}

func TestAlerter_DLQBacklog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, DLQDepthThreshold: 10})

	snap := &MetricsSnapshot{DLQDepth: 12, LookbackHours: 24}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDLQBacklog, alerts[0].Type)

	snap.DLQDepth = 3
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		received = append(received, a)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	alerts := []Alert{
		{Type: AlertJobFailureRate, Severity: "high", Message: "m1", Timestamp: time.Now()},
		{Type: AlertDLQBacklog, Severity: "medium", Message: "m2", Timestamp: time.Now()},
	}
	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	require.Len(t, received, 2)
	assert.Equal(t, AlertJobFailureRate, received[0].Type)
}

func TestAlerter_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertDLQBacklog}})
	assert.Zero(t, sent)
}
