package queue

import (
	"time"

	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/plangen"
	"github.com/beaconhq/growth-engine/internal/resilience"
)

var (
	_ plangen.Publisher  = (*RedisEvents)(nil)
	_ plangen.Publisher  = (*MemoryEvents)(nil)
	_ plangen.DeadLetter = (*RedisDLQ)(nil)
	_ plangen.DeadLetter = (*MemoryDLQ)(nil)
)

func eventFixture() model.PipelineEvent {
	return model.PipelineEvent{
		Kind:     model.EventJobCompleted,
		TenantID: "t-1",
		JobID:    "j-1",
		PlanID:   "p-1",
		At:       time.Now().UTC(),
	}
}

func dlqFixture() resilience.ReevalDLQEntry {
	now := time.Now().UTC()
	return resilience.ReevalDLQEntry{
		ID:           "d-1",
		TenantID:     "t-1",
		Task:         model.Task{ID: "task-1", PlanID: "p-1", TenantID: "t-1", Description: "x"},
		Error:        "overloaded",
		ErrorType:    "transient",
		MaxRetries:   3,
		NextRetryAt:  now.Add(time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
}
