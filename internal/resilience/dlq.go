package resilience

import (
	"time"

	"github.com/beaconhq/growth-engine/internal/model"
)

// ReevalDLQEntry records a re-evaluation request that failed after retries.
// The lightweight re-evaluation flow has no job record, so the dead letter
// entry is its only audit trail.
type ReevalDLQEntry struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Task         model.Task `json:"task"`
	Error        string     `json:"error"`
	ErrorType    string     `json:"error_type"` // "transient" or "permanent"
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	NextRetryAt  time.Time  `json:"next_retry_at"`
	CreatedAt    time.Time  `json:"created_at"`
	LastFailedAt time.Time  `json:"last_failed_at"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *ReevalDLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
