package model

import "testing"

func TestJobState_Terminal(t *testing.T) {
	terminal := []JobState{JobStateCompleted, JobStateFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	active := []JobState{JobStateQueued, JobStateCrawling, JobStateRetrieving, JobStateGenerating}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNextState_FollowsStageOrder(t *testing.T) {
	order := []JobState{JobStateQueued, JobStateCrawling, JobStateRetrieving, JobStateGenerating, JobStateCompleted}
	for i := 0; i < len(order)-1; i++ {
		if got := NextState(order[i]); got != order[i+1] {
			t.Errorf("NextState(%s) = %s, want %s", order[i], got, order[i+1])
		}
	}
	// Terminal states do not advance.
	if got := NextState(JobStateCompleted); got != JobStateCompleted {
		t.Errorf("NextState(completed) = %s", got)
	}
	if got := NextState(JobStateFailed); got != JobStateFailed {
		t.Errorf("NextState(failed) = %s", got)
	}
}

func TestStageFor(t *testing.T) {
	cases := map[JobState]Stage{
		JobStateCrawling:   StageCrawling,
		JobStateRetrieving: StageRetrieving,
		JobStateGenerating: StageGenerating,
	}
	for state, want := range cases {
		stage, ok := StageFor(state)
		if !ok || stage != want {
			t.Errorf("StageFor(%s) = (%s, %v), want (%s, true)", state, stage, ok, want)
		}
	}
	for _, state := range []JobState{JobStateQueued, JobStateCompleted, JobStateFailed} {
		if _, ok := StageFor(state); ok {
			t.Errorf("StageFor(%s) should report no stage", state)
		}
	}
}

func TestRecordAttempt(t *testing.T) {
	job := &AnalysisJob{}
	if got := job.AttemptCount(StageCrawling); got != 0 {
		t.Fatalf("fresh job attempt count = %d", got)
	}
	if got := job.RecordAttempt(StageCrawling); got != 1 {
		t.Errorf("first attempt = %d, want 1", got)
	}
	if got := job.RecordAttempt(StageCrawling); got != 2 {
		t.Errorf("second attempt = %d, want 2", got)
	}
	// Counts are per-stage, not global.
	if got := job.AttemptCount(StageGenerating); got != 0 {
		t.Errorf("generating attempts = %d, want 0", got)
	}
}
