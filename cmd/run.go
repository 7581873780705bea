package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/orchestrator"
	"github.com/beaconhq/growth-engine/internal/plangen"
	"github.com/beaconhq/growth-engine/internal/queue"
	"github.com/beaconhq/growth-engine/internal/store"
)

var (
	runTenant string
	runKBDir  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one analysis synchronously for a tenant",
	Long: `Run drives a single analysis job to a terminal state in-process,
using in-memory queue and lock primitives. Intended for operators and local
development; production traffic goes through serve + work.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		tenant, err := st.GetTenant(ctx, runTenant)
		if err != nil {
			return eris.Wrapf(err, "load tenant %s", runTenant)
		}
		if err := tenant.Validate(); err != nil {
			return err
		}
		if active, err := st.ActiveJob(ctx, runTenant); err != nil {
			return err
		} else if active != nil {
			return eris.Errorf("job %s is already in progress for tenant %s", active.ID, runTenant)
		}

		retriever, err := newRetriever(st, runKBDir)
		if err != nil {
			return err
		}
		generator := plangen.New(newGenerator(), plangen.Config{
			RepairAttempts: cfg.Generate.RepairAttempts,
			MaxTasks:       cfg.Generate.MaxTasks,
		})

		q := queue.NewMemoryQueue()
		orch := orchestrator.New(
			st, q, queue.NewMemoryLocker(),
			newCrawler(), retriever, generator, queue.NewMemoryEvents(),
			orchestrator.Config{
				StageRetryBudget: cfg.Orchestrator.StageRetryBudget,
				RetryBackoffBase: cfg.Orchestrator.RetryBackoffBase,
				RetryBackoffCap:  cfg.Orchestrator.RetryBackoffCap,
				CrawlBudget:      cfg.Orchestrator.CrawlBudget,
				RetrieveBudget:   cfg.Orchestrator.RetrieveBudget,
				GenerateBudget:   cfg.Orchestrator.GenerateBudget,
				LockTTL:          cfg.Orchestrator.LockTTL,
			},
		)

		now := time.Now().UTC()
		job := &model.AnalysisJob{
			ID:             uuid.NewString(),
			TenantID:       tenant.TenantID,
			RequestedAt:    now,
			TargetURL:      tenant.TargetURL,
			CompetitorURLs: tenant.CompetitorURLs,
			State:          model.JobStateQueued,
			UpdatedAt:      now,
		}
		if err := st.CreateJob(ctx, job); err != nil {
			return eris.Wrap(err, "create job")
		}
		if err := q.Enqueue(ctx, job.ID); err != nil {
			return err
		}
		zap.L().Info("running analysis", zap.String("job_id", job.ID), zap.String("tenant_id", job.TenantID))

		// Drive the in-memory queue until the job reaches a terminal state.
		// Stage retries land in the delayed set, so promote on every pass.
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := q.PromoteDelayed(ctx); err != nil {
				return err
			}
			jobID, err := q.ClaimBlocking(ctx, 250*time.Millisecond)
			if err != nil {
				if eris.Is(err, queue.ErrEmpty) {
					continue
				}
				return err
			}
			if err := orch.Process(ctx, jobID); err != nil {
				// Nothing redelivers in-process claims; fail fast instead.
				return eris.Wrapf(err, "process job %s", jobID)
			}
			if err := q.Ack(ctx, jobID); err != nil {
				return err
			}

			cur, err := st.GetJob(ctx, job.ID)
			if err != nil {
				return err
			}
			if cur.State.Terminal() {
				return printRunResult(ctx, cmd, st, cur)
			}
		}
	},
}

// printRunResult reports the terminal job and, when it completed, the plan
// and tasks it produced.
func printRunResult(ctx context.Context, cmd *cobra.Command, st store.Store, job *model.AnalysisJob) error {
	out := struct {
		Job   *model.AnalysisJob `json:"job"`
		Plan  *model.Plan        `json:"plan,omitempty"`
		Tasks []model.Task       `json:"tasks,omitempty"`
	}{Job: job}

	if job.State == model.JobStateCompleted {
		plan, err := st.CurrentPlan(ctx, job.TenantID)
		if err != nil {
			return err
		}
		out.Plan = plan
		if plan != nil {
			tasks, err := st.ListTasks(ctx, plan.ID)
			if err != nil {
				return err
			}
			out.Tasks = tasks
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal result")
	}
	cmd.Println(string(data))

	if job.State == model.JobStateFailed {
		msg := "analysis failed"
		if job.LastError != nil {
			msg = job.LastError.Message
		}
		return eris.Errorf("job %s failed: %s", job.ID, msg)
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runTenant, "tenant", "", "tenant identifier (required)")
	runCmd.Flags().StringVar(&runKBDir, "kb-dir", "", "knowledge document directory (memory searcher only)")
	_ = runCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(runCmd)
}
