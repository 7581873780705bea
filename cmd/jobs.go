package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/beaconhq/growth-engine/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect analysis job history",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tenant, _ := cmd.Flags().GetString("tenant")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, model.JobFilter{
			TenantID: tenant,
			State:    model.JobState(state),
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs tail --

var jobsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream pipeline events as they are published",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		fmt.Fprintln(os.Stderr, "Streaming pipeline events, ctrl-c to stop.")
		err = env.Events.Subscribe(ctx, func(event model.PipelineEvent) {
			line, merr := json.Marshal(event)
			if merr != nil {
				return
			}
			fmt.Fprintln(os.Stdout, string(line))
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// -- dlq list --

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the re-evaluation dead letter queue",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered re-evaluation requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt64("limit")
		entries, err := env.DLQ.List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TENANT\tTASK\tTYPE\tRETRIES\tERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
				e.TenantID, e.Task.ID, e.ErrorType, e.RetryCount, e.MaxRetries, truncate(e.Error, 60))
		}
		return w.Flush()
	},
}

func formatJobsList(out io.Writer, jobs []model.AnalysisJob) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTENANT\tSTATE\tREQUESTED\tERROR")
	for _, j := range jobs {
		errMsg := ""
		if j.LastError != nil {
			errMsg = truncate(j.LastError.Message, 60)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.TenantID, j.State, j.RequestedAt.Format("2006-01-02 15:04"), errMsg)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	jobsListCmd.Flags().String("tenant", "", "filter by tenant id")
	jobsListCmd.Flags().String("state", "", "filter by state (queued, crawling, retrieving, generating, completed, failed)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")
	dlqListCmd.Flags().Int64("limit", 50, "max number of entries to display")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsTailCmd)
	dlqCmd.AddCommand(dlqListCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(dlqCmd)
}
