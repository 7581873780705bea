package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/beaconhq/growth-engine/internal/monitoring"
	"github.com/beaconhq/growth-engine/internal/orchestrator"
	"github.com/beaconhq/growth-engine/internal/plangen"
	"github.com/beaconhq/growth-engine/internal/worker"
)

var workKBDir string

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the analysis worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		retriever, err := newRetriever(env.Store, workKBDir)
		if err != nil {
			return err
		}

		generator := plangen.New(newGenerator(), plangen.Config{
			RepairAttempts: cfg.Generate.RepairAttempts,
			MaxTasks:       cfg.Generate.MaxTasks,
		})

		orch := orchestrator.New(
			env.Store, env.Queue, env.Locks,
			newCrawler(), retriever, generator, env.Events,
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

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.DLQ),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		pool := worker.NewPool(env.Queue, orch, worker.Config{
			Workers:    cfg.Worker.Workers,
			ClaimWait:  cfg.Worker.ClaimWait,
			StaleAfter: cfg.Worker.StaleAfter,
		})
		return pool.Run(ctx)
	},
}

func init() {
	workCmd.Flags().StringVar(&workKBDir, "kb-dir", "", "knowledge document directory (memory searcher only)")
	rootCmd.AddCommand(workCmd)
}
