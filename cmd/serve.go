package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/beaconhq/growth-engine/internal/plangen"
	"github.com/beaconhq/growth-engine/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis trigger API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		reeval := plangen.NewReevaluator(newGenerator(), env.Store, env.Locks, env.Events, env.DLQ)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := server.New(env.Store, env.Queue, reeval, server.Config{
			Port:             port,
			CompletionWindow: cfg.Orchestrator.CompletionWindow,
		})

		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
