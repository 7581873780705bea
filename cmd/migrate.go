package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/knowledge"
	"github.com/beaconhq/growth-engine/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if ps, ok := st.(*store.PostgresStore); ok {
			searcher := knowledge.NewPostgresSearcher(ps.Pool(), cfg.Retrieval.MinScore)
			if err := searcher.Migrate(ctx); err != nil {
				return err
			}
		}

		zap.L().Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
