package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/knowledge"
	"github.com/beaconhq/growth-engine/internal/store"
)

var kbSeedDir string

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the marketing knowledge base",
}

var kbSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load knowledge documents from YAML files into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		ps, ok := st.(*store.PostgresStore)
		if !ok {
			return eris.New("kb seed requires the postgres store; the memory searcher loads documents at worker startup via --kb-dir")
		}

		docs, err := knowledge.LoadDocuments(kbSeedDir)
		if err != nil {
			return err
		}

		searcher := knowledge.NewPostgresSearcher(ps.Pool(), cfg.Retrieval.MinScore)
		if err := searcher.Migrate(ctx); err != nil {
			return err
		}

		n, err := knowledge.NewSeeder(ps.Pool()).Seed(ctx, docs)
		if err != nil {
			return err
		}

		zap.L().Info("knowledge base seeded",
			zap.Int("documents", len(docs)), zap.Int("snippets", n))
		return nil
	},
}

func init() {
	kbSeedCmd.Flags().StringVar(&kbSeedDir, "dir", "kb", "directory of YAML knowledge documents")
	kbCmd.AddCommand(kbSeedCmd)
	rootCmd.AddCommand(kbCmd)
}
