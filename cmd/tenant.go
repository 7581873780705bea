package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/model"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenant context records",
}

var tenantUpsertCmd = &cobra.Command{
	Use:   "upsert <context.json>",
	Short: "Create or replace a tenant context from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read tenant context file")
		}
		var tc model.TenantContext
		if err := json.Unmarshal(data, &tc); err != nil {
			return eris.Wrap(err, "parse tenant context")
		}
		if err := tc.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpsertTenant(ctx, tc); err != nil {
			return err
		}
		zap.L().Info("tenant context upserted", zap.String("tenant_id", tc.TenantID))
		return nil
	},
}

func init() {
	tenantCmd.AddCommand(tenantUpsertCmd)
	rootCmd.AddCommand(tenantCmd)
}
