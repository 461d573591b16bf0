package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	"github.com/smallbiznis/voxbill/internal/migration"
	"github.com/smallbiznis/voxbill/internal/observability"
	"github.com/smallbiznis/voxbill/internal/scheduler"
	"github.com/smallbiznis/voxbill/internal/seed"
	"github.com/smallbiznis/voxbill/internal/server"
	"github.com/smallbiznis/voxbill/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var nodeID int64

func main() {
	rootCmd := &cobra.Command{
		Use:   "voxbill",
		Short: "Usage metering, billing summaries and tenant webhooks for telephony events",
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSeedCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  `Apply pending migrations, then serve provider callbacks and the tenant API until interrupted. Maintenance jobs run in the background unless SCHEDULER_ENABLED=false.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				config.Module,
				observability.Module,
				fx.Provide(RegisterSnowflake),
				db.Module,
				clock.Module,
				migration.Module,
				server.Module,
				scheduler.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().Int64Var(&nodeID, "node-id", 1, "Snowflake node id, unique per replica (0-1023)")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				migration.Module,
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			return app.Stop(ctx)
		},
	}
}

func newSeedCommand() *cobra.Command {
	var demo seed.DemoTenant
	var orgID int64

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo tenant for local development",
		Long:  `Create an active subscription and one phone number for a demo organization. Refused outside development environments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			demo.OrgID = snowflake.ID(orgID)
			app := fx.New(
				config.Module,
				observability.Module,
				fx.Provide(RegisterSnowflake),
				db.Module,
				clock.Module,
				migration.Module,
				fx.NopLogger,
				fx.Invoke(func(cfg config.Config, conn *gorm.DB, node *snowflake.Node, clk clock.Clock, log *zap.Logger) error {
					if !cfg.IsDevelopment() {
						return fmt.Errorf("seed: refusing to seed environment %q", cfg.Environment)
					}
					demo.HomeCountryCode = cfg.Telephony.HomeCountryCode
					ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
					defer cancel()
					if err := seed.EnsureDemoTenant(ctx, conn, node, clk.Now(), demo); err != nil {
						return err
					}
					log.Info("demo tenant seeded",
						zap.Int64("org_id", orgID),
						zap.String("plan_id", demo.PlanID),
					)
					return nil
				}),
			)
			return app.Err()
		},
	}
	cmd.Flags().Int64Var(&orgID, "org-id", int64(seed.DefaultOrgID), "Organization id to seed")
	cmd.Flags().StringVar(&demo.PlanID, "plan", seed.DefaultPlanID, "Plan key for the demo subscription")
	cmd.Flags().StringVar(&demo.Number, "number", seed.DefaultNumber, "Phone number routed to the demo organization")
	return cmd
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID)
}
