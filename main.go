package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pagelens/api/config"
	"pagelens/api/database"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pagelens",
		Short: "Marketing page analysis API",
		Long:  "pagelens scores landing pages with an LLM, tracks visitors of analyzed funnels and attributes conversions to them.",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(analyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL migrations and the ClickHouse schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			dbClient, err := database.NewPostgresDB(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer dbClient.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := database.Migrate(ctx, dbClient.DB); err != nil {
				return err
			}

			if cfg.ClickHouse.Enabled() {
				chClient, err := database.NewClickHouseDB(cfg.ClickHouse)
				if err != nil {
					return err
				}
				defer chClient.Close()
				if err := chClient.EnsureSchema(ctx); err != nil {
					return err
				}
			} else {
				log.Println("ClickHouse is not configured, skipping the events schema")
			}

			fmt.Println("migrations applied")
			return nil
		},
	}
}
