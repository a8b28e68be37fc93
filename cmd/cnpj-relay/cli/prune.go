package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"cnpj-relay-go/internal/db"
	"cnpj-relay-go/internal/metrics"
	"cnpj-relay-go/internal/repository"
	"cnpj-relay-go/internal/scheduler"
)

var pruneDays int

func init() {
	pruneLogsCmd.Flags().IntVar(&pruneDays, "days", 0, "delete logs older than this many days (default: retention.days)")
	rootCmd.AddCommand(pruneLogsCmd)
}

var pruneLogsCmd = &cobra.Command{
	Use:   "prune-logs",
	Short: "Delete relay logs older than the retention period",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}

		retention := cfg.Retention
		if cmd.Flags().Changed("days") {
			retention.Days = pruneDays
		}
		if retention.Days <= 0 {
			return fmt.Errorf("retention days must be greater than 0")
		}

		conn, err := db.Init(cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := conn.DB(); err == nil {
			defer sqlDB.Close()
		}

		sched := scheduler.NewScheduler(retention, repository.New(conn), metrics.NewMetrics(prometheus.NewRegistry()))
		deleted, err := sched.RunOnce(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Deleted %d log entries older than %d days\n", deleted, retention.Days)
		return nil
	},
}
