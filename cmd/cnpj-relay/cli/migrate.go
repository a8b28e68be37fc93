package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cnpj-relay-go/internal/db"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the relay tables",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}

		conn, err := db.Open(cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := conn.DB(); err == nil {
			defer sqlDB.Close()
		}

		if err := db.Migrate(conn); err != nil {
			return err
		}
		fmt.Println("Migrations applied")
		return nil
	},
}
