package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cnpj-relay-go/internal/app"
	"cnpj-relay-go/internal/config"
)

var (
	configPath string
	version    = "dev"
	buildTime  = "unknown"
	gitCommit  = "unknown"
)

// SetVersion sets the version information
func SetVersion(v, b, g string) {
	version = v
	buildTime = b
	gitCommit = g
}

var rootCmd = &cobra.Command{
	Use:   "cnpj-relay",
	Short: "CNPJ webhook relay",
	Long: `cnpj-relay forwards CNPJ lookup payloads between internal callers,
external webhook senders and each user's configured destination.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: config.yaml in . or ./config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("CNPJ Webhook Relay\n")
			fmt.Printf("  Version:    %s\n", version)
			fmt.Printf("  Build Time: %s\n", buildTime)
			fmt.Printf("  Git Commit: %s\n", gitCommit)
		},
	})
}

// loadConfig reads configuration and sets up logging. Commands that only
// need part of the settings skip full validation.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	app.ConfigureLogging(cfg.Log)
	return cfg, nil
}
