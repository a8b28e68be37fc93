package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cnpj-relay-go/internal/auth"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

func init() {
	issueTokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to put in the token subject")
	issueTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = issueTokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(issueTokenCmd)
}

// issueTokenCmd mints a bearer token for local testing against the relay
var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Sign a bearer token for a user id",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth jwt secret is required")
		}
		if tokenTTL <= 0 {
			return fmt.Errorf("ttl must be greater than 0")
		}

		token, err := auth.NewJWTResolver(cfg.Auth).Issue(tokenUser, tokenTTL)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}
