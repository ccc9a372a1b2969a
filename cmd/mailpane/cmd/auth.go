package cmd

import (
	"fmt"

	"github.com/mailpane/mailpane/internal/oauth"
	"github.com/spf13/cobra"
)

var authHeadless bool

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize the configured Gmail account",
	Long: `Run the OAuth flow for the account named in config.toml and store
the resulting token under the data directory.

By default a browser window is opened; pass --headless to use the
device-code flow on machines without one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Account == "" {
			return errAccountNotConfigured()
		}
		if cfg.OAuth.ClientSecrets == "" {
			return errOAuthNotConfigured()
		}

		mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
		if err != nil {
			return fmt.Errorf("create oauth manager: %w", err)
		}

		if mgr.HasToken(cfg.Account) {
			fmt.Printf("Replacing existing token for %s\n", cfg.Account)
			if err := mgr.DeleteToken(cfg.Account); err != nil {
				return fmt.Errorf("delete existing token: %w", err)
			}
		}

		if err := mgr.Authorize(cmd.Context(), cfg.Account, authHeadless); err != nil {
			return fmt.Errorf("authorize %s: %w", cfg.Account, err)
		}

		fmt.Printf("Token stored for %s\n", cfg.Account)
		return nil
	},
}

func init() {
	authCmd.Flags().BoolVar(&authHeadless, "headless", false, "use the device-code flow instead of a browser")
	rootCmd.AddCommand(authCmd)
}
