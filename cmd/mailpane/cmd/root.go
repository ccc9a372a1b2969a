package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mailpane/mailpane/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mailpane",
	Short: "Gmail list cache and live-update daemon",
	Long: `mailpane keeps a local, tiered cache of Gmail mailbox lists and
serves them over an HTTP API, applying label changes server-first and
picking up new mail through Pub/Sub push notifications with a polling
fallback.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Set up logging
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		// --home overrides MAILPANE_HOME for this process.
		if homeDir != "" {
			if err := os.Setenv("MAILPANE_HOME", homeDir); err != nil {
				return fmt.Errorf("set home: %w", err)
			}
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// Ensure the data directory exists on first use
		if err := os.MkdirAll(cfg.Data.DataDir, 0700); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}

		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// errOAuthNotConfigured returns a helpful error when OAuth client secrets are missing.
func errOAuthNotConfigured() error {
	return fmt.Errorf(`OAuth client secrets not configured.

To use mailpane, you need a Google Cloud OAuth credential:
  1. Create an OAuth client ID (Desktop app) in the Google Cloud console
  2. Download the client_secret.json file
  3. Add to your config.toml:
       [oauth]
       client_secrets = "/path/to/client_secret.json"`)
}

// errAccountNotConfigured returns a helpful error when no account is set.
func errAccountNotConfigured() error {
	return fmt.Errorf(`no Gmail account configured.

Add to your config.toml:
  account = "you@gmail.com"

Then run 'mailpane auth' to authorize it.`)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.mailpane/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides MAILPANE_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
