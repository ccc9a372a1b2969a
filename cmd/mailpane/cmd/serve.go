package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailpane/mailpane/internal/api"
	"github.com/mailpane/mailpane/internal/cache"
	"github.com/mailpane/mailpane/internal/gmail"
	"github.com/mailpane/mailpane/internal/mailbox"
	"github.com/mailpane/mailpane/internal/oauth"
	"github.com/mailpane/mailpane/internal/state"
	"github.com/mailpane/mailpane/internal/sync"
	"github.com/mailpane/mailpane/internal/updates"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mailpane daemon",
	Long: `Run mailpane as a long-running daemon that serves the mailbox API
and keeps the list cache current.

The daemon runs in the foreground and performs:
  - HTTP API server on the configured port (default: 8080)
  - Gmail watch registration for Pub/Sub push notifications
  - A five-minute fallback poll that also renews the watch

Push notifications require a Pub/Sub topic:
  [push]
  topic = "projects/<project>/topics/<topic>"

Leave the topic empty to run poll-only.

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Account == "" {
		return errAccountNotConfigured()
	}
	if cfg.OAuth.ClientSecrets == "" {
		return errOAuthNotConfigured()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Open the cache database
	db, err := cache.OpenDB(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open cache database: %w", err)
	}
	defer db.Close()

	manager := cache.NewManager(
		cache.WithPersistent(db.Persistent()),
		cache.WithSession(db.Session()),
		cache.WithLogger(logger),
	)
	lists := cache.NewLists(manager)
	store := state.New()

	// OAuth token source for the configured account
	oauthMgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
	if err != nil {
		return fmt.Errorf("create oauth manager: %w", err)
	}
	tokenSource, err := oauthMgr.TokenSource(ctx, cfg.Account)
	if err != nil {
		if !oauthMgr.HasToken(cfg.Account) {
			return fmt.Errorf("get token source: %w (run 'mailpane auth' first)", err)
		}
		return fmt.Errorf("get token source: %w", err)
	}

	// Gmail client with quota-aware rate limiting
	client := gmail.NewClient(tokenSource,
		gmail.WithLogger(logger),
		gmail.WithRateLimiter(gmail.NewRateLimiter(float64(cfg.Sync.RateLimitQPS))),
	)
	defer client.Close()

	// Mailbox service, sync engine, and update coordinator
	svc := mailbox.NewService(client, lists, store,
		mailbox.WithLogger(logger),
		mailbox.WithPageSize(cfg.Sync.PageSize),
	)

	cursors := sync.NewCursors(db.Persistent())
	engine := sync.NewEngine(client, cursors, store, lists, svc.RefreshInbox,
		sync.WithLogger(logger))

	poll := func(ctx context.Context, userID string) error {
		_, err := svc.RefreshInbox(ctx, userID)
		return err
	}
	coordinator := updates.NewCoordinator(client, updates.NewSubscriptions(db.Persistent()),
		engine, poll, cfg.Account, cfg.Push.Topic,
		updates.WithLogger(logger))

	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start update coordinator: %w", err)
	}
	defer coordinator.Stop()

	// HTTP API server
	apiServer := api.NewServer(cfg, svc, coordinator, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("mailpane daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Account: %s\n", cfg.Account)
	if cfg.Push.Topic != "" {
		fmt.Printf("  Push topic: %s\n", cfg.Push.Topic)
	} else {
		fmt.Printf("  Push: disabled (poll-only)\n")
	}
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		fmt.Println("\nShutting down...")
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		return fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	fmt.Println("Shutdown complete.")
	return nil
}
