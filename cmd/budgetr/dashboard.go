package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marsop/budgetr/internal/daemon"
	"github.com/marsop/budgetr/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start a real-time WebSocket dashboard",
	Long: `Start a WebSocket server that broadcasts the ledger state in
real time: the current balance, the meter list, the balance timeline, and
auto-sync status transitions.

WebSocket messages include:
- balance: current balance and active meter
- meters: meter list after a configuration change
- timeline: reconstructed balance timeline
- sync_status: auto-sync status transition

Example usage:
  budgetr dashboard                # Start on default port 8080
  budgetr dashboard --port 9000    # Start on custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws

The dashboard watches the database, so entries tracked from other budgetr
invocations show up live.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		config := &dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		}
		server := dashboard.NewServer(config)

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

		// Attach sync status when a remote is configured; the dashboard
		// works without one.
		var syncEngine dashboard.SyncEngine
		engine, err := newSyncEngine(ctx, env)
		if err == nil {
			defer engine.Close()
			if err := engine.TryRestoreState(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
			syncEngine = engine
		}

		handler := dashboard.NewHandler(server, env.ledger, syncEngine,
			log.New(os.Stderr, "[dashboard] ", log.LstdFlags))
		handler.Start()
		defer handler.Stop()

		// Mirror database edits from other budgetr processes.
		var notifier daemon.Notifier
		if engine != nil {
			notifier = engine
		}
		d, err := daemon.New(env.ledger, env.db, env.db.Path(), notifier)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		done := make(chan error, 1)
		go func() { done <- d.Start(ctx) }()

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := <-done; err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on")

	rootCmd.AddCommand(dashboardCmd)
}
