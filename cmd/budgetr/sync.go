package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marsop/budgetr/internal/autosync"
	"github.com/marsop/budgetr/internal/daemon"
	"github.com/marsop/budgetr/internal/store"
	"github.com/marsop/budgetr/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Back up the ledger to Supabase",
	Long: `Manage cloud backup of the ledger.

Budgetr stores one backup blob per account in a Supabase storage bucket.
With auto-sync enabled, local changes are pushed after a short quiet period
and the backup is polled for changes made on other devices; the newer whole
snapshot wins.

Configure the project in ~/.budgetr.yaml (or BUDGETR_SUPABASE_* env):

  supabase:
    url: https://<project>.supabase.co
    api_key: <anon key>
    email: you@example.com
    password: <password>`,
}

var syncLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the backup account",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		r, err := newRemoteStore(ctx, env.db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ok, err := r.Authenticate(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sign-in failed: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: sign-in rejected; check supabase.email and supabase.password\n")
			os.Exit(1)
		}

		if err := env.db.SetItem(ctx, keySupabaseToken, r.AccessToken()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to store session: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Signed in\n", ui.RenderPass("✓"))
	},
}

var syncLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the session",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		if err := env.db.RemoveItem(ctx, keySupabaseToken); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		// The enabled flag stays; the engine disables itself on the next
		// push when it finds no session.
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
	},
}

var syncEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn auto-sync on",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		engine, err := newSyncEngine(ctx, env)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer engine.Close()

		if err := engine.Enable(ctx); err != nil {
			if errors.Is(err, autosync.ErrNotAuthenticated) {
				fmt.Fprintf(os.Stderr, "Error: not signed in; run 'budgetr sync login' first\n")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("%s Auto-sync enabled\n", ui.RenderPass("✓"))
		fmt.Println("   Run 'budgetr sync daemon' to keep syncing in the background.")
	},
}

var syncDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn auto-sync off",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		if err := env.db.SetItem(ctx, store.KeyAutoSyncEnabled, "false"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Auto-sync disabled\n", ui.RenderPass("✓"))
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show auto-sync state",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		flag, _, _ := env.db.GetItem(ctx, store.KeyAutoSyncEnabled)
		lastSync, haveLastSync, _ := env.db.GetItem(ctx, store.KeyAutoSyncLastSync)

		fmt.Println()
		if flag == "true" {
			fmt.Printf("   Auto-sync: %s\n", ui.RenderPass("enabled"))
		} else {
			fmt.Printf("   Auto-sync: %s\n", ui.RenderFaint("disabled"))
		}

		if haveLastSync {
			if t, err := time.Parse(time.RFC3339, lastSync); err == nil {
				fmt.Printf("   Last sync: %s\n", t.Local().Format(time.DateTime))
			}
		} else {
			fmt.Printf("   Last sync: %s\n", ui.RenderFaint("never"))
		}

		if r, err := newRemoteStore(ctx, env.db); err == nil {
			if authed, _ := r.IsAuthenticated(ctx); authed {
				fmt.Printf("   Session:   %s\n", ui.RenderPass("signed in"))
				if modified, ok, err := r.LastModified(ctx); err == nil && ok {
					fmt.Printf("   Backup:    %s\n", modified.Local().Format(time.DateTime))
				} else if err == nil {
					fmt.Printf("   Backup:    %s\n", ui.RenderFaint("none"))
				}
			} else {
				fmt.Printf("   Session:   %s\n", ui.RenderWarn("signed out"))
			}
		}
		fmt.Println()
	},
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Push a backup immediately",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		engine, err := newSyncEngine(ctx, env)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer engine.Close()

		start := time.Now()
		if err := engine.SyncNow(ctx); err != nil {
			if errors.Is(err, autosync.ErrNotAuthenticated) {
				fmt.Fprintf(os.Stderr, "Error: not signed in; run 'budgetr sync login' first\n")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("%s Backup pushed in %v\n", ui.RenderPass("✓"),
			time.Since(start).Round(time.Millisecond))
	},
}

var syncDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon in the foreground",
	Long: `Run the background sync process: watches the database for edits
made by other budgetr invocations, pushes changes to the backup after a
quiet period, and polls for changes from other devices.

Auto-sync must have been enabled ('budgetr sync enable'); otherwise the
daemon only mirrors external database edits into memory.

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		engine, err := newSyncEngine(ctx, env)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer engine.Close()

		if err := engine.TryRestoreState(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Persist ledger changes made while the daemon runs.
		unbind := env.ledgerStore.Bind(ctx, env.ledger)
		defer unbind()

		logFile, _ := cmd.Flags().GetString("log-file")
		dcfg := daemon.DefaultConfig()
		dcfg.LogFile = logFile

		d, err := daemon.NewWithConfig(env.ledger, env.db, env.db.Path(), engine, dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if engine.Enabled() {
			fmt.Printf("%s Sync daemon running (auto-sync on)\n", ui.RenderPass("▶"))
		} else {
			fmt.Printf("%s Sync daemon running (auto-sync off)\n", ui.RenderWarn("▶"))
		}
		fmt.Println("   Press Ctrl+C to stop...")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// newSyncEngine wires the auto-sync engine over the command's environment.
func newSyncEngine(ctx context.Context, env *appEnv) (*autosync.Engine, error) {
	r, err := newRemoteStore(ctx, env.db)
	if err != nil {
		return nil, err
	}

	cfg := autosync.DefaultConfig()
	if d := viper.GetDuration("sync.debounce"); d > 0 {
		cfg.DebounceInterval = d
	}
	if d := viper.GetDuration("sync.poll"); d > 0 {
		cfg.PollInterval = d
	}

	return autosync.New(env.ledger, env.ledgerStore, env.db, r, cfg), nil
}

func init() {
	syncDaemonCmd.Flags().String("log-file", "", "write daemon logs to a rotating file")

	syncCmd.AddCommand(syncLoginCmd)
	syncCmd.AddCommand(syncLogoutCmd)
	syncCmd.AddCommand(syncEnableCmd)
	syncCmd.AddCommand(syncDisableCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncDaemonCmd)
	rootCmd.AddCommand(syncCmd)
}
