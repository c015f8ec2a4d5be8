// Command budgetr tracks a time budget with weighted meters.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marsop/budgetr/internal/ledger"
	"github.com/marsop/budgetr/internal/remote"
	"github.com/marsop/budgetr/internal/store"
)

// keySupabaseToken stores the remote session token between runs.
const keySupabaseToken = "budgetr_supabase_token"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "budgetr",
	Short: "Track a time budget with weighted meters",
	Long: `Budgetr keeps a running time balance: start a meter and its rate
multiplier is applied to the elapsed time, stop it and the interval is
recorded. A meter with factor 1 earns an hour per hour, factor -1 spends
one, and fractional factors scale in between.

The ledger lives in a local SQLite database and can be backed up to a
Supabase bucket, either manually or continuously via 'budgetr sync'.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.budgetr.yaml)")
	rootCmd.PersistentFlags().String("db", "", "database file (default $HOME/.budgetr/budgetr.db)")
	_ = viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddGroup(
		&cobra.Group{ID: "tracking", Title: "Time Tracking:"},
		&cobra.Group{ID: "meters", Title: "Meter Configuration:"},
		&cobra.Group{ID: "data", Title: "Data Management:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".budgetr")
	}

	viper.SetEnvPrefix("BUDGETR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}
}

// dbPath resolves the database location from flag, env, or the default under
// the home directory.
func dbPath() string {
	if path := viper.GetString("database"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "budgetr.db"
	}
	return filepath.Join(home, ".budgetr", "budgetr.db")
}

// appEnv bundles the open database and the loaded ledger for one command
// invocation.
type appEnv struct {
	db          *store.DB
	ledger      *ledger.Ledger
	ledgerStore *store.LedgerStore
}

// openEnv opens the database and loads the persisted ledger.
func openEnv(ctx context.Context) (*appEnv, error) {
	db, err := store.Open(dbPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	l := ledger.New()
	ls := store.NewLedgerStore(db, nil)
	if err := ls.Load(ctx, l, nil); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	return &appEnv{db: db, ledger: l, ledgerStore: ls}, nil
}

func (a *appEnv) Close() {
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
	}
}

// persist saves the ledger back to the database.
func (a *appEnv) persist(ctx context.Context) error {
	return a.ledgerStore.Save(ctx, a.ledger)
}

// newRemoteStore builds the Supabase provider from configuration and adopts
// any persisted session token.
func newRemoteStore(ctx context.Context, storage store.Store) (*remote.Supabase, error) {
	url := viper.GetString("supabase.url")
	apiKey := viper.GetString("supabase.api_key")
	if url == "" || apiKey == "" {
		return nil, fmt.Errorf("supabase.url and supabase.api_key must be configured (config file or BUDGETR_SUPABASE_* env)")
	}

	r := remote.NewSupabase(remote.SupabaseConfig{
		URL:      url,
		APIKey:   apiKey,
		Email:    viper.GetString("supabase.email"),
		Password: viper.GetString("supabase.password"),
		Bucket:   viper.GetString("supabase.bucket"),
		Object:   viper.GetString("supabase.object"),
	})

	if token, ok, err := storage.GetItem(ctx, keySupabaseToken); err == nil && ok {
		if err := r.Initialize(ctx, token); err != nil {
			return nil, fmt.Errorf("failed to adopt stored session: %w", err)
		}
	}

	return r, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
