package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marsop/budgetr/internal/ledger"
	"github.com/marsop/budgetr/internal/ui"
)

var startCmd = &cobra.Command{
	Use:     "start <meter>",
	GroupID: "tracking",
	Short:   "Start tracking on a meter",
	Long: `Start tracking time on the named meter. Only one meter runs at a
time: starting a meter stops whatever was running first.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		meter := findMeterByName(env.ledger, args[0])
		if meter == nil {
			fmt.Fprintf(os.Stderr, "Error: no meter named %q (see 'budgetr meter list')\n", args[0])
			os.Exit(1)
		}

		previous := env.ledger.ActiveEvent()

		if err := env.ledger.ActivateMeter(meter.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := env.persist(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if previous != nil {
			fmt.Printf("%s Stopped %s\n", ui.RenderWarn("■"), previous.MeterName)
		}
		fmt.Printf("%s Started %s (%s)\n", ui.RenderPass("▶"),
			ui.RenderAccent(meter.Name), ledger.FormatFactorName(meter.Factor))
	},
}

var stopCmd = &cobra.Command{
	Use:     "stop",
	GroupID: "tracking",
	Short:   "Stop the running meter",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		active := env.ledger.ActiveEvent()
		if active == nil {
			fmt.Println("Nothing is running.")
			return
		}

		env.ledger.DeactivateMeter()

		if err := env.persist(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		elapsed := time.Since(active.StartTime).Round(time.Second)
		fmt.Printf("%s Stopped %s after %v\n", ui.RenderPass("✓"),
			ui.RenderAccent(active.MeterName), elapsed)
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "tracking",
	Short:   "Show the running meter and current balance",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		fmt.Println()
		if active := env.ledger.ActiveEvent(); active != nil {
			elapsed := time.Since(active.StartTime).Round(time.Second)
			fmt.Printf(" %s %s (%s) for %v\n", ui.RenderPass("▶"),
				ui.RenderAccent(active.MeterName),
				ledger.FormatFactorName(active.Factor), elapsed)
		} else {
			fmt.Printf(" %s nothing running\n", ui.RenderFaint("■"))
		}
		fmt.Printf("   Balance: %s\n", ui.RenderAccent(formatBalance(env.ledger.CurrentBalance())))
		fmt.Println()
	},
}

// formatBalance renders a signed hour balance.
func formatBalance(hours float64) string {
	return fmt.Sprintf("%+.2f h", hours)
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}
