package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marsop/budgetr/internal/ui"
)

var balanceCmd = &cobra.Command{
	Use:     "balance",
	GroupID: "tracking",
	Short:   "Show the current time balance",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		fmt.Printf("%s\n", ui.RenderAccent(formatBalance(env.ledger.CurrentBalance())))
	},
}

var timelineCmd = &cobra.Command{
	Use:     "timeline",
	GroupID: "tracking",
	Short:   "Show how the balance evolved",
	Long: `Reconstruct the balance over a trailing window and print one sample
per change. The opening sample carries the balance accumulated before the
window; the closing sample is the balance right now.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		period := env.ledger.TimelinePeriod()
		if flag, _ := cmd.Flags().GetDuration("period"); flag > 0 {
			period = flag
		}

		if save, _ := cmd.Flags().GetBool("save"); save {
			env.ledger.SetTimelinePeriod(period)
			if err := env.persist(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		points := env.ledger.TimelineData(period)

		fmt.Printf("\nBalance over the last %v:\n\n", period)
		for _, p := range points {
			fmt.Printf("  %s  %s\n",
				ui.RenderFaint(p.Timestamp.Local().Format(time.DateTime)),
				formatBalance(p.BalanceHours))
		}
		fmt.Println()
	},
}

func init() {
	timelineCmd.Flags().DurationP("period", "p", 0, "trailing window to reconstruct (e.g. 24h, 168h)")
	timelineCmd.Flags().Bool("save", false, "save the window as the new default")

	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(timelineCmd)
}
