package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marsop/budgetr/internal/ledger"
	"github.com/marsop/budgetr/internal/ui"
)

var meterCmd = &cobra.Command{
	Use:     "meter",
	GroupID: "meters",
	Short:   "Manage meters and their rate multipliers",
	Long: `Manage the meters that earn or spend time.

Each meter carries a factor between -10 and 10: positive factors add to the
balance while the meter runs, negative factors subtract. Factors must be
unique across meters.`,
}

var meterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured meters",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		meters := env.ledger.Meters()
		sort.Slice(meters, func(i, j int) bool {
			return meters[i].DisplayOrder < meters[j].DisplayOrder
		})

		active := env.ledger.ActiveEvent()

		fmt.Println()
		for _, m := range meters {
			marker := " "
			if active != nil && m.SameFactor(active.Factor) {
				marker = ui.RenderPass("▶")
			}
			fmt.Printf(" %s %-40s %s\n", marker, m.Name, ui.RenderAccent(ledger.FormatFactorName(m.Factor)))
		}
		fmt.Println()
	},
}

var meterAddCmd = &cobra.Command{
	Use:   "add <name> <factor>",
	Short: "Add a meter",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		factor, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: factor must be a number, got %q\n", args[1])
			os.Exit(1)
		}

		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		meter, err := env.ledger.AddMeter(args[0], factor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := env.persist(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Added meter %s (%s)\n", ui.RenderPass("✓"),
			ui.RenderAccent(meter.Name), ledger.FormatFactorName(meter.Factor))
	},
}

var meterRenameCmd = &cobra.Command{
	Use:   "rename <name> <new-name>",
	Short: "Rename a meter",
	Long: `Rename a meter. If the meter is currently running, the active entry
picks up the new name; already recorded entries keep the name they were
tracked under.`,
	Args: cobra.ExactArgs(2),
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
			fmt.Fprintf(os.Stderr, "Error: no meter named %q\n", args[0])
			os.Exit(1)
		}

		if err := env.ledger.RenameMeter(meter.ID, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := env.persist(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Renamed %s to %s\n", ui.RenderPass("✓"),
			args[0], ui.RenderAccent(args[1]))
	},
}

var meterDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a meter",
	Long: `Delete a meter. A running meter must be stopped first; recorded
entries are kept because they carry their own copy of the name and factor.`,
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
			fmt.Fprintf(os.Stderr, "Error: no meter named %q\n", args[0])
			os.Exit(1)
		}

		if err := env.ledger.DeleteMeter(meter.ID); err != nil {
			if errors.Is(err, ledger.ErrMeterActive) {
				fmt.Fprintf(os.Stderr, "Error: %s is running; stop it before deleting\n", meter.Name)
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}

		if err := env.persist(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Deleted meter %s\n", ui.RenderPass("✓"), args[0])
	},
}

// findMeterByName matches a meter by display name, case-insensitively.
func findMeterByName(l *ledger.Ledger, name string) *ledger.Meter {
	for _, m := range l.Meters() {
		if strings.EqualFold(m.Name, name) {
			return m
		}
	}
	return nil
}

func init() {
	meterCmd.AddCommand(meterListCmd)
	meterCmd.AddCommand(meterAddCmd)
	meterCmd.AddCommand(meterRenameCmd)
	meterCmd.AddCommand(meterDeleteCmd)
	rootCmd.AddCommand(meterCmd)
}
