package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marsop/budgetr/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "data",
	Short:   "Export meters and history as JSON",
	Long: `Export the full ledger (meters and recorded entries) as JSON. With
no file argument the export goes to stdout. The same format is used for the
cloud backup, so an exported file can be imported on another device.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		blob, err := env.ledger.Export()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 0 {
			fmt.Println(blob)
			return
		}

		if err := os.WriteFile(args[0], []byte(blob), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to write %s: %v\n", args[0], err)
			os.Exit(1)
		}

		fmt.Printf("%s Exported to %s\n", ui.RenderPass("✓"), args[0])
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Import meters and history from a JSON export",
	Long: `Replace the ledger with the contents of a JSON export. The file
must contain at least one meter, with no two meters sharing a factor; a
rejected file leaves the current ledger untouched. An entry left running in
the export is closed at its start time.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read %s: %v\n", args[0], err)
			os.Exit(1)
		}

		env, err := openEnv(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		if err := env.ledger.Import(string(raw)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := env.persist(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Imported %d meters and %d entries from %s\n", ui.RenderPass("✓"),
			len(env.ledger.Meters()), len(env.ledger.Events()), args[0])
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
