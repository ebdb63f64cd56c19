package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var jsonOutput bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "portalctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portalctl",
		Short: "Procurement portal maintenance CLI",
		Long: `portalctl runs maintenance jobs against the portal database: the bid window sweeper,
registry sync retries and annual plan spreadsheet import/export.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	cmd.AddCommand(
		newSweepCmd(),
		newReconcileCmd(),
		newSyncCmd(),
		newPlanCmd(),
	)
	return cmd
}
