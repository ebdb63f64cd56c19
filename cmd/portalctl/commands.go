package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valleteclab/portaldcp/internal/shared/queue"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the bid window sweeper once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.proc.Sweeper.Tick(cmd.Context())
			if err != nil {
				return err
			}
			return emit(report, fmt.Sprintf("intake=%d analysis=%d skipped=%d failed=%d",
				report.ToIntake, report.ToAnalysis, report.Skipped, report.Failed))
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <process-id>",
		Short: "Bring one process phase in line with its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			p, changed, err := a.proc.Sweeper.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return emit(p, fmt.Sprintf("%s phase=%s changed=%t", p.ProcessNumber, p.Phase, changed))
		},
	}
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and retry registry sync records",
	}
	cmd.AddCommand(newSyncRetryCmd(), newSyncListCmd(), newSyncStatsCmd())
	return cmd
}

func newSyncRetryCmd() *cobra.Command {
	var useQueue bool
	var operator string
	cmd := &cobra.Command{
		Use:   "retry <record-id>",
		Short: "Retry a failed sync record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if useQueue {
				client := a.queueClient()
				defer client.Close()
				taskID, err := queue.EnqueueRetry(cmd.Context(), client, queue.RetryPayload{RecordID: args[0], OperatorID: operator})
				if err != nil {
					return err
				}
				return emit(map[string]string{"task_id": taskID}, "queued "+taskID)
			}

			out, err := a.sync.Retry(cmd.Context(), args[0], operator)
			if err != nil {
				return err
			}
			text := "ok"
			if out.Record != nil {
				text = fmt.Sprintf("%s status=%s control=%s", out.Record.ID, out.Record.Status, out.Record.ControlNumber)
			}
			return emit(out, text)
		},
	}
	cmd.Flags().BoolVar(&useQueue, "queue", false, "Enqueue the retry instead of running it")
	cmd.Flags().StringVar(&operator, "operator", "system", "Operator id recorded on the attempt")
	return cmd
}

func newSyncListCmd() *cobra.Command {
	var errorsOnly bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending (or failed) sync records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			list := a.sync.ListPending
			if errorsOnly {
				list = a.sync.ListErrors
			}
			records, err := list(cmd.Context(), limit)
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, r := range records {
				fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.Kind, r.TargetID, r.Status, r.AttemptCount, r.LastError)
			}
			return emit(records, strings.TrimRight(b.String(), "\n"))
		},
	}
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "List failed records instead of pending ones")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records")
	return cmd
}

func newSyncStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count sync records by status and kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.sync.Stats(cmd.Context())
			if err != nil {
				return err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "total=%d", stats.Total)
			for status, n := range stats.ByStatus {
				fmt.Fprintf(&b, " %s=%d", status, n)
			}
			return emit(stats, b.String())
		},
	}
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Annual plan spreadsheet import and export",
	}
	cmd.AddCommand(newPlanImportCmd(), newPlanExportCmd())
	return cmd
}

func newPlanImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <plan-id> <file.xlsx>",
		Short: "Import plan lines from a spreadsheet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			report, err := a.plans.ImportSpreadsheet(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			return emit(report, fmt.Sprintf("imported=%d duplicates=%d errors=%d",
				report.Imported, report.Duplicates, report.Errors))
		},
	}
}

func newPlanExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <plan-id>",
		Short: "Export plan lines to a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			f, name, err := a.plans.ExportPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if output == "" {
				output = name
			}
			var buf bytes.Buffer
			if err := f.Write(&buf); err != nil {
				return err
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return err
			}
			return emit(map[string]string{"file": output}, "written "+output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to the generated name)")
	return cmd
}
