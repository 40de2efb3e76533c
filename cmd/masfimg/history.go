package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/masfimg/masfimg/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyRunID  string
	historyFailed bool
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or inspect recorded snapshot runs",
		Long: `List recorded snapshot runs from the run catalog, or inspect a single
run by ID. With --run, per-entry records are shown; add --failed to
restrict the listing to entries that could not be staged.`,
		Example: `  masfimg history
  masfimg history --limit 5
  masfimg history --run 2f1c9a6e-...
  masfimg history --run 2f1c9a6e-... --failed`,
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().StringVar(&historyRunID, "run", "", "show details for a single run ID")
	cmd.Flags().BoolVar(&historyFailed, "failed", false, "with --run, show only failed entries")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if !globalCfg.History.Enabled {
		return fmt.Errorf("history is disabled in configuration")
	}

	st, err := openStore()
	if err != nil {
		return err
	}

	if historyRunID != "" {
		return showRunDetail(st, historyRunID)
	}

	runs, err := st.ListSnapshotRuns(historyLimit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No snapshot runs recorded")
		return nil
	}

	fmt.Printf("%-36s %-19s %8s %8s %7s %10s %-8s\n",
		"Run ID", "Started", "Entries", "Full", "Failed", "Image", "Status")
	fmt.Println(strings.Repeat("-", 102))

	for _, run := range runs {
		fmt.Printf("%-36s %-19s %8d %8d %7d %10s %-8s\n",
			run.RunID,
			run.StartTime.Format("2006-01-02 15:04:05"),
			run.EntriesTotal,
			run.FullContent,
			run.Failed,
			humanize.IBytes(uint64(run.ImageSize)),
			run.Status,
		)
	}

	return nil
}

func showRunDetail(st *store.Store, runID string) error {
	run, err := st.GetSnapshotRun(runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s\n", run.RunID)
	fmt.Printf("  Source:        %s\n", run.Source)
	fmt.Printf("  Image:         %s (%s)\n", run.ImagePath, humanize.IBytes(uint64(run.ImageSize)))
	fmt.Printf("  SHA256:        %s\n", run.ImageSHA256)
	fmt.Printf("  Started:       %s\n", run.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Status:        %s\n", run.Status)
	if run.ErrorMessage != "" {
		fmt.Printf("  Error:         %s\n", run.ErrorMessage)
	}
	fmt.Printf("  Entries:       %d (full %d, metadata-only %d, excluded %d, failed %d)\n",
		run.EntriesTotal, run.FullContent, run.MetadataOnly, run.Excluded, run.Failed)
	fmt.Printf("  Bytes copied:  %s\n", humanize.IBytes(uint64(run.BytesCopied)))

	records, err := st.ListEntryRecords(run.ID, historyFailed)
	if err != nil {
		return fmt.Errorf("listing entry records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Printf("%-14s %-12s %10s  %s\n", "Outcome", "Type", "Size", "Path")
	fmt.Println(strings.Repeat("-", 72))
	for _, rec := range records {
		fmt.Printf("%-14s %-12s %10s  %s\n",
			rec.Outcome, rec.Type, humanize.IBytes(uint64(rec.Size)), rec.Path)
		if rec.Error != "" {
			fmt.Printf("    %s\n", rec.Error)
		}
	}

	return nil
}
