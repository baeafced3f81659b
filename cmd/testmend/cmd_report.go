package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"testmend/internal/report"
	"testmend/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Print a run's summary and export its CSVs",
	Long: "Re-exports results.csv and usage.csv for a stored run and prints its\n" +
		"outcome summary. Without a run id the most recent run is used.",
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	runID := ""
	if len(args) == 1 {
		runID = args[0]
	} else {
		runID, err = st.LatestRunID()
		if err != nil {
			return fmt.Errorf("no stored runs in %s", cfg.DBPath)
		}
	}
	summary, err := st.Summary(runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if err := exportRun(st, report.NewWriter(cfg.OutputDir), runID); err != nil {
		return err
	}
	printSummary(cmd, summary)
	fmt.Fprintf(cmd.OutOrStdout(), "Exports written to %s\n", cfg.OutputDir)
	return nil
}

// exportRun writes results.csv and usage.csv for a run, plus mutation.csv
// when the run compared mutation coverage.
func exportRun(st *store.Store, rep *report.Writer, runID string) error {
	records, err := st.CaseRecords(runID)
	if err != nil {
		return err
	}
	if err := rep.ExportResults("results.csv", records); err != nil {
		return err
	}
	var usage []store.AttemptRecord
	for _, rec := range records {
		attempts, err := st.AttemptRecords(runID, rec.CaseID)
		if err != nil {
			return err
		}
		usage = append(usage, attempts...)
	}
	if err := rep.ExportUsage("usage.csv", usage); err != nil {
		return err
	}
	mutations, err := st.MutationRecords(runID)
	if err != nil {
		return err
	}
	if len(mutations) == 0 {
		return nil
	}
	return rep.ExportMutation("mutation.csv", mutations)
}
