package main

import (
	"github.com/spf13/cobra"

	"council/internal/decision"
	"council/internal/mission"
	"council/internal/runfs"
)

var (
	decRunDir  string
	decRound   int
	decRequire bool
)

var extractCmd = &cobra.Command{
	Use:   "extract-decisions",
	Short: "Re-extract decisions for a finished round",
	Long: `Re-parses every seat transcript of a round, preferring the newest
repair output, and rewrites the per-seat decision files and the round
report.

Exit codes: 0 ok, 2 seats missing while --require is set.`,
	RunE: extractDecisions,
}

func init() {
	extractCmd.Flags().StringVar(&decRunDir, "run-dir", "", "run directory (required)")
	_ = extractCmd.MarkFlagRequired("run-dir")
	extractCmd.Flags().IntVar(&decRound, "round", 1, "round number")
	extractCmd.Flags().BoolVar(&decRequire, "require", false, "exit 2 when any seat is missing")
	rootCmd.AddCommand(extractCmd)
}

func extractDecisions(cmd *cobra.Command, args []string) error {
	run, err := runfs.Open(decRunDir)
	if err != nil {
		return err
	}
	manifest, err := mission.ReadManifest(run)
	if err != nil {
		return err
	}

	report, _, err := decision.ExtractRound(run, decRound, len(manifest.Team),
		cfg.Decision.RepairAttempts, decRequire)
	if err != nil {
		return err
	}

	if !report.OK {
		exitCode = 2
	}
	emit(map[string]interface{}{
		"ok":        report.OK,
		"round":     report.Round,
		"extracted": report.Extracted,
		"missing":   report.Missing,
		"artifacts": map[string]string{
			"report": run.DecisionsReportPath(decRound),
		},
	})
	return nil
}
