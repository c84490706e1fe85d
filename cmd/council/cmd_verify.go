package main

import (
	"github.com/spf13/cobra"

	"council/internal/runfs"
	"council/internal/verify"
)

var (
	verifyRunDir string
	verifyRound  int
	verifyStrict bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the verify pipeline against the repo",
	Long: `Runs every configured check (or the repo-type defaults plus the
staged-secret scan) without short-circuiting and reports bounded output
tails. With --run-dir the report is also written into the run's state.

Exit codes: 0 ok, 1 check failure with --strict.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyRunDir, "run-dir", "", "run directory to write the report into")
	verifyCmd.Flags().IntVar(&verifyRound, "round", 0, "round to stamp on the report")
	verifyCmd.Flags().BoolVar(&verifyStrict, "strict", false, "exit 1 when any check fails")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	pipeline := verify.New(verify.Config{
		RepoRoot:     cfg.RepoRoot,
		Checks:       cfg.Verify.Checks,
		TailBytes:    cfg.Verify.TailBytes,
		CheckTimeout: cfg.CheckTimeout(),
		AllowRisky:   cfg.Scan.AllowRisky,
	})
	report := pipeline.Run(cmd.Context())
	report.Round = verifyRound

	artifacts := map[string]string{}
	if verifyRunDir != "" {
		run, err := runfs.Open(verifyRunDir)
		if err != nil {
			return err
		}
		if err := runfs.WriteJSON(run.VerifyReportPath(), report); err != nil {
			return err
		}
		artifacts["report"] = run.VerifyReportPath()
	}

	if !report.OK && verifyStrict {
		exitCode = 1
	}
	names := make([]string, 0, len(report.Checks))
	failed := make([]string, 0)
	for _, c := range report.Checks {
		names = append(names, c.Name)
		if c.RC != 0 {
			failed = append(failed, c.Name)
		}
	}
	emit(map[string]interface{}{
		"ok":        report.OK,
		"checks":    names,
		"failed":    failed,
		"artifacts": artifacts,
	})
	return nil
}
