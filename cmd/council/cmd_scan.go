package main

import (
	"github.com/spf13/cobra"

	"council/internal/scan"
)

var scanStaged bool

var scanCmd = &cobra.Command{
	Use:   "scan-risk [path ...]",
	Short: "Scan for secrets and risky patterns",
	Long: `Scans the given paths, or with --staged the content of the git
index, for secret material and risk patterns. Secret hits always block;
risk hits block unless allow_risky is configured.

Exit codes: 0 clean, 2 secrets found, 3 risky patterns found.`,
	RunE: scanRisk,
}

func init() {
	scanCmd.Flags().BoolVar(&scanStaged, "staged", false, "scan the staged diff instead of paths")
	rootCmd.AddCommand(scanCmd)
}

func scanRisk(cmd *cobra.Command, args []string) error {
	scanner := scan.New(scan.Config{AllowRisky: cfg.Scan.AllowRisky})

	var report *scan.Report
	if scanStaged {
		var err error
		report, err = scanner.ScanStaged(cmd.Context(), cfg.RepoRoot)
		if err != nil {
			return err
		}
	} else {
		paths := args
		if len(paths) == 0 {
			paths = []string{"."}
		}
		report = scanner.ScanPaths(cfg.RepoRoot, paths)
	}

	exitCode = report.ExitCode
	emit(map[string]interface{}{
		"ok":      report.ExitCode == scan.ExitOK,
		"scanned": report.ScannedFiles,
		"secrets": len(report.Secrets),
		"risks":   len(report.Risks),
	})
	return nil
}
