package main

import (
	"os"

	"github.com/spf13/cobra"

	"council/internal/action"
	"council/internal/council"
	"council/internal/mission"
	"council/internal/patch"
	"council/internal/runfs"
)

var (
	patchRunDir string
	patchRound  int
	patchAgent  int
)

var patchCmd = &cobra.Command{
	Use:   "patch-apply",
	Short: "Apply the winning diff of a round",
	Long: `Ranks the round's seats from its artifacts, extracts the winner's
diff blocks, and applies each one against the repo root under the
configured edit surface. When approvals are required the apply is held
until 'council approve' has recorded one for the round's action id.

Exit codes: 0 applied or nothing to do, 4 block errors, 5 disallowed path.`,
	RunE: patchApply,
}

func init() {
	patchCmd.Flags().StringVar(&patchRunDir, "run-dir", "", "run directory (required)")
	_ = patchCmd.MarkFlagRequired("run-dir")
	patchCmd.Flags().IntVar(&patchRound, "round", 2, "round number")
	patchCmd.Flags().IntVar(&patchAgent, "agent", 0, "seat to apply (default: ranked winner)")
	rootCmd.AddCommand(patchCmd)
}

func patchApply(cmd *cobra.Command, args []string) error {
	run, err := runfs.Open(patchRunDir)
	if err != nil {
		return err
	}
	manifest, err := mission.ReadManifest(run)
	if err != nil {
		return err
	}

	winner := patchAgent
	if winner == 0 {
		winner = council.PickWinner(run, patchRound, len(manifest.Team))
	}
	if winner == 0 {
		emit(summary{OK: true, Error: "no_valid_decision"})
		return nil
	}

	raw, err := os.ReadFile(run.SeatOutPath(patchRound, winner))
	if err != nil {
		return err
	}

	actionID := council.PatchActionID(patchRound, winner)
	applier := patch.NewApplier(patch.Config{
		RepoRoot:    cfg.RepoRoot,
		EditSurface: cfg.Patch.EditSurface,
		Approved: func() bool {
			if !cfg.Patch.RequireApproval {
				return true
			}
			ok, err := action.HasApproval(run.ApprovalsPath(), actionID, "patch")
			return err == nil && ok
		},
	})
	report := applier.Apply(cmd.Context(), patchRound, winner, string(raw))
	if err := runfs.WriteJSON(run.PatchReportPath(patchRound), report); err != nil {
		return err
	}

	exitCode = report.ExitCode()
	out := map[string]interface{}{
		"ok":          report.OK,
		"round":       patchRound,
		"agent":       winner,
		"diff_blocks": report.DiffBlocks,
		"applied":     report.Applied,
		"action_id":   actionID,
		"artifacts": map[string]string{
			"report": run.PatchReportPath(patchRound),
		},
	}
	if report.Reason != "" {
		out["reason"] = report.Reason
	}
	emit(out)
	return nil
}
