package main

import (
	"os"

	"github.com/spf13/cobra"

	"council/internal/action"
	"council/internal/runfs"
)

var (
	approveRunDir   string
	approveActionID string
	approveKind     string
	approveNote     string
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Record a human approval for a held action",
	Long: `Appends an approval to the run's approvals file. A held patch apply
picks it up on the next attempt; approvals are append-only and never
expire within a run.`,
	RunE: approveAction,
}

func init() {
	approveCmd.Flags().StringVar(&approveRunDir, "run-dir", "", "run directory (required)")
	_ = approveCmd.MarkFlagRequired("run-dir")
	approveCmd.Flags().StringVar(&approveActionID, "action-id", "", "action id to approve (required)")
	_ = approveCmd.MarkFlagRequired("action-id")
	approveCmd.Flags().StringVar(&approveKind, "kind", "patch", "action kind")
	approveCmd.Flags().StringVar(&approveNote, "note", "", "reviewer note")
	rootCmd.AddCommand(approveCmd)
}

func approveAction(cmd *cobra.Command, args []string) error {
	run, err := runfs.Open(approveRunDir)
	if err != nil {
		return err
	}

	actor := os.Getenv("USER")
	if actor == "" {
		actor = "operator"
	}
	err = action.AppendApproval(run.ApprovalsPath(), action.Approval{
		ActionID: approveActionID,
		Kind:     approveKind,
		Actor:    actor,
		Note:     approveNote,
	})
	if err != nil {
		return err
	}

	emit(summary{
		OK:        true,
		Artifacts: map[string]string{"approvals": run.ApprovalsPath()},
	})
	return nil
}
