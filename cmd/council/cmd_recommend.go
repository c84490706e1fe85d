package main

import (
	"github.com/spf13/cobra"

	"council/internal/governor"
	"council/internal/runfs"
)

var recommendRunDir string

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recompute the concurrency recommendation for a run",
	Long: `Reads the run's seat metrics, applies the reduction rules to the
current levels, and rewrites state/concurrency.json. Recommendations
only ever reduce parallelism; raising it is a config change.`,
	RunE: recommendLevels,
}

func init() {
	recommendCmd.Flags().StringVar(&recommendRunDir, "run-dir", "", "run directory (required)")
	_ = recommendCmd.MarkFlagRequired("run-dir")
	rootCmd.AddCommand(recommendCmd)
}

func recommendLevels(cmd *cobra.Command, args []string) error {
	run, err := runfs.Open(recommendRunDir)
	if err != nil {
		return err
	}

	current := governor.Levels{
		MaxParallel: cfg.Mission.MaxParallel,
		MaxLocal:    cfg.Governor.MaxLocal,
	}
	if prev, ok := governor.ReadConcurrency(run); ok {
		current = prev.Recommended
	}

	gov := governor.New(run.SlotDir(), governor.Config{
		MaxLocal:       current.MaxLocal,
		SlotWait:       cfg.SlotWait(),
		MinFreeMemMB:   cfg.Governor.MinFreeMemMB,
		StaleLockGrace: cfg.StaleLockGrace(),
	})
	state, err := gov.Recommend(run, current)
	if err != nil {
		return err
	}

	emit(map[string]interface{}{
		"ok":          true,
		"current":     state.Current,
		"recommended": state.Recommended,
		"reasons":     state.Reasons,
		"artifacts": map[string]string{
			"concurrency": run.ConcurrencyPath(),
		},
	})
	return nil
}
