package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"council/internal/council"
	"council/internal/fault"
	"council/internal/mission"
	"council/internal/store"
)

var (
	runTask     string
	runRounds   int
	runParallel int
	runStrict   bool
	runOffline  bool
	runRequire  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full mission",
	Long: `Compiles a team from the task text, creates a run directory, and
drives rounds until MaxRounds, a fatal fault, or a stop flag.

Exit codes: 0 mission complete, 1 mission failed, 2 stop requested.`,
	RunE: runMission,
}

func init() {
	runCmd.Flags().StringVarP(&runTask, "task", "t", "", "mission task text (required)")
	_ = runCmd.MarkFlagRequired("task")
	runCmd.Flags().IntVar(&runRounds, "rounds", 0, "override max rounds")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "override max parallel seats")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "fail the mission when verify fails in an applying round")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "skip providers marked online")
	runCmd.Flags().BoolVar(&runRequire, "require", false, "fail when any seat is still missing a decision after repair")
	rootCmd.AddCommand(runCmd)
}

func runMission(cmd *cobra.Command, args []string) error {
	if runRounds > 0 {
		cfg.Mission.MaxRounds = runRounds
	}
	if runParallel > 0 {
		cfg.Mission.MaxParallel = runParallel
	}
	if runStrict {
		cfg.Mission.Strict = true
	}
	if runOffline {
		cfg.Mission.Online = false
	}

	m, err := mission.New(runTask, cfg)
	if err != nil {
		exitCode = 1
		emit(summary{Error: string(fault.KindOf(err))})
		return nil
	}

	runRoot := filepath.Join(cfg.RunsRoot, "runs",
		fmt.Sprintf("%s_%s", m.CreatedAt.Format("20060102_150405"), m.ID[:8]))
	run, err := mission.InitRun(m, runRoot, cfg)
	if err != nil {
		exitCode = 1
		emit(summary{Error: string(fault.KindOf(err))})
		return nil
	}

	// The archive is advisory: a mission never fails because sqlite is
	// unavailable.
	var archive *store.Archive
	if a, err := store.Open(store.ArchivePath(cfg.RunsRoot)); err != nil {
		logger.Warn("mission archive unavailable", zap.Error(err))
	} else {
		archive = a
		defer archive.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res := council.New(cfg, m, run, council.Options{
		Archive: archive,
		Require: runRequire,
	}).Run(ctx)

	exitCode = res.ExitCode()
	out := map[string]interface{}{
		"ok":         res.Status == store.StatusComplete,
		"status":     res.Status,
		"mission_id": m.ID,
		"team":       m.Team,
		"rounds":     len(res.Rounds),
		"artifacts": map[string]string{
			"run_dir":     run.Root,
			"world_state": run.WorldStatePath(),
			"ledger":      cfg.Ledger.Path,
		},
	}
	if res.ErrKind != "" {
		out["error"] = res.ErrKind
	}
	emit(out)
	return nil
}
