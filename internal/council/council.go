// Package council runs a mission: it drives the per-round state machine,
// fans seats out under the governor, extracts and repairs decisions, ranks
// a winner, applies and verifies patches from round two on, and records
// every seat outcome in the evidence ledger. One Orchestrator owns one
// mission from intake to terminal marker.
package council

import (
	"context"
	"fmt"
	"time"

	"council/internal/action"
	"council/internal/config"
	"council/internal/enrich"
	"council/internal/fault"
	"council/internal/governor"
	"council/internal/ledger"
	"council/internal/logging"
	"council/internal/mission"
	"council/internal/router"
	"council/internal/runfs"
	"council/internal/store"
	"council/internal/verify"
)

// Round states, also used as terminal mission markers.
const (
	StateInit       = "INIT"
	StateLaunching  = "LAUNCHING"
	StateWaiting    = "WAITING"
	StateExtracting = "EXTRACTING"
	StateRepairing  = "REPAIRING"
	StateEnriching  = "ENRICHING"
	StateRanking    = "RANKING"
	StateApplying   = "APPLYING"
	StateVerifying  = "VERIFYING"
	StateComplete   = "COMPLETE"
	StateFailed     = "FAILED"
	StateStopped    = "STOPPED"
)

// Options carries the injectable collaborators. Every field may be zero;
// New fills the rest from config.
type Options struct {
	// Archive receives mission and round rows. Nil disables archiving.
	Archive *store.Archive

	// Budget gates router attempts by provider name. Nil means unlimited.
	Budget router.BudgetGate

	// Require fails the mission when any seat is still missing a decision
	// after repair, not only when all are.
	Require bool
}

// Orchestrator drives one mission across rounds.
type Orchestrator struct {
	cfg  *config.Config
	m    *mission.Mission
	run  *runfs.RunDir
	opts Options

	stop    *runfs.StopCheck
	breaker *router.Breaker
	led     *ledger.Ledger
	enr     *enrich.Runner
	ver     *verify.Pipeline
	actions *action.Store

	// gov is rebuilt each round so the recommender's MaxLocal takes
	// effect; it stays valid through that round's repair sub-round.
	gov    *governor.Governor
	levels governor.Levels
}

// MissionResult is the terminal record Run returns.
type MissionResult struct {
	MissionID string         `json:"mission_id"`
	RunRoot   string         `json:"run_root"`
	Status    string         `json:"status"`
	Rounds    []*RoundResult `json:"rounds"`
	Err       error          `json:"-"`
	ErrKind   string         `json:"error,omitempty"`
}

// ExitCode maps the mission status to the CLI contract: 0 complete,
// 2 stopped, 1 anything else.
func (r *MissionResult) ExitCode() int {
	switch r.Status {
	case store.StatusComplete:
		return 0
	case store.StatusStopped:
		return 2
	default:
		return 1
	}
}

// New wires an Orchestrator for one mission. The run dir must already be
// initialized by mission.InitRun.
func New(cfg *config.Config, m *mission.Mission, run *runfs.RunDir, opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		m:       m,
		run:     run,
		opts:    opts,
		stop:    runfs.NewStopCheck(cfg.RepoRoot, cfg.RunsRoot, run, cfg.StopAll),
		breaker: router.NewBreaker(run.ProvidersPath(), cfg.BreakerWindow()),
		led: ledger.New(ledger.Config{
			Path:            cfg.Ledger.Path,
			Keys:            cfg.Ledger.Keys,
			ActiveKeyID:     cfg.Ledger.ActiveKeyID,
			SigningRequired: cfg.Ledger.SigningRequired,
			SinkPath:        cfg.Ledger.SinkPath,
			SinkURL:         cfg.Ledger.SinkURL,
		}),
		enr: enrich.New(run, enrich.Config{
			Enabled:   cfg.Enrich.Enabled,
			Timeout:   cfg.EnrichTimeout(),
			ScriptDir: cfg.Enrich.ScriptDir,
			Commands:  cfg.Enrich.Commands,
		}),
		ver: verify.New(verify.Config{
			RepoRoot:     cfg.RepoRoot,
			Checks:       cfg.Verify.Checks,
			TailBytes:    cfg.Verify.TailBytes,
			CheckTimeout: cfg.CheckTimeout(),
			AllowRisky:   cfg.Scan.AllowRisky,
		}),
		actions: action.NewStore(run.ActionsPath(), cfg.ActionTTL()),
		levels: governor.Levels{
			MaxParallel: m.MaxParallel,
			MaxLocal:    cfg.Governor.MaxLocal,
		},
	}
}

// Run executes rounds until MaxRounds, a fatal fault, or a stop flag. The
// returned result is always non-nil; res.Err carries the fatal fault when
// Status is failed.
func (o *Orchestrator) Run(ctx context.Context) *MissionResult {
	res := &MissionResult{
		MissionID: o.m.ID,
		RunRoot:   o.run.Root,
		Status:    store.StatusRunning,
	}
	logging.Mission("mission %s: %d seats, %d rounds max", o.m.ID[:8], len(o.m.Team), o.m.MaxRounds)
	o.archiveBegin()

	for round := 1; round <= o.m.MaxRounds; round++ {
		rr := o.runRound(ctx, round)
		res.Rounds = append(res.Rounds, rr)
		o.archiveRound(rr)

		switch rr.State {
		case StateStopped:
			res.Status = store.StatusStopped
			res.Err = fault.Errorf(fault.KindStopRequested, "council.run", "stopped by %s", rr.StopSource)
			return o.finish(res)
		case StateFailed:
			res.Status = store.StatusFailed
			res.Err = rr.Err
			return o.finish(res)
		}

		if rr.Verify != nil && !rr.Verify.OK && o.m.Strict {
			res.Status = store.StatusFailed
			res.Err = fault.Errorf(fault.KindVerifyFailed, "council.run", "round %d verify failed under strict", round)
			return o.finish(res)
		}

		o.recommend(round)
	}

	res.Status = store.StatusComplete
	return o.finish(res)
}

// finish writes the terminal marker, settles the archive row, and fills
// the JSON-facing error kind.
func (o *Orchestrator) finish(res *MissionResult) *MissionResult {
	if res.Err != nil {
		res.ErrKind = string(fault.KindOf(res.Err))
	}
	marker := StateComplete
	switch res.Status {
	case store.StatusFailed:
		marker = StateFailed
	case store.StatusStopped:
		marker = StateStopped
	}
	if err := runfs.WriteAtomic(o.run.MarkerPath(marker), []byte(time.Now().UTC().Format(time.RFC3339)+"\n")); err != nil {
		logging.MissionDebug("marker %s: %v", marker, err)
	}
	o.archiveFinish(res)
	logging.Mission("mission %s: %s after %d round(s)", o.m.ID[:8], res.Status, len(res.Rounds))
	return res
}

// recommend runs the adaptive-concurrency feedback and adopts the reduced
// levels for the next round. Recommendation failures never fail a mission.
func (o *Orchestrator) recommend(round int) {
	if o.gov == nil {
		return
	}
	state, err := o.gov.Recommend(o.run, o.levels)
	if err != nil {
		logging.GovernorDebug("recommend after round %d: %v", round, err)
		return
	}
	if state.Recommended != o.levels {
		logging.Governor("round %d: levels %+v -> %+v (%v)", round, o.levels, state.Recommended, state.Reasons)
	}
	o.levels = state.Recommended
}

// appendLedger writes one evidence entry. A ledger that cannot take an
// append fails the mission.
func (o *Orchestrator) appendLedger(payload map[string]interface{}) error {
	if _, err := o.led.Append(payload); err != nil {
		return fault.New(fault.KindRuntimeIO, "council.ledger", err)
	}
	return nil
}

func (o *Orchestrator) archiveBegin() {
	if o.opts.Archive == nil {
		return
	}
	err := o.opts.Archive.BeginMission(store.MissionRow{
		ID:        o.m.ID,
		Prompt:    o.m.Prompt,
		Team:      o.m.Team,
		RunDir:    o.run.Root,
		Status:    store.StatusRunning,
		StartedAt: float64(o.m.CreatedAt.UnixNano()) / 1e9,
	})
	if err != nil {
		logging.StoreError("begin mission: %v", err)
	}
}

func (o *Orchestrator) archiveRound(rr *RoundResult) {
	if o.opts.Archive == nil {
		return
	}
	row := store.RoundRow{
		MissionID: o.m.ID,
		Round:     rr.Round,
		Winner:    rr.Winner,
	}
	if rr.Report != nil {
		row.Extracted = len(rr.Report.Extracted)
		row.Missing = len(rr.Report.Missing)
	}
	if rr.Patch != nil {
		row.Applied = rr.Patch.Applied > 0
	}
	if rr.Verify != nil {
		row.VerifyRan = true
		row.VerifyOK = rr.Verify.OK
	}
	if err := o.opts.Archive.RecordRound(row); err != nil {
		logging.StoreError("record round %d: %v", rr.Round, err)
	}
}

func (o *Orchestrator) archiveFinish(res *MissionResult) {
	if o.opts.Archive == nil {
		return
	}
	now := float64(time.Now().UnixNano()) / 1e9
	if err := o.opts.Archive.FinishMission(o.m.ID, res.Status, len(res.Rounds), now); err != nil {
		logging.StoreError("finish mission: %v", err)
	}
}

// seatLabel names a seat for logs and slot locks.
func seatLabel(round, seat int) string {
	return fmt.Sprintf("r%d_s%d", round, seat)
}
