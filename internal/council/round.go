package council

import (
	"context"
	"fmt"
	"os"

	"council/internal/action"
	"council/internal/decision"
	"council/internal/enrich"
	"council/internal/fault"
	"council/internal/logging"
	"council/internal/patch"
	"council/internal/runfs"
	"council/internal/verify"
)

// RoundResult is one round's terminal record.
type RoundResult struct {
	Round      int                        `json:"round"`
	State      string                     `json:"state"`
	Seats      []*SeatOutcome             `json:"seats"`
	Report     *decision.RoundReport      `json:"report,omitempty"`
	Decisions  map[int]*decision.Decision `json:"-"`
	Winner     int                        `json:"winner,omitempty"`
	Patch      *patch.Report              `json:"patch,omitempty"`
	Verify     *verify.Report             `json:"verify,omitempty"`
	Enrich     []enrich.Report            `json:"enrich,omitempty"`
	StopSource string                     `json:"stop_source,omitempty"`
	Err        error                      `json:"-"`
	ErrKind    string                     `json:"error,omitempty"`
}

func (rr *RoundResult) fail(err error) {
	rr.State = StateFailed
	rr.Err = err
	rr.ErrKind = string(fault.KindOf(err))
}

// stopGate moves the round to STOPPED when any stop flag is present or
// the mission context was cancelled. Partial artifacts written so far
// stay as they are.
func (o *Orchestrator) stopGate(ctx context.Context, rr *RoundResult) bool {
	stopped, src := o.stop.Stopped()
	if !stopped {
		if ctx.Err() == nil {
			return false
		}
		src = "interrupt"
	}
	state := rr.State
	rr.State = StateStopped
	rr.StopSource = src
	logging.Round("round %d: stopped by %s in %s", rr.Round, src, state)
	return true
}

// runRound executes one full round of the state machine. Every returned
// RoundResult has a terminal State; the world state and digest are
// rebuilt before returning.
func (o *Orchestrator) runRound(ctx context.Context, round int) *RoundResult {
	rr := &RoundResult{Round: round, State: StateInit}
	timer := logging.StartTimer(logging.CategoryRound, fmt.Sprintf("round %d", round))
	defer timer.StopWithInfo()
	defer o.writeWorld(rr)
	logging.Round("round %d: start (parallel=%d local=%d)", round, o.levels.MaxParallel, o.levels.MaxLocal)

	if o.stopGate(ctx, rr) {
		return rr
	}

	// LAUNCHING / WAITING. launchSeats owns the fan-out and returns once
	// every seat has terminated or hit its deadline.
	rr.State = StateLaunching
	outcomes, stopSrc := o.launchSeats(ctx, round)
	rr.Seats = outcomes
	if stopSrc != "" {
		rr.State = StateStopped
		rr.StopSource = stopSrc
		logging.Round("round %d: stopped by %s while waiting", round, stopSrc)
		return rr
	}

	rr.State = StateExtracting
	if o.stopGate(ctx, rr) {
		return rr
	}
	report, decisions, err := decision.ExtractRound(o.run, round, len(o.m.Team), o.cfg.Decision.RepairAttempts, o.opts.Require)
	if err != nil {
		rr.fail(err)
		return rr
	}

	// Repair targets only seats that produced some output; a seat with no
	// output never participated and cannot be coached back into the fence.
	if targets := o.repairTargets(round, report.Missing); len(targets) > 0 {
		rr.State = StateRepairing
		if o.stopGate(ctx, rr) {
			return rr
		}
		if src := o.repairSeats(ctx, round, targets); src != "" {
			rr.State = StateStopped
			rr.StopSource = src
			return rr
		}
		report, decisions, err = decision.ExtractRound(o.run, round, len(o.m.Team), o.cfg.Decision.RepairAttempts, o.opts.Require)
		if err != nil {
			rr.fail(err)
			return rr
		}
	}
	rr.Report = report
	rr.Decisions = decisions

	if err := o.recordSeats(round, rr); err != nil {
		rr.fail(err)
		return rr
	}

	if len(report.Extracted) == 0 {
		rr.fail(fault.Errorf(fault.KindContractViolation, "council.round",
			"round %d: no seat produced a decision after repair", round))
		return rr
	}
	if !report.OK {
		rr.fail(fault.Errorf(fault.KindContractViolation, "council.round",
			"round %d: seats %v missing decisions with require set", round, report.Missing))
		return rr
	}

	rr.State = StateEnriching
	if o.stopGate(ctx, rr) {
		return rr
	}
	rr.Enrich = o.enr.RunRound(ctx, &enrich.Input{
		Round:     round,
		RunRoot:   o.run.Root,
		Anchor:    o.anchorText(),
		Decisions: decisions,
		Report:    report,
	})

	rr.State = StateRanking
	if o.stopGate(ctx, rr) {
		return rr
	}
	rr.Winner = PickWinner(o.run, round, len(o.m.Team))
	logging.Round("round %d: winner seat %d", round, rr.Winner)

	// Round one is deliberation only. From round two on, the winner's
	// diff (when it carries one) is applied and the tree verified.
	raw := o.seatText(round, rr.Winner)
	if round >= 2 && rr.Winner > 0 && patch.HasDiffBlock(raw) {
		rr.State = StateApplying
		if o.stopGate(ctx, rr) {
			return rr
		}
		rep, err := o.applyWinner(ctx, round, rr.Winner, raw)
		if err != nil {
			rr.fail(err)
			return rr
		}
		rr.Patch = rep

		// Verify runs whenever a round entered APPLYING, whatever the
		// apply outcome, so a broken tree is observed in the same round.
		rr.State = StateVerifying
		vrep := o.ver.Run(ctx)
		vrep.Round = round
		if err := runfs.WriteJSON(o.run.VerifyReportPath(), vrep); err != nil {
			rr.fail(fault.New(fault.KindRuntimeIO, "council.verify", err))
			return rr
		}
		rr.Verify = vrep
	}

	if err := o.recordRound(rr); err != nil {
		rr.fail(err)
		return rr
	}
	rr.State = StateComplete
	return rr
}

// repairTargets filters the missing seats down to those with a non-empty
// primary output.
func (o *Orchestrator) repairTargets(round int, missing []int) []int {
	targets := make([]int, 0, len(missing))
	for _, seat := range missing {
		if info, err := os.Stat(o.run.SeatOutPath(round, seat)); err == nil && info.Size() > 0 {
			targets = append(targets, seat)
		}
	}
	return targets
}

// anchorText returns the mission anchor, falling back to the in-memory
// prompt when the file is unreadable.
func (o *Orchestrator) anchorText() string {
	data, err := os.ReadFile(o.run.AnchorPath())
	if err != nil {
		return o.m.Prompt
	}
	return string(data)
}

// seatText returns a seat's primary round output, empty when absent.
func (o *Orchestrator) seatText(round, seat int) string {
	if seat < 1 {
		return ""
	}
	data, err := os.ReadFile(o.run.SeatOutPath(round, seat))
	if err != nil {
		return ""
	}
	return string(data)
}

// PickWinner rebuilds the round's candidates from the run's artifacts and
// ranks them: persisted per-seat decisions, supervisor verdicts when the
// file exists, and diff presence in the seat transcripts. Usable both
// mid-mission and from the CLI against a finished round.
func PickWinner(run *runfs.RunDir, round, seats int) int {
	verdicts := decision.ReadVerdicts(run, round)
	cands := make([]decision.Candidate, 0, seats)
	for seat := 1; seat <= seats; seat++ {
		var d decision.Decision
		c := decision.Candidate{Seat: seat}
		if err := runfs.ReadJSON(run.DecisionPath(round, seat), &d); err == nil {
			c.Decision = &d
		}
		if raw, err := os.ReadFile(run.SeatOutPath(round, seat)); err == nil {
			c.HasDiff = patch.HasDiffBlock(string(raw))
		}
		if v, ok := verdicts[seat]; ok {
			c.Verdict = &v
		}
		cands = append(cands, c)
	}
	return decision.Rank(cands)
}

// PatchActionID is the idempotency and approval key for one round's apply.
func PatchActionID(round, winner int) string {
	return seatLabel(round, winner) + "_patch"
}

// applyWinner gates the apply on approval and idempotency, then applies
// the winner's diff blocks and persists the patch report.
func (o *Orchestrator) applyWinner(ctx context.Context, round, winner int, raw string) (*patch.Report, error) {
	actionID := PatchActionID(round, winner)
	rep := &patch.Report{Round: round, Agent: winner}

	switch {
	case o.cfg.Patch.RequireApproval && !o.approved(actionID):
		rep.DiffBlocks = len(patch.ExtractBlocks(raw))
		rep.Reason = patch.ReasonAwaitingApproval
		logging.Patch("round %d seat %d: apply held, %s (action %s)", round, winner, rep.Reason, actionID)
	case o.markDuplicate(actionID):
		rep.OK = true
		rep.Reason = string(action.DuplicateIgnored)
		logging.Patch("round %d seat %d: apply skipped, action %s already recorded", round, winner, actionID)
	default:
		rep = patch.NewApplier(patch.Config{
			RepoRoot:    o.cfg.RepoRoot,
			EditSurface: o.cfg.Patch.EditSurface,
		}).Apply(ctx, round, winner, raw)
	}

	if err := runfs.WriteJSON(o.run.PatchReportPath(round), rep); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "council.patch", err)
	}
	return rep, nil
}

// approved consults the approvals file. Read errors hold the apply rather
// than letting it through.
func (o *Orchestrator) approved(actionID string) bool {
	ok, err := action.HasApproval(o.run.ApprovalsPath(), actionID, "patch")
	if err != nil {
		logging.PatchWarn("approvals read: %v", err)
		return false
	}
	return ok
}

// markDuplicate consumes the idempotency key for an apply that is about
// to run. True means an earlier apply already holds the key.
func (o *Orchestrator) markDuplicate(actionID string) bool {
	outcome, err := o.actions.Mark(actionID, "patch")
	if err != nil {
		logging.PatchWarn("action mark %s: %v", actionID, err)
		return false
	}
	return outcome == action.DuplicateIgnored
}

// recordSeats appends one evidence entry per seat once the round's
// decision set is final.
func (o *Orchestrator) recordSeats(round int, rr *RoundResult) error {
	for _, out := range rr.Seats {
		if out == nil {
			continue
		}
		_, hasDecision := rr.Decisions[out.Seat]
		payload := map[string]interface{}{
			"type":       "seat_outcome",
			"mission_id": o.m.ID,
			"round":      round,
			"seat":       out.Seat,
			"role":       out.Role,
			"ok":         out.OK,
			"decision":   hasDecision,
			"duration_s": out.DurationS,
		}
		if out.Provider != "" {
			payload["provider"] = out.Provider
			payload["model"] = out.Model
		}
		if out.ErrorKind != "" {
			payload["error"] = out.ErrorKind
		}
		if err := o.appendLedger(payload); err != nil {
			return err
		}
	}
	return nil
}

// recordRound appends the round's aggregate evidence entry.
func (o *Orchestrator) recordRound(rr *RoundResult) error {
	payload := map[string]interface{}{
		"type":       "round_outcome",
		"mission_id": o.m.ID,
		"round":      rr.Round,
		"winner":     rr.Winner,
	}
	if rr.Report != nil {
		payload["extracted"] = len(rr.Report.Extracted)
		payload["missing"] = len(rr.Report.Missing)
	}
	if rr.Patch != nil {
		payload["patch_ok"] = rr.Patch.OK
		payload["patch_applied"] = rr.Patch.Applied
	}
	if rr.Verify != nil {
		payload["verify_ok"] = rr.Verify.OK
	}
	return o.appendLedger(payload)
}
