package council

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"council/internal/decision"
	"council/internal/fault"
	"council/internal/governor"
	"council/internal/logging"
	"council/internal/router"
	"council/internal/runfs"
)

// SeatOutcome is one seat's observable result for the round, mirrored
// into the metrics stream and the ledger.
type SeatOutcome struct {
	Seat          int     `json:"seat"`
	Role          string  `json:"role"`
	OK            bool    `json:"ok"`
	Provider      string  `json:"provider,omitempty"`
	Model         string  `json:"model,omitempty"`
	Attempts      int     `json:"attempts,omitempty"`
	DurationS     float64 `json:"duration_s"`
	SlotWaitS     float64 `json:"slot_wait_s"`
	ErrorKind     string  `json:"error,omitempty"`
	LocalOverload bool    `json:"local_overload,omitempty"`
}

// launchSeats fans the team out up to MaxParallel wide and waits for
// every seat to terminate or hit its deadline. A stop flag cancels the
// in-flight seats; the tripping source is returned, empty otherwise.
func (o *Orchestrator) launchSeats(ctx context.Context, round int) ([]*SeatOutcome, string) {
	seatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The watcher narrows stop latency inside the wait; the poll at the
	// next state boundary would catch the flag regardless.
	var stopSrc string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if src, ok := <-o.stop.Watch(seatCtx, 2*time.Second); ok {
			stopSrc = src
			logging.Round("round %d: stop flag %s, cancelling seats", round, src)
			cancel()
		}
	}()

	o.gov = governor.New(o.run.SlotDir(), governor.Config{
		MaxLocal:       o.levels.MaxLocal,
		SlotWait:       o.cfg.SlotWait(),
		MinFreeMemMB:   o.cfg.Governor.MinFreeMemMB,
		StaleLockGrace: o.cfg.StaleLockGrace(),
	})

	outcomes := make([]*SeatOutcome, len(o.m.Team))
	g := new(errgroup.Group)
	g.SetLimit(o.levels.MaxParallel)
	for i, role := range o.m.Team {
		seat, role := i+1, role
		g.Go(func() error {
			outcomes[seat-1] = o.runSeat(seatCtx, round, seat, role)
			return nil
		})
	}
	g.Wait()
	cancel()
	wg.Wait()

	if stopSrc == "" {
		if stopped, src := o.stop.Stopped(); stopped {
			stopSrc = src
		} else if ctx.Err() != nil {
			stopSrc = "interrupt"
		}
	}
	return outcomes, stopSrc
}

// runSeat executes one seat: slot, prompt, routed completion, output
// write. Failures are recorded on the outcome, never returned; the round
// decides what missing seats mean.
func (o *Orchestrator) runSeat(ctx context.Context, round, seat int, role string) *SeatOutcome {
	out := &SeatOutcome{Seat: seat, Role: role}
	defer o.appendSeatMetric(round, out)

	slot, waited, err := o.gov.Acquire(ctx, seatLabel(round, seat))
	out.SlotWaitS = waited.Seconds()
	if err != nil {
		out.ErrorKind = string(fault.KindOf(err))
		out.LocalOverload = fault.IsKind(err, fault.KindLocalOverload)
		logging.SeatWarn("round %d seat %d (%s): no slot after %.1fs: %v", round, seat, role, out.SlotWaitS, err)
		return out
	}
	defer slot.Release()

	prompt, err := os.ReadFile(o.run.PromptPath(seat))
	if err != nil {
		out.ErrorKind = string(fault.KindRuntimeIO)
		logging.SeatWarn("round %d seat %d: prompt unreadable: %v", round, seat, err)
		return out
	}

	outPath := o.run.SeatOutPath(round, seat)
	logging.Seat("round %d seat %d (%s): launching", round, seat, role)
	text, res, err := o.complete(ctx, outPath, string(prompt), o.cfg.SeatTimeout())
	out.DurationS = res.duration.Seconds()
	out.Provider, out.Model, out.Attempts = res.provider, res.model, res.attempts
	if err != nil {
		out.ErrorKind = string(fault.KindOf(err))
		logging.SeatWarn("round %d seat %d (%s): %s after %.1fs", round, seat, role, out.ErrorKind, out.DurationS)
		return out
	}

	// The CLI engine already streamed to outPath; API engines return the
	// text only, so the seat writes its own file. A failed call must not
	// write: a partial streamed output is still repair material.
	if err := runfs.WriteAtomic(outPath, []byte(text)); err != nil {
		out.ErrorKind = string(fault.KindRuntimeIO)
		logging.SeatWarn("round %d seat %d: output write: %v", round, seat, err)
		return out
	}
	out.OK = true
	logging.Seat("round %d seat %d (%s): done in %.1fs via %s", round, seat, role, out.DurationS, out.Provider)
	return out
}

// completion is the routed-call summary shared by seats and repairs.
type completion struct {
	provider string
	model    string
	attempts int
	duration time.Duration
}

// complete routes one prompt through the provider chain with a hard
// deadline. outPath is handed to the CLI engine for streaming.
func (o *Orchestrator) complete(ctx context.Context, outPath, prompt string, timeout time.Duration) (string, completion, error) {
	providers := router.BuildProviders(o.cfg.Router.Providers, o.m.Online, outPath, timeout)
	rt := router.New(providers, o.breaker, o.opts.Budget)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	res, err := rt.Complete(callCtx, "", prompt)
	sum := completion{duration: time.Since(start)}
	if res != nil {
		sum.provider, sum.model, sum.attempts = res.Provider, res.Model, len(res.Attempts)
	}
	if err != nil {
		return "", sum, err
	}
	return res.Text, sum, nil
}

// appendSeatMetric feeds the governor's recommender. A metrics stream
// that cannot be appended is logged, not fatal.
func (o *Orchestrator) appendSeatMetric(round int, out *SeatOutcome) {
	err := o.run.AppendMetric(runfs.SeatMetric{
		Round:         round,
		Seat:          out.Seat,
		Role:          out.Role,
		DurationS:     out.DurationS,
		SlotWaitS:     out.SlotWaitS,
		OK:            out.OK,
		Error:         out.ErrorKind,
		Provider:      out.Provider,
		Model:         out.Model,
		LocalOverload: out.LocalOverload,
	})
	if err != nil {
		logging.SeatWarn("round %d seat %d: metric append: %v", round, out.Seat, err)
	}
}

// repairSeats runs the bounded repair sub-round for the given seats,
// sequentially. Returns the stop source when a flag interrupted it.
func (o *Orchestrator) repairSeats(ctx context.Context, round int, targets []int) string {
	anchor := o.anchorText()
	for _, seat := range targets {
		for attempt := 1; attempt <= o.cfg.Decision.RepairAttempts; attempt++ {
			if stopped, src := o.stop.Stopped(); stopped {
				return src
			}
			if o.repairOnce(ctx, round, seat, attempt, anchor) {
				break
			}
		}
	}
	return ""
}

// repairOnce runs a single repair attempt and reports whether the seat
// now yields a decision.
func (o *Orchestrator) repairOnce(ctx context.Context, round, seat, attempt int, anchor string) bool {
	prior := o.latestSeatText(round, seat, attempt-1)
	prompt := decision.BuildRepairPrompt(anchor, round, seat, prior, o.cfg.Decision.RepairTailBytes)

	slot, _, err := o.gov.Acquire(ctx, seatLabel(round, seat)+"_repair")
	if err != nil {
		logging.DecisionWarn("round %d seat %d repair %d: no slot: %v", round, seat, attempt, err)
		return false
	}
	defer slot.Release()

	outPath := o.run.RepairPath(round, seat, attempt)
	text, _, err := o.complete(ctx, outPath, prompt, o.cfg.RepairTimeout())
	if err != nil {
		logging.DecisionWarn("round %d seat %d repair %d: %v", round, seat, attempt, err)
	} else if err := runfs.WriteAtomic(outPath, []byte(text)); err != nil {
		logging.DecisionWarn("round %d seat %d repair %d: write: %v", round, seat, attempt, err)
	}

	if _, ok := decision.ExtractSeat(o.run, round, seat, attempt); ok {
		logging.Decision("round %d seat %d: repaired on attempt %d", round, seat, attempt)
		return true
	}
	return false
}

// latestSeatText returns the newest output for a seat: the highest
// existing repair attempt up to maxAttempt, else the primary output.
func (o *Orchestrator) latestSeatText(round, seat, maxAttempt int) string {
	for a := maxAttempt; a >= 1; a-- {
		if data, err := os.ReadFile(o.run.RepairPath(round, seat, a)); err == nil && len(data) > 0 {
			return string(data)
		}
	}
	return o.seatText(round, seat)
}
