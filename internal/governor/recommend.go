package governor

import (
	"fmt"
	"sort"
	"time"

	"council/internal/logging"
	"council/internal/runfs"
)

// Levels is one concurrency setting pair.
type Levels struct {
	MaxParallel int `json:"max_parallel"`
	MaxLocal    int `json:"max_local"`
}

// ConcurrencyState is state/concurrency.json: what the round ran with and
// what the next round should run with.
type ConcurrencyState struct {
	Current      Levels   `json:"current"`
	Recommended  Levels   `json:"recommended"`
	Reasons      []string `json:"reasons,omitempty"`
	P95DurationS float64  `json:"p95_duration_s"`
	P95SlotWaitS float64  `json:"p95_slot_wait_s"`
	CPUPercent   float64  `json:"cpu_percent"`
	TS           float64  `json:"ts"`
}

// Recommend reads the run's metrics stream, applies the reduction rules, and
// writes state/concurrency.json. Reductions only; raising the caps is a human
// decision.
func (g *Governor) Recommend(run *runfs.RunDir, current Levels) (ConcurrencyState, error) {
	metrics, err := run.ReadMetrics()
	if err != nil {
		return ConcurrencyState{}, err
	}

	durations := make([]float64, 0, len(metrics))
	waits := make([]float64, 0, len(metrics))
	for _, m := range metrics {
		durations = append(durations, m.DurationS)
		waits = append(waits, m.SlotWaitS)
	}

	state := ConcurrencyState{
		Current:      current,
		Recommended:  current,
		P95DurationS: p95(durations),
		P95SlotWaitS: p95(waits),
		TS:           float64(g.clock().UnixNano()) / float64(time.Second),
	}
	if pct, err := g.probe.CPUPercent(); err == nil {
		state.CPUPercent = pct
	}

	rec := &state.Recommended
	if state.P95SlotWaitS >= 30 && rec.MaxParallel > 1 {
		rec.MaxParallel--
		state.Reasons = append(state.Reasons, fmt.Sprintf("p95 slot wait %.0fs >= 30s", state.P95SlotWaitS))
	}
	if state.P95DurationS >= 240 && rec.MaxParallel > 1 {
		rec.MaxParallel--
		state.Reasons = append(state.Reasons, fmt.Sprintf("p95 duration %.0fs >= 240s", state.P95DurationS))
	}
	if state.P95SlotWaitS >= 60 && rec.MaxLocal > 1 {
		rec.MaxLocal--
		state.Reasons = append(state.Reasons, fmt.Sprintf("p95 slot wait %.0fs >= 60s", state.P95SlotWaitS))
	}
	if state.CPUPercent >= 90 {
		rec.MaxParallel = 1
		state.Reasons = append(state.Reasons, fmt.Sprintf("cpu %.0f%% >= 90%%", state.CPUPercent))
	}
	if rec.MaxParallel < 1 {
		rec.MaxParallel = 1
	}
	if rec.MaxLocal < 1 {
		rec.MaxLocal = 1
	}

	if err := runfs.WriteJSON(run.ConcurrencyPath(), state); err != nil {
		return ConcurrencyState{}, err
	}
	if len(state.Reasons) > 0 {
		logging.Governor("recommend %+v -> %+v: %v", state.Current, state.Recommended, state.Reasons)
	} else {
		logging.GovernorDebug("recommend unchanged at %+v", state.Current)
	}
	return state, nil
}

// ReadConcurrency loads a previously written recommendation. Missing file
// returns ok=false.
func ReadConcurrency(run *runfs.RunDir) (ConcurrencyState, bool) {
	var state ConcurrencyState
	if err := runfs.ReadJSON(run.ConcurrencyPath(), &state); err != nil {
		return ConcurrencyState{}, false
	}
	return state, true
}

// p95 of values; zero when empty.
func p95(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
