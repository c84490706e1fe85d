package decision

import (
	"os"

	"council/internal/fault"
	"council/internal/logging"
	"council/internal/runfs"
)

// RoundReport aggregates extraction results for one round. Extracted and
// Missing partition the seat indices 1..AgentCount.
type RoundReport struct {
	Round      int   `json:"round"`
	AgentCount int   `json:"agent_count"`
	Extracted  []int `json:"extracted"`
	Missing    []int `json:"missing"`
	OK         bool  `json:"ok"`
}

// ExtractSeat parses one seat's decision, preferring the newest repair
// output over the original round output. Returns false when no source
// yields a decision.
func ExtractSeat(run *runfs.RunDir, round, seat, maxRepairs int) (*Decision, bool) {
	for _, src := range seatSources(run, round, seat, maxRepairs) {
		data, err := os.ReadFile(src)
		if err != nil {
			continue
		}
		obj, ok := Extract(string(data))
		if !ok {
			continue
		}
		d := Normalize(obj, round, seat)
		d.SourcePath = src
		return d, true
	}
	return nil, false
}

// seatSources lists candidate outputs newest first: repair attempts in
// reverse order, then the original seat output. Missing files are skipped
// by the reader.
func seatSources(run *runfs.RunDir, round, seat, maxRepairs int) []string {
	var out []string
	for attempt := maxRepairs; attempt >= 1; attempt-- {
		out = append(out, run.RepairPath(round, seat, attempt))
	}
	return append(out, run.SeatOutPath(round, seat))
}

// ExtractRound extracts every seat's decision, writes the per-seat files
// under state/decisions/, and writes the round report. Seats without a
// decision are listed in Missing and absent from the returned map; that
// only fails the report when require is set.
func ExtractRound(run *runfs.RunDir, round, agentCount, maxRepairs int, require bool) (*RoundReport, map[int]*Decision, error) {
	report := &RoundReport{
		Round:      round,
		AgentCount: agentCount,
		Extracted:  []int{},
		Missing:    []int{},
	}
	decisions := make(map[int]*Decision)
	for seat := 1; seat <= agentCount; seat++ {
		d, ok := ExtractSeat(run, round, seat, maxRepairs)
		if !ok {
			report.Missing = append(report.Missing, seat)
			logging.DecisionWarn("round %d seat %d: no decision in any output", round, seat)
			continue
		}
		if err := runfs.WriteJSON(run.DecisionPath(round, seat), d); err != nil {
			return nil, nil, fault.New(fault.KindRuntimeIO, "decision.write", err)
		}
		decisions[seat] = d
		report.Extracted = append(report.Extracted, seat)
	}
	report.OK = len(report.Missing) == 0 || !require
	if err := runfs.WriteJSON(run.DecisionsReportPath(round), report); err != nil {
		return nil, nil, fault.New(fault.KindRuntimeIO, "decision.report", err)
	}
	logging.Decision("round %d: extracted %d/%d decisions, missing=%v",
		round, len(report.Extracted), agentCount, report.Missing)
	return report, decisions, nil
}

// ReadRoundReport loads a previously written round report.
func ReadRoundReport(run *runfs.RunDir, round int) (*RoundReport, error) {
	var report RoundReport
	if err := runfs.ReadJSON(run.DecisionsReportPath(round), &report); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "decision.report", err)
	}
	return &report, nil
}
