package council

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"council/internal/logging"
	"council/internal/runfs"
)

// SeatState is one seat's slice of the world state.
type SeatState struct {
	Role     string `json:"role"`
	OK       bool   `json:"ok"`
	Decision bool   `json:"decision"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

// WorldState is state/world_state.json: the single current-picture file
// an operator or external tool reads instead of the artifact pile.
type WorldState struct {
	MissionID  string               `json:"mission_id"`
	Round      int                  `json:"round"`
	State      string               `json:"state"`
	Team       []string             `json:"team"`
	Seats      map[string]SeatState `json:"seats"`
	Winner     int                  `json:"winner,omitempty"`
	PatchOK    *bool                `json:"patch_ok,omitempty"`
	VerifyOK   *bool                `json:"verify_ok,omitempty"`
	StopSource string               `json:"stop_source,omitempty"`
	TS         float64              `json:"ts"`
}

// writeWorld rebuilds world_state.json and the round digest after a round
// reaches a terminal state. Both are advisory; failures are logged only.
func (o *Orchestrator) writeWorld(rr *RoundResult) {
	ws := &WorldState{
		MissionID:  o.m.ID,
		Round:      rr.Round,
		State:      rr.State,
		Team:       o.m.Team,
		Seats:      make(map[string]SeatState, len(rr.Seats)),
		Winner:     rr.Winner,
		StopSource: rr.StopSource,
		TS:         float64(time.Now().UnixNano()) / 1e9,
	}
	for _, out := range rr.Seats {
		if out == nil {
			continue
		}
		_, hasDecision := rr.Decisions[out.Seat]
		ws.Seats[strconv.Itoa(out.Seat)] = SeatState{
			Role:     out.Role,
			OK:       out.OK,
			Decision: hasDecision,
			Provider: out.Provider,
			Error:    out.ErrorKind,
		}
	}
	if rr.Patch != nil {
		ok := rr.Patch.OK
		ws.PatchOK = &ok
	}
	if rr.Verify != nil {
		ok := rr.Verify.OK
		ws.VerifyOK = &ok
	}
	if err := runfs.WriteJSON(o.run.WorldStatePath(), ws); err != nil {
		logging.RoundWarn("round %d: world state write: %v", rr.Round, err)
	}
	if err := runfs.WriteAtomic(o.run.DigestPath(rr.Round), []byte(o.digest(rr))); err != nil {
		logging.RoundWarn("round %d: digest write: %v", rr.Round, err)
	}
}

// digest renders the human-readable round summary.
func (o *Orchestrator) digest(rr *RoundResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Round %d\n\n", rr.Round)
	fmt.Fprintf(&b, "mission `%s` ended %s", o.m.ID, rr.State)
	if rr.StopSource != "" {
		fmt.Fprintf(&b, " (stop: %s)", rr.StopSource)
	}
	b.WriteString("\n\n")

	if len(rr.Seats) > 0 {
		b.WriteString("| seat | role | ok | decision | provider | duration | error |\n")
		b.WriteString("|-----:|------|----|----------|----------|---------:|-------|\n")
		for _, out := range rr.Seats {
			if out == nil {
				continue
			}
			_, hasDecision := rr.Decisions[out.Seat]
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %.1fs | %s |\n",
				out.Seat, out.Role, yesNo(out.OK), yesNo(hasDecision),
				out.Provider, out.DurationS, out.ErrorKind)
		}
		b.WriteString("\n")
	}

	if rr.Winner > 0 {
		role := ""
		if rr.Winner <= len(o.m.Team) {
			role = o.m.Team[rr.Winner-1]
		}
		fmt.Fprintf(&b, "winner: seat %d (%s)\n", rr.Winner, role)
	}
	if rr.Patch != nil {
		if rr.Patch.Reason != "" {
			fmt.Fprintf(&b, "patch: %s\n", rr.Patch.Reason)
		} else {
			fmt.Fprintf(&b, "patch: %d/%d blocks applied\n", rr.Patch.Applied, rr.Patch.DiffBlocks)
		}
	}
	if rr.Verify != nil {
		fmt.Fprintf(&b, "verify: %s (%d checks)\n", okFail(rr.Verify.OK), len(rr.Verify.Checks))
	}
	for _, er := range rr.Enrich {
		fmt.Fprintf(&b, "enrich %s: %s\n", er.Name, okFail(er.OK))
	}
	if rr.ErrKind != "" {
		fmt.Fprintf(&b, "\nerror: %s\n", rr.ErrKind)
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func okFail(v bool) string {
	if v {
		return "ok"
	}
	return "fail"
}
