package decision

import (
	"strconv"

	"council/internal/runfs"
)

// Verdict is one seat's score from an external supervisor.
type Verdict struct {
	Score    float64  `json:"score"`
	Status   string   `json:"status,omitempty"`
	Mistakes []string `json:"mistakes,omitempty"`
}

// VerdictSet is the optional supervisor file for a round, keyed by seat
// index.
type VerdictSet struct {
	Round    int                `json:"round"`
	Verdicts map[string]Verdict `json:"verdicts"`
}

// ReadVerdicts loads supervisor verdicts for a round. A missing or
// malformed file means no verdicts; scores clamp to [0,100].
func ReadVerdicts(run *runfs.RunDir, round int) map[int]Verdict {
	var set VerdictSet
	if err := runfs.ReadJSON(run.VerdictsPath(round), &set); err != nil {
		return nil
	}
	out := make(map[int]Verdict, len(set.Verdicts))
	for key, v := range set.Verdicts {
		seat, err := strconv.Atoi(key)
		if err != nil || seat < 1 {
			continue
		}
		if v.Score < 0 {
			v.Score = 0
		}
		if v.Score > 100 {
			v.Score = 100
		}
		out[seat] = v
	}
	return out
}

// Candidate is one seat as seen by the ranker.
type Candidate struct {
	Seat     int
	Decision *Decision
	Verdict  *Verdict
	HasDiff  bool
}

// Rank picks the winning seat. Ordering: a valid decision beats none,
// then higher supervisor score, then presence of a well-formed diff
// block, then higher confidence, then the lower seat index. Returns 0
// when there are no candidates or none of them carries a decision;
// only a decision can be applied, so a decisionless round has no
// winner.
func Rank(cands []Candidate) int {
	if len(cands) == 0 {
		return 0
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if better(c, best) {
			best = c
		}
	}
	if best.Decision == nil {
		return 0
	}
	return best.Seat
}

func better(a, b Candidate) bool {
	if (a.Decision != nil) != (b.Decision != nil) {
		return a.Decision != nil
	}
	if as, bs := verdictScore(a), verdictScore(b); as != bs {
		return as > bs
	}
	if a.HasDiff != b.HasDiff {
		return a.HasDiff
	}
	if ac, bc := confidence(a), confidence(b); ac != bc {
		return ac > bc
	}
	return a.Seat < b.Seat
}

// verdictScore ranks an absent verdict below any present score.
func verdictScore(c Candidate) float64 {
	if c.Verdict == nil {
		return -1
	}
	return c.Verdict.Score
}

func confidence(c Candidate) float64 {
	if c.Decision == nil {
		return 0
	}
	return c.Decision.Confidence
}
