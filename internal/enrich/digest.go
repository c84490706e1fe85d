package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// DigestName is the compiled-in round digest enricher.
const DigestName = "digest"

// digestEnricher condenses a round snapshot into per-seat summaries and
// deduplicated file/risk unions. It works on its own unmarshaled copy of
// the snapshot.
type digestEnricher struct{}

func (d *digestEnricher) Name() string { return DigestName }

type digestOut struct {
	Round          int               `json:"round"`
	Seats          int               `json:"seats"`
	Extracted      []int             `json:"extracted"`
	Missing        []int             `json:"missing"`
	MeanConfidence float64           `json:"mean_confidence"`
	Files          []string          `json:"files"`
	Risks          []string          `json:"risks"`
	Summaries      map[string]string `json:"summaries"`
}

const summaryLimit = 200

func (d *digestEnricher) Run(_ context.Context, inputJSON string) (string, error) {
	var in Input
	if err := json.Unmarshal([]byte(inputJSON), &in); err != nil {
		return "", fmt.Errorf("digest: bad snapshot: %w", err)
	}
	out := digestOut{
		Round:     in.Round,
		Summaries: map[string]string{},
	}
	if in.Report != nil {
		out.Seats = in.Report.AgentCount
		out.Extracted = in.Report.Extracted
		out.Missing = in.Report.Missing
	}

	fileSet := map[string]bool{}
	riskSet := map[string]bool{}
	var confSum float64
	var confN int
	for seat, dec := range in.Decisions {
		if dec == nil {
			continue
		}
		out.Summaries[fmt.Sprintf("%d", seat)] = clip(dec.Summary, summaryLimit)
		confSum += dec.Confidence
		confN++
		for _, f := range dec.Files {
			fileSet[f] = true
		}
		for _, r := range dec.Risks {
			riskSet[r] = true
		}
	}
	if confN > 0 {
		out.MeanConfidence = confSum / float64(confN)
	}
	out.Files = sortedKeys(fileSet)
	out.Risks = sortedKeys(riskSet)

	body, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
