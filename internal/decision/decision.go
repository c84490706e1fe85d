// Package decision turns raw seat output into structured decisions, runs
// the repair prompt contract for seats that failed to produce one, and
// ranks the seats of a round.
//
// The contract with seats is a fenced block labeled DECISION_JSON. Output
// that misses the label falls back to the first generic JSON fence whose
// object carries at least one known decision key; everything else in the
// output is prose and ignored.
package decision

import (
	"encoding/json"
	"path"
	"regexp"
	"strconv"
	"strings"

	"council/internal/logging"
)

// FenceLabel is the info string seats are instructed to put on the fence.
const FenceLabel = "DECISION_JSON"

// Decision is one seat's structured proposal for a round. Raw preserves
// the parsed object so enrichers and the archive see keys the normalized
// shape does not model.
type Decision struct {
	Agent      int                    `json:"agent"`
	Round      int                    `json:"round"`
	Summary    string                 `json:"summary"`
	Files      []string               `json:"files"`
	Commands   []string               `json:"commands"`
	Risks      []string               `json:"risks"`
	Confidence float64                `json:"confidence"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
	SourcePath string                 `json:"source_path,omitempty"`
}

// fenceRe matches a fenced code block: info string on the opening line,
// body up to the closing fence.
var fenceRe = regexp.MustCompile("(?s)```([^\\n]*)\\n(.*?)```")

// decisionKeys gates the generic-fence fallback: an unlabeled JSON fence
// only counts as a decision when its object carries at least one of these.
var decisionKeys = []string{"files", "commands", "summary", "plan"}

// Extract scans seat output for a decision object. A fence labeled
// DECISION_JSON wins; otherwise the first generic JSON fence that looks
// like a decision is used. Returns false when the output has neither.
func Extract(text string) (map[string]interface{}, bool) {
	matches := fenceRe.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		if !strings.EqualFold(strings.TrimSpace(m[1]), FenceLabel) {
			continue
		}
		if obj, ok := parseObject(m[2]); ok {
			return obj, true
		}
	}
	for _, m := range matches {
		label := strings.TrimSpace(m[1])
		if label != "" && !strings.EqualFold(label, "json") {
			continue
		}
		obj, ok := parseObject(m[2])
		if !ok || !hasDecisionKey(obj) {
			continue
		}
		return obj, true
	}
	return nil, false
}

// parseObject unmarshals a fence body into a JSON object. Some models
// echo the label as the first line inside the fence; strip it.
func parseObject(body string) (map[string]interface{}, bool) {
	s := strings.TrimSpace(body)
	if strings.HasPrefix(s, FenceLabel) {
		s = strings.TrimSpace(strings.TrimPrefix(s, FenceLabel))
	}
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func hasDecisionKey(obj map[string]interface{}) bool {
	for _, k := range decisionKeys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

// Normalize maps a parsed object onto the Decision shape for a given
// round and seat. Missing arrays coerce to empty, confidence clamps to
// [0,1], and file paths outside the repo are dropped.
func Normalize(obj map[string]interface{}, round, seat int) *Decision {
	return &Decision{
		Agent:      seat,
		Round:      round,
		Summary:    stringField(obj, "summary"),
		Files:      sanitizePaths(stringList(obj, "files"), round, seat),
		Commands:   stringList(obj, "commands"),
		Risks:      stringList(obj, "risks"),
		Confidence: clampConfidence(obj["confidence"]),
		Raw:        obj,
	}
}

func stringField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// stringList coerces a value to a string slice: arrays keep their string
// elements, a bare string wraps into a one-element slice, anything else
// is empty.
func stringList(obj map[string]interface{}, key string) []string {
	switch v := obj[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}
		}
		return []string{strings.TrimSpace(v)}
	default:
		return []string{}
	}
}

// clampConfidence accepts a JSON number or a numeric string and clamps it
// to [0,1]. Anything else scores zero.
func clampConfidence(v interface{}) float64 {
	var c float64
	switch n := v.(type) {
	case float64:
		c = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		c = parsed
	default:
		return 0
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// driveRe catches Windows drive-letter paths, which are absolute even
// though filepath.IsAbs says otherwise on Unix.
var driveRe = regexp.MustCompile(`^[A-Za-z]:`)

// sanitizePaths keeps only repo-relative, non-traversing paths. Dropped
// entries are logged so the seat's misbehavior is visible in the round
// log without failing extraction.
func sanitizePaths(paths []string, round, seat int) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		cleaned, ok := CleanRelPath(p)
		if !ok {
			logging.DecisionWarn("round %d seat %d: dropped path %q (not repo-relative)", round, seat, p)
			continue
		}
		out = append(out, cleaned)
	}
	return out
}

// CleanRelPath normalizes p to a forward-slash relative path. Absolute
// paths, drive-letter paths, and paths escaping the repo root are
// rejected. Patch validation applies the same rule to diff targets.
func CleanRelPath(p string) (string, bool) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || strings.HasPrefix(p, "/") || driveRe.MatchString(p) {
		return "", false
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return cleaned, true
}
