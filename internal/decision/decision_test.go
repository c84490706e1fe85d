package decision

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"council/internal/runfs"
)

const labeledOutput = "Thinking about the task.\n\n" +
	"```DECISION_JSON\n" +
	`{"summary": "split the parser", "files": ["internal/parse/parse.go"], "commands": ["go test ./..."], "risks": ["touches hot path"], "confidence": 0.8}` +
	"\n```\n\nDone.\n"

func TestExtractLabeledFence(t *testing.T) {
	obj, ok := Extract(labeledOutput)
	if !ok {
		t.Fatal("labeled fence not extracted")
	}
	if obj["summary"] != "split the parser" {
		t.Errorf("summary = %v", obj["summary"])
	}
}

func TestExtractPrefersLabeledOverEarlierGeneric(t *testing.T) {
	text := "```json\n{\"summary\": \"decoy\"}\n```\n" + labeledOutput
	obj, ok := Extract(text)
	if !ok {
		t.Fatal("no extraction")
	}
	if obj["summary"] != "split the parser" {
		t.Errorf("generic fence won over labeled: %v", obj["summary"])
	}
}

func TestExtractGenericFenceFallback(t *testing.T) {
	text := "Plan below.\n```json\n{\"files\": [\"a.go\"], \"confidence\": 0.5}\n```\n"
	obj, ok := Extract(text)
	if !ok {
		t.Fatal("generic json fence with files key must extract")
	}
	if _, has := obj["files"]; !has {
		t.Error("files key lost")
	}
}

func TestExtractGenericFenceNeedsDecisionKey(t *testing.T) {
	text := "```json\n{\"foo\": 1, \"bar\": 2}\n```\n"
	if _, ok := Extract(text); ok {
		t.Fatal("object without decision keys must not extract")
	}
}

func TestExtractSkipsNonJSONFences(t *testing.T) {
	text := "```go\nfunc main() {}\n```\n```json\n{\"summary\": \"s\"}\n```\n"
	obj, ok := Extract(text)
	if !ok {
		t.Fatal("no extraction")
	}
	if obj["summary"] != "s" {
		t.Errorf("summary = %v", obj["summary"])
	}
}

func TestExtractLabelEchoedInsideFence(t *testing.T) {
	text := "```json\nDECISION_JSON\n{\"summary\": \"echoed\"}\n```\n"
	obj, ok := Extract(text)
	if !ok {
		t.Fatal("label echoed inside fence must still parse")
	}
	if obj["summary"] != "echoed" {
		t.Errorf("summary = %v", obj["summary"])
	}
}

func TestExtractBrokenLabeledFallsBackToGeneric(t *testing.T) {
	text := "```DECISION_JSON\n{not json\n```\n```json\n{\"summary\": \"fallback\"}\n```\n"
	obj, ok := Extract(text)
	if !ok {
		t.Fatal("broken labeled fence must not block the generic fallback")
	}
	if obj["summary"] != "fallback" {
		t.Errorf("summary = %v", obj["summary"])
	}
}

func TestExtractProseOnly(t *testing.T) {
	if _, ok := Extract("I could not decide anything this round."); ok {
		t.Fatal("prose-only output must not extract")
	}
}

func TestNormalizeClampsConfidence(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
	}{
		{1.7, 1},
		{-0.2, 0},
		{0.35, 0.35},
		{"0.8", 0.8},
		{"nonsense", 0},
		{nil, 0},
	}
	for _, c := range cases {
		d := Normalize(map[string]interface{}{"confidence": c.in}, 1, 1)
		if d.Confidence != c.want {
			t.Errorf("confidence %v -> %v, want %v", c.in, d.Confidence, c.want)
		}
	}
}

func TestNormalizeCoercesMissingArrays(t *testing.T) {
	d := Normalize(map[string]interface{}{"summary": "s"}, 2, 3)
	if d.Files == nil || d.Commands == nil || d.Risks == nil {
		t.Fatal("missing arrays must coerce to empty, not nil")
	}
	if d.Agent != 3 || d.Round != 2 {
		t.Errorf("agent/round = %d/%d", d.Agent, d.Round)
	}
}

func TestNormalizeWrapsScalarFile(t *testing.T) {
	d := Normalize(map[string]interface{}{"files": "cmd/main.go"}, 1, 1)
	if !reflect.DeepEqual(d.Files, []string{"cmd/main.go"}) {
		t.Errorf("files = %v", d.Files)
	}
}

func TestNormalizeSanitizesPaths(t *testing.T) {
	files := []interface{}{
		"/etc/passwd",
		"../outside.go",
		"a/../../b.go",
		"C:stuff.txt",
		"src/./main.go",
		"pkg\\util\\u.go",
		"ok/file.go",
	}
	d := Normalize(map[string]interface{}{"files": files}, 1, 1)
	want := []string{"src/main.go", "pkg/util/u.go", "ok/file.go"}
	if !reflect.DeepEqual(d.Files, want) {
		t.Errorf("files = %v, want %v", d.Files, want)
	}
}

func TestNormalizeKeepsRaw(t *testing.T) {
	obj := map[string]interface{}{"summary": "s", "plan": "three steps"}
	d := Normalize(obj, 1, 1)
	if d.Raw["plan"] != "three steps" {
		t.Error("raw map must preserve unmodeled keys")
	}
}

func seatFile(t *testing.T, path, summary string) {
	t.Helper()
	body := fmt.Sprintf("```DECISION_JSON\n{\"summary\": %q, \"confidence\": 0.5}\n```\n", summary)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestExtractSeatPrefersNewestRepair(t *testing.T) {
	run, err := runfs.Create(filepath.Join(t.TempDir(), "run"))
	if err != nil {
		t.Fatal(err)
	}
	seatFile(t, run.SeatOutPath(1, 2), "original")
	seatFile(t, run.RepairPath(1, 2, 1), "first repair")
	seatFile(t, run.RepairPath(1, 2, 2), "second repair")

	d, ok := ExtractSeat(run, 1, 2, 2)
	if !ok {
		t.Fatal("no decision")
	}
	if d.Summary != "second repair" {
		t.Errorf("summary = %q, want newest repair", d.Summary)
	}
	if d.SourcePath != run.RepairPath(1, 2, 2) {
		t.Errorf("source_path = %q", d.SourcePath)
	}
}

func TestExtractSeatFallsThroughUnparseableRepair(t *testing.T) {
	run, err := runfs.Create(filepath.Join(t.TempDir(), "run"))
	if err != nil {
		t.Fatal(err)
	}
	seatFile(t, run.RepairPath(1, 1, 1), "good repair")
	if err := os.WriteFile(run.RepairPath(1, 1, 2), []byte("still just prose"), 0644); err != nil {
		t.Fatal(err)
	}

	d, ok := ExtractSeat(run, 1, 1, 2)
	if !ok {
		t.Fatal("no decision")
	}
	if d.Summary != "good repair" {
		t.Errorf("summary = %q", d.Summary)
	}
}

func TestExtractRoundPartitionsSeats(t *testing.T) {
	run, err := runfs.Create(filepath.Join(t.TempDir(), "run"))
	if err != nil {
		t.Fatal(err)
	}
	seatFile(t, run.SeatOutPath(1, 1), "one")
	if err := os.WriteFile(run.SeatOutPath(1, 2), []byte("no fence here"), 0644); err != nil {
		t.Fatal(err)
	}
	seatFile(t, run.SeatOutPath(1, 3), "three")

	report, decisions, err := ExtractRound(run, 1, 3, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(report.Extracted, []int{1, 3}) || !reflect.DeepEqual(report.Missing, []int{2}) {
		t.Errorf("extracted=%v missing=%v", report.Extracted, report.Missing)
	}
	if !report.OK {
		t.Error("missing seat without require must still be ok")
	}
	if len(decisions) != 2 || decisions[3].Summary != "three" {
		t.Errorf("decisions = %v", decisions)
	}

	// Per-seat file and round report land on disk.
	var onDisk Decision
	if err := runfs.ReadJSON(run.DecisionPath(1, 1), &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.Summary != "one" {
		t.Errorf("persisted summary = %q", onDisk.Summary)
	}
	reread, err := ReadRoundReport(run, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(reread, report) {
		t.Errorf("reread report = %+v, want %+v", reread, report)
	}
}

func TestExtractRoundRequireFailsReport(t *testing.T) {
	run, err := runfs.Create(filepath.Join(t.TempDir(), "run"))
	if err != nil {
		t.Fatal(err)
	}
	seatFile(t, run.SeatOutPath(1, 1), "one")

	report, _, err := ExtractRound(run, 1, 2, 2, true)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Error("require with a missing seat must fail the report")
	}
}

func TestBuildRepairPromptDeterministic(t *testing.T) {
	a := BuildRepairPrompt("fix the build", 2, 4, "some prior output", 6000)
	b := BuildRepairPrompt("fix the build", 2, 4, "some prior output", 6000)
	if a != b {
		t.Fatal("repair prompt must be deterministic")
	}
	for _, want := range []string{"seat 4", "round 2", "fix the build", FenceLabel, "confidence"} {
		if !strings.Contains(a, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildRepairPromptBoundsTail(t *testing.T) {
	prior := strings.Repeat("x", 10000)
	p := BuildRepairPrompt("anchor", 1, 1, prior, 100)
	if strings.Contains(p, strings.Repeat("x", 101)) {
		t.Error("tail not bounded to 100 bytes")
	}
	if !strings.Contains(p, strings.Repeat("x", 100)) {
		t.Error("tail shorter than requested")
	}
}

func TestTailKeepsUTF8Boundary(t *testing.T) {
	s := strings.Repeat("é", 50)
	got := tail(s, 3)
	if !utf8.ValidString(got) {
		t.Fatalf("tail split a rune: %q", got)
	}
}

func TestExtractionRoundTripProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 30
	properties := gopter.NewProperties(params)

	properties.Property("compliant output extracts unchanged", prop.ForAll(
		func(summary string, conf float64) bool {
			obj := map[string]interface{}{"summary": summary, "confidence": conf}
			payload, err := json.Marshal(obj)
			if err != nil {
				return false
			}
			text := "prose before\n```DECISION_JSON\n" + string(payload) + "\n```\nprose after\n"
			got, ok := Extract(text)
			if !ok {
				return false
			}
			d := Normalize(got, 1, 1)
			return d.Summary == strings.TrimSpace(summary) && d.Confidence >= 0 && d.Confidence <= 1
		},
		gen.AlphaString(),
		gen.Float64Range(-2, 2),
	))

	properties.TestingRun(t)
}
