package enrich

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"council/internal/decision"
	"council/internal/runfs"
)

func testRun(t *testing.T) *runfs.RunDir {
	t.Helper()
	run, err := runfs.Create(filepath.Join(t.TempDir(), "run"))
	if err != nil {
		t.Fatal(err)
	}
	return run
}

func testInput(round int) *Input {
	return &Input{
		Round:   round,
		RunRoot: "/tmp/run",
		Anchor:  "refactor the scheduler",
		Decisions: map[int]*decision.Decision{
			1: {
				Agent: 1, Round: round,
				Summary:    "extract the queue",
				Files:      []string{"internal/q/q.go", "internal/q/q_test.go"},
				Risks:      []string{"behavior change"},
				Confidence: 0.8,
			},
			3: {
				Agent: 3, Round: round,
				Summary:    "tighten the loop",
				Files:      []string{"internal/q/q.go"},
				Confidence: 0.4,
			},
		},
		Report: &decision.RoundReport{
			Round: round, AgentCount: 3,
			Extracted: []int{1, 3}, Missing: []int{2}, OK: true,
		},
	}
}

func shOrSkip(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestDigestCondensesRound(t *testing.T) {
	raw, err := json.Marshal(testInput(2))
	if err != nil {
		t.Fatal(err)
	}
	out, err := (&digestEnricher{}).Run(context.Background(), string(raw))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	var got digestOut
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("digest output is not JSON: %v\n%s", err, out)
	}
	if got.Round != 2 || got.Seats != 3 {
		t.Errorf("round/seats = %d/%d, want 2/3", got.Round, got.Seats)
	}
	if len(got.Missing) != 1 || got.Missing[0] != 2 {
		t.Errorf("missing = %v, want [2]", got.Missing)
	}
	wantFiles := []string{"internal/q/q.go", "internal/q/q_test.go"}
	if len(got.Files) != len(wantFiles) || got.Files[0] != wantFiles[0] || got.Files[1] != wantFiles[1] {
		t.Errorf("files = %v, want %v (deduped, sorted)", got.Files, wantFiles)
	}
	if got.MeanConfidence < 0.59 || got.MeanConfidence > 0.61 {
		t.Errorf("mean confidence = %v, want 0.6", got.MeanConfidence)
	}
	if got.Summaries["1"] != "extract the queue" {
		t.Errorf("summary[1] = %q", got.Summaries["1"])
	}
}

func TestDigestClipsLongSummaries(t *testing.T) {
	in := testInput(1)
	in.Decisions[1].Summary = strings.Repeat("a", summaryLimit+50)
	raw, _ := json.Marshal(in)
	out, err := (&digestEnricher{}).Run(context.Background(), string(raw))
	if err != nil {
		t.Fatal(err)
	}
	var got digestOut
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Summaries["1"]) != summaryLimit {
		t.Errorf("summary length = %d, want %d", len(got.Summaries["1"]), summaryLimit)
	}
}

func TestRunnerWritesDigestArtifact(t *testing.T) {
	run := testRun(t)
	r := New(run, Config{Enabled: []string{DigestName}})
	reports := r.RunRound(context.Background(), testInput(1))
	if len(reports) != 1 {
		t.Fatalf("len(reports) = %d, want 1", len(reports))
	}
	rep := reports[0]
	if !rep.OK || rep.Error != "" {
		t.Fatalf("report = %+v, want ok", rep)
	}
	want := run.EnricherOutPath(1, DigestName)
	if rep.Artifact != want {
		t.Errorf("artifact = %q, want %q", rep.Artifact, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
}

func TestRunnerSubprocessEnricher(t *testing.T) {
	shOrSkip(t)
	run := testRun(t)
	r := New(run, Config{
		Enabled:  []string{"mirror"},
		Commands: map[string][]string{"mirror": {"sh", "-c", "cat"}},
	})
	reports := r.RunRound(context.Background(), testInput(1))
	if len(reports) != 1 || !reports[0].OK {
		t.Fatalf("reports = %+v", reports)
	}
	body, err := os.ReadFile(run.EnricherOutPath(1, "mirror"))
	if err != nil {
		t.Fatal(err)
	}
	var echoed Input
	if err := json.Unmarshal(body, &echoed); err != nil {
		t.Fatalf("mirrored snapshot is not the input JSON: %v", err)
	}
	if echoed.Round != 1 || echoed.Anchor == "" {
		t.Errorf("echoed snapshot = %+v", echoed)
	}
}

func TestRunnerFailurePreservesPartial(t *testing.T) {
	shOrSkip(t)
	run := testRun(t)
	r := New(run, Config{
		Enabled:  []string{"broken"},
		Commands: map[string][]string{"broken": {"sh", "-c", "printf '{\"half\":'; exit 3"}},
	})
	reports := r.RunRound(context.Background(), testInput(1))
	rep := reports[0]
	if rep.OK {
		t.Fatal("report.OK = true, want false")
	}
	if rep.Error == "" {
		t.Error("report.Error empty")
	}
	partial := run.EnricherOutPath(1, "broken") + ".partial"
	if rep.Artifact != partial {
		t.Errorf("artifact = %q, want partial path %q", rep.Artifact, partial)
	}
	body, err := os.ReadFile(partial)
	if err != nil {
		t.Fatalf("partial missing: %v", err)
	}
	if string(body) != `{"half":` {
		t.Errorf("partial body = %q", body)
	}
	if _, err := os.Stat(run.EnricherOutPath(1, "broken")); !os.IsNotExist(err) {
		t.Error("failed enricher must not leave a real artifact")
	}
}

func TestRunnerEnricherTimeout(t *testing.T) {
	shOrSkip(t)
	run := testRun(t)
	r := New(run, Config{
		Enabled:  []string{"slow"},
		Timeout:  100 * time.Millisecond,
		Commands: map[string][]string{"slow": {"sh", "-c", "sleep 5"}},
	})
	start := time.Now()
	reports := r.RunRound(context.Background(), testInput(1))
	if reports[0].OK {
		t.Fatal("report.OK = true, want false after timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("runner waited for the full sleep")
	}
}

func TestRunnerFailureDoesNotStopLaterEnrichers(t *testing.T) {
	shOrSkip(t)
	run := testRun(t)
	r := New(run, Config{
		Enabled: []string{"broken", DigestName},
		Commands: map[string][]string{
			"broken": {"sh", "-c", "exit 1"},
		},
	})
	reports := r.RunRound(context.Background(), testInput(1))
	if len(reports) != 2 {
		t.Fatalf("len(reports) = %d, want 2", len(reports))
	}
	if reports[0].OK {
		t.Error("broken reported ok")
	}
	if !reports[1].OK {
		t.Errorf("digest after failure = %+v, want ok", reports[1])
	}
}

func TestRunnerSkipsUnknownNames(t *testing.T) {
	run := testRun(t)
	r := New(run, Config{Enabled: []string{"ghost"}})
	if names := r.Names(); len(names) != 0 {
		t.Fatalf("Names() = %v, want empty", names)
	}
	if reports := r.RunRound(context.Background(), testInput(1)); len(reports) != 0 {
		t.Fatalf("reports = %+v, want none", reports)
	}
}

func TestResolveBuiltinWinsOverCommand(t *testing.T) {
	plug := resolve(DigestName, Config{
		Commands: map[string][]string{DigestName: {"sh", "-c", "true"}},
	})
	if _, ok := plug.(*digestEnricher); !ok {
		t.Fatalf("resolve(%q) = %T, want the builtin", DigestName, plug)
	}
}

func TestResolveCommandWinsOverScript(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	plug := resolve("x", Config{
		ScriptDir: dir,
		Commands:  map[string][]string{"x": {"sh", "-c", "true"}},
	})
	if _, ok := plug.(*subprocessEnricher); !ok {
		t.Fatalf("resolve = %T, want subprocess", plug)
	}
}
