package patch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"council/internal/decision"
	"council/internal/logging"
	"council/internal/proc"
	"council/internal/scan"
)

// ReasonAwaitingApproval marks a round whose patch apply was skipped
// because no matching HITL approval exists yet.
const ReasonAwaitingApproval = "awaiting_approval"

// gitTimeout bounds one git apply invocation.
const gitTimeout = 60 * time.Second

// FileStat is the per-file line delta recorded after a successful apply.
type FileStat struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// BlockResult reports one block's outcome. Disallowed distinguishes
// policy rejections (paths, secrets) from mechanical apply failures.
type BlockResult struct {
	Index      int        `json:"index"`
	OK         bool       `json:"ok"`
	Touched    []string   `json:"touched_files"`
	Reason     string     `json:"reason,omitempty"`
	Disallowed bool       `json:"disallowed,omitempty"`
	Stats      []FileStat `json:"stats,omitempty"`
}

// Report is the per-round patch apply record.
type Report struct {
	Round      int           `json:"round"`
	Agent      int           `json:"agent"`
	DiffBlocks int           `json:"diff_blocks"`
	Blocks     []BlockResult `json:"blocks"`
	Applied    int           `json:"applied"`
	OK         bool          `json:"ok"`
	Reason     string        `json:"reason,omitempty"`
}

// ExitCode maps the report to the CLI contract: 0 applied or nothing to
// do, 4 when any block failed mechanically, 5 when any block was
// rejected for a disallowed path or secret.
func (r *Report) ExitCode() int {
	exit := 0
	for _, b := range r.Blocks {
		if b.OK {
			continue
		}
		if b.Disallowed {
			return 5
		}
		exit = 4
	}
	return exit
}

// Config tunes an Applier.
type Config struct {
	RepoRoot    string
	EditSurface []string

	// Approved gates the whole round's apply when non-nil; returning
	// false skips it with ReasonAwaitingApproval.
	Approved func() bool
}

// Applier validates and applies diff blocks against one repo root.
type Applier struct {
	cfg     Config
	runner  *proc.Runner
	scanner *scan.Scanner
}

// NewApplier builds an Applier. The embedded scanner only gates on the
// secret family; risk handling belongs to the verify pipeline.
func NewApplier(cfg Config) *Applier {
	return &Applier{
		cfg:     cfg,
		runner:  proc.NewRunner(proc.DefaultConfig()),
		scanner: scan.New(scan.Config{AllowRisky: true}),
	}
}

// Apply extracts every diff block from raw and attempts each one
// independently; a rejected or failed block never stops later blocks.
func (a *Applier) Apply(ctx context.Context, round, agent int, raw string) *Report {
	blocks := ExtractBlocks(raw)
	report := &Report{
		Round:      round,
		Agent:      agent,
		DiffBlocks: len(blocks),
		Blocks:     []BlockResult{},
	}
	if len(blocks) == 0 {
		report.OK = true
		logging.Patch("round %d seat %d: no diff blocks", round, agent)
		return report
	}
	if a.cfg.Approved != nil && !a.cfg.Approved() {
		report.Reason = ReasonAwaitingApproval
		logging.Patch("round %d seat %d: apply skipped, %s", round, agent, ReasonAwaitingApproval)
		return report
	}

	for _, b := range blocks {
		res := a.applyBlock(ctx, b)
		report.Blocks = append(report.Blocks, res)
		if res.OK {
			report.Applied++
		} else {
			logging.PatchWarn("round %d seat %d block %d: %s", round, agent, b.Index, res.Reason)
		}
	}
	report.OK = report.Applied == len(blocks)
	logging.Patch("round %d seat %d: applied %d/%d blocks", round, agent, report.Applied, len(blocks))
	return report
}

func (a *Applier) applyBlock(ctx context.Context, b Block) BlockResult {
	res := BlockResult{Index: b.Index, Touched: b.Files}

	reason, disallowed := a.validate(b)
	if reason != "" {
		res.Reason, res.Disallowed = reason, disallowed
		return res
	}

	before := a.snapshot(b.Files)
	if reason := a.gitApply(ctx, b.Body); reason != "" {
		res.Reason = reason
		return res
	}
	res.OK = true
	res.Stats = a.stats(before, b.Files)
	return res
}

// validate rejects the whole block on the first offending path or
// secret-bearing added line.
func (a *Applier) validate(b Block) (reason string, disallowed bool) {
	if len(b.Files) == 0 {
		return "no file headers in block", false
	}
	for _, f := range b.Files {
		cleaned, ok := decision.CleanRelPath(f)
		if !ok || cleaned != f {
			return fmt.Sprintf("disallowed path %q", f), true
		}
		if scan.IsSecretPath(f) {
			return fmt.Sprintf("secrets path %q", f), true
		}
		if !a.underSurface(f) {
			return fmt.Sprintf("path %q outside edit surface", f), true
		}
	}
	for _, hit := range a.scanner.ScanText("block", addedLines(b.Body)) {
		if hit.Family == scan.FamilySecret {
			return fmt.Sprintf("secret pattern %s in added lines", hit.Rule), true
		}
	}
	return "", false
}

func (a *Applier) underSurface(f string) bool {
	if len(a.cfg.EditSurface) == 0 {
		return true
	}
	for _, prefix := range a.cfg.EditSurface {
		if prefix == "" {
			continue
		}
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(f, prefix) {
				return true
			}
			continue
		}
		if f == prefix || strings.HasPrefix(f, prefix+"/") {
			return true
		}
	}
	return false
}

// gitApply feeds the block to git apply on stdin, retrying with -p0 for
// bodies whose headers carry no a/ b/ prefix. git apply is atomic per
// invocation, so the retry never sees a half-applied tree.
func (a *Applier) gitApply(ctx context.Context, body string) string {
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	attempts := [][]string{
		{"git", "-C", a.cfg.RepoRoot, "apply", "--whitespace=nowarn"},
		{"git", "-C", a.cfg.RepoRoot, "apply", "--whitespace=nowarn", "-p0"},
	}
	var lastReason string
	for _, argv := range attempts {
		res, err := a.runner.Run(ctx, proc.Command{Argv: argv, Stdin: body, Timeout: gitTimeout})
		if err != nil {
			lastReason = fmt.Sprintf("git apply: %v", err)
			continue
		}
		if res.ExitCode == 0 {
			return ""
		}
		lastReason = fmt.Sprintf("git apply rc=%d: %s", res.ExitCode, tail(res.Stderr, 300))
	}
	return lastReason
}

func (a *Applier) snapshot(files []string) map[string]string {
	out := make(map[string]string, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(a.cfg.RepoRoot, filepath.FromSlash(f)))
		if err == nil && !bytes.ContainsRune(data, 0) {
			out[f] = string(data)
		}
	}
	return out
}

func (a *Applier) stats(before map[string]string, files []string) []FileStat {
	stats := make([]FileStat, 0, len(files))
	for _, f := range files {
		var after string
		if data, err := os.ReadFile(filepath.Join(a.cfg.RepoRoot, filepath.FromSlash(f))); err == nil {
			after = string(data)
		}
		added, removed := lineDelta(before[f], after)
		stats = append(stats, FileStat{Path: f, Added: added, Removed: removed})
	}
	return stats
}

// lineDelta counts changed lines via a line-level diffmatchpatch
// reduction, which avoids newline boundary artifacts.
func lineDelta(oldContent, newContent string) (added, removed int) {
	if oldContent == newContent {
		return 0, 0
	}
	dmp := diffmatchpatch.New()
	c1, c2, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lines)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if n == 0 && d.Text != "" {
			n = 1
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

// addedLines strips a block down to its inserted content for secret
// scanning.
func addedLines(body string) string {
	var b strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			b.WriteString(line[1:])
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
