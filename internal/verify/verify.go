// Package verify runs the post-apply check pipeline: a short,
// deterministic suite whose per-check return codes decide the round's
// verify outcome. Checks are subprocesses except the staged secret scan,
// which runs in-process against the git index.
package verify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"council/internal/config"
	"council/internal/logging"
	"council/internal/proc"
	"council/internal/scan"
)

// BuiltinStagedScan names the in-process index scan check.
const BuiltinStagedScan = "staged-scan"

// Check is one pipeline entry. Builtin selects an in-process check by
// name instead of an argv.
type Check struct {
	Name    string
	Argv    []string
	Builtin string
}

// CheckResult records one check's outcome with bounded output tails.
type CheckResult struct {
	Name       string  `json:"name"`
	Cmd        string  `json:"cmd"`
	RC         int     `json:"rc"`
	StdoutTail string  `json:"stdout_tail,omitempty"`
	StderrTail string  `json:"stderr_tail,omitempty"`
	DurationS  float64 `json:"duration_s"`
}

// Report is the per-round verify record. OK holds only when every check
// returned zero. Round is filled in by the caller before the report is
// persisted.
type Report struct {
	Round  int           `json:"round,omitempty"`
	OK     bool          `json:"ok"`
	Checks []CheckResult `json:"checks"`
}

// Config tunes a Pipeline.
type Config struct {
	RepoRoot string

	// Checks override the default pipeline when non-empty.
	Checks []config.CheckSpec

	// TailBytes bounds captured stdout/stderr per check.
	TailBytes int

	// CheckTimeout bounds each check individually.
	CheckTimeout time.Duration

	// AllowRisky is handed to the staged scan.
	AllowRisky bool
}

// Pipeline executes the checks in order, never short-circuiting: a
// failed check still lets later checks report.
type Pipeline struct {
	cfg     Config
	checks  []Check
	runner  *proc.Runner
	scanner *scan.Scanner
}

// New builds a Pipeline. Zero config fields fall back to the standard
// bounds; an empty check list selects the defaults for the repo.
func New(cfg Config) *Pipeline {
	if cfg.TailBytes <= 0 {
		cfg.TailBytes = 4000
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 300 * time.Second
	}
	checks := make([]Check, 0, len(cfg.Checks))
	for _, spec := range cfg.Checks {
		checks = append(checks, Check{Name: spec.Name, Argv: spec.Argv})
	}
	if len(checks) == 0 {
		checks = DefaultChecks(cfg.RepoRoot)
	}
	return &Pipeline{
		cfg:     cfg,
		checks:  checks,
		runner:  proc.NewRunner(proc.DefaultConfig()),
		scanner: scan.New(scan.Config{AllowRisky: cfg.AllowRisky}),
	}
}

// DefaultChecks selects the standard pipeline: a compile pass matched to
// the repo's toolchain, the whitespace/conflict-marker check, and the
// staged index scan.
func DefaultChecks(repoRoot string) []Check {
	var checks []Check
	switch {
	case fileExists(filepath.Join(repoRoot, "go.mod")):
		checks = append(checks, Check{Name: "compile", Argv: []string{"go", "build", "./..."}})
	case fileExists(filepath.Join(repoRoot, "pyproject.toml")), fileExists(filepath.Join(repoRoot, "setup.py")):
		checks = append(checks, Check{Name: "compile", Argv: []string{"python3", "-m", "compileall", "-q", "."}})
	}
	checks = append(checks,
		Check{Name: "whitespace", Argv: []string{"git", "diff", "--check"}},
		Check{Name: BuiltinStagedScan, Builtin: BuiltinStagedScan},
	)
	return checks
}

// Run executes every check and assembles the report.
func (p *Pipeline) Run(ctx context.Context) *Report {
	report := &Report{OK: true, Checks: make([]CheckResult, 0, len(p.checks))}
	for _, c := range p.checks {
		res := p.runCheck(ctx, c)
		report.Checks = append(report.Checks, res)
		if res.RC != 0 {
			report.OK = false
			logging.VerifyWarn("check %s rc=%d", res.Name, res.RC)
		} else {
			logging.Verify("check %s ok (%.2fs)", res.Name, res.DurationS)
		}
	}
	logging.Verify("pipeline ok=%v (%d checks)", report.OK, len(report.Checks))
	return report
}

func (p *Pipeline) runCheck(ctx context.Context, c Check) CheckResult {
	if c.Builtin == BuiltinStagedScan {
		return p.runStagedScan(ctx, c)
	}
	out := CheckResult{Name: c.Name, Cmd: strings.Join(c.Argv, " "), RC: -1}
	start := time.Now()
	res, err := p.runner.Run(ctx, proc.Command{
		Argv:    c.Argv,
		Dir:     p.cfg.RepoRoot,
		Timeout: p.cfg.CheckTimeout,
	})
	out.DurationS = time.Since(start).Seconds()
	if res != nil {
		out.StdoutTail = p.tail(res.Stdout)
		out.StderrTail = p.tail(res.Stderr)
		if !res.Killed {
			out.RC = res.ExitCode
		}
		if res.Killed {
			out.StderrTail = p.tail(res.Stderr + "\n[" + res.KillReason + "]")
		}
	}
	if err != nil && res == nil {
		out.StderrTail = p.tail(err.Error())
	}
	return out
}

// runStagedScan runs the index scan in-process; its exit-code contract
// matches the scan-risk command (0 clean, 2 secrets, 3 risky).
func (p *Pipeline) runStagedScan(ctx context.Context, c Check) CheckResult {
	out := CheckResult{Name: c.Name, Cmd: "builtin:" + BuiltinStagedScan, RC: -1}
	start := time.Now()
	scanReport, err := p.scanner.ScanStaged(ctx, p.cfg.RepoRoot)
	out.DurationS = time.Since(start).Seconds()
	if err != nil {
		out.StderrTail = p.tail(err.Error())
		return out
	}
	out.RC = scanReport.ExitCode
	summary, _ := json.Marshal(map[string]int{
		"scanned": scanReport.ScannedFiles,
		"secrets": len(scanReport.Secrets),
		"risks":   len(scanReport.Risks),
	})
	out.StdoutTail = string(summary)
	return out
}

func (p *Pipeline) tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= p.cfg.TailBytes {
		return s
	}
	return s[len(s)-p.cfg.TailBytes:]
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
