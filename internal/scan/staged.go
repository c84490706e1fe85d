package scan

import (
	"context"
	"strings"
	"time"

	"council/internal/fault"
	"council/internal/logging"
	"council/internal/proc"
)

// gitTimeout bounds each index read; staged scans run inside the verify
// pipeline and must not hang it.
const gitTimeout = 30 * time.Second

// ScanStaged scans the content of every staged path as recorded in the
// git index, not the working tree, so the audit covers what would
// actually commit.
func (s *Scanner) ScanStaged(ctx context.Context, repoRoot string) (*Report, error) {
	runner := proc.NewRunner(proc.DefaultConfig())
	res, err := runner.Run(ctx, proc.Command{
		Argv:    []string{"git", "-C", repoRoot, "diff", "--cached", "--name-only", "--diff-filter=ACM", "-z"},
		Timeout: gitTimeout,
	})
	if err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "scan.staged", err)
	}
	if res.ExitCode != 0 {
		return nil, fault.Errorf(fault.KindRuntimeIO, "scan.staged",
			"git diff --cached rc=%d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	report := s.NewReport()
	for _, p := range strings.Split(res.Stdout, "\x00") {
		if p == "" {
			continue
		}
		blob, err := runner.Run(ctx, proc.Command{
			Argv:    []string{"git", "-C", repoRoot, "show", ":" + p},
			Timeout: gitTimeout,
		})
		if err != nil || blob.ExitCode != 0 {
			logging.PatchWarn("staged scan: cannot read index blob %s", p)
			continue
		}
		s.AddContent(report, p, blob.Stdout)
	}
	return s.Finish(report), nil
}
