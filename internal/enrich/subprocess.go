package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"council/internal/proc"
)

// subprocessEnricher feeds the snapshot to a configured command on stdin
// and takes its stdout as the artifact. A nonzero exit fails the
// enricher; whatever stdout was produced is kept as partial output.
type subprocessEnricher struct {
	name    string
	argv    []string
	timeout time.Duration
	runner  *proc.Runner
}

func newSubprocessEnricher(name string, argv []string, timeout time.Duration) *subprocessEnricher {
	return &subprocessEnricher{
		name:    name,
		argv:    argv,
		timeout: timeout,
		runner:  proc.NewRunner(proc.DefaultConfig()),
	}
}

func (s *subprocessEnricher) Name() string { return s.name }

func (s *subprocessEnricher) Run(ctx context.Context, inputJSON string) (string, error) {
	res, err := s.runner.Run(ctx, proc.Command{
		Argv:    s.argv,
		Stdin:   inputJSON,
		Timeout: s.timeout,
	})
	if res == nil {
		return "", err
	}
	if err != nil {
		return res.Stdout, err
	}
	if res.ExitCode != 0 {
		return res.Stdout, fmt.Errorf("%s rc=%d: %s", s.argv[0], res.ExitCode, tailLine(res.Stderr))
	}
	return res.Stdout, nil
}

func tailLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
