package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"council/internal/fault"
	"council/internal/proc"
)

// CLIConfig configures the subprocess engine. Argv is a template: a
// "{prompt}" element is replaced with the prompt text; without one the
// prompt is piped to stdin.
type CLIConfig struct {
	Argv    []string
	OutPath string
	Timeout time.Duration
}

// CLIClient implements Client by spawning a local agent binary. The child
// runs in its own process group, so a deadline kills the whole tree and the
// streamed OutPath keeps whatever was produced.
type CLIClient struct {
	argv    []string
	outPath string
	timeout time.Duration
	runner  *proc.Runner
}

// NewCLIClient validates the argv template.
func NewCLIClient(cfg CLIConfig) (*CLIClient, error) {
	if len(cfg.Argv) == 0 {
		return nil, fault.Errorf(fault.KindProviderError, "llm.cli", "empty argv")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 900 * time.Second
	}
	return &CLIClient{
		argv:    cfg.Argv,
		outPath: cfg.OutPath,
		timeout: timeout,
		runner:  proc.NewRunner(proc.DefaultConfig()),
	}, nil
}

// Complete sends a prompt and returns the completion.
func (c *CLIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem runs the subprocess. The system prompt is prepended
// since a CLI has a single prompt channel.
func (c *CLIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	prompt := userPrompt
	if strings.TrimSpace(systemPrompt) != "" {
		prompt = fmt.Sprintf("[System Instructions]\n%s\n\n[User Request]\n%s", systemPrompt, userPrompt)
	}

	argv := make([]string, len(c.argv))
	stdin := prompt
	for i, a := range c.argv {
		if a == "{prompt}" {
			argv[i] = prompt
			stdin = ""
		} else {
			argv[i] = a
		}
	}

	res, err := c.runner.Run(ctx, proc.Command{
		Argv:    argv,
		Stdin:   stdin,
		OutPath: c.outPath,
		Timeout: c.timeout,
	})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fault.Errorf(fault.KindProviderError, "llm.cli",
			"%s exited %d: %s", argv[0], res.ExitCode, tail(res.Stderr, 512))
	}
	text := strings.TrimSpace(res.Stdout)
	if text == "" {
		return "", fault.Errorf(fault.KindProviderError, "llm.cli", "no completion returned")
	}
	return text, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
