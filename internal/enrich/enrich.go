// Package enrich runs pluggable post-round enrichers. Enrichers receive
// a JSON snapshot of the round and hand back a JSON artifact; they never
// see the live decision records, so they cannot mutate round state.
// Enricher failures are recorded, never fatal.
package enrich

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"council/internal/decision"
	"council/internal/logging"
	"council/internal/runfs"
)

// Input is the read-only round snapshot serialized for every enricher.
type Input struct {
	Round     int                        `json:"round"`
	RunRoot   string                     `json:"run_root"`
	Anchor    string                     `json:"anchor"`
	Decisions map[int]*decision.Decision `json:"decisions"`
	Report    *decision.RoundReport      `json:"report"`
}

// Report records one enricher's outcome for the round.
type Report struct {
	Name      string  `json:"name"`
	Round     int     `json:"round"`
	OK        bool    `json:"ok"`
	Artifact  string  `json:"artifact,omitempty"`
	Error     string  `json:"error,omitempty"`
	DurationS float64 `json:"duration_s"`
}

// Enricher is one post-round plugin. Run receives the round snapshot as
// JSON and returns the artifact body. On error the returned string may
// hold partial output worth preserving.
type Enricher interface {
	Name() string
	Run(ctx context.Context, inputJSON string) (string, error)
}

// Config selects and bounds the enrichers for a run.
type Config struct {
	// Enabled lists enricher names in execution order.
	Enabled []string

	// Timeout bounds each enricher individually.
	Timeout time.Duration

	// ScriptDir holds interpreted enricher scripts (<name>.go).
	ScriptDir string

	// Commands maps a name to a subprocess argv.
	Commands map[string][]string
}

// Runner resolves enabled names against the builtin set, configured
// commands, and the script dir, then executes them in order.
type Runner struct {
	run     *runfs.RunDir
	timeout time.Duration
	plugs   []Enricher
}

// New builds a Runner for the run dir. Unresolvable names are skipped
// with a warning; an empty plug list is valid.
func New(run *runfs.RunDir, cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	r := &Runner{run: run, timeout: cfg.Timeout}
	for _, name := range cfg.Enabled {
		plug := resolve(name, cfg)
		if plug == nil {
			logging.EnrichWarn("enricher %q not found (no builtin, command, or script)", name)
			continue
		}
		r.plugs = append(r.plugs, plug)
	}
	return r
}

func resolve(name string, cfg Config) Enricher {
	if name == DigestName {
		return &digestEnricher{}
	}
	if argv, ok := cfg.Commands[name]; ok && len(argv) > 0 {
		return newSubprocessEnricher(name, argv, cfg.Timeout)
	}
	script := filepath.Join(cfg.ScriptDir, name+".go")
	if _, err := os.Stat(script); err == nil {
		return newScriptEnricher(name, script)
	}
	return nil
}

// Names lists the resolved enrichers in execution order.
func (r *Runner) Names() []string {
	names := make([]string, len(r.plugs))
	for i, p := range r.plugs {
		names[i] = p.Name()
	}
	return names
}

// RunRound executes every resolved enricher sequentially against one
// snapshot. A successful enricher's artifact lands at the enricher out
// path; a failed one leaves at most a .partial file for forensics.
func (r *Runner) RunRound(ctx context.Context, input *Input) []Report {
	raw, err := json.Marshal(input)
	if err != nil {
		logging.EnrichWarn("round %d: snapshot marshal failed: %v", input.Round, err)
		return nil
	}
	reports := make([]Report, 0, len(r.plugs))
	for _, plug := range r.plugs {
		reports = append(reports, r.runOne(ctx, plug, input.Round, string(raw)))
	}
	return reports
}

func (r *Runner) runOne(ctx context.Context, plug Enricher, round int, inputJSON string) Report {
	rep := Report{Name: plug.Name(), Round: round}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := plug.Run(cctx, inputJSON)
	rep.DurationS = time.Since(start).Seconds()

	outPath := r.run.EnricherOutPath(round, plug.Name())
	if err != nil {
		rep.Error = err.Error()
		if out != "" {
			partial := outPath + ".partial"
			if werr := runfs.WriteAtomic(partial, []byte(out)); werr == nil {
				rep.Artifact = partial
			}
		}
		logging.EnrichWarn("round %d: enricher %s failed after %.2fs: %v", round, plug.Name(), rep.DurationS, err)
		return rep
	}
	if werr := runfs.WriteAtomic(outPath, []byte(out)); werr != nil {
		rep.Error = werr.Error()
		logging.EnrichWarn("round %d: enricher %s write failed: %v", round, plug.Name(), werr)
		return rep
	}
	rep.OK = true
	rep.Artifact = outPath
	logging.Enrich("round %d: enricher %s ok (%.2fs)", round, plug.Name(), rep.DurationS)
	return rep
}
