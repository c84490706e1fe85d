// Package runfs owns the on-disk layout of a RunDir and the write disciplines
// every component shares: atomic replace for artifacts, locked append for
// shared JSONL files, and stop-flag polling. Disk is the source of truth;
// nothing in here keeps state that can diverge from it.
package runfs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"council/internal/fault"
)

// Well-known names under a RunDir. The artifact readers live in
// decision, patch, and verify.
const (
	StateDirName     = "state"
	ManifestName     = "manifest.json"
	AnchorName       = "mission_anchor.md"
	MetricsName      = "agent_metrics.jsonl"
	ConcurrencyName  = "concurrency.json"
	SlotDirName      = "local_slots"
	DecisionsDirName = "decisions"
	RepairsDirName   = "repairs"
	ProvidersName    = "providers.json"
	ApprovalsName    = "approvals.jsonl"
	ActionsName      = "actions.jsonl"
	InboxDirName     = "inbox"
	WorldStateName   = "world_state.json"
	VerifyReportName = "verify_report.json"
	StopName         = "STOP"
)

// RunDir is the filesystem root of one mission's artifacts. Methods are pure
// path derivations; the orchestrator owns all aggregate writes.
type RunDir struct {
	Root string
}

// Open wraps an existing run directory. It fails when the state dir is
// missing, which catches paths that are not RunDirs at all.
func Open(root string) (*RunDir, error) {
	st, err := os.Stat(filepath.Join(root, StateDirName))
	if err != nil || !st.IsDir() {
		return nil, fault.Errorf(fault.KindRuntimeIO, "runfs.open", "not a run dir: %s", root)
	}
	return &RunDir{Root: root}, nil
}

// Create makes the RunDir skeleton: the root, state/, and the state subdirs
// written during a round.
func Create(root string) (*RunDir, error) {
	dirs := []string{
		filepath.Join(root, StateDirName),
		filepath.Join(root, StateDirName, SlotDirName),
		filepath.Join(root, StateDirName, DecisionsDirName),
		filepath.Join(root, StateDirName, RepairsDirName),
		filepath.Join(root, StateDirName, InboxDirName),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fault.New(fault.KindRuntimeIO, "runfs.create", err)
		}
	}
	return &RunDir{Root: root}, nil
}

// StateDir returns the state/ subdirectory.
func (r *RunDir) StateDir() string { return filepath.Join(r.Root, StateDirName) }

// ManifestPath returns manifest.json.
func (r *RunDir) ManifestPath() string { return filepath.Join(r.Root, ManifestName) }

// AnchorPath returns mission_anchor.md.
func (r *RunDir) AnchorPath() string { return filepath.Join(r.Root, AnchorName) }

// PromptPath returns promptK.txt for seat index k (1-based).
func (r *RunDir) PromptPath(seat int) string {
	return filepath.Join(r.Root, fmt.Sprintf("prompt%d.txt", seat))
}

// SeatOutPath returns roundR_agentK.md for round r, seat k.
func (r *RunDir) SeatOutPath(round, seat int) string {
	return filepath.Join(r.Root, fmt.Sprintf("round%d_agent%d.md", round, seat))
}

// DigestPath returns roundR_digest.md.
func (r *RunDir) DigestPath(round int) string {
	return filepath.Join(r.Root, fmt.Sprintf("round%d_digest.md", round))
}

// MetricsPath returns state/agent_metrics.jsonl.
func (r *RunDir) MetricsPath() string { return filepath.Join(r.StateDir(), MetricsName) }

// ConcurrencyPath returns state/concurrency.json.
func (r *RunDir) ConcurrencyPath() string { return filepath.Join(r.StateDir(), ConcurrencyName) }

// SlotDir returns state/local_slots.
func (r *RunDir) SlotDir() string { return filepath.Join(r.StateDir(), SlotDirName) }

// DecisionPath returns state/decisions/roundR_agentK.json.
func (r *RunDir) DecisionPath(round, seat int) string {
	return filepath.Join(r.StateDir(), DecisionsDirName, fmt.Sprintf("round%d_agent%d.json", round, seat))
}

// DecisionsReportPath returns state/decisions_roundR.json.
func (r *RunDir) DecisionsReportPath(round int) string {
	return filepath.Join(r.StateDir(), fmt.Sprintf("decisions_round%d.json", round))
}

// RepairPath returns state/repairs/roundR_agentK_repairA.md.
func (r *RunDir) RepairPath(round, seat, attempt int) string {
	return filepath.Join(r.StateDir(), RepairsDirName,
		fmt.Sprintf("round%d_agent%d_repair%d.md", round, seat, attempt))
}

// PatchReportPath returns state/patch_apply_roundR.json.
func (r *RunDir) PatchReportPath(round int) string {
	return filepath.Join(r.StateDir(), fmt.Sprintf("patch_apply_round%d.json", round))
}

// VerdictsPath returns state/verdicts_roundR.json, written by an external
// supervisor when one is configured.
func (r *RunDir) VerdictsPath(round int) string {
	return filepath.Join(r.StateDir(), fmt.Sprintf("verdicts_round%d.json", round))
}

// VerifyReportPath returns state/verify_report.json.
func (r *RunDir) VerifyReportPath() string { return filepath.Join(r.StateDir(), VerifyReportName) }

// WorldStatePath returns state/world_state.json.
func (r *RunDir) WorldStatePath() string { return filepath.Join(r.StateDir(), WorldStateName) }

// ProvidersPath returns state/providers.json (breaker state).
func (r *RunDir) ProvidersPath() string { return filepath.Join(r.StateDir(), ProvidersName) }

// ApprovalsPath returns state/approvals.jsonl.
func (r *RunDir) ApprovalsPath() string { return filepath.Join(r.StateDir(), ApprovalsName) }

// ActionsPath returns state/actions.jsonl.
func (r *RunDir) ActionsPath() string { return filepath.Join(r.StateDir(), ActionsName) }

// InboxDir returns state/inbox, where accepted action requests are enqueued.
func (r *RunDir) InboxDir() string { return filepath.Join(r.StateDir(), InboxDirName) }

// StopPath returns state/STOP, the run-scoped stop flag.
func (r *RunDir) StopPath() string { return filepath.Join(r.StateDir(), StopName) }

// EnricherOutPath returns state/enrich_roundR_<name>.json.
func (r *RunDir) EnricherOutPath(round int, name string) string {
	return filepath.Join(r.StateDir(), fmt.Sprintf("enrich_round%d_%s.json", round, name))
}

// MarkerPath returns a terminal marker file (e.g. STOPPED, FAILED).
func (r *RunDir) MarkerPath(name string) string {
	return filepath.Join(r.StateDir(), name)
}

// WriteAtomic writes data to path via temp file + rename so readers observe
// either the previous committed content or the new one, never a partial
// write.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fault.New(fault.KindRuntimeIO, "runfs.write", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fault.New(fault.KindRuntimeIO, "runfs.write", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fault.New(fault.KindRuntimeIO, "runfs.write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fault.New(fault.KindRuntimeIO, "runfs.write", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fault.New(fault.KindRuntimeIO, "runfs.write", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fault.New(fault.KindRuntimeIO, "runfs.write", err)
	}
	return nil
}

// WriteJSON atomically writes v as indented JSON.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fault.New(fault.KindRuntimeIO, "runfs.write", err)
	}
	return WriteAtomic(path, append(data, '\n'))
}

// ReadJSON reads path into v. A missing file returns os.ErrNotExist wrapped
// as runtime_io; callers that treat absence as empty check with os.IsNotExist
// on the unwrapped cause.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fault.New(fault.KindRuntimeIO, "runfs.read", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fault.New(fault.KindRuntimeIO, "runfs.read", err)
	}
	return nil
}
