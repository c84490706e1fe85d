package action

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"time"

	"council/internal/fault"
	"council/internal/logging"
	"council/internal/runfs"
)

// Approval is one HITL authorization row in approvals.jsonl.
type Approval struct {
	ActionID string  `json:"action_id"`
	Kind     string  `json:"kind,omitempty"`
	Actor    string  `json:"actor"`
	Note     string  `json:"note,omitempty"`
	TS       float64 `json:"ts"`
}

// AppendApproval appends a to the approvals file, stamping TS when unset.
func AppendApproval(path string, a Approval) error {
	if a.ActionID == "" {
		return fault.Errorf(fault.KindRuntimeIO, "action.approve", "empty action_id")
	}
	if a.TS == 0 {
		a.TS = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	line, err := json.Marshal(a)
	if err != nil {
		return fault.New(fault.KindRuntimeIO, "action.approve", err)
	}
	if err := runfs.AppendLocked(path, line); err != nil {
		return err
	}
	logging.Action("approval recorded: %s kind=%s actor=%s", a.ActionID, a.Kind, a.Actor)
	return nil
}

// ReadApprovals returns every parseable row. A missing file is an empty list.
func ReadApprovals(path string) ([]Approval, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.New(fault.KindRuntimeIO, "action.approvals", err)
	}
	defer f.Close()

	var rows []Approval
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var a Approval
		if err := json.Unmarshal(line, &a); err != nil {
			continue
		}
		rows = append(rows, a)
	}
	if err := sc.Err(); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "action.approvals", err)
	}
	return rows, nil
}

// HasApproval reports whether any row matches actionID, and kind when kind
// is non-empty. Presence of one matching row grants authorization.
func HasApproval(path, actionID, kind string) (bool, error) {
	rows, err := ReadApprovals(path)
	if err != nil {
		return false, err
	}
	for _, a := range rows {
		if a.ActionID != actionID {
			continue
		}
		if kind != "" && a.Kind != "" && a.Kind != kind {
			continue
		}
		return true, nil
	}
	return false, nil
}
