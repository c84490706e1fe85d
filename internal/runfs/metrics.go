package runfs

import (
	"bufio"
	"encoding/json"
	"os"
	"time"
)

// SeatMetric is one line of state/agent_metrics.jsonl: the per-seat
// observation the governor's recommender aggregates.
type SeatMetric struct {
	TS            float64 `json:"ts"`
	Round         int     `json:"round"`
	Seat          int     `json:"seat"`
	Role          string  `json:"role,omitempty"`
	DurationS     float64 `json:"duration_s"`
	SlotWaitS     float64 `json:"local_slot_wait_s"`
	OK            bool    `json:"ok"`
	Error         string  `json:"error,omitempty"`
	Provider      string  `json:"provider,omitempty"`
	Model         string  `json:"model,omitempty"`
	LocalOverload bool    `json:"local_overload,omitempty"`
}

// AppendMetric appends one metric line under the metrics file lock.
func (r *RunDir) AppendMetric(m SeatMetric) error {
	if m.TS == 0 {
		m.TS = float64(time.Now().UnixNano()) / 1e9
	}
	line, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return AppendLocked(r.MetricsPath(), line)
}

// ReadMetrics loads every parseable metric line. Corrupt lines are skipped;
// a missing file yields an empty slice.
func (r *RunDir) ReadMetrics() ([]SeatMetric, error) {
	f, err := os.Open(r.MetricsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []SeatMetric
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m SeatMetric
		if err := json.Unmarshal(line, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, sc.Err()
}
