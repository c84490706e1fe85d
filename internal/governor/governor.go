// Package governor enforces local parallelism caps. Seats gate on K slot
// files under state/local_slots/; a recommender reads the metrics stream and
// lowers the caps when the host is stressed. It never raises them.
package governor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"council/internal/fault"
	"council/internal/logging"
)

// Config bounds slot acquisition.
type Config struct {
	// MaxLocal is K, the number of slot files.
	MaxLocal int
	// SlotWait bounds one Acquire, memory-floor waiting included.
	SlotWait time.Duration
	// MinFreeMemMB is the memory floor sampled before each acquire.
	MinFreeMemMB int
	// StaleLockGrace is how old a dead holder's lock must be before the next
	// acquirer may reap it.
	StaleLockGrace time.Duration
}

// DefaultConfig returns the governor defaults.
func DefaultConfig() Config {
	return Config{
		MaxLocal:       4,
		SlotWait:       60 * time.Second,
		MinFreeMemMB:   1200,
		StaleLockGrace: 120 * time.Second,
	}
}

// SlotInfo is the lock file's content, enough to identify and reap a holder.
type SlotInfo struct {
	PID  int     `json:"pid"`
	Seat string  `json:"seat"`
	TS   float64 `json:"ts"`
}

// Slot is a held slot. Release deletes the lock file.
type Slot struct {
	Index int
	path  string
}

// Release frees the slot for the next acquirer.
func (s *Slot) Release() error {
	if s == nil || s.path == "" {
		return nil
	}
	err := os.Remove(s.path)
	s.path = ""
	if err != nil && !os.IsNotExist(err) {
		return fault.New(fault.KindRuntimeIO, "governor.release", err)
	}
	return nil
}

// Governor hands out slots from one slot directory.
type Governor struct {
	cfg   Config
	dir   string
	probe Probe
	clock func() time.Time
	poll  time.Duration
}

// New returns a governor over the slot directory, filling zero config fields
// from the defaults.
func New(slotDir string, cfg Config) *Governor {
	def := DefaultConfig()
	if cfg.MaxLocal <= 0 {
		cfg.MaxLocal = def.MaxLocal
	}
	if cfg.SlotWait <= 0 {
		cfg.SlotWait = def.SlotWait
	}
	if cfg.StaleLockGrace <= 0 {
		cfg.StaleLockGrace = def.StaleLockGrace
	}
	return &Governor{
		cfg:   cfg,
		dir:   slotDir,
		probe: SystemProbe{},
		clock: time.Now,
		poll:  250 * time.Millisecond,
	}
}

// WithProbe overrides the system probe. Test hook.
func (g *Governor) WithProbe(p Probe) *Governor {
	g.probe = p
	return g
}

// Acquire blocks until a slot is exclusively created or the wait window
// elapses. The wait spent is returned either way; exhausting the window is a
// local_overload.
func (g *Governor) Acquire(ctx context.Context, seat string) (*Slot, time.Duration, error) {
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return nil, 0, fault.New(fault.KindRuntimeIO, "governor.acquire", err)
	}

	start := g.clock()
	deadline := start.Add(g.cfg.SlotWait)
	memLogged := false

	for {
		if ctx.Err() != nil {
			return nil, g.clock().Sub(start), fault.New(fault.KindStopRequested, "governor.acquire", ctx.Err())
		}

		if g.memBelowFloor() {
			if !memLogged {
				logging.Governor("seat %s waiting: free memory below %d MB floor", seat, g.cfg.MinFreeMemMB)
				memLogged = true
			}
		} else {
			if slot := g.tryAcquire(seat); slot != nil {
				waited := g.clock().Sub(start)
				logging.GovernorDebug("seat %s acquired slot %d after %s", seat, slot.Index, waited.Round(time.Millisecond))
				return slot, waited, nil
			}
			if g.reapStale() > 0 {
				continue
			}
		}

		if g.clock().After(deadline) {
			waited := g.clock().Sub(start)
			logging.GovernorWarn("seat %s overloaded: no slot within %s", seat, g.cfg.SlotWait)
			return nil, waited, fault.Errorf(fault.KindLocalOverload, "governor.acquire",
				"no slot within %s (K=%d)", g.cfg.SlotWait, g.cfg.MaxLocal)
		}

		select {
		case <-ctx.Done():
		case <-time.After(g.poll):
		}
	}
}

// tryAcquire attempts each slot index once. Exclusive create is the mutual
// exclusion: at most K lock files can ever exist.
func (g *Governor) tryAcquire(seat string) *Slot {
	for i := 1; i <= g.cfg.MaxLocal; i++ {
		path := filepath.Join(g.dir, fmt.Sprintf("slot%d.lock", i))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			continue
		}
		info := SlotInfo{
			PID:  os.Getpid(),
			Seat: seat,
			TS:   float64(g.clock().UnixNano()) / float64(time.Second),
		}
		data, _ := json.Marshal(info)
		f.Write(data)
		f.Close()
		return &Slot{Index: i, path: path}
	}
	return nil
}

// reapStale removes locks whose holder pid is gone and whose age exceeds the
// grace period. Returns how many were reaped.
func (g *Governor) reapStale() int {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return 0
	}
	now := g.clock()
	reaped := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "slot") || !strings.HasSuffix(name, ".lock") {
			continue
		}
		path := filepath.Join(g.dir, name)

		var info SlotInfo
		data, err := os.ReadFile(path)
		if err != nil || json.Unmarshal(data, &info) != nil || info.PID == 0 {
			// Unreadable lock: fall back to file age.
			if st, err := os.Stat(path); err == nil && now.Sub(st.ModTime()) > g.cfg.StaleLockGrace {
				if os.Remove(path) == nil {
					logging.GovernorWarn("reaped unreadable slot lock %s", name)
					reaped++
				}
			}
			continue
		}

		age := now.Sub(time.Unix(0, int64(info.TS*float64(time.Second))))
		if age <= g.cfg.StaleLockGrace {
			continue
		}
		if alive, err := g.probe.PIDAlive(info.PID); err == nil && alive {
			continue
		}
		if os.Remove(path) == nil {
			logging.GovernorWarn("reaped stale slot lock %s (pid %d dead, held %s)", name, info.PID, age.Round(time.Second))
			reaped++
		}
	}
	return reaped
}

// Held returns the current slot holders.
func (g *Governor) Held() ([]SlotInfo, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.New(fault.KindRuntimeIO, "governor.held", err)
	}
	var held []SlotInfo
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "slot") || !strings.HasSuffix(name, ".lock") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "slot"), ".lock"))
		if err != nil || idx < 1 {
			continue
		}
		var info SlotInfo
		if data, err := os.ReadFile(filepath.Join(g.dir, name)); err == nil {
			json.Unmarshal(data, &info)
		}
		held = append(held, info)
	}
	return held, nil
}

func (g *Governor) memBelowFloor() bool {
	if g.cfg.MinFreeMemMB <= 0 {
		return false
	}
	free, err := g.probe.AvailableMemMB()
	if err != nil {
		return false
	}
	return free < g.cfg.MinFreeMemMB
}
