package runfs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"council/internal/logging"
)

// StopCheck polls the cooperative stop flags: the repo-global STOP file, the
// runs-root (namespace) STOP file, and the RunDir's state/STOP. Presence of
// any one requests termination. Forced mirrors STOP_ALL.
type StopCheck struct {
	paths  []string
	forced bool
}

// NewStopCheck builds the standard three-flag check. run may be nil for
// commands that operate outside a RunDir.
func NewStopCheck(repoRoot, runsRoot string, run *RunDir, forced bool) *StopCheck {
	paths := make([]string, 0, 3)
	if repoRoot != "" {
		paths = append(paths, filepath.Join(repoRoot, StopName))
	}
	if runsRoot != "" {
		paths = append(paths, filepath.Join(runsRoot, StopName))
	}
	if run != nil {
		paths = append(paths, run.StopPath())
	}
	return &StopCheck{paths: paths, forced: forced}
}

// Stopped reports whether any stop flag is present and which path tripped
// ("STOP_ALL" when forced by environment).
func (s *StopCheck) Stopped() (bool, string) {
	if s.forced {
		return true, "STOP_ALL"
	}
	for _, p := range s.paths {
		if _, err := os.Stat(p); err == nil {
			return true, p
		}
	}
	return false, ""
}

// Watch delivers the tripping flag path on the returned channel. It combines
// an fsnotify watcher on the flag parent directories with a coarse poll so a
// flag created before the watcher started is still observed. The channel
// closes when ctx ends. Callers still poll Stopped() at state boundaries;
// Watch only narrows the latency inside long waits.
func (s *StopCheck) Watch(ctx context.Context, pollEvery time.Duration) <-chan string {
	out := make(chan string, 1)

	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.RoundWarn("stop watcher unavailable, polling only: %v", err)
		watcher = nil
	}
	if watcher != nil {
		for _, p := range s.paths {
			// Watch the parent; the flag file rarely exists yet.
			if err := watcher.Add(filepath.Dir(p)); err != nil {
				logging.RoundDebug("stop watch add %s: %v", filepath.Dir(p), err)
			}
		}
	}

	// A nil events channel blocks forever, which degrades to poll-only.
	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	go func() {
		defer close(out)
		if watcher != nil {
			defer watcher.Close()
		}

		ticker := time.NewTicker(pollEvery)
		defer ticker.Stop()

		emit := func(reason string) {
			select {
			case out <- reason:
			default:
			}
		}

		// Immediate check covers flags that predate the watch.
		if stopped, reason := s.Stopped(); stopped {
			emit(reason)
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if stopped, reason := s.Stopped(); stopped {
					emit(reason)
					return
				}
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if ev.Op&fsnotify.Create == 0 && ev.Op&fsnotify.Write == 0 {
					continue
				}
				if filepath.Base(ev.Name) != StopName {
					continue
				}
				if stopped, reason := s.Stopped(); stopped {
					emit(reason)
					return
				}
			}
		}
	}()

	return out
}
