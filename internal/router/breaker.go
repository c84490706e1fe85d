package router

import (
	"time"

	"council/internal/logging"
	"council/internal/runfs"
)

// ProviderState is one provider's breaker record in state/providers.json.
// OpenUntil and LastOK are unix seconds and merge monotonically; LastErr is
// best-effort and may lose a concurrent update.
type ProviderState struct {
	OpenUntil float64 `json:"open_until,omitempty"`
	LastOK    float64 `json:"last_ok,omitempty"`
	LastErr   string  `json:"last_err,omitempty"`
	Failures  int     `json:"failures,omitempty"`
	Successes int     `json:"successes,omitempty"`
}

type breakerFile struct {
	Providers map[string]ProviderState `json:"providers"`
}

// Breaker is the time-based circuit breaker. A failure opens the provider
// for a fixed window; there is no half-open probe, the first natural attempt
// after the window is the probe. Disk is the source of truth.
type Breaker struct {
	path   string
	window time.Duration
	clock  func() time.Time
}

// NewBreaker returns a breaker persisting at path with the given open
// window (default 120s).
func NewBreaker(path string, window time.Duration) *Breaker {
	if window <= 0 {
		window = 120 * time.Second
	}
	return &Breaker{path: path, window: window, clock: time.Now}
}

// WithClock overrides the time source. Test hook.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// IsOpen reports whether name's open window is still running.
func (b *Breaker) IsOpen(name string) bool {
	state := b.load().Providers[name]
	if state.OpenUntil == 0 {
		return false
	}
	return b.now() < state.OpenUntil
}

// RecordFailure opens name for the window. Concurrent writers converge on
// the later open_until.
func (b *Breaker) RecordFailure(name string, err error) {
	file := b.load()
	state := file.Providers[name]

	openUntil := b.now() + b.window.Seconds()
	if openUntil > state.OpenUntil {
		state.OpenUntil = openUntil
	}
	if err != nil {
		state.LastErr = err.Error()
	}
	state.Failures++
	file.Providers[name] = state
	b.store(file)
	logging.RouterWarn("breaker open: %s for %s (failures=%d)", name, b.window, state.Failures)
}

// RecordSuccess clears name's open window.
func (b *Breaker) RecordSuccess(name string) {
	file := b.load()
	state := file.Providers[name]

	state.OpenUntil = 0
	now := b.now()
	if now > state.LastOK {
		state.LastOK = now
	}
	state.Successes++
	file.Providers[name] = state
	b.store(file)
}

// State returns the current record for name.
func (b *Breaker) State(name string) ProviderState {
	return b.load().Providers[name]
}

func (b *Breaker) now() float64 {
	return float64(b.clock().UnixNano()) / float64(time.Second)
}

func (b *Breaker) load() breakerFile {
	var file breakerFile
	if err := runfs.ReadJSON(b.path, &file); err != nil || file.Providers == nil {
		file.Providers = make(map[string]ProviderState)
	}
	return file
}

func (b *Breaker) store(file breakerFile) {
	if err := runfs.WriteJSON(b.path, file); err != nil {
		logging.RouterWarn("breaker state write failed: %v", err)
	}
}
