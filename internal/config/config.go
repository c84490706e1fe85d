// Package config centralizes council configuration. The Config record is
// populated once at startup (YAML file + environment overrides) and handed to
// components; downstream code never reads the environment directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all council configuration.
type Config struct {
	// RepoRoot is the repository the council operates on. Empty means the
	// current working directory at startup.
	RepoRoot string `yaml:"repo_root"`

	// RunsRoot is where RunDirs, logs, and the archive live. Defaults to
	// <repo_root>/.council.
	RunsRoot string `yaml:"runs_root"`

	Mission  MissionConfig  `yaml:"mission"`
	Governor GovernorConfig `yaml:"governor"`
	Router   RouterConfig   `yaml:"router"`
	Decision DecisionConfig `yaml:"decision"`
	Patch    PatchConfig    `yaml:"patch"`
	Verify   VerifyConfig   `yaml:"verify"`
	Scan     ScanConfig     `yaml:"scan"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Actions  ActionsConfig  `yaml:"actions"`
	Enrich   EnrichConfig   `yaml:"enrich"`
	Logging  LoggingConfig  `yaml:"logging"`

	// StopAll mirrors the STOP_ALL environment variable: when set the
	// orchestrator treats it as a present global stop flag.
	StopAll bool `yaml:"-"`
}

// MissionConfig bounds a single mission run.
type MissionConfig struct {
	MaxRounds   int    `yaml:"max_rounds"`
	MaxParallel int    `yaml:"max_parallel"`
	Strict      bool   `yaml:"strict"`
	Online      bool   `yaml:"online"`
	SeatTimeout string `yaml:"seat_timeout"`
}

// GovernorConfig bounds local concurrency.
type GovernorConfig struct {
	// MaxLocal is the slot count K under state/local_slots/.
	MaxLocal int `yaml:"max_local"`

	// SlotWait is how long a seat waits for a slot before raising
	// local_overload.
	SlotWait string `yaml:"slot_wait"`

	// MinFreeMemMB is the memory floor: acquisition pauses while available
	// physical memory is below it.
	MinFreeMemMB int `yaml:"min_free_mem_mb"`

	// StaleLockGrace is how long a dead holder's lock survives before the
	// next acquirer may reap it.
	StaleLockGrace string `yaml:"stale_lock_grace"`
}

// ProviderSpec configures one entry of the router's ordered fallback list.
type ProviderSpec struct {
	// Name identifies the provider ("gemini", "openai-compat", "cli",
	// "local"). Breaker state is keyed by this name.
	Name string `yaml:"name"`

	// Engine selects the client implementation; defaults to Name.
	Engine string `yaml:"engine"`

	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the key; resolved
	// once at startup into APIKey.
	APIKeyEnv string `yaml:"api_key_env"`
	APIKey    string `yaml:"-"`

	// Argv is the subprocess command for the cli engine.
	Argv []string `yaml:"argv"`

	// Retries is the extra attempts after the first (retries+1 total).
	Retries int `yaml:"retries"`

	// Online marks providers that need network; offline missions skip them.
	Online bool `yaml:"online"`
}

// RouterConfig configures provider fallback and the circuit breaker.
type RouterConfig struct {
	Providers     []ProviderSpec `yaml:"providers"`
	BreakerWindow string         `yaml:"breaker_window"`
}

// DecisionConfig configures extraction and the repair sub-round.
type DecisionConfig struct {
	// RepairAttempts caps repair sub-rounds per seat.
	RepairAttempts int `yaml:"repair_attempts"`

	// RepairTailBytes is how much of the seat's prior output the repair
	// prompt carries.
	RepairTailBytes int `yaml:"repair_tail_bytes"`

	RepairTimeout string `yaml:"repair_timeout"`
}

// PatchConfig configures the edit surface and approvals gate.
type PatchConfig struct {
	// EditSurface lists repo-relative prefixes a patch may touch.
	EditSurface []string `yaml:"edit_surface"`

	// RequireApproval gates patch apply on a matching HITL approval row.
	RequireApproval bool `yaml:"require_approval"`
}

// CheckSpec is one verify-pipeline command.
type CheckSpec struct {
	Name string   `yaml:"name"`
	Argv []string `yaml:"argv"`
}

// VerifyConfig configures the post-apply check pipeline.
type VerifyConfig struct {
	// Checks override the default pipeline when non-empty.
	Checks []CheckSpec `yaml:"checks"`

	// TailBytes bounds captured stdout/stderr per check.
	TailBytes int `yaml:"tail_bytes"`

	CheckTimeout string `yaml:"check_timeout"`
}

// ScanConfig configures the secret/risk scanner.
type ScanConfig struct {
	// AllowRisky downgrades risk-pattern hits from blocking to warnings.
	// Secret patterns always block.
	AllowRisky bool `yaml:"allow_risky"`
}

// LedgerConfig configures the evidence ledger.
type LedgerConfig struct {
	// Path is the ledger file; defaults to <runs_root>/evidence.jsonl.
	Path string `yaml:"path"`

	// ActiveKeyID names the signing key inside Keys.
	ActiveKeyID string `yaml:"active_key_id"`

	// Keys is the key ring (key_id -> secret). Populated from YAML and the
	// EVIDENCE_HMAC_* environment variables.
	Keys map[string]string `yaml:"keys"`

	// SigningRequired fails appends closed when no active key is configured.
	SigningRequired bool `yaml:"signing_required"`

	// SinkPath mirrors each appended line to a local file.
	SinkPath string `yaml:"sink_path"`

	// SinkURL POSTs each appended line to an HTTP endpoint.
	SinkURL string `yaml:"sink_url"`
}

// ActionsConfig configures the idempotency store.
type ActionsConfig struct {
	// TTL is the dedupe window for action ids.
	TTL string `yaml:"ttl"`
}

// EnrichConfig configures post-round enrichers.
type EnrichConfig struct {
	// Enabled lists enricher names to run after each round, in order.
	Enabled []string `yaml:"enabled"`

	// Timeout bounds each enricher individually.
	Timeout string `yaml:"timeout"`

	// ScriptDir holds yaegi-interpreted enricher scripts; defaults to
	// <runs_root>/enrichers.
	ScriptDir string `yaml:"script_dir"`

	// Commands maps an enricher name to a subprocess argv. A name listed
	// in Enabled resolves builtin first, then here, then ScriptDir.
	Commands map[string][]string `yaml:"commands"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mission: MissionConfig{
			MaxRounds:   3,
			MaxParallel: 3,
			Strict:      false,
			Online:      true,
			SeatTimeout: "900s",
		},
		Governor: GovernorConfig{
			MaxLocal:       4,
			SlotWait:       "60s",
			MinFreeMemMB:   1200,
			StaleLockGrace: "120s",
		},
		Router: RouterConfig{
			Providers: []ProviderSpec{
				{Name: "gemini", Engine: "gemini", Model: "gemini-3-flash-preview", APIKeyEnv: "GEMINI_API_KEY", Retries: 1, Online: true},
				{Name: "openai-compat", Engine: "openai-compat", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY", Retries: 1, Online: true},
				{Name: "local", Engine: "openai-compat", Model: "local", BaseURL: "http://localhost:11434/v1", Retries: 0, Online: false},
			},
			BreakerWindow: "120s",
		},
		Decision: DecisionConfig{
			RepairAttempts:  2,
			RepairTailBytes: 6000,
			RepairTimeout:   "900s",
		},
		Patch: PatchConfig{
			EditSurface:     []string{"cmd/", "internal/", "pkg/", "docs/", "configs/", "scripts/"},
			RequireApproval: false,
		},
		Verify: VerifyConfig{
			TailBytes:    4000,
			CheckTimeout: "300s",
		},
		Scan: ScanConfig{},
		Ledger: LedgerConfig{
			Keys: map[string]string{},
		},
		Actions: ActionsConfig{
			TTL: "336h", // 14 days
		},
		Enrich: EnrichConfig{
			Enabled: []string{"digest"},
			Timeout: "120s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file is absent, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnv()
			return cfg, cfg.normalize()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyEnv()
	return cfg, cfg.normalize()
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ApplyEnv applies recognized environment variables over the loaded values.
func (c *Config) ApplyEnv() {
	if root := os.Getenv("REPO_ROOT"); root != "" {
		c.RepoRoot = root
	}
	if mb := os.Getenv("MIN_FREE_MEM_MB"); mb != "" {
		if v, err := strconv.Atoi(mb); err == nil && v >= 0 {
			c.Governor.MinFreeMemMB = v
		}
	}
	if envTruthy("ALLOW_RISKY_CODE") {
		c.Scan.AllowRisky = true
	}
	if envTruthy("STOP_ALL") {
		c.StopAll = true
	}

	// Evidence signing: single key, key ring, or both.
	if c.Ledger.Keys == nil {
		c.Ledger.Keys = map[string]string{}
	}
	if key := os.Getenv("EVIDENCE_HMAC_KEY"); key != "" {
		id := os.Getenv("EVIDENCE_HMAC_KEY_ID")
		if id == "" {
			id = "default"
		}
		c.Ledger.Keys[id] = key
		c.Ledger.ActiveKeyID = id
	}
	if ring := os.Getenv("EVIDENCE_HMAC_KEYS_JSON"); ring != "" {
		var keys map[string]string
		if err := json.Unmarshal([]byte(ring), &keys); err == nil {
			for id, key := range keys {
				c.Ledger.Keys[id] = key
			}
		}
	}
	if id := os.Getenv("EVIDENCE_HMAC_KEY_ID"); id != "" {
		if _, ok := c.Ledger.Keys[id]; ok {
			c.Ledger.ActiveKeyID = id
		}
	}
	if envTruthy("EVIDENCE_SIGNING_REQUIRED") {
		c.Ledger.SigningRequired = true
	}
	if p := os.Getenv("EVIDENCE_SINK_PATH"); p != "" {
		c.Ledger.SinkPath = p
	}
	if u := os.Getenv("EVIDENCE_SINK_URL"); u != "" {
		c.Ledger.SinkURL = u
	}

	// Provider API keys resolve once here.
	for i := range c.Router.Providers {
		spec := &c.Router.Providers[i]
		if spec.APIKeyEnv != "" {
			spec.APIKey = os.Getenv(spec.APIKeyEnv)
		}
	}
}

// normalize resolves derived paths and clamps out-of-range values.
func (c *Config) normalize() error {
	if c.RepoRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve repo root: %w", err)
		}
		c.RepoRoot = wd
	}
	abs, err := filepath.Abs(c.RepoRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve repo root: %w", err)
	}
	c.RepoRoot = abs

	if c.RunsRoot == "" {
		c.RunsRoot = filepath.Join(c.RepoRoot, ".council")
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.RunsRoot, "evidence.jsonl")
	}
	if c.Enrich.ScriptDir == "" {
		c.Enrich.ScriptDir = filepath.Join(c.RunsRoot, "enrichers")
	}

	if c.Mission.MaxRounds < 1 {
		c.Mission.MaxRounds = 1
	}
	if c.Mission.MaxParallel < 1 {
		c.Mission.MaxParallel = 1
	}
	if c.Governor.MaxLocal < 1 {
		c.Governor.MaxLocal = 1
	}
	if c.Decision.RepairAttempts < 0 {
		c.Decision.RepairAttempts = 0
	}
	return nil
}

// envTruthy reports whether the named variable is set to a non-empty,
// non-"0", non-"false" value.
func envTruthy(name string) bool {
	v := os.Getenv(name)
	return v != "" && v != "0" && v != "false"
}

// Duration getters parse the string fields with a documented fallback, the
// same way the rest of the config surface degrades instead of failing.

// SeatTimeout returns the per-seat hard deadline.
func (c *Config) SeatTimeout() time.Duration {
	return parseDuration(c.Mission.SeatTimeout, 900*time.Second)
}

// SlotWait returns the bounded slot-acquisition wait.
func (c *Config) SlotWait() time.Duration {
	return parseDuration(c.Governor.SlotWait, 60*time.Second)
}

// StaleLockGrace returns the dead-holder reap grace period.
func (c *Config) StaleLockGrace() time.Duration {
	return parseDuration(c.Governor.StaleLockGrace, 120*time.Second)
}

// BreakerWindow returns the per-provider open window after a failure.
func (c *Config) BreakerWindow() time.Duration {
	return parseDuration(c.Router.BreakerWindow, 120*time.Second)
}

// RepairTimeout returns the per-repair-seat deadline.
func (c *Config) RepairTimeout() time.Duration {
	return parseDuration(c.Decision.RepairTimeout, 900*time.Second)
}

// CheckTimeout returns the per-verify-check deadline.
func (c *Config) CheckTimeout() time.Duration {
	return parseDuration(c.Verify.CheckTimeout, 300*time.Second)
}

// ActionTTL returns the idempotency dedupe window.
func (c *Config) ActionTTL() time.Duration {
	return parseDuration(c.Actions.TTL, 14*24*time.Hour)
}

// EnrichTimeout returns the per-enricher deadline.
func (c *Config) EnrichTimeout() time.Duration {
	return parseDuration(c.Enrich.Timeout, 120*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
