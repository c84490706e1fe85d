// Package mission turns a free-form task string into a runnable mission:
// a deterministic team of 3..7 roles and a populated RunDir (manifest,
// anchor, per-seat prompts).
package mission

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"council/internal/config"
	"council/internal/fault"
	"council/internal/logging"
	"council/internal/runfs"
)

// Core roles seeded into every team.
const (
	RoleArchitect = "Architect"
	RoleEngineer  = "Engineer"
	RoleTester    = "Tester"
	RoleCritic    = "Critic"
)

// Situational roles appended when the prompt carries their markers.
const (
	RoleResearchLead = "ResearchLead"
	RoleSecurity     = "Security"
	RoleRelease      = "Release"
	RoleOps          = "Ops"
	RoleDocs         = "Docs"
)

const (
	minTeam = 3
	maxTeam = 7
)

// Mission is immutable once created.
type Mission struct {
	ID          string
	Prompt      string
	Team        []string
	MaxRounds   int
	MaxParallel int
	Online      bool
	Strict      bool
	CreatedAt   time.Time
}

// Manifest is the durable record of a mission's intake parameters,
// written once at InitRun.
type Manifest struct {
	MissionID   string    `json:"mission_id"`
	CreatedAt   time.Time `json:"created_at"`
	Team        []string  `json:"team"`
	MaxRounds   int       `json:"max_rounds"`
	MaxParallel int       `json:"max_parallel"`
	SeatTimeout string    `json:"seat_timeout"`
	Online      bool      `json:"online"`
	Strict      bool      `json:"strict"`
	Providers   []string  `json:"providers"`
}

// New validates the prompt and assembles a mission from config bounds.
func New(prompt string, cfg *config.Config) (*Mission, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fault.Errorf(fault.KindInvalidMission, "mission.new", "empty mission prompt")
	}
	m := &Mission{
		ID:          uuid.NewString(),
		Prompt:      prompt,
		Team:        CompileTeam(prompt),
		MaxRounds:   cfg.Mission.MaxRounds,
		MaxParallel: cfg.Mission.MaxParallel,
		Online:      cfg.Mission.Online,
		Strict:      cfg.Mission.Strict,
		CreatedAt:   time.Now().UTC(),
	}
	logging.Mission("mission %s: team=%v rounds=%d parallel=%d online=%v",
		m.ID[:8], m.Team, m.MaxRounds, m.MaxParallel, m.Online)
	return m, nil
}

// marker → role, checked in a fixed order so the same prompt always
// yields the same team.
type roleMarker struct {
	role    string
	markers []string
}

var situational = []roleMarker{
	{RoleResearchLead, []string{"research", "investigate", "survey", "compare", "evaluate"}},
	{RoleSecurity, []string{"security", "secret", "auth", "vulnerab", "crypto", "sandbox"}},
	{RoleRelease, []string{"release", "version", "changelog", "publish", "tag "}},
	{RoleOps, []string{"deploy", "docker", "kubernetes", "monitor", "infra", "ci "}},
	{RoleDocs, []string{"readme", "documentation", "docs", "guide", "tutorial"}},
}

// CompileTeam maps a prompt to an ordered, de-duplicated team. The four
// core roles always lead; situational roles follow their marker order;
// the result is clamped to [3,7].
func CompileTeam(prompt string) []string {
	team := []string{RoleArchitect, RoleEngineer, RoleTester, RoleCritic}
	seen := map[string]bool{}
	for _, r := range team {
		seen[r] = true
	}
	lower := strings.ToLower(prompt)
	for _, rm := range situational {
		if seen[rm.role] {
			continue
		}
		for _, marker := range rm.markers {
			if strings.Contains(lower, marker) {
				team = append(team, rm.role)
				seen[rm.role] = true
				break
			}
		}
	}
	if len(team) > maxTeam {
		team = team[:maxTeam]
	}
	return team
}

// InitRun creates the RunDir for a mission and populates it: manifest,
// mission anchor, and one prompt file per seat.
func InitRun(m *Mission, runRoot string, cfg *config.Config) (*runfs.RunDir, error) {
	run, err := runfs.Create(runRoot)
	if err != nil {
		return nil, err
	}

	providers := make([]string, 0, len(cfg.Router.Providers))
	for _, p := range cfg.Router.Providers {
		providers = append(providers, p.Name)
	}
	manifest := Manifest{
		MissionID:   m.ID,
		CreatedAt:   m.CreatedAt,
		Team:        m.Team,
		MaxRounds:   m.MaxRounds,
		MaxParallel: m.MaxParallel,
		SeatTimeout: cfg.Mission.SeatTimeout,
		Online:      m.Online,
		Strict:      m.Strict,
		Providers:   providers,
	}
	if err := runfs.WriteJSON(run.ManifestPath(), manifest); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "mission.init", err)
	}

	anchor := "# Mission\n\n" + m.Prompt + "\n"
	if err := runfs.WriteAtomic(run.AnchorPath(), []byte(anchor)); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "mission.init", err)
	}

	for seat := 1; seat <= len(m.Team); seat++ {
		body := ComposeSeatPrompt(m.Team[seat-1], seat, m.Team, m.Prompt)
		if err := runfs.WriteAtomic(run.PromptPath(seat), []byte(body)); err != nil {
			return nil, fault.New(fault.KindRuntimeIO, "mission.init", err)
		}
	}
	logging.Mission("run initialized at %s (%d seats)", run.Root, len(m.Team))
	return run, nil
}

// ReadManifest loads the manifest back from a RunDir.
func ReadManifest(run *runfs.RunDir) (*Manifest, error) {
	var m Manifest
	if err := runfs.ReadJSON(run.ManifestPath(), &m); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "mission.manifest", err)
	}
	return &m, nil
}
