// Package store is the mission archive: one sqlite file under the runs
// root recording mission and round outcomes for `council history`.
package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"council/internal/fault"
	"council/internal/logging"
)

// Mission status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
	StatusStopped  = "stopped"
)

// MissionRow is one archived mission.
type MissionRow struct {
	ID         string   `json:"id"`
	Prompt     string   `json:"prompt"`
	Team       []string `json:"team"`
	RunDir     string   `json:"run_dir"`
	Rounds     int      `json:"rounds"`
	Status     string   `json:"status"`
	StartedAt  float64  `json:"started_at"`
	FinishedAt float64  `json:"finished_at,omitempty"`
}

// RoundRow is one archived round outcome.
type RoundRow struct {
	MissionID string `json:"mission_id"`
	Round     int    `json:"round"`
	Winner    int    `json:"winner"`
	Extracted int    `json:"extracted"`
	Missing   int    `json:"missing"`
	Applied   bool   `json:"applied"`
	VerifyRan bool   `json:"verify_ran"`
	VerifyOK  bool   `json:"verify_ok"`
}

// ArchivePath returns the archive database location under a runs root.
func ArchivePath(runsRoot string) string {
	return filepath.Join(runsRoot, "archive.db")
}

// Archive wraps the sqlite handle. Writes serialize through the mutex;
// the archive is advisory and never on the round's critical path.
type Archive struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open creates or opens the archive database, creating parent
// directories and the schema as needed.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "store.open", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "store.open", err)
	}
	a := &Archive{db: db, path: path}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("archive open at %s", path)
	return a, nil
}

func (a *Archive) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS missions (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		team TEXT NOT NULL,
		run_dir TEXT NOT NULL,
		rounds INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		started_at REAL NOT NULL,
		finished_at REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_missions_started ON missions(started_at);

	CREATE TABLE IF NOT EXISTS rounds (
		mission_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		winner INTEGER NOT NULL DEFAULT 0,
		extracted INTEGER NOT NULL DEFAULT 0,
		missing INTEGER NOT NULL DEFAULT 0,
		applied INTEGER NOT NULL DEFAULT 0,
		verify_ran INTEGER NOT NULL DEFAULT 0,
		verify_ok INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (mission_id, round)
	);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fault.New(fault.KindRuntimeIO, "store.init", err)
	}
	return nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Path returns the database file path.
func (a *Archive) Path() string { return a.path }

// BeginMission records a mission at intake with status running.
func (a *Archive) BeginMission(m MissionRow) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	team, err := json.Marshal(m.Team)
	if err != nil {
		return fault.New(fault.KindRuntimeIO, "store.begin", err)
	}
	_, err = a.db.Exec(`
		INSERT OR REPLACE INTO missions
			(id, prompt, team, run_dir, rounds, status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Prompt, string(team), m.RunDir, m.Rounds, m.Status, m.StartedAt, m.FinishedAt)
	if err != nil {
		return fault.New(fault.KindRuntimeIO, "store.begin", err)
	}
	return nil
}

// FinishMission settles a mission's terminal status and round count.
func (a *Archive) FinishMission(id, status string, rounds int, finishedAt float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(`
		UPDATE missions SET status = ?, rounds = ?, finished_at = ? WHERE id = ?`,
		status, rounds, finishedAt, id)
	if err != nil {
		return fault.New(fault.KindRuntimeIO, "store.finish", err)
	}
	return nil
}

// RecordRound upserts one round's outcome.
func (a *Archive) RecordRound(r RoundRow) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(`
		INSERT OR REPLACE INTO rounds
			(mission_id, round, winner, extracted, missing, applied, verify_ran, verify_ok)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MissionID, r.Round, r.Winner, r.Extracted, r.Missing,
		boolInt(r.Applied), boolInt(r.VerifyRan), boolInt(r.VerifyOK))
	if err != nil {
		return fault.New(fault.KindRuntimeIO, "store.round", err)
	}
	return nil
}

// RecentMissions lists missions newest-first.
func (a *Archive) RecentMissions(limit int) ([]MissionRow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(`
		SELECT id, prompt, team, run_dir, rounds, status, started_at, finished_at
		FROM missions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "store.recent", err)
	}
	defer rows.Close()

	var out []MissionRow
	for rows.Next() {
		var m MissionRow
		var team string
		if err := rows.Scan(&m.ID, &m.Prompt, &team, &m.RunDir, &m.Rounds,
			&m.Status, &m.StartedAt, &m.FinishedAt); err != nil {
			return nil, fault.New(fault.KindRuntimeIO, "store.recent", err)
		}
		if err := json.Unmarshal([]byte(team), &m.Team); err != nil {
			m.Team = nil
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "store.recent", err)
	}
	return out, nil
}

// Rounds lists one mission's rounds in order.
func (a *Archive) Rounds(missionID string) ([]RoundRow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(`
		SELECT mission_id, round, winner, extracted, missing, applied, verify_ran, verify_ok
		FROM rounds WHERE mission_id = ? ORDER BY round`, missionID)
	if err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "store.rounds", err)
	}
	defer rows.Close()

	var out []RoundRow
	for rows.Next() {
		var r RoundRow
		var applied, ran, ok int
		if err := rows.Scan(&r.MissionID, &r.Round, &r.Winner, &r.Extracted,
			&r.Missing, &applied, &ran, &ok); err != nil {
			return nil, fault.New(fault.KindRuntimeIO, "store.rounds", err)
		}
		r.Applied, r.VerifyRan, r.VerifyOK = applied != 0, ran != 0, ok != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "store.rounds", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
