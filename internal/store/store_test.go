package store

import (
	"path/filepath"
	"reflect"
	"testing"
)

func openArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "sub", "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestMissionRoundTrip(t *testing.T) {
	a := openArchive(t)
	m := MissionRow{
		ID:        "m-1",
		Prompt:    "rework the cache",
		Team:      []string{"Architect", "Engineer", "Tester", "Critic"},
		RunDir:    "/runs/m-1",
		Status:    StatusRunning,
		StartedAt: 100,
	}
	if err := a.BeginMission(m); err != nil {
		t.Fatal(err)
	}

	got, err := a.RecentMissions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ID != "m-1" || got[0].Status != StatusRunning {
		t.Errorf("row = %+v", got[0])
	}
	if !reflect.DeepEqual(got[0].Team, m.Team) {
		t.Errorf("team = %v, want %v", got[0].Team, m.Team)
	}
}

func TestFinishMissionSettlesStatus(t *testing.T) {
	a := openArchive(t)
	if err := a.BeginMission(MissionRow{ID: "m-1", Prompt: "p", Status: StatusRunning, StartedAt: 100}); err != nil {
		t.Fatal(err)
	}
	if err := a.FinishMission("m-1", StatusComplete, 3, 250); err != nil {
		t.Fatal(err)
	}
	got, err := a.RecentMissions(1)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Status != StatusComplete || got[0].Rounds != 3 || got[0].FinishedAt != 250 {
		t.Errorf("row = %+v", got[0])
	}
}

func TestRecentMissionsNewestFirst(t *testing.T) {
	a := openArchive(t)
	for i, ts := range []float64{100, 300, 200} {
		err := a.BeginMission(MissionRow{
			ID: string(rune('a' + i)), Prompt: "p", Status: StatusComplete, StartedAt: ts,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	got, err := a.RecentMissions(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("rows = %+v, want b then c", got)
	}
}

func TestRecordRoundUpserts(t *testing.T) {
	a := openArchive(t)
	r := RoundRow{MissionID: "m-1", Round: 2, Winner: 1, Extracted: 3}
	if err := a.RecordRound(r); err != nil {
		t.Fatal(err)
	}
	r.Winner = 2
	r.Applied = true
	r.VerifyRan = true
	r.VerifyOK = true
	if err := a.RecordRound(r); err != nil {
		t.Fatal(err)
	}

	rounds, err := a.Rounds("m-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 1 {
		t.Fatalf("len = %d, want 1 (upsert)", len(rounds))
	}
	got := rounds[0]
	if got.Winner != 2 || !got.Applied || !got.VerifyRan || !got.VerifyOK {
		t.Errorf("round = %+v", got)
	}
}

func TestRoundsOrderedByRound(t *testing.T) {
	a := openArchive(t)
	for _, round := range []int{3, 1, 2} {
		if err := a.RecordRound(RoundRow{MissionID: "m-1", Round: round}); err != nil {
			t.Fatal(err)
		}
	}
	rounds, err := a.Rounds("m-1")
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range rounds {
		if r.Round != i+1 {
			t.Fatalf("rounds out of order: %+v", rounds)
		}
	}
}

func TestReopenKeepsRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.db")
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.BeginMission(MissionRow{ID: "m-1", Prompt: "p", Status: StatusComplete, StartedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	got, err := b.RecentMissions(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "m-1" {
		t.Fatalf("rows after reopen = %+v", got)
	}
}
