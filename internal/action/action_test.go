package action

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func storeAt(t *testing.T, ttl time.Duration) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "actions.jsonl"), ttl), dir
}

func TestMarkFirstWriterWins(t *testing.T) {
	s, _ := storeAt(t, 14*24*time.Hour)

	out, err := s.Mark("a-1", "patch")
	if err != nil {
		t.Fatal(err)
	}
	if out != Queued {
		t.Fatalf("first Mark = %v, want queued", out)
	}

	out, err = s.Mark("a-1", "patch")
	if err != nil {
		t.Fatal(err)
	}
	if out != DuplicateIgnored {
		t.Fatalf("second Mark = %v, want duplicate_ignored", out)
	}
}

func TestMarkExpiryReopensID(t *testing.T) {
	s, _ := storeAt(t, time.Hour)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	s.WithClock(func() time.Time { return now })

	if out, _ := s.Mark("a-1", "patch"); out != Queued {
		t.Fatalf("first Mark = %v", out)
	}

	now = now.Add(2 * time.Hour)
	out, err := s.Mark("a-1", "patch")
	if err != nil {
		t.Fatal(err)
	}
	if out != Queued {
		t.Fatalf("Mark after expiry = %v, want queued", out)
	}

	// The expired record was GC'd, so only one live record remains.
	records, err := s.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("Records() len = %d, want 1", len(records))
	}
}

func TestMarkEmptyIDRejected(t *testing.T) {
	s, _ := storeAt(t, 0)
	if _, err := s.Mark("", "x"); err == nil {
		t.Fatal("empty action_id must be rejected")
	}
}

func TestMarkConcurrentSingleQueued(t *testing.T) {
	s, _ := storeAt(t, time.Hour)

	const writers = 8
	var wg sync.WaitGroup
	outcomes := make([]Outcome, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := s.Mark("shared", "patch")
			if err != nil {
				t.Error(err)
				return
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	queued := 0
	for _, out := range outcomes {
		if out == Queued {
			queued++
		}
	}
	if queued != 1 {
		t.Errorf("queued %d times, want exactly 1", queued)
	}
}

func TestReceiverEnqueuesOnce(t *testing.T) {
	s, dir := storeAt(t, time.Hour)
	inbox := filepath.Join(dir, "inbox")
	r := NewReceiver(s, inbox)

	item := WorkItem{ActionID: "a-9", Kind: "patch", Payload: map[string]interface{}{"round": 2}}
	if out, err := r.Receive(item); err != nil || out != Queued {
		t.Fatalf("first Receive = %v, %v", out, err)
	}
	if out, err := r.Receive(item); err != nil || out != DuplicateIgnored {
		t.Fatalf("second Receive = %v, %v", out, err)
	}

	entries, err := os.ReadDir(inbox)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("inbox holds %d files, want 1", len(entries))
	}
	if entries[0].Name() != "a-9.json" {
		t.Errorf("inbox file = %s", entries[0].Name())
	}
}

func TestReceiverGeneratesMissingID(t *testing.T) {
	s, dir := storeAt(t, time.Hour)
	r := NewReceiver(s, filepath.Join(dir, "inbox"))

	if out, err := r.Receive(WorkItem{Kind: "note"}); err != nil || out != Queued {
		t.Fatalf("Receive = %v, %v", out, err)
	}
	records, err := s.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ActionID == "" {
		t.Errorf("generated id missing: %+v", records)
	}
}

func TestApprovalsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.jsonl")

	ok, err := HasApproval(path, "a-1", "")
	if err != nil || ok {
		t.Fatalf("missing file: ok=%v err=%v", ok, err)
	}

	if err := AppendApproval(path, Approval{ActionID: "a-1", Kind: "patch", Actor: "op"}); err != nil {
		t.Fatal(err)
	}
	if err := AppendApproval(path, Approval{ActionID: "a-2", Actor: "op", Note: "second"}); err != nil {
		t.Fatal(err)
	}

	if ok, _ := HasApproval(path, "a-1", "patch"); !ok {
		t.Error("a-1/patch should be approved")
	}
	if ok, _ := HasApproval(path, "a-1", "verify"); ok {
		t.Error("kind mismatch should not authorize")
	}
	// An approval without a kind matches any requested kind.
	if ok, _ := HasApproval(path, "a-2", "patch"); !ok {
		t.Error("kindless approval should match")
	}
	if ok, _ := HasApproval(path, "a-3", ""); ok {
		t.Error("unknown id should not authorize")
	}

	rows, err := ReadApprovals(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].TS == 0 {
		t.Error("TS should be stamped on append")
	}
}

func TestApprovalEmptyIDRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.jsonl")
	if err := AppendApproval(path, Approval{Actor: "op"}); err == nil {
		t.Fatal("empty action_id must be rejected")
	}
}
