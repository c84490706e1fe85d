// Package action implements the inbound-action receiver: a TTL-bounded
// idempotency store keyed by action_id, an inbox for accepted work items,
// and the append-only approvals file HITL stages consult.
package action

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"council/internal/fault"
	"council/internal/logging"
	"council/internal/runfs"
)

// Outcome of receiving a work item.
type Outcome string

const (
	Queued           Outcome = "queued"
	DuplicateIgnored Outcome = "duplicate_ignored"
)

// Record maps an action_id to the time it was first seen. Records past the
// TTL are dropped on the next access.
type Record struct {
	ActionID string  `json:"action_id"`
	Kind     string  `json:"kind,omitempty"`
	TS       float64 `json:"ts"`
}

// WorkItem is one inbound action request. An empty ActionID gets a generated
// one, so callers that do not care about dedupe always enqueue.
type WorkItem struct {
	ActionID string                 `json:"action_id"`
	Kind     string                 `json:"kind"`
	TS       float64                `json:"ts"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// Store is the keyed idempotency store backed by actions.jsonl. All writers
// serialize through the file's exclusive lock; reads load whatever is
// committed on disk.
type Store struct {
	path  string
	ttl   time.Duration
	clock func() time.Time
}

// NewStore returns a store over path with the given TTL window. A zero TTL
// disables expiry.
func NewStore(path string, ttl time.Duration) *Store {
	return &Store{path: path, ttl: ttl, clock: time.Now}
}

// WithClock overrides the time source. Test hook.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Mark records actionID first-writer-wins. The second call within the TTL
// window returns DuplicateIgnored. Expired records are dropped from the file
// as part of the same locked rewrite.
func (s *Store) Mark(actionID, kind string) (Outcome, error) {
	if actionID == "" {
		return "", fault.Errorf(fault.KindRuntimeIO, "action.mark", "empty action_id")
	}

	lock, err := runfs.AcquireLock(s.path)
	if err != nil {
		return "", err
	}
	defer lock.Release()

	records, err := s.load()
	if err != nil {
		return "", err
	}

	now := s.clock()
	live := records[:0]
	for _, rec := range records {
		if s.expired(rec, now) {
			continue
		}
		if rec.ActionID == actionID {
			logging.Action("duplicate ignored: %s (first seen %s ago)",
				actionID, now.Sub(time.Unix(0, int64(rec.TS*float64(time.Second)))).Round(time.Second))
			return DuplicateIgnored, nil
		}
		live = append(live, rec)
	}

	live = append(live, Record{
		ActionID: actionID,
		Kind:     kind,
		TS:       float64(now.UnixNano()) / float64(time.Second),
	})
	if err := s.rewrite(live); err != nil {
		return "", err
	}
	logging.Action("queued: %s kind=%s (store holds %d live)", actionID, kind, len(live))
	return Queued, nil
}

// Records returns the live (non-expired) records without mutating the file.
func (s *Store) Records() ([]Record, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	live := records[:0]
	for _, rec := range records {
		if !s.expired(rec, now) {
			live = append(live, rec)
		}
	}
	return live, nil
}

func (s *Store) expired(rec Record, now time.Time) bool {
	if s.ttl <= 0 {
		return false
	}
	seen := time.Unix(0, int64(rec.TS*float64(time.Second)))
	return now.Sub(seen) > s.ttl
}

func (s *Store) load() ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.New(fault.KindRuntimeIO, "action.load", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Corrupt lines are dropped on the next rewrite.
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "action.load", err)
	}
	return records, nil
}

func (s *Store) rewrite(records []Record) error {
	var buf bytes.Buffer
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fault.New(fault.KindRuntimeIO, "action.rewrite", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return runfs.WriteAtomic(s.path, buf.Bytes())
}

// Receiver dedupes inbound work items through a Store and enqueues accepted
// ones into the inbox directory, one JSON file per item.
type Receiver struct {
	store *Store
	inbox string
}

// NewReceiver wires a receiver to its store and inbox directory.
func NewReceiver(store *Store, inboxDir string) *Receiver {
	return &Receiver{store: store, inbox: inboxDir}
}

// Receive enqueues item unless its action_id was already seen within the TTL
// window. Duplicate submissions return DuplicateIgnored and write nothing.
func (r *Receiver) Receive(item WorkItem) (Outcome, error) {
	if item.ActionID == "" {
		item.ActionID = uuid.NewString()
	}
	outcome, err := r.store.Mark(item.ActionID, item.Kind)
	if err != nil {
		return "", err
	}
	if outcome != Queued {
		return outcome, nil
	}

	if item.TS == 0 {
		item.TS = float64(r.store.clock().UnixNano()) / float64(time.Second)
	}
	path := filepath.Join(r.inbox, item.ActionID+".json")
	if err := runfs.WriteJSON(path, item); err != nil {
		return "", err
	}
	return Queued, nil
}
