package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func testLedger(t *testing.T, cfg Config) *Ledger {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "evidence.jsonl")
	}
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	n := 0
	return New(cfg).WithClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	})
}

func TestAppendThenVerify(t *testing.T) {
	keys := map[string]string{"k1": "secret-one"}
	l := testLedger(t, Config{Keys: keys, ActiveKeyID: "k1"})

	for i := 0; i < 5; i++ {
		if _, err := l.Append(map[string]interface{}{"round": i, "kind": "decision"}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	res, err := Verify(l.Path(), keys, true)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.OK || res.Entries != 5 {
		t.Fatalf("Verify = %+v", res)
	}
	if res.HeadHash == "" {
		t.Error("HeadHash should be set")
	}
}

func TestChainLinksPrevToEntryHash(t *testing.T) {
	l := testLedger(t, Config{Keys: map[string]string{"k1": "s"}, ActiveKeyID: "k1"})

	e1, err := l.Append(map[string]interface{}{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if e1.PrevHash != "" {
		t.Errorf("first entry prev_hash = %q, want empty", e1.PrevHash)
	}
	e2, err := l.Append(map[string]interface{}{"n": 2})
	if err != nil {
		t.Fatal(err)
	}
	if e2.PrevHash != e1.EntryHash {
		t.Errorf("prev_hash = %q, want %q", e2.PrevHash, e1.EntryHash)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	res, err := Verify(filepath.Join(t.TempDir(), "nope.jsonl"), nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Entries != 0 {
		t.Errorf("missing file should verify trivially, got %+v", res)
	}
}

func TestTamperedPayloadFailsAtLine(t *testing.T) {
	keys := map[string]string{"k1": "s"}
	l := testLedger(t, Config{Keys: keys, ActiveKeyID: "k1"})
	for i := 0; i < 4; i++ {
		if _, err := l.Append(map[string]interface{}{"n": i, "note": "alpha"}); err != nil {
			t.Fatal(err)
		}
	}

	// Flip one byte inside line 3's payload.
	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	lines[2] = strings.Replace(lines[2], "alpha", "alphb", 1)
	if err := os.WriteFile(l.Path(), []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := Verify(l.Path(), keys, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("tampered ledger must not verify")
	}
	if res.FailLine != 3 {
		t.Errorf("FailLine = %d, want 3", res.FailLine)
	}
	// The signature no longer matches the mutated base.
	if res.Reason != "signature mismatch" && res.Reason != "entry_hash mismatch" {
		t.Errorf("Reason = %q", res.Reason)
	}
}

func TestTamperedEntryHashBreaksDownstreamChain(t *testing.T) {
	keys := map[string]string{"k1": "s"}
	l := testLedger(t, Config{Keys: keys, ActiveKeyID: "k1"})
	for i := 0; i < 3; i++ {
		if _, err := l.Append(map[string]interface{}{"n": i}); err != nil {
			t.Fatal(err)
		}
	}

	data, _ := os.ReadFile(l.Path())
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	var mid Entry
	if err := json.Unmarshal([]byte(lines[1]), &mid); err != nil {
		t.Fatal(err)
	}
	mid.EntryHash = strings.Repeat("0", 64)
	mutated, _ := json.Marshal(mid)
	lines[1] = string(mutated)
	os.WriteFile(l.Path(), []byte(strings.Join(lines, "\n")+"\n"), 0644)

	res, err := Verify(l.Path(), keys, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.FailLine != 2 {
		t.Errorf("Verify = %+v, want failure at line 2", res)
	}
}

func TestKeyRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	keys := map[string]string{"old": "k-old", "new": "k-new"}

	l1 := testLedger(t, Config{Path: path, Keys: keys, ActiveKeyID: "old"})
	if _, err := l1.Append(map[string]interface{}{"era": "old"}); err != nil {
		t.Fatal(err)
	}

	l2 := testLedger(t, Config{Path: path, Keys: keys, ActiveKeyID: "new"})
	if _, err := l2.Append(map[string]interface{}{"era": "new"}); err != nil {
		t.Fatal(err)
	}

	res, err := Verify(path, keys, true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Entries != 2 {
		t.Fatalf("rotated ledger should verify: %+v", res)
	}

	// A verifier missing the old key fails closed when signing is required.
	res, err = Verify(path, map[string]string{"new": "k-new"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.FailLine != 1 {
		t.Errorf("unknown key should fail at line 1: %+v", res)
	}

	// Without the requirement, chain and hashes still check out.
	res, err = Verify(path, map[string]string{"new": "k-new"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Errorf("relaxed verify should pass: %+v", res)
	}
}

func TestUnsignedLegacyEntries(t *testing.T) {
	l := testLedger(t, Config{}) // no keys at all
	if _, err := l.Append(map[string]interface{}{"legacy": true}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(map[string]interface{}{"legacy": 2}); err != nil {
		t.Fatal(err)
	}

	res, err := Verify(l.Path(), nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Entries != 2 {
		t.Fatalf("legacy entries should verify: %+v", res)
	}

	res, err = Verify(l.Path(), nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Error("unsigned entries must fail when signing is required")
	}
}

func TestSigningRequiredFailsClosedOnAppend(t *testing.T) {
	l := testLedger(t, Config{SigningRequired: true})
	if _, err := l.Append(map[string]interface{}{"x": 1}); err == nil {
		t.Fatal("append without a key must fail when signing is required")
	}
}

func TestMixedLegacyThenSignedChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	keys := map[string]string{"k1": "s"}

	unsigned := testLedger(t, Config{Path: path})
	if _, err := unsigned.Append(map[string]interface{}{"era": "pre"}); err != nil {
		t.Fatal(err)
	}
	signed := testLedger(t, Config{Path: path, Keys: keys, ActiveKeyID: "k1"})
	if _, err := signed.Append(map[string]interface{}{"era": "post"}); err != nil {
		t.Fatal(err)
	}

	res, err := Verify(path, keys, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Entries != 2 {
		t.Fatalf("mixed chain should verify without requirement: %+v", res)
	}
}

func TestSinkMirrors(t *testing.T) {
	var posts [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		posts = append(posts, buf.Bytes())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sinkPath := filepath.Join(t.TempDir(), "mirror.jsonl")
	l := testLedger(t, Config{
		Keys:        map[string]string{"k1": "s"},
		ActiveKeyID: "k1",
		SinkPath:    sinkPath,
		SinkURL:     srv.URL,
	})

	if _, err := l.Append(map[string]interface{}{"mirrored": true}); err != nil {
		t.Fatal(err)
	}

	if len(posts) != 1 {
		t.Errorf("HTTP sink received %d posts, want 1", len(posts))
	}
	mirror, err := os.ReadFile(sinkPath)
	if err != nil {
		t.Fatalf("mirror file: %v", err)
	}
	local, _ := os.ReadFile(l.Path())
	if !bytes.Equal(bytes.TrimSpace(mirror), bytes.TrimSpace(local)) {
		t.Error("mirror should carry the same line as the local ledger")
	}
}

func TestSinkFailureIsNotFatal(t *testing.T) {
	l := testLedger(t, Config{
		Keys:        map[string]string{"k1": "s"},
		ActiveKeyID: "k1",
		SinkURL:     "http://127.0.0.1:1/unreachable",
	})
	if _, err := l.Append(map[string]interface{}{"x": 1}); err != nil {
		t.Fatalf("sink failure must not fail the append: %v", err)
	}
	res, err := Verify(l.Path(), map[string]string{"k1": "s"}, true)
	if err != nil || !res.OK {
		t.Fatalf("local append should be intact: %v %+v", err, res)
	}
}

func TestEntryLineShape(t *testing.T) {
	l := testLedger(t, Config{Keys: map[string]string{"k1": "s"}, ActiveKeyID: "k1"})
	if _, err := l.Append(map[string]interface{}{"kind": "action"}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("no line written")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(sc.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"ts", "prev_hash", "key_id", "algo", "payload", "signature", "entry_hash"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("line missing %q", k)
		}
	}
	if raw["algo"] != AlgoHMACSHA256 {
		t.Errorf("algo = %v", raw["algo"])
	}
}

// Chain integrity holds for arbitrary payload contents.
func TestChainIntegrityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("append then verify is OK for any payloads", prop.ForAll(
		func(keys []string, values []string) bool {
			dir, err := os.MkdirTemp("", "ledger-prop")
			if err != nil {
				return false
			}
			defer os.RemoveAll(dir)

			ring := map[string]string{"k1": "prop-secret"}
			l := New(Config{
				Path:        filepath.Join(dir, "evidence.jsonl"),
				Keys:        ring,
				ActiveKeyID: "k1",
			})

			payload := map[string]interface{}{}
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					payload[keys[i]] = values[i]
				}
			}
			for i := 0; i < 3; i++ {
				if _, err := l.Append(payload); err != nil {
					return false
				}
			}

			res, err := Verify(l.Path(), ring, true)
			return err == nil && res.OK && res.Entries == 3
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
