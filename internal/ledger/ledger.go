// Package ledger implements the append-only evidence ledger: hash-chained,
// HMAC-signed JSONL with key rotation, optional mirror sinks, and a
// standalone verifier. The file on disk is the only authoritative state;
// appends re-read the head under the file lock rather than caching it.
package ledger

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gowebpki/jcs"

	"council/internal/fault"
	"council/internal/logging"
	"council/internal/runfs"
)

// AlgoHMACSHA256 is the only signing algorithm in use.
const AlgoHMACSHA256 = "hmac-sha256"

// Entry is one ledger line.
type Entry struct {
	TS        float64                `json:"ts"`
	PrevHash  string                 `json:"prev_hash"`
	KeyID     string                 `json:"key_id,omitempty"`
	Algo      string                 `json:"algo,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	Signature string                 `json:"signature,omitempty"`
	EntryHash string                 `json:"entry_hash"`
}

// entryBase is the signed portion of an entry. omitempty drops key_id/algo
// for unsigned entries so the legacy canonical form falls out of the same
// struct.
type entryBase struct {
	TS       float64                `json:"ts"`
	PrevHash string                 `json:"prev_hash"`
	KeyID    string                 `json:"key_id,omitempty"`
	Algo     string                 `json:"algo,omitempty"`
	Payload  map[string]interface{} `json:"payload"`
}

// Config configures a Ledger.
type Config struct {
	Path            string
	Keys            map[string]string
	ActiveKeyID     string
	SigningRequired bool
	SinkPath        string
	SinkURL         string
}

// Ledger appends signed entries to a JSONL file.
type Ledger struct {
	cfg        Config
	httpClient *http.Client
	clock      func() time.Time
}

// New creates a ledger over the configured file.
func New(cfg Config) *Ledger {
	return &Ledger{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      time.Now,
	}
}

// WithClock overrides the clock for tests.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.cfg.Path }

// Append chains, signs, and writes one entry, then mirrors it to the
// configured sinks. Sink failures are logged, never fatal. With no active
// key the entry is written unsigned unless signing is required, in which
// case the append fails closed.
func (l *Ledger) Append(payload map[string]interface{}) (*Entry, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}

	key, keyID, err := l.activeKey()
	if err != nil {
		return nil, err
	}

	lock, err := runfs.AcquireLock(l.cfg.Path)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	prev, err := headHash(l.cfg.Path)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		TS:       float64(l.clock().UnixNano()) / 1e9,
		PrevHash: prev,
		Payload:  payload,
	}
	if key != "" {
		entry.KeyID = keyID
		entry.Algo = AlgoHMACSHA256
	}

	base, err := canonicalBase(entry)
	if err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "ledger.append", err)
	}
	if key != "" {
		entry.Signature = sign(base, key)
		entry.EntryHash = hashSigned(base, entry.Signature)
	} else {
		entry.EntryHash = hashLegacy(base)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "ledger.append", err)
	}

	// Write directly; the lock is already held and flock does not stack.
	f, err := os.OpenFile(l.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "ledger.append", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return nil, fault.New(fault.KindRuntimeIO, "ledger.append", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fault.New(fault.KindRuntimeIO, "ledger.append", err)
	}
	if err := f.Close(); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "ledger.append", err)
	}

	logging.Ledger("appended entry hash=%s key=%s", entry.EntryHash[:12], entry.KeyID)
	l.mirror(line)
	return entry, nil
}

// activeKey resolves the signing key, failing closed under SigningRequired.
func (l *Ledger) activeKey() (key, keyID string, err error) {
	if l.cfg.ActiveKeyID != "" {
		if k, ok := l.cfg.Keys[l.cfg.ActiveKeyID]; ok && k != "" {
			return k, l.cfg.ActiveKeyID, nil
		}
	}
	if l.cfg.SigningRequired {
		return "", "", fault.Errorf(fault.KindRuntimeIO, "ledger.append",
			"signing required but no active key configured")
	}
	return "", "", nil
}

// mirror fans the freshly appended line out to the sinks.
func (l *Ledger) mirror(line []byte) {
	if l.cfg.SinkPath != "" {
		if err := runfs.AppendLocked(l.cfg.SinkPath, line); err != nil {
			logging.LedgerWarn("sink path append failed: %v", err)
		}
	}
	if l.cfg.SinkURL != "" {
		resp, err := l.httpClient.Post(l.cfg.SinkURL, "application/json", bytes.NewReader(line))
		if err != nil {
			logging.LedgerWarn("sink POST failed: %v", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			logging.LedgerWarn("sink POST status %d", resp.StatusCode)
		}
	}
}

// headHash returns the entry_hash of the last line, or "" for an empty or
// missing file.
func headHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fault.New(fault.KindRuntimeIO, "ledger.head", err)
	}
	defer f.Close()

	var last []byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		last = append(last[:0], sc.Bytes()...)
	}
	if err := sc.Err(); err != nil {
		return "", fault.New(fault.KindRuntimeIO, "ledger.head", err)
	}
	if len(last) == 0 {
		return "", nil
	}

	var e Entry
	if err := json.Unmarshal(last, &e); err != nil {
		return "", fault.Errorf(fault.KindChainBroken, "ledger.head", "unparseable tail line: %v", err)
	}
	return e.EntryHash, nil
}

// canonicalBase returns the RFC 8785 canonical JSON of the signed portion.
func canonicalBase(e *Entry) ([]byte, error) {
	raw, err := json.Marshal(entryBase{
		TS:       e.TS,
		PrevHash: e.PrevHash,
		KeyID:    e.KeyID,
		Algo:     e.Algo,
		Payload:  e.Payload,
	})
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

func sign(base []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(base)
	return hex.EncodeToString(mac.Sum(nil))
}

func hashSigned(base []byte, signature string) string {
	h := sha256.New()
	h.Write(base)
	h.Write([]byte("|"))
	h.Write([]byte(signature))
	return hex.EncodeToString(h.Sum(nil))
}

func hashLegacy(base []byte) string {
	h := sha256.Sum256(base)
	return hex.EncodeToString(h[:])
}

// VerifyResult is the verifier's return shape.
type VerifyResult struct {
	OK       bool   `json:"ok"`
	Entries  int    `json:"entries"`
	HeadHash string `json:"head_hash,omitempty"`
	FailLine int    `json:"fail_line,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Verify walks the ledger file in order, checking chain linkage, entry
// hashes, and signatures against the key ring. A missing file verifies
// trivially. Entries signed with a key the ring does not hold fail only
// when signingRequired is set; their hash chain is still checked.
func Verify(path string, keys map[string]string, signingRequired bool) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &VerifyResult{OK: true, Entries: 0}, nil
		}
		return nil, fault.New(fault.KindRuntimeIO, "ledger.verify", err)
	}
	defer f.Close()

	res := &VerifyResult{OK: true}
	prev := ""
	lineNo := 0

	fail := func(reason string) (*VerifyResult, error) {
		res.OK = false
		res.FailLine = lineNo
		res.Reason = reason
		return res, nil
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		lineNo++
		if len(line) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fail(fmt.Sprintf("unparseable entry: %v", err))
		}

		if e.PrevHash != prev {
			return fail("prev_hash mismatch")
		}

		base, err := canonicalBase(&e)
		if err != nil {
			return fail(fmt.Sprintf("canonicalization failed: %v", err))
		}

		if e.Signature != "" {
			key, known := keys[e.KeyID]
			switch {
			case known:
				if !hmac.Equal([]byte(sign(base, key)), []byte(e.Signature)) {
					return fail("signature mismatch")
				}
			case signingRequired:
				return fail(fmt.Sprintf("unknown key_id %q", e.KeyID))
			}
			if hashSigned(base, e.Signature) != e.EntryHash {
				return fail("entry_hash mismatch")
			}
		} else {
			if signingRequired {
				return fail("unsigned entry while signing required")
			}
			if hashLegacy(base) != e.EntryHash {
				return fail("entry_hash mismatch")
			}
		}

		prev = e.EntryHash
		res.Entries++
	}
	if err := sc.Err(); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "ledger.verify", err)
	}

	res.HeadHash = prev
	return res, nil
}
