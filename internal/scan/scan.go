// Package scan implements the secret and risk scanner. Two regex
// families: secret patterns always block, risk patterns block unless the
// override is set. The scanner runs over explicit paths, whole trees, or
// the git index (staged mode), and excludes its own sources to avoid
// self-triggering.
package scan

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"council/internal/logging"
)

// Families reported per finding.
const (
	FamilySecret = "secret"
	FamilyRisk   = "risk"
)

// Exit codes surfaced by the scan-risk command and the staged verify
// check.
const (
	ExitOK      = 0
	ExitSecrets = 2
	ExitRisky   = 3
)

// Rule is one named pattern.
type Rule struct {
	Name string
	Re   *regexp.Regexp
}

// Secret rules block unconditionally: key material, bearer tokens,
// credential assignments.
var secretRules = []Rule{
	{"private_key_armor", regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )*PRIVATE KEY-----`)},
	{"bearer_auth", regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]{16,}`)},
	{"api_key_assignment", regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|secret[_-]?key|access[_-]?token|auth[_-]?token|client[_-]?secret)\b\s*[:=]\s*["'][^"']{8,}["']`)},
}

// Risk rules warn by default and block without the override: anonymity
// infrastructure and outreach/stealth tooling markers.
var riskRules = []Rule{
	{"onion_address", regexp.MustCompile(`(?i)\b[a-z2-7]{16,56}\.onion\b`)},
	{"socks5_proxy", regexp.MustCompile(`(?i)\bsocks5h?://`)},
	{"stealth_term", regexp.MustCompile(`(?i)\b(anti[ _-]?detect|undetectable|stealth[ _-]?mode|fingerprint[ _-]?spoof)\b`)},
	{"outreach_term", regexp.MustCompile(`(?i)\b(cold[ _-]?(email|outreach)|mass[ _-]?dm|bulk[ _-]?outreach|auto[ _-]?follow)\b`)},
}

// secretPathRe flags files that are credentials by name regardless of
// content. Patch validation consults this before content ever lands.
var secretPathRe = regexp.MustCompile(`(?i)(^|/)(\.env(\.[A-Za-z0-9._-]+)?|\.netrc|\.npmrc|id_rsa[^/]*|id_ed25519[^/]*|credentials(\.json)?|.*\.pem|.*\.p12|.*\.pfx)$`)

// Finding is one rule hit. Secret excerpts are redacted so reports and
// ledger payloads never replicate the matched material.
type Finding struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Rule    string `json:"rule"`
	Family  string `json:"family"`
	Excerpt string `json:"excerpt"`
}

// Report aggregates one scan invocation.
type Report struct {
	ScannedFiles int       `json:"scanned_files"`
	Secrets      []Finding `json:"secrets"`
	Risks        []Finding `json:"risks"`
	AllowRisky   bool      `json:"allow_risky"`
	ExitCode     int       `json:"exit_code"`
}

// Config tunes a Scanner. Exclude entries are slash-path substrings; the
// scanner's own package dir is always excluded.
type Config struct {
	AllowRisky   bool
	MaxFileBytes int64
	Exclude      []string
}

// DefaultConfig returns the scanner defaults.
func DefaultConfig() Config {
	return Config{
		MaxFileBytes: 1 << 20,
		Exclude:      []string{".git/"},
	}
}

// Scanner applies both rule families.
type Scanner struct {
	cfg Config
}

// New builds a Scanner, zero-filling config from defaults.
func New(cfg Config) *Scanner {
	def := DefaultConfig()
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = def.MaxFileBytes
	}
	cfg.Exclude = append(cfg.Exclude, def.Exclude...)
	cfg.Exclude = append(cfg.Exclude, "internal/scan/")
	return &Scanner{cfg: cfg}
}

// IsSecretPath reports whether the path itself names credential
// material.
func IsSecretPath(p string) bool {
	return secretPathRe.MatchString(filepath.ToSlash(p))
}

// ScanText applies every rule to content line by line and returns the
// findings attributed to path.
func (s *Scanner) ScanText(path, content string) []Finding {
	var out []Finding
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		for _, r := range secretRules {
			if loc := r.Re.FindStringIndex(line); loc != nil {
				out = append(out, Finding{
					Path:    path,
					Line:    i + 1,
					Rule:    r.Name,
					Family:  FamilySecret,
					Excerpt: redact(line, loc),
				})
			}
		}
		for _, r := range riskRules {
			if r.Re.MatchString(line) {
				out = append(out, Finding{
					Path:    path,
					Line:    i + 1,
					Rule:    r.Name,
					Family:  FamilyRisk,
					Excerpt: truncate(line, 120),
				})
			}
		}
	}
	return out
}

// ScanPaths reads each path (relative to root when root is non-empty)
// and scans its content. Directories walk recursively. Unreadable,
// binary, oversized, and excluded files are skipped.
func (s *Scanner) ScanPaths(root string, paths []string) *Report {
	report := &Report{AllowRisky: s.cfg.AllowRisky, Secrets: []Finding{}, Risks: []Finding{}}
	for _, p := range paths {
		abs := p
		if root != "" && !filepath.IsAbs(p) {
			abs = filepath.Join(root, p)
		}
		st, err := os.Stat(abs)
		if err != nil {
			continue
		}
		if st.IsDir() {
			s.scanDir(root, abs, report)
			continue
		}
		s.scanFile(root, abs, report)
	}
	finishReport(report)
	return report
}

func (s *Scanner) scanDir(root, dir string, report *Report) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if s.excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		s.scanFile(root, path, report)
		return nil
	})
}

func (s *Scanner) scanFile(root, path string, report *Report) {
	if s.excluded(path) {
		return
	}
	st, err := os.Stat(path)
	if err != nil || st.Size() > s.cfg.MaxFileBytes {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil || bytes.IndexByte(data, 0) >= 0 {
		return
	}
	report.ScannedFiles++
	rel := displayPath(root, path)
	for _, f := range s.ScanText(rel, string(data)) {
		addFinding(report, f)
	}
}

// AddContent scans already-loaded content (staged blobs, patch bodies)
// into an existing report. Callers finish the report with Finish.
func (s *Scanner) AddContent(report *Report, path, content string) {
	if s.excluded(path) {
		return
	}
	report.ScannedFiles++
	for _, f := range s.ScanText(path, content) {
		addFinding(report, f)
	}
}

// NewReport starts an empty report for incremental AddContent use.
func (s *Scanner) NewReport() *Report {
	return &Report{AllowRisky: s.cfg.AllowRisky, Secrets: []Finding{}, Risks: []Finding{}}
}

// Finish computes the exit code once all content is added.
func (s *Scanner) Finish(report *Report) *Report {
	finishReport(report)
	return report
}

func (s *Scanner) excluded(path string) bool {
	slash := filepath.ToSlash(path)
	for _, ex := range s.cfg.Exclude {
		if ex != "" && strings.Contains(slash, ex) {
			return true
		}
	}
	return false
}

func addFinding(report *Report, f Finding) {
	if f.Family == FamilySecret {
		report.Secrets = append(report.Secrets, f)
		logging.PatchWarn("secret pattern %s at %s:%d", f.Rule, f.Path, f.Line)
		return
	}
	report.Risks = append(report.Risks, f)
}

// finishReport ranks secrets above risks when both hit.
func finishReport(report *Report) {
	switch {
	case len(report.Secrets) > 0:
		report.ExitCode = ExitSecrets
	case len(report.Risks) > 0 && !report.AllowRisky:
		report.ExitCode = ExitRisky
	default:
		report.ExitCode = ExitOK
	}
}

// redact replaces the matched range so secret values never appear in
// findings.
func redact(line string, loc []int) string {
	redacted := line[:loc[0]] + "[redacted]" + line[loc[1]:]
	return truncate(redacted, 120)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func displayPath(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
