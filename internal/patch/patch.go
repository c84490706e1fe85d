// Package patch extracts unified-diff blocks from a winning seat's raw
// output, validates them against the edit surface, and applies each
// block independently with git apply. A block that touches any
// disallowed path is rejected whole, never re-scoped.
package patch

import (
	"regexp"
	"strings"
)

// Block is one fenced diff from seat output. Files lists the touched
// paths parsed from its headers, prefix-stripped, in order.
type Block struct {
	Index int
	Body  string
	Files []string
}

// diffFenceRe matches fenced blocks labeled diff or patch.
var diffFenceRe = regexp.MustCompile("(?s)```(?:diff|patch)[ \\t]*\\n(.*?)```")

// ExtractBlocks returns every fenced diff block in order of appearance.
func ExtractBlocks(text string) []Block {
	matches := diffFenceRe.FindAllStringSubmatch(text, -1)
	blocks := make([]Block, 0, len(matches))
	for i, m := range matches {
		blocks = append(blocks, Block{Index: i + 1, Body: m[1], Files: parseTouchedFiles(m[1])})
	}
	return blocks
}

// HasDiffBlock reports whether text carries at least one well-formed
// diff block: file headers plus a hunk. The ranker prefers seats that
// ship one.
func HasDiffBlock(text string) bool {
	for _, b := range ExtractBlocks(text) {
		if len(b.Files) > 0 && strings.Contains(b.Body, "@@") {
			return true
		}
	}
	return false
}

// parseTouchedFiles reads the touched paths out of diff headers. The
// +++ side names the target; deletions (+++ /dev/null) fall back to the
// --- side. diff --git lines cover bodies with exotic headers.
func parseTouchedFiles(body string) []string {
	seen := map[string]bool{}
	var files []string
	add := func(p string) {
		p = headerPath(p)
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		files = append(files, p)
	}

	var lastMinus string
	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				add(parts[3])
			}
		case strings.HasPrefix(line, "--- "):
			lastMinus = strings.TrimPrefix(line, "--- ")
		case strings.HasPrefix(line, "+++ "):
			target := strings.TrimPrefix(line, "+++ ")
			if headerPath(target) == "" {
				add(lastMinus)
			} else {
				add(target)
			}
		}
	}
	return files
}

// headerPath normalizes a diff header operand: strips the a/ b/ prefix
// and any trailing tab metadata; /dev/null maps to empty.
func headerPath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexByte(p, '\t'); i >= 0 {
		p = p[:i]
	}
	if p == "/dev/null" || p == "" {
		return ""
	}
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		p = p[2:]
	}
	return p
}
