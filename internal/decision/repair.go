package decision

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultRepairTail bounds how much of the prior output a repair prompt
// carries.
const DefaultRepairTail = 6000

// BuildRepairPrompt produces the stricter prompt for a repair sub-round.
// It is a pure function of its inputs so repeated attempts and reruns
// produce identical prompts.
func BuildRepairPrompt(anchor string, round, seat int, prior string, tailBytes int) string {
	if tailBytes <= 0 {
		tailBytes = DefaultRepairTail
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are seat %d in round %d of a council run.\n", seat, round)
	b.WriteString("Your previous reply did not contain a parseable DECISION_JSON block.\n\n")
	b.WriteString("[Mission]\n")
	b.WriteString(strings.TrimSpace(anchor))
	b.WriteString("\n\n[Your previous output, tail]\n")
	b.WriteString(tail(prior, tailBytes))
	b.WriteString("\n\n[Instructions]\n")
	b.WriteString("Reply with exactly one fenced code block labeled " + FenceLabel + " and nothing else.\n")
	b.WriteString("No prose before or after the fence. The JSON object must contain:\n")
	b.WriteString("  summary    string, one paragraph\n")
	b.WriteString("  files      array of repo-relative paths you would touch\n")
	b.WriteString("  commands   array of shell commands you would run\n")
	b.WriteString("  risks      array of strings\n")
	b.WriteString("  confidence number between 0 and 1\n")
	return b.String()
}

// tail returns the last n bytes of s, advancing past a split rune at the
// cut so the result stays valid UTF-8.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
