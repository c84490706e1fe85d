package mission

import (
	"fmt"
	"strings"

	"council/internal/decision"
)

// sharedHeader is the contract every seat receives ahead of its role
// brief. The fence label must match what the extractor looks for.
const sharedHeader = `You are one seat on a multi-agent engineering council. The council works
in rounds: every seat answers the same mission independently, then the
orchestrator extracts one decision per seat, picks a winner, and may
apply the winner's patch.

Rules of engagement:
- Work only from the mission text and your role brief. Do not claim to
  have run commands or opened files.
- Propose concrete changes. File paths are repo-relative; never use
  absolute paths or "..".
- If you propose code changes, include ONE unified diff inside a
  fenced block labeled diff.
- End your reply with your decision as a fenced block labeled
  %[1]s, and nothing after it:

` + "```%[1]s\n" + `{
  "summary": "one paragraph of what you decided",
  "files": ["paths/you/would/touch"],
  "commands": ["commands to run afterwards"],
  "risks": ["what could go wrong"],
  "confidence": 0.0
}
` + "```" + `

The decision block is machine-read. Malformed JSON there costs a repair
round; missing it may drop your seat entirely.
`

var roleBriefs = map[string]string{
	RoleArchitect: `You own the shape of the change: module boundaries, data flow, and
which parts stay untouched. Reject any plan whose blast radius you
cannot state.`,
	RoleEngineer: `You produce the working change. Prefer the smallest diff that fully
solves the mission; name every file you touch and why.`,
	RoleTester: `You own failure discovery. Enumerate the cases that must pass before
the change is trusted, and the command that proves each one.`,
	RoleCritic: `You attack the other seats' likely blind spots: hidden coupling,
untested error paths, quiet behavior changes. Your decision lists the
mistakes you expect this round to make.`,
	RoleResearchLead: `You resolve the unknowns first: prior art, existing utilities in the
tree, and external constraints. Your decision states what is now known
rather than assumed.`,
	RoleSecurity: `You own the trust boundary: secrets, injection surfaces, path
traversal, and anything that widens what an attacker can reach. Flag
risky changes in the risks list even when you approve them.`,
	RoleRelease: `You own shipping: versioning, migration order, rollback, and what
breaks for existing users. Your decision names the release steps the
other seats forgot.`,
	RoleOps: `You own the run side: deploys, resource limits, restarts, and what the
change does to a live system under load.`,
	RoleDocs: `You own what humans read: user-facing docs, upgrade notes, and the
parts of the change that need explaining. Your files list points at the
documents to update.`,
}

// ComposeSeatPrompt assembles one seat's prompt file from the shared
// header, the roster, the role brief, and the mission text.
func ComposeSeatPrompt(role string, seat int, team []string, prompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, sharedHeader, decision.FenceLabel)
	b.WriteString("\n## Council\n\n")
	for i, r := range team {
		marker := "  "
		if i+1 == seat {
			marker = "->"
		}
		fmt.Fprintf(&b, "%s seat %d: %s\n", marker, i+1, r)
	}
	fmt.Fprintf(&b, "\n## Your role: %s\n\n", role)
	if brief, ok := roleBriefs[role]; ok {
		b.WriteString(brief)
		b.WriteString("\n")
	}
	b.WriteString("\n## Mission\n\n")
	b.WriteString(prompt)
	b.WriteString("\n")
	return b.String()
}
