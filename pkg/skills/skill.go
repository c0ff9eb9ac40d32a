// Package skills implements the manifest-driven skill model: parsing a
// skill's SKILL.md manifest into a validated descriptor, the three trigger
// kinds (schedule, on_ask, on_event), immutable permission sets, and the
// registry that discovers skills from configured directories and wires
// event-triggered skills onto the shared event bus.
package skills

import "sort"

// Handler keys recognized by the dispatcher. Unknown keys in a manifest are
// retained but unused so newer skills degrade gracefully on older hosts.
const (
	HandlerSchedule = "schedule"
	HandlerAsk      = "on_ask"
	HandlerEvent    = "on_event"
)

// Skill is one registered extension unit: its immutable manifest plus the
// mutable enabled flag. Skills are created at discovery time and live until
// process restart; there is no live unload.
type Skill struct {
	Manifest
	Enabled bool
}

// Invocation describes one handler execution request: which trigger kind
// fired and the trigger-specific input.
type Invocation struct {
	ID      string `json:"id"`
	Handler string `json:"handler"`
	Text    string `json:"text,omitempty"`
	Event   string `json:"event,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// PermissionSet is an immutable set of capability tokens taken verbatim from
// the manifest. It is shared by both execution modes and never mutated after
// construction.
type PermissionSet struct {
	tokens map[string]struct{}
}

// NewPermissionSet builds a permission set from manifest tokens.
func NewPermissionSet(tokens []string) PermissionSet {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return PermissionSet{tokens: set}
}

// Has reports whether the set contains the capability token.
func (p PermissionSet) Has(token string) bool {
	_, ok := p.tokens[token]
	return ok
}

// Tokens returns a sorted copy of the capability tokens.
func (p PermissionSet) Tokens() []string {
	out := make([]string, 0, len(p.tokens))
	for t := range p.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tokens in the set.
func (p PermissionSet) Len() int {
	return len(p.tokens)
}
