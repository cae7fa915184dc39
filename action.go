package xdp

import "strings"

// Action is an XDP program return code. Chain-call masks are bitmaps
// indexed by Action.
type Action uint32

const (
	ActionAborted Action = iota
	ActionDrop
	ActionPass
	ActionTX
	ActionRedirect
)

// actionNames is indexed by Action and mirrors the original's
// xdp_action_names table exactly: stable ordering, uppercase, domain
// prefixed.
var actionNames = [...]string{
	ActionAborted:  "XDP_ABORTED",
	ActionDrop:     "XDP_DROP",
	ActionPass:     "XDP_PASS",
	ActionTX:       "XDP_TX",
	ActionRedirect: "XDP_REDIRECT",
}

// String returns the exact, case-sensitive textual name of the action.
func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "XDP_UNKNOWN"
}

// ParseAction resolves a textual action name to an Action. The name must
// match actionNames exactly (case-sensitive).
func ParseAction(name string) (Action, bool) {
	for i, n := range actionNames {
		if n == name {
			return Action(i), true
		}
	}
	return 0, false
}

// ChainCallMask is a bitmap over Action: bit a set means "continue to the
// next program in the chain on action a".
type ChainCallMask uint32

// DefaultChainMask is the mask new Program handles start with: continue
// only on XDP_PASS. This matches the original's XDP_DEFAULT_CHAIN_CALL_ACTIONS,
// which proceeds the chain solely on a pass verdict.
const DefaultChainMask ChainCallMask = 1 << ActionPass

// DefaultPriority is the run priority new Program handles start with.
const DefaultPriority uint32 = 50

// Enabled reports whether the mask continues the chain on the given action.
func (m ChainCallMask) Enabled(a Action) bool {
	return m&(1<<a) != 0
}

// WithAction returns a copy of the mask with the given action's bit set
// or cleared.
func (m ChainCallMask) WithAction(a Action, enabled bool) ChainCallMask {
	if enabled {
		return m | (1 << a)
	}
	return m &^ (1 << a)
}

// Names returns the names of the actions whose bit is set, in ascending
// Action order; String joins them with commas. This mirrors the
// original's xdp_program__print_chain_call_actions.
func (m ChainCallMask) Names() []string {
	var names []string
	for a := ActionAborted; a <= ActionRedirect; a++ {
		if m.Enabled(a) {
			names = append(names, a.String())
		}
	}
	return names
}

// String implements fmt.Stringer for diagnostics.
func (m ChainCallMask) String() string {
	return strings.Join(m.Names(), ",")
}
