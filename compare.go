package xdp

import (
	"bytes"
	"sort"
)

// Less implements the canonical chain ordering comparator (spec.md §4.4),
// matching the original's cmp_xdp_programs step for step. It returns the
// first non-equal of: run priority ascending, name byte-wise, loaded
// before unloaded, program size ascending (only meaningful when both are
// unloaded and object-bound), tag byte-wise, load time ascending.
func Less(a, b *Program) bool {
	if a.runPriority != b.runPriority {
		return a.runPriority < b.runPriority
	}
	if c := bytes.Compare([]byte(a.name), []byte(b.name)); c != 0 {
		return c < 0
	}
	if a.Loaded() != b.Loaded() {
		return a.Loaded() // loaded sorts before unloaded
	}
	if !a.Loaded() && !b.Loaded() && a.spec != nil && b.spec != nil {
		if sa, sb := a.Size(), b.Size(); sa != sb {
			return sa < sb
		}
	}
	if c := bytes.Compare([]byte(a.tag), []byte(b.tag)); c != 0 {
		return c < 0
	}
	if !a.loadedAt.Equal(b.loadedAt) {
		return a.loadedAt.Before(b.loadedAt)
	}
	return false
}

// Sort orders progs in place according to Less. The sort is stable:
// inputs that compare equal under Less retain their relative input
// order, so repeated sorts of an already-sorted slice are no-ops.
func Sort(progs []*Program) {
	sort.SliceStable(progs, func(i, j int) bool {
		return Less(progs[i], progs[j])
	})
}
