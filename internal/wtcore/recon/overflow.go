package recon

import "github.com/duskcask/wtcore/internal/wtcore/block"

// overflowTracker deduplicates overflow writes within a single
// reconciliation pass: if an identical payload was already written by
// this page, the existing address is reused instead of writing a
// second copy (spec §4.5 "Overflow items").
type overflowTracker struct {
	seen map[string]block.Addr
}

func newOverflowTracker() *overflowTracker {
	return &overflowTracker{seen: map[string]block.Addr{}}
}

// addrFor returns a cached address for payload if one was already
// written this pass, and whether it was found.
func (t *overflowTracker) addrFor(payload []byte) (block.Addr, bool) {
	a, ok := t.seen[string(payload)]
	return a, ok
}

func (t *overflowTracker) remember(payload []byte, addr block.Addr) {
	t.seen[string(payload)] = addr
}
