package cache

import (
	"sort"

	"github.com/samber/lo"

	"github.com/duskcask/wtcore/internal/wtcore/errs"
	"github.com/duskcask/wtcore/internal/wtcore/page"
	"github.com/duskcask/wtcore/internal/wtcore/wlog"
)

// candidate is one entry considered for LRU eviction.
type candidate struct {
	tree    Tree
	ref     *page.Ref
	readGen uint64
	// internal biases candidates from internal pages to sort later
	// than leaves, per spec §4.3 "biased so internal pages sort as
	// read_gen + N — leaves tend to evict first."
	internal bool
}

// internalBiasN is the read_gen bias applied to internal-page
// candidates during the LRU sort (spec §4.3).
const internalBiasN = 1 << 20

// lruPass runs one pass of spec §4.3's "LRU pass": rebuild the
// candidate array from every registered tree's walk, dedupe, sort by
// biased read_gen, and evict the front of the list until usage drops
// or the array is exhausted.
func (c *Cache) lruPass() {
	c.candMu.Lock()
	c.rebuildCandidatesLocked()
	cands := c.candidates
	c.candMu.Unlock()

	target := int64(c.cfg.MaxBytes) * int64(c.cfg.TargetPct) / 100
	for _, cand := range cands {
		if c.bytesInUse.Load() < target {
			return
		}
		if !cand.ref.CAS(page.Mem, page.Evicting) {
			continue // another thread claimed it first; try the next
		}
		cand.tree.InFlight().Add(1)
		err := cand.tree.Reconcile(cand.ref)
		cand.tree.InFlight().Add(-1)
		if err != nil {
			wlog.Printf(wlog.Evict, "eviction reconcile failed: %v", err)
		}
	}
}

// rebuildCandidatesLocked walks every registered tree, collects up to
// CandidatePerFile candidates each, dedupes by ref pointer, and sorts
// by biased read_gen. Caller holds c.candMu.
func (c *Cache) rebuildCandidatesLocked() {
	c.treesMu.Lock()
	trees := make([]Tree, 0, len(c.trees))
	for _, t := range c.trees {
		trees = append(trees, t)
	}
	c.treesMu.Unlock()

	var raw []candidate
	limit := c.cfg.CandidatePerFile
	if limit <= 0 {
		limit = 20
	}
	for _, t := range trees {
		refs, _ := t.WalkForEviction(EvictCursor{}, limit)
		for _, r := range refs {
			p := r.Page()
			if p == nil {
				continue
			}
			raw = append(raw, candidate{
				tree:     t,
				ref:      r,
				readGen:  p.ReadGen.Load(),
				internal: p.Variant == page.RowInternal || p.Variant == page.ColInternal,
			})
		}
	}

	// Deduplicate by ref pointer (spec §4.3): nil refs are dropped, then
	// later duplicates of a ref are removed, keeping the first
	// occurrence; no sort happens before this step.
	raw = lo.Filter(raw, func(c candidate, _ int) bool { return c.ref != nil })
	deduped := lo.UniqBy(raw, func(c candidate) *page.Ref { return c.ref })

	sort.Slice(deduped, func(i, j int) bool {
		return biasedReadGen(deduped[i]) < biasedReadGen(deduped[j])
	})
	c.candidates = deduped
}

func biasedReadGen(c candidate) uint64 {
	if c.internal {
		return c.readGen + internalBiasN
	}
	return c.readGen
}

// evictOne reconciles a single ref under candidate-mutex discipline,
// used to service a forced-eviction request (spec §4.3 "Forced page
// request"). The caller has already CASed the ref to Evicting.
func (c *Cache) evictOne(t Tree, ref *page.Ref) error {
	t.InFlight().Add(1)
	defer t.InFlight().Add(-1)
	err := t.Reconcile(ref)
	if err != nil && !errs.Is(err, errs.Restart) {
		wlog.Printf(wlog.Evict, "forced eviction reconcile failed: %v", err)
	}
	return err
}
