package btree

import (
	"sort"

	"github.com/duskcask/wtcore/internal/wtcore/hazard"
	"github.com/duskcask/wtcore/internal/wtcore/page"
)

// The cursor surface proper is explicitly out of scope (spec §1); the
// methods below are the minimal row-store read/write path this
// package needs to exercise splits, reconciliation, and eviction
// end-to-end. A real cursor API would share one session-owned hazard
// array across calls (see the session package); each call here opens
// its own for simplicity.

func (h *Handle) effectiveHazardMax() int {
	if h.hazardMax > 0 {
		return h.hazardMax
	}
	return hazard.DefaultMax
}

// findChildRow returns the child ref whose separator key is the
// largest one not greater than key, treating entries[0]'s sentinel
// key as -infinity (spec "Internal page 0-th key").
func (h *Handle) findChildRow(p *page.Page, key []byte) *page.Ref {
	entries := p.RowInternal.Entries
	best := entries[0].Child
	for _, e := range entries {
		if len(e.Key) == 1 && e.Key[0] == 0 {
			continue
		}
		if h.collator(e.Key, key) <= 0 {
			best = e.Child
		} else {
			break
		}
	}
	return best
}

// Insert adds or overwrites a row-store key. Existing base entries
// are updated via their update chain; new keys land in the
// surrounding gap's insert list (spec §3, §5 "lock-free ... CAS to
// append to a skip-list or update-chain head").
//
// The tree lock is released before a possible forced-eviction request
// (see maybeForceEvict): that request is serviced by Reconcile, which
// takes the same lock exclusively, so holding it across the wait would
// deadlock the handle against its own eviction thread.
func (h *Handle) Insert(key, value []byte) error {
	h.mu.RLock()
	ref, p, err := h.insertLocked(key, value)
	h.mu.RUnlock()
	if err != nil {
		return err
	}
	return h.maybeForceEvict(ref, p)
}

// insertLocked performs the descent and leaf mutation without taking
// h.mu itself, so callers already holding it (Salvage) can reuse it.
// It returns the mutated leaf's ref and page so the caller can decide
// whether forced eviction is warranted once it is safe to block on
// (see Insert).
func (h *Handle) insertLocked(key, value []byte) (*page.Ref, *page.Page, error) {
	arr := hazard.NewArray(h.effectiveHazardMax())
	ref := h.root
	for {
		p, err := h.acquire(arr, ref)
		if err != nil {
			return nil, nil, err
		}
		if p.Variant == page.RowLeaf {
			h.insertIntoLeaf(p, key, value)
			arr.Release(p)
			return ref, p, nil
		}
		child := h.findChildRow(p, key)
		arr.Release(p)
		ref = child
	}
}

func (h *Handle) insertIntoLeaf(p *page.Page, key, value []byte) {
	d := p.RowLeaf
	lo, hi := 0, len(d.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if h.collator(d.Entries[mid].Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(d.Entries) && h.collator(d.Entries[lo].Key, key) == 0 {
		if d.Entries[lo].Updates == nil {
			d.Entries[lo].Updates = &page.UpdateChain{}
		}
		d.Entries[lo].Updates.Prepend(&page.Update{Value: value})
	} else {
		l := d.GapInsertList(lo)
		for _, e := range l.Entries() {
			if h.collator(e.Key, key) == 0 {
				e.Deleted = true
			}
		}
		l.Prepend(&page.InsertEntry{Key: key, Value: value})
	}
	p.MarkDirty()
}

// Delete marks key as deleted via the same update-chain/insert-list
// path Insert uses. The tree lock is released before any forced-
// eviction wait, for the same reason documented on Insert.
func (h *Handle) Delete(key []byte) error {
	ref, p, err := h.deleteLocked(key)
	if err != nil || p == nil {
		return err
	}
	return h.maybeForceEvict(ref, p)
}

func (h *Handle) deleteLocked(key []byte) (*page.Ref, *page.Page, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	arr := hazard.NewArray(h.effectiveHazardMax())
	ref := h.root
	for {
		p, err := h.acquire(arr, ref)
		if err != nil {
			return nil, nil, err
		}
		if p.Variant == page.RowLeaf {
			d := p.RowLeaf
			for i, e := range d.Entries {
				if h.collator(e.Key, key) == 0 {
					if e.Updates == nil {
						d.Entries[i].Updates = &page.UpdateChain{}
					}
					d.Entries[i].Updates.Prepend(&page.Update{Deleted: true})
					p.MarkDirty()
					arr.Release(p)
					return ref, p, nil
				}
			}
			found := false
			for _, l := range d.Inserts {
				if l == nil {
					continue
				}
				for _, e := range l.Entries() {
					if h.collator(e.Key, key) == 0 && !e.Deleted {
						e.Deleted = true
						found = true
					}
				}
			}
			if found {
				p.MarkDirty()
				arr.Release(p)
				return ref, p, nil
			}
			arr.Release(p)
			return nil, nil, nil
		}
		child := h.findChildRow(p, key)
		arr.Release(p)
		ref = child
	}
}

// Get resolves key's current value, descending via the hazard
// protocol (spec §4.4).
func (h *Handle) Get(key []byte) ([]byte, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	arr := hazard.NewArray(h.effectiveHazardMax())
	ref := h.root
	for {
		p, err := h.acquire(arr, ref)
		if err != nil {
			return nil, false, err
		}
		if p.Variant == page.RowLeaf {
			v, ok := h.lookupLeaf(p, key)
			arr.Release(p)
			return v, ok, nil
		}
		child := h.findChildRow(p, key)
		arr.Release(p)
		ref = child
	}
}

func (h *Handle) lookupLeaf(p *page.Page, key []byte) ([]byte, bool) {
	d := p.RowLeaf
	for _, e := range d.Entries {
		if h.collator(e.Key, key) == 0 {
			if e.Updates != nil {
				if u := e.Updates.Head(); u != nil {
					if u.Deleted {
						return nil, false
					}
					return u.Value, true
				}
			}
			return e.Value, true
		}
	}
	for _, l := range d.Inserts {
		if l == nil {
			continue
		}
		for _, e := range l.Entries() {
			if h.collator(e.Key, key) == 0 && !e.Deleted {
				return e.Value, true
			}
		}
	}
	return nil, false
}

type leafKV struct{ key, value []byte }

func (h *Handle) mergedLeafView(p *page.Page) []leafKV {
	d := p.RowLeaf
	var out []leafKV
	emitGap := func(i int) {
		if i >= len(d.Inserts) || d.Inserts[i] == nil {
			return
		}
		ins := d.Inserts[i].Entries()
		sort.Slice(ins, func(a, b int) bool { return h.collator(ins[a].Key, ins[b].Key) < 0 })
		for _, e := range ins {
			if !e.Deleted {
				out = append(out, leafKV{e.Key, e.Value})
			}
		}
	}
	for i, e := range d.Entries {
		emitGap(i)
		val, deleted := e.Value, false
		if e.Updates != nil {
			if u := e.Updates.Head(); u != nil {
				val, deleted = u.Value, u.Deleted
			}
		}
		if !deleted {
			out = append(out, leafKV{e.Key, val})
		}
	}
	emitGap(len(d.Entries))
	return out
}

// Scan returns every live (key, value) pair in key order, a
// full-tree traversal used by tests rather than a real cursor (out of
// scope per spec §1).
func (h *Handle) Scan() ([][2][]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	arr := hazard.NewArray(h.effectiveHazardMax())
	var out [][2][]byte
	var rec func(ref *page.Ref) error
	rec = func(ref *page.Ref) error {
		p, err := h.acquire(arr, ref)
		if err != nil {
			return err
		}
		defer arr.Release(p)
		if p.Variant == page.RowLeaf {
			for _, kv := range h.mergedLeafView(p) {
				out = append(out, [2][]byte{kv.key, kv.value})
			}
			return nil
		}
		for _, e := range p.RowInternal.Entries {
			if err := rec(e.Child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := rec(h.root); err != nil {
		return nil, err
	}
	return out, nil
}

// maybeForceEvict submits a forced-eviction request when a leaf's
// estimated footprint has crossed the configured leaf page maximum,
// so a page doesn't grow unboundedly between LRU passes (spec §4.3
// "Forced page request": "a page has grown past its maximum size").
func (h *Handle) maybeForceEvict(ref *page.Ref, p *page.Page) error {
	if uint32(estimateFootprint(p)) < h.cfg.LeafPageMax {
		return nil
	}
	if !ref.CAS(page.Mem, page.Evicting) {
		return nil
	}
	return h.cache.RequestForcedEviction(h, ref)
}
