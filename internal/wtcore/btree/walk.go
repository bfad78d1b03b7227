package btree

import (
	"github.com/duskcask/wtcore/internal/wtcore/cache"
	"github.com/duskcask/wtcore/internal/wtcore/page"
)

// childRefs returns p's child refs in order, or nil for a page
// variant with no children (leaves).
func childRefs(p *page.Page) []*page.Ref {
	switch p.Variant {
	case page.RowInternal:
		out := make([]*page.Ref, len(p.RowInternal.Entries))
		for i, e := range p.RowInternal.Entries {
			out[i] = e.Child
		}
		return out
	case page.ColInternal:
		out := make([]*page.Ref, len(p.ColInternal.Entries))
		for i, e := range p.ColInternal.Entries {
			out[i] = e.Child
		}
		return out
	default:
		return nil
	}
}

// walk performs a depth-first traversal of every resident descendant
// of root (root itself excluded), linking each visited page back to
// its parent's handle and index for Reconcile's splice-on-outcome
// logic, and invoking visit on each.
func (h *Handle) walk(visit func(ref *page.Ref, parent *page.Page, idx int)) {
	rootPage := h.root.Page()
	if rootPage == nil {
		return
	}
	var rec func(p *page.Page)
	rec = func(p *page.Page) {
		for i, ref := range childRefs(p) {
			child := ref.Page()
			if child == nil {
				continue
			}
			child.Parent = p.Handle
			child.IndexInParent = i
			visit(ref, p, i)
			rec(child)
		}
	}
	rec(rootPage)
}

// WalkForEviction implements cache.Tree: returns up to limit resident,
// non-pinned, non-merge-flagged candidate refs, resuming after
// cursor.LastHandle (spec §4.3's eviction cursor).
func (h *Handle) WalkForEviction(cursor cache.EvictCursor, limit int) ([]*page.Ref, cache.EvictCursor) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var all []*page.Ref
	h.walk(func(ref *page.Ref, parent *page.Page, idx int) {
		p := ref.Page()
		if p == nil || p.Pinned || p.MergeFlagged || ref.State() != page.Mem {
			return
		}
		all = append(all, ref)
	})
	if len(all) == 0 {
		return nil, cursor
	}

	start := 0
	if cursor.LastHandle != page.NilHandle {
		for i, ref := range all {
			if ref.Page() != nil && ref.Page().Handle == cursor.LastHandle {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		start = 0
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	out := all[start:end]
	next := cursor
	if len(out) > 0 {
		next = cache.EvictCursor{LastHandle: out[len(out)-1].Page().Handle}
	}
	return out, next
}

// WalkForSync implements cache.Tree: every dirty resident page's ref.
// The root is appended last: it is excluded from walk() (which only
// visits descendants) but still needs reconciling here whenever a
// child split marked it dirty, or RootAddr never has an on-disk
// cookie to report (spec §4.3 "Sync/close request").
func (h *Handle) WalkForSync() []*page.Ref {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*page.Ref
	h.walk(func(ref *page.Ref, parent *page.Page, idx int) {
		if p := ref.Page(); p != nil && p.Dirty() && !p.MergeFlagged {
			out = append(out, ref)
		}
	})
	if p := h.root.Page(); p != nil && p.Dirty() && !p.MergeFlagged {
		out = append(out, h.root)
	}
	return out
}

// WalkAllResident implements cache.Tree: every resident page's ref
// (root included), used by a close request to evict everything (spec
// §4.3).
func (h *Handle) WalkAllResident() []*page.Ref {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*page.Ref
	h.walk(func(ref *page.Ref, parent *page.Page, idx int) {
		if ref.State() == page.Mem || ref.State() == page.EvictWalk {
			out = append(out, ref)
		}
	})
	if h.root.State() == page.Mem || h.root.State() == page.EvictWalk {
		out = append(out, h.root)
	}
	return out
}
