package btree

import (
	"github.com/duskcask/wtcore/internal/wtcore/block"
	"github.com/duskcask/wtcore/internal/wtcore/page"
	"github.com/duskcask/wtcore/internal/wtcore/recon"
	"github.com/duskcask/wtcore/internal/wtcore/wlog"
)

// Reconcile implements cache.Tree: it reconciles the page behind ref
// (the caller has already CASed it Mem->Evicting) and applies the
// outcome to this tree's shape. Returns errs.Restart, leaving ref back
// in Mem, if the page's write generation advanced mid-reconciliation
// (spec §4.5 "Concurrency interaction").
func (h *Handle) Reconcile(ref *page.Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := ref.Page()
	if p == nil {
		return nil
	}
	if h.cache.HazardHeld(p) {
		// A session still holds a hazard reference to this page; abandon
		// the eviction and restore residency rather than free it (spec
		// §4.4 "the evictor, before freeing a page, scans every
		// session's hazard array for the page's address; if found, it
		// restores ref.state to MEM and abandons the eviction").
		ref.CAS(page.Evicting, page.Mem)
		return nil
	}
	opts := h.reconcileOpts(p.Variant)
	result, err := recon.Reconcile(p, h.block, opts, nil)
	if err != nil {
		ref.CAS(page.Evicting, page.Mem)
		return err
	}
	h.applyResult(ref, p, result)
	return nil
}

// freeOldAddr releases the extent encoded by raw back to the block
// manager, used whenever reconciliation supersedes a page's previous
// on-disk image (spec §4.1 "coalescing free list"). A no-op for a ref
// that never had a disk address.
func (h *Handle) freeOldAddr(raw []byte) {
	if len(raw) == 0 {
		return
	}
	addr, err := block.ParseAddr(raw)
	if err != nil {
		return
	}
	if err := h.block.Free(addr); err != nil {
		wlog.Printf(wlog.Block, "failed to free superseded extent: %v", err)
	}
}

// applyResult commits a reconciliation outcome: freeing the old
// in-memory page, updating the ref, and splicing the owning parent
// when a child disappeared or split (spec §4.5 "Output").
func (h *Handle) applyResult(ref *page.Ref, p *page.Page, result *recon.Result) {
	switch result.Outcome {
	case page.OutcomeNone:
		// Clean page, evicted without reconciliation: revert to disk
		// using its already-current address.
		addr := ref.Addr()
		h.unregisterPage(p)
		ref.Clear()
		if len(addr) > 0 {
			ref.CAS(page.Evicting, page.Disk)
		} else {
			// Never had a disk address (e.g. a fresh synthesized page
			// that happened to be clean); nothing to evict to, leave
			// resident.
			ref.Publish(p, page.Mem)
		}

	case page.OutcomeEmpty:
		old := ref.Addr()
		h.unregisterPage(p)
		ref.Clear()
		h.detachEmpty(ref, p)
		h.freeOldAddr(old)

	case page.OutcomeReplace:
		old := ref.Addr()
		h.unregisterPage(p)
		ref.Clear()
		ref.SetAddr(result.ReplaceAddr)
		ref.CAS(page.Evicting, page.Disk)
		h.freeOldAddr(old)

	case page.OutcomeSplit:
		old := ref.Addr()
		h.unregisterPage(p)
		split := result.Split
		h.registerPage(split, estimateFootprint(split))
		h.freeOldAddr(old)
		if ref == h.root {
			// Root splits grow the tree by one level: the synthesized
			// split-merge page becomes the new, real root rather than
			// being absorbed by a parent (spec "createNewRoot" pattern
			// carried over from the teacher's splitInternal/root logic).
			split.SplitMerge = false
			split.Parent = page.NilHandle
			ref.Publish(split, page.Mem)
			return
		}
		ref.Publish(split, page.Mem)
		if parent := h.parentOf(p); parent != nil {
			parent.MarkDirty()
		}
	}
}

// parentOf looks up p's owning page via its Parent handle, set by the
// most recent walk (see walk.go).
func (h *Handle) parentOf(p *page.Page) *page.Page {
	if p.Parent == page.NilHandle {
		return nil
	}
	h.arenaMu.Lock()
	defer h.arenaMu.Unlock()
	return h.arena[p.Parent]
}

// detachEmpty splices an emptied child out of its parent's entries,
// or re-synthesizes the whole tree if the emptied page was the root.
func (h *Handle) detachEmpty(ref *page.Ref, p *page.Page) {
	if ref == h.root {
		h.synthesizeEmptyTree()
		return
	}
	parent := h.parentOf(p)
	if parent == nil {
		return
	}
	idx := p.IndexInParent
	switch parent.Variant {
	case page.RowInternal:
		if idx >= 0 && idx < len(parent.RowInternal.Entries) && parent.RowInternal.Entries[idx].Child == ref {
			// The separator key's overflow block (if any) is only
			// referenced by this entry; once the entry is spliced out it
			// must be freed explicitly, same as the child's own extent
			// (spec §4.5 "Internal pages").
			if ref.OverflowKey {
				h.freeOldAddr(parent.RowInternal.Entries[idx].Key)
			}
			parent.RowInternal.Entries = append(parent.RowInternal.Entries[:idx], parent.RowInternal.Entries[idx+1:]...)
		}
	case page.ColInternal:
		if idx >= 0 && idx < len(parent.ColInternal.Entries) && parent.ColInternal.Entries[idx].Child == ref {
			parent.ColInternal.Entries = append(parent.ColInternal.Entries[:idx], parent.ColInternal.Entries[idx+1:]...)
		}
	}
	parent.MarkDirty()
}
