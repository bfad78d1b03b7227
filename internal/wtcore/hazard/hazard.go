// Package hazard implements per-session hazard references: a
// fixed-size array of page pointers that protects in-use pages from
// reclamation (spec §4.4). There is no direct teacher equivalent —
// tinySQL's pager relies on its PageBufferPool's pin counts
// (internal/storage/pager/pager.go's PageFrame.pinCount) for the same
// purpose, which is the pattern this package generalizes into the
// acquire/retry state-machine protocol spec §4.4 specifies, adapted
// from the wait-free-reader design described in
// original_source/src/btree/bt_evict.c.
package hazard

import (
	"runtime"

	"github.com/duskcask/wtcore/internal/wtcore/errs"
	"github.com/duskcask/wtcore/internal/wtcore/page"
)

// DefaultMax is the default per-session hazard array size (spec §4.4).
const DefaultMax = 15

// Array is one session's fixed-size hazard-pointer array.
type Array struct {
	slots []*page.Page
}

// NewArray allocates a hazard array of the given size.
func NewArray(max int) *Array {
	if max <= 0 {
		max = DefaultMax
	}
	return &Array{slots: make([]*page.Page, max)}
}

// set installs p into a free slot and returns its index, or -1 if the
// array is full.
func (a *Array) set(p *page.Page) int {
	for i, s := range a.slots {
		if s == nil {
			a.slots[i] = p
			return i
		}
	}
	return -1
}

// clear empties slot i.
func (a *Array) clear(i int) {
	if i >= 0 && i < len(a.slots) {
		a.slots[i] = nil
	}
}

// Contains reports whether p is currently held by any slot; used by
// the evictor before freeing a page (spec §4.4 "The evictor, before
// freeing a page, scans every session's hazard array for the page's
// address").
func (a *Array) Contains(p *page.Page) bool {
	for _, s := range a.slots {
		if s == p {
			return true
		}
	}
	return false
}

// Release clears every slot pointing at p, returning the count
// cleared. Called when a cursor holding p explicitly releases it.
func (a *Array) Release(p *page.Page) int {
	n := 0
	for i, s := range a.slots {
		if s == p {
			a.slots[i] = nil
			n++
		}
	}
	return n
}

// Empty reports whether every slot is clear — used by session close
// to wait for all hazard references to drop naturally (spec §5
// "Cancellation").
func (a *Array) Empty() bool {
	for _, s := range a.slots {
		if s != nil {
			return false
		}
	}
	return true
}

// ReadFunc reads and parses an on-disk page for the given ref,
// installing the parsed page. Supplied by the cache, which owns the
// block manager and the parse routine.
type ReadFunc func(r *page.Ref) (*page.Page, error)

// Acquire runs the hazard-acquisition protocol of spec §4.4 against
// ref, installing the resulting page pointer into a free hazard slot
// and returning it. Callers that need a released reference should
// call Array.Release when done.
//
// Step sequence: if the ref is on disk, CAS Disk->Reading, read and
// parse the page, publish Mem; if resident, publish this session's
// hazard pointer then re-check the state is still resident,
// retrying on failure; any other state yields and loops.
func Acquire(a *Array, r *page.Ref, read ReadFunc) (*page.Page, error) {
	for {
		switch st := r.State(); st {
		case page.Disk:
			if !r.CAS(page.Disk, page.Reading) {
				runtime.Gosched()
				continue
			}
			p, err := read(r)
			if err != nil {
				// Revert so another session can retry the read.
				r.Clear()
				r.CAS(page.Reading, page.Disk)
				return nil, err
			}
			r.Publish(p, page.Mem)
			slot := a.set(p)
			if slot < 0 {
				return nil, errs.Wrap(errs.NoMemory, "hazard: array full")
			}
			p.ReadGen.Add(1)
			return p, nil

		case page.Mem, page.EvictWalk:
			p := r.Page()
			if p == nil {
				runtime.Gosched()
				continue
			}
			slot := a.set(p)
			if slot < 0 {
				return nil, errs.Wrap(errs.NoMemory, "hazard: array full")
			}
			// Re-read state after publishing; if it moved on, this
			// hazard reference raced the evictor and must retry.
			if r.State() != page.Mem && r.State() != page.EvictWalk {
				a.clear(slot)
				continue
			}
			// __wt_page_in_func increments read_gen even when the page
			// was already resident; intentional LRU refresh
			// (spec §9 "Open questions").
			p.ReadGen.Add(1)
			return p, nil

		case page.Evicting, page.Locked, page.Reading:
			runtime.Gosched()
			continue

		default:
			return nil, errs.Wrapf(errs.Invalid, "hazard: unknown ref state %v", st)
		}
	}
}
