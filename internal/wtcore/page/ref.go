package page

import "sync/atomic"

// RefState is the ref state machine's discriminant (spec §3 "Reference
// slot (ref)", DESIGN NOTES "Ref state machine"). A page is resident
// (its in-memory pointer is non-null) iff State is one of Mem,
// Locked, Evicting, EvictWalk.
type RefState int32

const (
	Disk RefState = iota
	Reading
	Mem
	Locked
	Evicting
	EvictWalk
)

func (s RefState) String() string {
	switch s {
	case Disk:
		return "disk"
	case Reading:
		return "reading"
	case Mem:
		return "mem"
	case Locked:
		return "locked"
	case Evicting:
		return "evicting"
	case EvictWalk:
		return "evict_walk"
	default:
		return "unknown"
	}
}

// Handle names an arena-resident page with a small integer rather
// than a raw pointer, per DESIGN NOTES "Pointer cycles parent↔child":
// this breaks the parent/child ownership cycle and makes hazard
// bookkeeping purely integer-based.
type Handle uint32

// NilHandle is the zero value, never assigned to a live page.
const NilHandle Handle = 0

// Ref is the parent's pointer slot for one child (spec §3). State
// transitions are atomic CAS and are the sole authority on
// residency. Addr holds the child's last on-disk address and is kept
// while the page is resident, until SetAddr replaces it; Page is valid
// only while State is one of {Mem, Locked, Evicting, EvictWalk}.
//
// Publication of a new Page handle into Page uses a release store
// (atomic.Pointer's Store) performed before the discriminant CAS
// publishes Mem, and readers CAS-check the discriminant (an acquire
// operation) before dereferencing Page — matching DESIGN NOTES
// "Serialization barriers".
type Ref struct {
	state RefState32
	addr  AddrBytes // opaque address cookie bytes, last on-disk address
	page  atomic.Pointer[pagePtrBox]

	// OverflowKey is set when this ref's separator key was written as
	// an overflow cell; reconciliation needs this to know whether the
	// key is eligible for free when the child reconciles to empty
	// (spec §4.5 "Internal pages").
	OverflowKey bool
}

// AddrBytes is the encoded form of a block.Addr, kept untyped here so
// the page package has no import-cycle dependency on block.
type AddrBytes []byte

// pagePtrBox indirects the stored *Page so atomic.Pointer's zero
// value (nil) is distinguishable from "valid pointer to a page with
// handle 0".
type pagePtrBox struct {
	p *Page
}

// RefState32 is a CAS-capable wrapper around RefState.
type RefState32 struct{ v atomic.Int32 }

func (s *RefState32) Load() RefState          { return RefState(s.v.Load()) }
func (s *RefState32) Store(v RefState)        { s.v.Store(int32(v)) }
func (s *RefState32) CAS(old, new RefState) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}

// NewDiskRef creates a ref pointing at an on-disk address, not yet
// resident.
func NewDiskRef(addr []byte) *Ref {
	r := &Ref{addr: addr}
	r.state.Store(Disk)
	return r
}

// State returns the ref's current state (acquire semantics via the
// underlying atomic load).
func (r *Ref) State() RefState { return r.state.Load() }

// CAS attempts the state transition old -> new.
func (r *Ref) CAS(old, new RefState) bool { return r.state.CAS(old, new) }

// Addr returns the last on-disk address cookie, which is not cleared
// when the page becomes resident.
func (r *Ref) Addr() []byte { return r.addr }

// SetAddr overwrites the stored address cookie (used after
// reconciliation replaces a child with a new address).
func (r *Ref) SetAddr(addr []byte) { r.addr = addr }

// Page returns the resident in-memory page, or nil if not resident.
// Performs an acquire load of the pointer after observing a resident
// state, matching the publish/read pairing of DESIGN NOTES
// "Serialization barriers".
func (r *Ref) Page() *Page {
	box := r.page.Load()
	if box == nil {
		return nil
	}
	return box.p
}

// Publish installs p as the resident page and transitions the ref's
// state to newState (one of Mem, Locked, Evicting, EvictWalk). The
// pointer store happens-before the state CAS, so a reader that
// observes the new state via State() is guaranteed to see a
// fully-initialized p via Page().
func (r *Ref) Publish(p *Page, newState RefState) {
	r.page.Store(&pagePtrBox{p: p})
	r.state.Store(newState)
}

// Clear removes the resident page pointer (used when a ref reverts
// to Disk after eviction, or is deleted by reconciliation).
func (r *Ref) Clear() {
	r.page.Store(nil)
}
