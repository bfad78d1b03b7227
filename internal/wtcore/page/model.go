package page

import "sync/atomic"

// Outcome is the post-reconciliation result recorded on a page's
// Modification (spec §3 "Modification descriptor", §4.5 "Output").
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeEmpty
	OutcomeReplace
	OutcomeSplit
)

// Modification is attached to a page once it becomes dirty. It
// carries the post-reconciliation outcome plus the generation
// counters used to detect lost updates during reconciliation
// (spec §3, §4.5 "Concurrency interaction").
type Modification struct {
	Outcome     Outcome
	ReplaceAddr []byte // valid iff Outcome == OutcomeReplace
	Split       *Page  // synthetic internal page, valid iff Outcome == OutcomeSplit

	DiskGen  uint64
	WriteGen atomic.Uint64
}

// NewModification returns a fresh modification descriptor with no
// outcome and zero generation counters.
func NewModification() *Modification { return &Modification{} }

// Update is one entry in a per-key update chain: the newest update is
// at the head, appended lock-free via CAS (spec §5 "Per-page
// modifications ... are lock-free, relying on CAS to append to a
// skip-list or update-chain head").
type Update struct {
	Value   []byte
	Deleted bool
	next    atomic.Pointer[Update]
}

// UpdateChain is a lock-free, CAS-appended singly linked list of
// updates for one key or column-store slot.
type UpdateChain struct {
	head atomic.Pointer[Update]
}

// Prepend installs u as the new head, retrying the CAS against
// concurrent prepends.
func (c *UpdateChain) Prepend(u *Update) {
	for {
		old := c.head.Load()
		u.next.Store(old)
		if c.head.CompareAndSwap(old, u) {
			return
		}
	}
}

// Head returns the most recent update, or nil if the chain is empty.
func (c *UpdateChain) Head() *Update { return c.head.Load() }

// Next returns the update chain entry older than u.
func (u *Update) Next() *Update { return u.next.Load() }

// InsertEntry is one pending insert in a per-gap insert list: new
// keys land here rather than mutating the page's base entry slice
// directly, and are merged in during reconciliation.
type InsertEntry struct {
	Key     []byte
	Value   []byte
	Deleted bool
	next    atomic.Pointer[InsertEntry]
}

// InsertList is a lock-free, CAS-appended list of pending inserts for
// one gap between two existing base entries (or before the first /
// after the last). Reconciliation sorts and merges it against the
// base entries by key order; it is intentionally unsorted in memory
// so concurrent inserters never contend past a single CAS.
type InsertList struct {
	head atomic.Pointer[InsertEntry]
}

func (l *InsertList) Prepend(e *InsertEntry) {
	for {
		old := l.head.Load()
		e.next.Store(old)
		if l.head.CompareAndSwap(old, e) {
			return
		}
	}
}

// Entries copies the list into a slice, newest first, without removing
// anything from the list (callers sort by key).
func (l *InsertList) Entries() []*InsertEntry {
	var out []*InsertEntry
	for e := l.head.Load(); e != nil; e = e.next.Load() {
		out = append(out, e)
	}
	return out
}

func (e *InsertEntry) Next() *InsertEntry { return e.next.Load() }

// RowInternalEntry is one (key, child-address) pair on a row-store
// internal page; keys are stored fully instantiated in memory
// (spec §3).
type RowInternalEntry struct {
	Key   []byte
	Child *Ref
}

// RowInternalData is the row-store internal page's side structure.
type RowInternalData struct {
	Entries []RowInternalEntry
}

// RowLeafEntry is one (key, value) pair on a row-store leaf. Updates
// are held in a side update-chain rather than mutating Value
// in-place (spec §3).
type RowLeafEntry struct {
	Key           []byte
	Value         []byte
	KeyOverflow   bool
	ValueOverflow bool
	Updates       *UpdateChain
}

// RowLeafData is the row-store leaf page's side structure: base
// entries plus one insert list per gap (index i holds inserts that
// sort between Entries[i-1] and Entries[i]; index len(Entries) holds
// inserts after the last base entry).
type RowLeafData struct {
	Entries []RowLeafEntry
	Inserts []*InsertList
}

// GapInsertList returns (creating if necessary) the insert list for
// the gap before Entries[i].
func (d *RowLeafData) GapInsertList(i int) *InsertList {
	for len(d.Inserts) <= i {
		d.Inserts = append(d.Inserts, &InsertList{})
	}
	if d.Inserts[i] == nil {
		d.Inserts[i] = &InsertList{}
	}
	return d.Inserts[i]
}

// ColInternalEntry is one (starting-record-number, child-address)
// pair on a column-store internal page (spec §3).
type ColInternalEntry struct {
	StartRecno uint64
	Child      *Ref
}

// ColInternalData is the column-store internal page's side structure.
type ColInternalData struct {
	Entries []ColInternalEntry
}

// ColFixedData is the column-store fixed-width page's side structure:
// a byte-aligned record image mutated in place by updates, plus a single
// append list extending the image (spec §3, §4.5 "Fixed-length
// column-store").
type ColFixedData struct {
	BitWidth   int
	StartRecno uint64
	Image      []byte // byte-aligned records, RecordCount() of them
	Appends    *InsertList
}

// RecordCount returns the number of fixed-width records packed into
// Image. Records are stored byte-aligned (ceil(BitWidth/8) bytes
// each) rather than true sub-byte bit-packing; see DESIGN.md for the
// rationale.
func (d *ColFixedData) RecordCount() int {
	bpr := d.bytesPerRecord()
	if bpr == 0 {
		return 0
	}
	return len(d.Image) / bpr
}

func (d *ColFixedData) bytesPerRecord() int {
	if d.BitWidth == 0 {
		return 0
	}
	return (d.BitWidth + 7) / 8
}

// ColVariableEntry is one value cell, possibly run-length-encoded
// (spec §3).
type ColVariableEntry struct {
	RLE     uint64 // repeat count; 1 if not run-length-encoded
	Value   []byte
	Deleted bool
	Ovfl    bool
}

// ColVariableData is the column-store variable-width page's side
// structure: base RLE cells, per-slot update chains keyed by entry
// index, and an append list (spec §3, §4.5 "Variable-length
// column-store").
type ColVariableData struct {
	StartRecno uint64
	Entries    []ColVariableEntry
	Updates    map[int]*UpdateChain
	Appends    *InsertList
}

// UpdatesFor returns (creating if necessary) the update chain for
// base entry index i.
func (d *ColVariableData) UpdatesFor(i int) *UpdateChain {
	if d.Updates == nil {
		d.Updates = map[int]*UpdateChain{}
	}
	if d.Updates[i] == nil {
		d.Updates[i] = &UpdateChain{}
	}
	return d.Updates[i]
}

// Page is the in-memory representation of one resident B-tree page
// (spec §3). It is addressed by Handle from an arena rather than by
// raw pointer, per DESIGN NOTES "Pointer cycles parent↔child".
type Page struct {
	Handle  Handle
	Variant Variant

	Parent        Handle
	IndexInParent int

	ReadGen      atomic.Uint64
	MemFootprint atomic.Int64

	// DiskImage is the page's clean on-disk byte image, present while
	// the page has no in-memory modifications since it was last
	// reconciled or read.
	DiskImage []byte

	// Modify is non-nil iff the page is dirty.
	Modify *Modification

	// SplitMerge marks a synthetic internal page created by a split;
	// such pages are never independently written, only absorbed by
	// their parent on the parent's next reconciliation (spec §4.5).
	SplitMerge bool

	// Pinned excludes the page from the LRU eviction walk (spec §4.3).
	Pinned bool

	// MergeFlagged excludes the page from the LRU eviction walk
	// because it is queued for parent-merge absorption.
	MergeFlagged bool

	RowInternal *RowInternalData
	RowLeaf     *RowLeafData
	ColInternal *ColInternalData
	ColFixed    *ColFixedData
	ColVariable *ColVariableData
}

// NewRowLeaf returns a fresh, empty row-store leaf page.
func NewRowLeaf(h Handle) *Page {
	return &Page{Handle: h, Variant: RowLeaf, RowLeaf: &RowLeafData{}}
}

// NewRowInternal returns a fresh, empty row-store internal page.
func NewRowInternal(h Handle) *Page {
	return &Page{Handle: h, Variant: RowInternal, RowInternal: &RowInternalData{}}
}

// NewColInternal returns a fresh, empty column-store internal page.
func NewColInternal(h Handle) *Page {
	return &Page{Handle: h, Variant: ColInternal, ColInternal: &ColInternalData{}}
}

// NewColFixed returns a fresh, empty column-store fixed-width page.
func NewColFixed(h Handle, bitWidth int, startRecno uint64) *Page {
	return &Page{Handle: h, Variant: ColFixed, ColFixed: &ColFixedData{
		BitWidth: bitWidth, StartRecno: startRecno, Appends: &InsertList{},
	}}
}

// NewColVariable returns a fresh, empty column-store variable-width
// page.
func NewColVariable(h Handle, startRecno uint64) *Page {
	return &Page{Handle: h, Variant: ColVariable, ColVariable: &ColVariableData{
		StartRecno: startRecno, Appends: &InsertList{},
	}}
}

// Dirty reports whether the page has an attached modification
// descriptor.
func (p *Page) Dirty() bool { return p.Modify != nil }

// MarkDirty attaches a fresh modification descriptor if the page does
// not already have one, and bumps its write generation.
func (p *Page) MarkDirty() {
	if p.Modify == nil {
		p.Modify = NewModification()
	}
	p.Modify.WriteGen.Add(1)
}

// EntryCount returns the page's logical entry count across base
// entries and any pending inserts/appends, used for the B-tree
// handle's footprint estimate.
func (p *Page) EntryCount() int {
	switch p.Variant {
	case RowInternal:
		return len(p.RowInternal.Entries)
	case RowLeaf:
		n := len(p.RowLeaf.Entries)
		for _, l := range p.RowLeaf.Inserts {
			if l != nil {
				n += len(l.Entries())
			}
		}
		return n
	case ColInternal:
		return len(p.ColInternal.Entries)
	case ColFixed:
		return p.ColFixed.RecordCount() + len(p.ColFixed.Appends.Entries())
	case ColVariable:
		n := len(p.ColVariable.Entries)
		n += len(p.ColVariable.Appends.Entries())
		return n
	default:
		return 0
	}
}
