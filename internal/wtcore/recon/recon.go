// Package recon implements the reconciliation engine: it flattens one
// dirty in-memory page into one or more on-disk images and produces a
// modification outcome (spec §4.5). Grounded on the teacher's
// internal/storage/pager/btree.go split/promotion logic
// (insertWithSplit, splitInternal, createNewRoot) for the
// chunk-boundary and parent-substitution mechanics, generalized to
// spec §4.5's buffer-rewind split-state machine (see split.go).
package recon

import (
	"bytes"
	"sort"

	"github.com/duskcask/wtcore/internal/wtcore/errs"
	"github.com/duskcask/wtcore/internal/wtcore/page"
	"github.com/duskcask/wtcore/internal/wtcore/wlog"
)

// Collator compares two keys, returning <0, 0, >0 like bytes.Compare.
// Defaults to byte-lexicographic (spec invariant 7).
type Collator func(a, b []byte) int

// Options configures one reconciliation pass, drawn from the owning
// B-tree handle's configuration (spec §6).
type Options struct {
	MaxPageSize         uint32
	SplitPct            int
	ItemMax             uint32 // 0 means 1/8 of the split size
	PrefixCompression   bool
	InternalKeyTruncate bool
	KeyGap              int
	Checksum            bool
	Collator            Collator

	// AllocHandle allocates a fresh arena handle for a synthesized
	// split/internal page.
	AllocHandle func() page.Handle
}

func (o Options) itemMax() uint32 {
	if o.ItemMax != 0 {
		return o.ItemMax
	}
	return o.MaxPageSize * uint32(o.SplitPct) / 100 / 8
}

func (o Options) collate(a, b []byte) int {
	if o.Collator != nil {
		return o.Collator(a, b)
	}
	return bytes.Compare(a, b)
}

// Result is the reconciler's output, mirroring page.Modification's
// outcome shape but returned independently of the page so the caller
// (the evictor or a sync/close request) decides when to commit it.
type Result struct {
	Outcome     page.Outcome
	ReplaceAddr []byte
	Split       *page.Page
}

// Reconcile flattens p's in-memory state via w (the owning file's
// block manager) and opts, returning the resulting outcome. If p is a
// split-merge pseudo-page, Reconcile returns immediately with
// OutcomeNone: such pages are only ever absorbed by their parent
// (spec §4.5).
//
// Reconciliation snapshots p.Modify.WriteGen at start; if it has
// advanced by the time the image is fully built, Reconcile aborts
// with errs.Restart and the page remains dirty (spec §4.5 "Concurrency
// interaction").
func Reconcile(p *page.Page, w Writer, opts Options, salvage *SalvageCookie) (*Result, error) {
	if p.SplitMerge {
		return &Result{Outcome: page.OutcomeNone}, nil
	}
	if !p.Dirty() {
		return &Result{Outcome: page.OutcomeNone}, nil
	}
	startGen := p.Modify.WriteGen.Load()

	var (
		result *Result
		err    error
	)
	switch p.Variant {
	case page.RowLeaf:
		result, err = reconcileRowLeaf(p, w, opts, salvage)
	case page.RowInternal:
		result, err = reconcileRowInternal(p, w, opts)
	case page.ColFixed:
		result, err = reconcileColFixed(p, w, opts)
	case page.ColVariable:
		result, err = reconcileColVariable(p, w, opts, salvage)
	case page.ColInternal:
		result, err = reconcileColInternal(p, w, opts)
	default:
		return nil, errs.Wrapf(errs.Invalid, "recon: unknown page variant %v", p.Variant)
	}
	if err != nil {
		return nil, err
	}

	if p.Modify.WriteGen.Load() != startGen {
		wlog.Printf(wlog.Reconcile, "write_gen advanced during reconciliation of handle %d, aborting", p.Handle)
		return nil, errs.Wrap(errs.Restart, "recon: write generation advanced")
	}
	return result, nil
}

// mergedKV is a resolved (key, value) pair ready to serialize, after
// folding base entries, update chains, and insert lists together.
type mergedKV struct {
	key           []byte
	value         []byte
	keyOverflow   bool
	valueOverflow bool
}

// mergeRowLeaf resolves d's base entries, their update chains, and
// its per-gap insert lists into one collator-ordered sequence,
// dropping deleted entries (spec §3 "Row-store leaf").
func mergeRowLeaf(d *page.RowLeafData, cmp Collator) []mergedKV {
	opts := Options{Collator: cmp}
	var merged []mergedKV
	emitGap := func(i int) {
		if i >= len(d.Inserts) || d.Inserts[i] == nil {
			return
		}
		ins := d.Inserts[i].Entries()
		sort.Slice(ins, func(a, b int) bool { return opts.collate(ins[a].Key, ins[b].Key) < 0 })
		for _, e := range ins {
			if !e.Deleted {
				merged = append(merged, mergedKV{key: e.Key, value: e.Value})
			}
		}
	}
	for i, e := range d.Entries {
		emitGap(i)
		val, deleted, valOvfl := e.Value, false, e.ValueOverflow
		if e.Updates != nil {
			if u := e.Updates.Head(); u != nil {
				val, deleted, valOvfl = u.Value, u.Deleted, false
			}
		}
		if !deleted {
			merged = append(merged, mergedKV{key: e.Key, value: val, keyOverflow: e.KeyOverflow, valueOverflow: valOvfl})
		}
	}
	emitGap(len(d.Entries))
	return merged
}

// writeOverflow writes payload as a standalone OVFL page, deduping
// against tracker, and returns an address-cookie cell payload.
func writeOverflow(w Writer, tracker *overflowTracker, payload []byte, checksum bool) ([]byte, error) {
	if addr, ok := tracker.addrFor(payload); ok {
		return addr.Bytes(), nil
	}
	buf := make([]byte, page.HeaderSize+len(payload))
	h := page.Header{Variant: page.Overflow, ImageLen: uint32(len(buf)), EntryCount: 1}
	page.MarshalHeader(h, buf)
	copy(buf[page.HeaderSize:], payload)
	if checksum {
		page.SetChecksum(buf)
	}
	addr, err := w.Write(buf)
	if err != nil {
		return nil, err
	}
	tracker.remember(payload, addr)
	return addr.Bytes(), nil
}

// reconcileRowLeaf implements spec §4.5's row-store leaf path: prefix
// compression reset at chunk boundaries, overflow cells for
// oversized keys/values, a trailing zero-length KEY cell, and the
// split-boundary machine of split.go.
func reconcileRowLeaf(p *page.Page, w Writer, opts Options, salvage *SalvageCookie) (*Result, error) {
	merged := mergeRowLeaf(p.RowLeaf, opts.Collator)
	if len(merged) == 0 {
		return &Result{Outcome: page.OutcomeEmpty}, nil
	}

	sw := newSplitWriter(w, page.RowLeaf, opts.MaxPageSize, uint32(opts.SplitPct), opts.Checksum)
	tracker := newOverflowTracker()

	var prevKeyInChunk []byte
	for i, kv := range merged {
		var buf bytes.Buffer
		key := kv.key
		chunkStart := i == 0 || crossedBoundary(sw)

		keyCell := page.Cell{Kind: page.CellKey, Payload: key}
		if uint32(len(key)) > opts.itemMax() {
			addr, err := writeOverflow(w, tracker, key, opts.Checksum)
			if err != nil {
				return nil, err
			}
			keyCell = page.Cell{Kind: page.CellKeyOvfl, Payload: addr}
		} else if opts.PrefixCompression && !chunkStart && prevKeyInChunk != nil {
			n := commonPrefixLen(prevKeyInChunk, key)
			if n > 255 {
				n = 255
			}
			if n > 0 {
				keyCell = page.Cell{Kind: page.CellKey, PrefixLen: uint8(n), Payload: key[n:]}
			}
		}
		page.Pack(&buf, keyCell)

		valCell := page.Cell{Kind: page.CellValue, Payload: kv.value}
		if uint32(len(kv.value)) > opts.itemMax() {
			addr, err := writeOverflow(w, tracker, kv.value, opts.Checksum)
			if err != nil {
				return nil, err
			}
			valCell = page.Cell{Kind: page.CellValueOvfl, Payload: addr}
		}
		page.Pack(&buf, valCell)

		if err := sw.Add(splitEntry{bytes: buf.Bytes(), promotedKey: key}); err != nil {
			return nil, err
		}
		if keyCell.Kind == page.CellKeyOvfl {
			// The parser does not resolve overflow keys, so the next key
			// must not be prefix-compressed against this one.
			prevKeyInChunk = nil
		} else {
			prevKeyInChunk = key
		}
	}

	// Trailing zero-length KEY cell (spec §4.2), appended to the final
	// chunk only.
	var trailer bytes.Buffer
	page.Pack(&trailer, page.TrailingKeyCell())
	if err := sw.Add(splitEntry{bytes: trailer.Bytes()}); err != nil {
		return nil, err
	}

	chunks, err := sw.Finish()
	if err != nil {
		return nil, err
	}
	return finishChunks(p, chunks, opts)
}

// crossedBoundary reports whether sw has produced at least one chunk
// boundary so far (used to decide whether prefix compression must
// reset for the entry currently being added).
func crossedBoundary(sw *splitWriter) bool {
	return len(sw.boundaries) > 0 || sw.state == stateTrackingOff && sw.lastCut > 0
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// finishChunks turns the split writer's raw chunk list into a
// reconciliation Result: empty (unreachable here, handled earlier),
// replace (single chunk), or split (K>1 chunks wrapped in a synthetic
// internal page with suffix-compressed promoted keys, spec §4.5 "Key
// promotion and suffix compression").
func finishChunks(p *page.Page, chunks []writtenChunk, opts Options) (*Result, error) {
	if len(chunks) == 0 {
		return &Result{Outcome: page.OutcomeEmpty}, nil
	}
	if len(chunks) == 1 {
		return &Result{Outcome: page.OutcomeReplace, ReplaceAddr: chunks[0].addr.Bytes()}, nil
	}

	h := opts.AllocHandle()
	split := page.NewRowInternal(h)
	split.SplitMerge = true
	split.MarkDirty()

	var lastKeyOfPrev []byte
	for i, c := range chunks {
		key := c.promotedKey
		if i == 0 {
			// First chunk inherits the page's external identity; its
			// separator key is supplied by the parent, not this page
			// (spec §4.5 "Internal page 0-th key").
			key = []byte{0}
		} else if opts.InternalKeyTruncate && lastKeyOfPrev != nil {
			key = suffixCompress(lastKeyOfPrev, key)
		}
		ref := page.NewDiskRef(c.addr.Bytes())
		split.RowInternal.Entries = append(split.RowInternal.Entries, page.RowInternalEntry{Key: key, Child: ref})
		lastKeyOfPrev = c.promotedKey
	}
	return &Result{Outcome: page.OutcomeSplit, Split: split}, nil
}

// suffixCompress returns the smallest prefix of key that compares
// strictly greater than prevLast, trimming internal keys without
// losing search correctness (spec §4.5 "Key promotion and suffix
// compression"). Not applied across an overflow key by the caller
// (no comparable image is available there).
func suffixCompress(prevLast, key []byte) []byte {
	for n := 1; n <= len(key); n++ {
		cand := key[:n]
		if bytes.Compare(cand, prevLast) > 0 {
			return cand
		}
	}
	return key
}
