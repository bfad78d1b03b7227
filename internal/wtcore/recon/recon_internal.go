package recon

import (
	"bytes"

	"github.com/duskcask/wtcore/internal/wtcore/page"
)

// reconcileRowInternal implements spec §4.5's "Internal pages"
// substitution rules: an empty child is simply absent already (its
// ref was removed from Entries when it reconciled); a replaced
// child's address is already current on its ref and is emitted as one
// ADDR cell; a split child is recognized by its resident page's
// SplitMerge flag and its own entries are recursively inlined, with
// the first inlined entry inheriting this entry's separator key
// (spec "merge-correction, because the child's 0th key was never
// maintained"). The 0th entry's key is truncated to a single
// -infinity sentinel byte (spec "Internal page 0-th key").
//
// A separator key too large to inline is written as its own overflow
// block, same as an oversized row-leaf key; the child ref carries
// OverflowKey so that block can be freed when the child later
// reconciles to empty (spec §4.5 "Internal pages").
func reconcileRowInternal(p *page.Page, w Writer, opts Options) (*Result, error) {
	entries := p.RowInternal.Entries
	if len(entries) == 0 {
		return &Result{Outcome: page.OutcomeEmpty}, nil
	}
	sw := newSplitWriter(w, page.RowInternal, opts.MaxPageSize, uint32(opts.SplitPct), opts.Checksum)
	tracker := newOverflowTracker()

	writeEntry := func(key []byte, child *page.Ref, sentinel bool) error {
		keyCell := page.Cell{Kind: page.CellKey, Payload: key}
		child.OverflowKey = false
		if !sentinel && uint32(len(key)) > opts.itemMax() {
			addr, err := writeOverflow(w, tracker, key, opts.Checksum)
			if err != nil {
				return err
			}
			keyCell = page.Cell{Kind: page.CellKeyOvfl, Payload: addr}
			child.OverflowKey = true
		}
		var buf bytes.Buffer
		page.Pack(&buf, keyCell)
		page.Pack(&buf, page.Cell{Kind: page.CellAddr, Payload: child.Addr()})
		return sw.Add(splitEntry{bytes: buf.Bytes(), promotedKey: key})
	}

	for i, e := range entries {
		key := e.Key
		sentinel := i == 0
		if sentinel {
			key = []byte{0}
		}
		if child := e.Child.Page(); child != nil && child.SplitMerge && child.RowInternal != nil {
			for j, se := range child.RowInternal.Entries {
				k := se.Key
				childSentinel := false
				if j == 0 {
					k = key
					childSentinel = sentinel
				}
				if err := writeEntry(k, se.Child, childSentinel); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := writeEntry(key, e.Child, sentinel); err != nil {
			return nil, err
		}
	}
	chunks, err := sw.Finish()
	if err != nil {
		return nil, err
	}
	return finishChunks(p, chunks, opts)
}
