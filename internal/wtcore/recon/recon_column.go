package recon

import (
	"bytes"

	"github.com/duskcask/wtcore/internal/wtcore/page"
)

// reconcileColInternal mirrors reconcileRowInternal for column-store
// internal pages: entries are keyed by starting record number instead
// of a key, carried in the ADDR cell's RLE field.
func reconcileColInternal(p *page.Page, w Writer, opts Options) (*Result, error) {
	entries := p.ColInternal.Entries
	if len(entries) == 0 {
		return &Result{Outcome: page.OutcomeEmpty}, nil
	}
	sw := newSplitWriter(w, page.ColInternal, opts.MaxPageSize, uint32(opts.SplitPct), opts.Checksum)

	for _, e := range entries {
		recno := e.StartRecno
		if child := e.Child.Page(); child != nil && child.SplitMerge && child.ColInternal != nil {
			for j, se := range child.ColInternal.Entries {
				r := se.StartRecno
				if j == 0 {
					r = recno
				}
				var buf bytes.Buffer
				page.Pack(&buf, page.Cell{Kind: page.CellAddr, RLE: r, Payload: se.Child.Addr()})
				if err := sw.Add(splitEntry{bytes: buf.Bytes(), promotedRec: r}); err != nil {
					return nil, err
				}
			}
			continue
		}
		var buf bytes.Buffer
		page.Pack(&buf, page.Cell{Kind: page.CellAddr, RLE: recno, Payload: e.Child.Addr()})
		if err := sw.Add(splitEntry{bytes: buf.Bytes(), promotedRec: recno}); err != nil {
			return nil, err
		}
	}
	chunks, err := sw.Finish()
	if err != nil {
		return nil, err
	}
	return finishColChunks(opts, chunks)
}

// reconcileColFixed implements spec §4.5's "Fixed-length column-store"
// path: the in-memory bit image (here byte-aligned per record rather
// than true sub-byte bit-packing — see DESIGN.md) is copied wholesale,
// and the append list extends it, producing splits when the
// configured budget fills.
func reconcileColFixed(p *page.Page, w Writer, opts Options) (*Result, error) {
	d := p.ColFixed
	bytesPerRecord := (d.BitWidth + 7) / 8
	if bytesPerRecord == 0 {
		bytesPerRecord = 1
	}
	var records [][]byte
	for i := 0; i+bytesPerRecord <= len(d.Image); i += bytesPerRecord {
		records = append(records, d.Image[i:i+bytesPerRecord])
	}
	for _, e := range d.Appends.Entries() {
		records = append(records, e.Value)
	}
	if len(records) == 0 {
		return &Result{Outcome: page.OutcomeEmpty}, nil
	}

	sw := newSplitWriter(w, page.ColFixed, opts.MaxPageSize, uint32(opts.SplitPct), opts.Checksum)
	recno := d.StartRecno
	for _, r := range records {
		if err := sw.Add(splitEntry{bytes: r, promotedRec: recno}); err != nil {
			return nil, err
		}
		recno++
	}
	chunks, err := sw.Finish()
	if err != nil {
		return nil, err
	}
	return finishColChunks(opts, chunks)
}

// reconcileColVariable implements spec §4.5's "Variable-length
// column-store" path: on-the-fly RLE coalescing across base cells,
// per-slot updates, and appended records, honoring a salvage cookie's
// skip/take bookkeeping when present.
func reconcileColVariable(p *page.Page, w Writer, opts Options, salvage *SalvageCookie) (*Result, error) {
	d := p.ColVariable
	sw := newSplitWriter(w, page.ColVariable, opts.MaxPageSize, uint32(opts.SplitPct), opts.Checksum)
	tracker := newOverflowTracker()
	recno := d.StartRecno

	var flushErr error
	flush := func(run rleRun) {
		if flushErr != nil {
			return
		}
		// recno is one past the run's last record when a run is flushed.
		start := recno - run.count
		if salvage != nil {
			orig := run.count
			run = rleFlushSalvage(run, salvage)
			if run.count == 0 {
				return
			}
			start += orig - run.count
		}
		var buf bytes.Buffer
		var cell page.Cell
		switch {
		case run.deleted:
			cell = page.Cell{Kind: page.CellDel, RLE: run.count}
		case uint32(len(run.value)) > opts.itemMax():
			addr, err := writeOverflow(w, tracker, run.value, opts.Checksum)
			if err != nil {
				flushErr = err
				return
			}
			cell = page.Cell{Kind: page.CellValueOvfl, RLE: run.count, Payload: addr}
		default:
			cell = page.Cell{Kind: page.CellValue, RLE: run.count, Payload: run.value}
		}
		page.Pack(&buf, cell)
		if err := sw.Add(splitEntry{bytes: buf.Bytes(), promotedRec: start}); err != nil {
			flushErr = err
		}
	}
	coalescer := newRLECoalescer(flush)

	recIdx := 0
	for _, e := range d.Entries {
		for k := uint64(0); k < e.RLE; k++ {
			val, deleted, ovfl := e.Value, e.Deleted, e.Ovfl
			if uc := d.Updates[recIdx]; uc != nil {
				if u := uc.Head(); u != nil {
					val, deleted, ovfl = u.Value, u.Deleted, false
				}
			}
			coalescer.Add(val, deleted, ovfl)
			if flushErr != nil {
				return nil, flushErr
			}
			recno++
			recIdx++
		}
	}
	for _, e := range d.Appends.Entries() {
		coalescer.Add(e.Value, e.Deleted, false)
		if flushErr != nil {
			return nil, flushErr
		}
		recno++
	}
	coalescer.Close()
	if flushErr != nil {
		return nil, flushErr
	}

	chunks, err := sw.Finish()
	if err != nil {
		return nil, err
	}
	return finishColChunks(opts, chunks)
}

// finishColChunks wraps a column-store reconciliation's chunk list
// into a Result, synthesizing a split-merge column-internal page when
// more than one chunk was produced.
func finishColChunks(opts Options, chunks []writtenChunk) (*Result, error) {
	if len(chunks) == 0 {
		return &Result{Outcome: page.OutcomeEmpty}, nil
	}
	if len(chunks) == 1 {
		return &Result{Outcome: page.OutcomeReplace, ReplaceAddr: chunks[0].addr.Bytes()}, nil
	}
	h := opts.AllocHandle()
	split := page.NewColInternal(h)
	split.SplitMerge = true
	split.MarkDirty()
	for _, c := range chunks {
		ref := page.NewDiskRef(c.addr.Bytes())
		split.ColInternal.Entries = append(split.ColInternal.Entries, page.ColInternalEntry{StartRecno: c.promotedRec, Child: ref})
	}
	return &Result{Outcome: page.OutcomeSplit, Split: split}, nil
}
