package recon

// SalvageCookie describes a contiguous record sub-range to emit
// during salvage reconciliation (spec §4.5 "Input", §9 "Salvage
// cookie"): missing-leading-deletes, a skip count, a take count, and
// a done flag. Reconciliation reads it before emitting each record.
type SalvageCookie struct {
	MissingLeadingDeletes bool
	Skip                  uint64
	Take                  uint64
	Done                  bool
}

// rleRun accumulates a run of repeated column-store-variable values
// as the reconciler walks the merged value stream (spec §4.5
// "Variable-length column-store"): the run is flushed only when the
// next value differs, the run is interrupted by an overflow-only
// value, or the page is closed. Deleted entries form runs of their
// own.
type rleRun struct {
	value   []byte
	deleted bool
	ovfl    bool
	count   uint64
}

// rleCoalescer walks a logical stream of (value, deleted, ovfl)
// triples and emits coalesced runs via flush.
type rleCoalescer struct {
	cur   *rleRun
	flush func(rleRun)
}

func newRLECoalescer(flush func(rleRun)) *rleCoalescer {
	return &rleCoalescer{flush: flush}
}

// Add folds one record into the current run, flushing the prior run
// first if the record doesn't extend it.
func (c *rleCoalescer) Add(value []byte, deleted, ovfl bool) {
	if c.cur != nil && !ovfl && !c.cur.ovfl && c.cur.deleted == deleted &&
		(deleted || bytesEqual(c.cur.value, value)) {
		c.cur.count++
		return
	}
	c.Close()
	c.cur = &rleRun{value: value, deleted: deleted, ovfl: ovfl, count: 1}
}

// Close flushes any in-progress run (spec: "a run is flushed ... or
// the page is closed").
func (c *rleCoalescer) Close() {
	if c.cur != nil {
		c.flush(*c.cur)
		c.cur = nil
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rleFlushSalvage applies a salvage cookie's skip/take bookkeeping to
// one coalesced run before it is emitted, preserving the original's
// exact (and slightly unusual) update order: rle is decremented by
// cookie.Skip *before* cookie.Skip itself is reset to zero.
//
// Grounded on original_source/src/btree/rec_write.c's column-store
// variable RLE salvage path; spec §9 "Open questions" directs the
// rewrite to preserve this asymmetric order rather than silently
// fix what might be a bug, and to add a regression test asserting
// the post-state.
func rleFlushSalvage(run rleRun, cookie *SalvageCookie) rleRun {
	if cookie == nil || cookie.Skip == 0 {
		return run
	}
	if run.count > cookie.Skip {
		run.count -= cookie.Skip
	} else {
		run.count = 0
	}
	// Original order: the skip is consumed against rle first, and only
	// afterward is the cookie's skip counter cleared for the next run.
	cookie.Skip = 0
	return run
}
