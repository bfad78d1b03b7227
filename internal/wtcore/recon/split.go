package recon

import (
	"bytes"

	"github.com/duskcask/wtcore/internal/wtcore/block"
	"github.com/duskcask/wtcore/internal/wtcore/page"
)

// splitState is the reconciler's split-boundary bookkeeping state
// (spec §4.5 "Split-boundary bookkeeping").
type splitState int

const (
	// stateBoundary: next milestone is a split chunk boundary; on
	// crossing, record (start offset, first recno or promoted key,
	// entry count so far) in a boundary slot.
	stateBoundary splitState = iota
	// stateMax: the image filled up to the maximum; rewind and write
	// each recorded chunk independently, then proceed as
	// stateTrackingOff.
	stateMax
	// stateTrackingOff: either we never needed splits (max ==
	// split-size) or we already did the max fixup; each further chunk
	// is written immediately at split boundaries.
	stateTrackingOff
)

// splitBoundary is one recorded milestone: where the next chunk
// begins, what key/recno promotes it, and how many entries preceded
// it.
type splitBoundary struct {
	offset      int
	promotedKey []byte
	promotedRec uint64
	entryCount  int
}

// writtenChunk is one on-disk image this reconciliation pass produced.
type writtenChunk struct {
	addr        block.Addr
	promotedKey []byte // nil for the very first chunk (inherits parent's separator)
	promotedRec uint64
	entryCount  int
}

// splitEntry is one already-encoded, atomic on-disk unit (one or more
// cells) a variant-specific reconciler hands to the splitter.
type splitEntry struct {
	bytes       []byte
	promotedKey []byte
	promotedRec uint64
}

// splitWriter drives spec §4.5's three-state split-boundary machine
// over a growing image buffer, writing completed chunks through a
// block.Manager-shaped Writer. Grounded on the chunk-cutting logic of
// the teacher's internal/storage/pager/btree.go split/promotion code
// (splitInternal, insertWithSplit), generalized into the
// buffer-rewind model spec §4.5 describes.
type splitWriter struct {
	w         Writer
	variant   page.Variant
	maxSize   uint32
	splitSize uint32
	checksum  bool

	state      splitState
	buf        *bytes.Buffer
	boundaries []splitBoundary
	entryCount int
	lastCut    int

	// pending* track the promotion data for the chunk currently
	// accumulating in stateTrackingOff.
	pendingKey   []byte
	pendingRec   uint64
	pendingCount int

	// needKey is set whenever a boundary/cut has just closed a chunk:
	// the next entry Add sees is the first entry of the chunk that is
	// now accumulating, and its promoted key/recno is what that new
	// chunk will be found under in the parent (spec §4.5 "Key
	// promotion").
	needKey bool

	chunks []writtenChunk
}

// Writer is the block-manager surface the splitter needs.
type Writer interface {
	Write(buf []byte) (block.Addr, error)
	WriteSize(n uint32) uint32
}

func newSplitWriter(w Writer, variant page.Variant, maxSize, splitPct uint32, checksum bool) *splitWriter {
	splitSize := maxSize * splitPct / 100
	state := stateBoundary
	if splitSize >= maxSize {
		// "we never needed splits (max == split-size)"
		state = stateTrackingOff
		splitSize = maxSize
	}
	return &splitWriter{
		w: w, variant: variant, maxSize: maxSize, splitSize: splitSize, checksum: checksum,
		state: state, buf: &bytes.Buffer{}, needKey: true,
	}
}

// Add appends one encoded entry to the image, cutting a chunk
// boundary (or performing the max-size fixup) as needed.
func (s *splitWriter) Add(e splitEntry) error {
	if s.needKey {
		s.captureKey(e)
		s.needKey = false
	}
	s.buf.Write(e.bytes)
	s.entryCount++

	switch s.state {
	case stateBoundary:
		if uint32(s.buf.Len()) >= s.splitSize*uint32(len(s.boundaries)+1) {
			s.boundaries = append(s.boundaries, splitBoundary{
				offset: s.buf.Len(), entryCount: s.entryCount,
			})
			s.needKey = true
		}
		if uint32(s.buf.Len()) >= s.maxSize {
			return s.fixup()
		}
	case stateTrackingOff:
		if uint32(s.buf.Len()-s.lastCut) >= s.splitSize {
			if err := s.cut(s.buf.Len()); err != nil {
				return err
			}
			s.needKey = true
		}
	}
	return nil
}

// captureKey records e's promoted key/recno against whichever slot is
// currently waiting to be filled: the most recently recorded boundary
// in stateBoundary, or the pending chunk's key in stateTrackingOff.
func (s *splitWriter) captureKey(e splitEntry) {
	switch s.state {
	case stateBoundary:
		if n := len(s.boundaries); n > 0 {
			s.boundaries[n-1].promotedKey = e.promotedKey
			s.boundaries[n-1].promotedRec = e.promotedRec
		}
	case stateTrackingOff:
		s.pendingKey, s.pendingRec = e.promotedKey, e.promotedRec
	}
}

// fixup performs the SPLIT_MAX rewind: write each recorded boundary's
// chunk independently, then fall through to stateTrackingOff for
// everything after the last recorded boundary.
func (s *splitWriter) fixup() error {
	data := s.buf.Bytes()
	prevOff := 0
	prevKey, prevRec, prevCount := []byte(nil), uint64(0), 0
	for _, b := range s.boundaries {
		if err := s.writeChunk(data[prevOff:b.offset], prevKey, prevRec, b.entryCount-prevCount); err != nil {
			return err
		}
		prevOff, prevKey, prevRec, prevCount = b.offset, b.promotedKey, b.promotedRec, b.entryCount
	}
	remaining := append([]byte(nil), data[prevOff:]...)
	s.buf.Reset()
	s.buf.Write(remaining)
	s.lastCut = 0
	s.boundaries = nil
	s.pendingKey, s.pendingRec, s.pendingCount = prevKey, prevRec, prevCount
	s.state = stateTrackingOff
	return nil
}

// cut writes the bytes between the last cut point and upto as one
// chunk, in stateTrackingOff.
func (s *splitWriter) cut(upto int) error {
	data := s.buf.Bytes()
	if err := s.writeChunk(data[s.lastCut:upto], s.pendingKey, s.pendingRec, s.entryCount-s.pendingCount); err != nil {
		return err
	}
	s.lastCut = upto
	s.pendingCount = s.entryCount
	return nil
}

func (s *splitWriter) writeChunk(body []byte, promotedKey []byte, promotedRec uint64, entryCount int) error {
	imgLen := uint32(page.HeaderSize + len(body))
	buf := make([]byte, imgLen)
	h := page.Header{Variant: s.variant, ImageLen: imgLen, EntryCount: uint32(entryCount), StartRecno: promotedRec}
	page.MarshalHeader(h, buf)
	copy(buf[page.HeaderSize:], body)
	if s.checksum {
		page.SetChecksum(buf)
	}
	addr, err := s.w.Write(buf)
	if err != nil {
		return err
	}
	s.chunks = append(s.chunks, writtenChunk{addr: addr, promotedKey: promotedKey, promotedRec: promotedRec, entryCount: entryCount})
	return nil
}

// Finish flushes whatever remains in the buffer as the final chunk
// (or the single chunk, if no split was ever needed) and returns the
// full list of written chunks.
func (s *splitWriter) Finish() ([]writtenChunk, error) {
	data := s.buf.Bytes()
	switch s.state {
	case stateBoundary:
		// Never crossed max: exactly one chunk, the whole image.
		if err := s.writeChunk(data, nil, 0, s.entryCount); err != nil {
			return nil, err
		}
	case stateTrackingOff:
		if s.lastCut < len(data) {
			if err := s.writeChunk(data[s.lastCut:], s.pendingKey, s.pendingRec, s.entryCount-s.pendingCount); err != nil {
				return nil, err
			}
		}
	}
	return s.chunks, nil
}
