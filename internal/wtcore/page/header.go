// Package page implements the on-disk page codec and the in-memory
// page model for the five B-tree page variants named in spec §3-§4.2:
// row-store internal/leaf, column-store internal/fixed/variable.
//
// Grounded on the teacher's internal/storage/pager/page.go
// (PageHeader layout, CRC32-Castagnoli checksum helpers) and
// internal/storage/pager/slotted_page.go (the slotted cell-stream
// idea, generalized here into a flat cell stream rather than a slot
// directory, per spec §4.2's "stream of cells" description).
package page

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/duskcask/wtcore/internal/wtcore/errs"
)

// Variant identifies one of the five page kinds, or the standalone
// overflow page type.
type Variant uint8

const (
	RowInternal Variant = iota
	RowLeaf
	ColInternal
	ColFixed
	ColVariable
	Overflow
)

func (v Variant) String() string {
	switch v {
	case RowInternal:
		return "row-internal"
	case RowLeaf:
		return "row-leaf"
	case ColInternal:
		return "col-internal"
	case ColFixed:
		return "col-fixed"
	case ColVariable:
		return "col-variable"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// magic identifies a valid page header.
const magic uint32 = 0x57544b56 // "WTKV"

// HeaderSize is the fixed on-disk page header size (spec §6):
// 4-byte magic, 1-byte variant, 1-byte reserved, 2-byte flags,
// 4-byte checksum, 4-byte image length, 8-byte union (entry count or,
// for column stores, starting record number).
const HeaderSize = 4 + 1 + 1 + 2 + 4 + 4 + 8

// Flag bits carried in the header's flags field.
const (
	FlagCompressed uint16 = 1 << iota
	FlagEncrypted
)

// Header is the fixed, fully-decoded page header.
type Header struct {
	Variant    Variant
	Flags      uint16
	Checksum   uint32
	ImageLen   uint32
	EntryCount uint32 // row-store / column-internal entry count
	StartRecno uint64 // column-store fixed/variable starting record number
}

// MarshalHeader writes h into the first HeaderSize bytes of buf.
func MarshalHeader(h Header, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], magic)
	buf[4] = byte(h.Variant)
	buf[5] = 0
	binary.LittleEndian.PutUint16(buf[6:], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:], h.Checksum)
	binary.LittleEndian.PutUint32(buf[12:], h.ImageLen)
	switch h.Variant {
	case ColFixed, ColVariable, ColInternal:
		binary.LittleEndian.PutUint64(buf[16:], h.StartRecno)
	default:
		binary.LittleEndian.PutUint64(buf[16:], uint64(h.EntryCount))
	}
}

// UnmarshalHeader decodes a header from buf. Returns errs.Corruption
// if the magic does not match.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errs.Wrap(errs.Corruption, "page: short buffer for header")
	}
	if got := binary.LittleEndian.Uint32(buf[0:]); got != magic {
		return Header{}, errs.Wrap(errs.Corruption, "page: bad magic")
	}
	h := Header{
		Variant:  Variant(buf[4]),
		Flags:    binary.LittleEndian.Uint16(buf[6:]),
		Checksum: binary.LittleEndian.Uint32(buf[8:]),
		ImageLen: binary.LittleEndian.Uint32(buf[12:]),
	}
	union := binary.LittleEndian.Uint64(buf[16:])
	switch h.Variant {
	case ColFixed, ColVariable, ColInternal:
		h.StartRecno = union
	default:
		h.EntryCount = uint32(union)
	}
	return h, nil
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum returns the CRC32-Castagnoli checksum of buf with
// the checksum field itself (bytes [8:12]) treated as zero, matching
// the teacher's ComputePageCRC convention in pager/page.go.
func ComputeChecksum(buf []byte) uint32 {
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	binary.LittleEndian.PutUint32(tmp[8:], 0)
	return crc32.Checksum(tmp, castagnoli)
}

// SetChecksum computes and stores buf's checksum in the header.
func SetChecksum(buf []byte) {
	binary.LittleEndian.PutUint32(buf[8:], ComputeChecksum(buf))
}

// VerifyChecksum reports whether buf's stored checksum matches its
// contents.
func VerifyChecksum(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	want := binary.LittleEndian.Uint32(buf[8:])
	return ComputeChecksum(buf) == want
}
