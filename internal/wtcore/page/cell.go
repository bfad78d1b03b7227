package page

import (
	"bytes"
	"encoding/binary"

	"github.com/duskcask/wtcore/internal/wtcore/errs"
)

// CellKind tags one cell in a page's cell stream (spec §4.2).
type CellKind uint8

const (
	CellKey CellKind = iota
	CellKeyOvfl
	CellValue
	CellValueOvfl
	CellAddr
	CellDel
)

// descriptor byte bit layout: low 3 bits are the CellKind; the
// remaining bits flag which optional fields follow.
const (
	descKindMask   = 0x07
	descHasRLE     = 1 << 3 // 64-bit RLE / record-number field follows
	descHasPrefix  = 1 << 4 // 8-bit key-prefix length follows
	descHasPayload = 1 << 5 // 32-bit payload length + payload follow
)

// Cell is the codec's unpacked, stack-allocated view of one cell.
// Fill it via Unpack; pack it back with Pack.
type Cell struct {
	Kind      CellKind
	RLE       uint64 // repeat count (column-variable) or record number (column cells)
	PrefixLen uint8  // row-store leaf key prefix-compression length
	Payload   []byte // literal payload, or an address cookie for *_OVFL/ADDR cells
}

// HasRLE reports whether the cell carries an RLE/record-number field.
func (c Cell) HasRLE() bool { return c.RLE > 0 }

// Pack appends the wire encoding of c to w.
func Pack(w *bytes.Buffer, c Cell) {
	desc := byte(c.Kind) & descKindMask
	hasRLE := c.RLE > 0
	hasPrefix := c.PrefixLen > 0
	hasPayload := c.Kind != CellDel

	if hasRLE {
		desc |= descHasRLE
	}
	if hasPrefix {
		desc |= descHasPrefix
	}
	if hasPayload {
		desc |= descHasPayload
	}
	w.WriteByte(desc)
	if hasRLE {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], c.RLE)
		w.Write(b[:])
	}
	if hasPrefix {
		w.WriteByte(c.PrefixLen)
	}
	if hasPayload {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(len(c.Payload)))
		w.Write(b[:])
		w.Write(c.Payload)
	}
}

// Unpack decodes one cell starting at buf[0], returning the cell and
// the number of bytes consumed. This is the codec's "unpack routine"
// of spec §4.2, filling a stack-allocated descriptor for any cell.
func Unpack(buf []byte) (Cell, int, error) {
	if len(buf) < 1 {
		return Cell{}, 0, errs.Wrap(errs.Corruption, "page: empty cell buffer")
	}
	desc := buf[0]
	off := 1
	c := Cell{Kind: CellKind(desc & descKindMask)}

	if desc&descHasRLE != 0 {
		if len(buf) < off+8 {
			return Cell{}, 0, errs.Wrap(errs.Corruption, "page: truncated RLE field")
		}
		c.RLE = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	if desc&descHasPrefix != 0 {
		if len(buf) < off+1 {
			return Cell{}, 0, errs.Wrap(errs.Corruption, "page: truncated prefix field")
		}
		c.PrefixLen = buf[off]
		off++
	}
	if desc&descHasPayload != 0 {
		if len(buf) < off+4 {
			return Cell{}, 0, errs.Wrap(errs.Corruption, "page: truncated payload length")
		}
		n := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		if len(buf) < off+int(n) {
			return Cell{}, 0, errs.Wrap(errs.Corruption, "page: truncated payload")
		}
		c.Payload = buf[off : off+int(n)]
		off += int(n)
	}
	return c, off, nil
}

// CopyKey reconstructs a prefix-compressed key's full bytes by
// fetching the prior full key, per spec §4.2's "copy routine
// reconstructs a prefix-compressed key by fetching the prior key."
func CopyKey(cell Cell, prevFullKey []byte) []byte {
	if cell.PrefixLen == 0 {
		return cell.Payload
	}
	out := make([]byte, 0, int(cell.PrefixLen)+len(cell.Payload))
	out = append(out, prevFullKey[:cell.PrefixLen]...)
	out = append(out, cell.Payload...)
	return out
}

// TrailingKeyCell is the zero-length KEY cell written after the last
// key/value pair on a row-store leaf, so a zero-length final value is
// distinguishable (spec §4.2, and the boundary behavior in §8 "a
// row-store leaf containing a single zero-length value round-trips").
func TrailingKeyCell() Cell {
	return Cell{Kind: CellKey, Payload: []byte{}}
}
