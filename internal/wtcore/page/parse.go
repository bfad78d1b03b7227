package page

import "github.com/duskcask/wtcore/internal/wtcore/errs"

// Parse decodes a raw page image into its in-memory representation,
// the inverse of the reconciler's image construction (spec §4.2's
// "unpack routine"). colFixedBitWidth is required only when the image
// turns out to be a column-store fixed-width page, since bit width is
// carried in the schema-level value_format string, which spec §6
// marks opaque to the core.
func Parse(buf []byte, h Handle, colFixedBitWidth int) (*Page, error) {
	hdr, err := UnmarshalHeader(buf)
	if err != nil {
		return nil, err
	}
	switch hdr.Variant {
	case RowLeaf:
		return parseRowLeaf(buf, hdr, h)
	case RowInternal:
		return parseRowInternal(buf, hdr, h)
	case ColInternal:
		return parseColInternal(buf, hdr, h)
	case ColFixed:
		return parseColFixed(buf, hdr, h, colFixedBitWidth)
	case ColVariable:
		return parseColVariable(buf, hdr, h)
	default:
		return nil, errs.Wrapf(errs.Corruption, "page: unparseable variant %v", hdr.Variant)
	}
}

func parseRowLeaf(buf []byte, hdr Header, h Handle) (*Page, error) {
	p := NewRowLeaf(h)
	body := buf[HeaderSize:]
	off := 0
	var prevKey []byte
	for off < len(body) {
		kc, n, err := Unpack(body[off:])
		if err != nil {
			return nil, err
		}
		off += n
		if kc.Kind == CellKey && kc.PrefixLen == 0 && len(kc.Payload) == 0 {
			break // trailing zero-length KEY cell marks end of stream
		}
		keyOvfl := kc.Kind == CellKeyOvfl
		var key []byte
		if keyOvfl {
			key = kc.Payload
		} else {
			key = CopyKey(kc, prevKey)
			prevKey = key
		}
		if off >= len(body) {
			return nil, errs.Wrap(errs.Corruption, "page: row-leaf key with no matching value cell")
		}
		vc, n2, err := Unpack(body[off:])
		if err != nil {
			return nil, err
		}
		off += n2
		p.RowLeaf.Entries = append(p.RowLeaf.Entries, RowLeafEntry{
			Key: key, Value: vc.Payload,
			KeyOverflow:   keyOvfl,
			ValueOverflow: vc.Kind == CellValueOvfl,
		})
	}
	return p, nil
}

func parseRowInternal(buf []byte, hdr Header, h Handle) (*Page, error) {
	p := NewRowInternal(h)
	body := buf[HeaderSize:]
	off := 0
	for off < len(body) {
		kc, n, err := Unpack(body[off:])
		if err != nil {
			return nil, err
		}
		off += n
		if off >= len(body) {
			return nil, errs.Wrap(errs.Corruption, "page: row-internal key with no matching addr cell")
		}
		ac, n2, err := Unpack(body[off:])
		if err != nil {
			return nil, err
		}
		off += n2
		child := NewDiskRef(ac.Payload)
		child.OverflowKey = kc.Kind == CellKeyOvfl
		p.RowInternal.Entries = append(p.RowInternal.Entries, RowInternalEntry{
			Key: kc.Payload, Child: child,
		})
	}
	return p, nil
}

func parseColInternal(buf []byte, hdr Header, h Handle) (*Page, error) {
	p := NewColInternal(h)
	body := buf[HeaderSize:]
	off := 0
	for off < len(body) {
		c, n, err := Unpack(body[off:])
		if err != nil {
			return nil, err
		}
		off += n
		p.ColInternal.Entries = append(p.ColInternal.Entries, ColInternalEntry{
			StartRecno: c.RLE, Child: NewDiskRef(c.Payload),
		})
	}
	return p, nil
}

func parseColFixed(buf []byte, hdr Header, h Handle, bitWidth int) (*Page, error) {
	p := NewColFixed(h, bitWidth, hdr.StartRecno)
	p.ColFixed.Image = append([]byte(nil), buf[HeaderSize:]...)
	return p, nil
}

func parseColVariable(buf []byte, hdr Header, h Handle) (*Page, error) {
	p := NewColVariable(h, hdr.StartRecno)
	body := buf[HeaderSize:]
	off := 0
	for off < len(body) {
		c, n, err := Unpack(body[off:])
		if err != nil {
			return nil, err
		}
		off += n
		rle := c.RLE
		if rle == 0 {
			rle = 1
		}
		p.ColVariable.Entries = append(p.ColVariable.Entries, ColVariableEntry{
			RLE: rle, Value: c.Payload, Deleted: c.Kind == CellDel, Ovfl: c.Kind == CellValueOvfl,
		})
	}
	return p, nil
}
