package page

import (
	"bytes"
	"testing"
)

func buildImage(t *testing.T, h Header, body []byte) []byte {
	t.Helper()
	buf := make([]byte, HeaderSize+len(body))
	h.ImageLen = uint32(len(buf))
	MarshalHeader(h, buf)
	copy(buf[HeaderSize:], body)
	SetChecksum(buf)
	return buf
}

func TestRowLeafRoundTrip(t *testing.T) {
	t.Parallel()
	var body bytes.Buffer
	Pack(&body, Cell{Kind: CellKey, Payload: []byte("alpha")})
	Pack(&body, Cell{Kind: CellValue, Payload: []byte("1")})
	Pack(&body, Cell{Kind: CellKey, Payload: []byte("beta")})
	Pack(&body, Cell{Kind: CellValue, Payload: []byte("")})
	Pack(&body, TrailingKeyCell())

	buf := buildImage(t, Header{Variant: RowLeaf, EntryCount: 2}, body.Bytes())
	if !VerifyChecksum(buf) {
		t.Fatalf("checksum mismatch before parse")
	}

	p, err := Parse(buf, 1, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Variant != RowLeaf {
		t.Fatalf("variant = %v, want RowLeaf", p.Variant)
	}
	entries := p.RowLeaf.Entries
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if string(entries[0].Key) != "alpha" || string(entries[0].Value) != "1" {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
	if string(entries[1].Key) != "beta" || string(entries[1].Value) != "" {
		t.Fatalf("entries[1] = %+v", entries[1])
	}
}

func TestRowInternalRoundTrip(t *testing.T) {
	t.Parallel()
	var body bytes.Buffer
	Pack(&body, Cell{Kind: CellKey, Payload: []byte{0}})
	Pack(&body, Cell{Kind: CellAddr, Payload: []byte("addr-a")})
	Pack(&body, Cell{Kind: CellKey, Payload: []byte("m")})
	Pack(&body, Cell{Kind: CellAddr, Payload: []byte("addr-b")})

	buf := buildImage(t, Header{Variant: RowInternal, EntryCount: 2}, body.Bytes())
	p, err := Parse(buf, 1, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	entries := p.RowInternal.Entries
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if string(entries[1].Key) != "m" || string(entries[1].Child.Addr()) != "addr-b" {
		t.Fatalf("entries[1] = %+v", entries[1])
	}
}

func TestColFixedRoundTrip(t *testing.T) {
	t.Parallel()
	image := []byte{0x42, 0x43, 0x44, 0x45}
	buf := buildImage(t, Header{Variant: ColFixed, StartRecno: 100}, image)
	p, err := Parse(buf, 1, 8)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.ColFixed.StartRecno != 100 {
		t.Fatalf("StartRecno = %d, want 100", p.ColFixed.StartRecno)
	}
	if got := p.ColFixed.RecordCount(); got != 4 {
		t.Fatalf("RecordCount() = %d, want 4", got)
	}
	if !bytes.Equal(p.ColFixed.Image, image) {
		t.Fatalf("Image = %x, want %x", p.ColFixed.Image, image)
	}
}

func TestColVariableRoundTrip(t *testing.T) {
	t.Parallel()
	var body bytes.Buffer
	Pack(&body, Cell{Kind: CellValue, RLE: 1000, Payload: []byte{0x42}})
	Pack(&body, Cell{Kind: CellDel, RLE: 3})
	Pack(&body, Cell{Kind: CellValue, Payload: []byte("tail")})

	buf := buildImage(t, Header{Variant: ColVariable, StartRecno: 0}, body.Bytes())
	p, err := Parse(buf, 1, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	entries := p.ColVariable.Entries
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[0].RLE != 1000 || !bytes.Equal(entries[0].Value, []byte{0x42}) {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
	if entries[1].RLE != 3 || !entries[1].Deleted {
		t.Fatalf("entries[1] = %+v", entries[1])
	}
	if entries[2].RLE != 1 || string(entries[2].Value) != "tail" {
		t.Fatalf("entries[2] = %+v", entries[2])
	}
}

func TestColInternalRoundTrip(t *testing.T) {
	t.Parallel()
	var body bytes.Buffer
	Pack(&body, Cell{Kind: CellAddr, RLE: 0, Payload: []byte("chunk-0")})
	Pack(&body, Cell{Kind: CellAddr, RLE: 500, Payload: []byte("chunk-1")})

	buf := buildImage(t, Header{Variant: ColInternal}, body.Bytes())
	p, err := Parse(buf, 1, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	entries := p.ColInternal.Entries
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[1].StartRecno != 500 || string(entries[1].Child.Addr()) != "chunk-1" {
		t.Fatalf("entries[1] = %+v", entries[1])
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	t.Parallel()
	buf := make([]byte, HeaderSize)
	if _, err := Parse(buf, 1, 0); err == nil {
		t.Fatal("Parse succeeded on zeroed buffer, want corruption error")
	}
}
