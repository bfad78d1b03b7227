package block

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/duskcask/wtcore/internal/wtcore/errs"
	"github.com/duskcask/wtcore/internal/wtcore/page"
)

func newTestManager(t *testing.T, checksum bool) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t.wt")
	m, err := Create(path, Config{AllocationSize: 512, Checksum: checksum})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, false)

	payload := bytes.Repeat([]byte("x"), 100)
	addr, err := m.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read(addr)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Read returned %q, want %q", got, payload)
	}
}

func TestAddrBytesRoundTrip(t *testing.T) {
	t.Parallel()
	addr := Addr{Offset: 4096, AllocSize: 512, DataSize: 200}
	got, err := ParseAddr(addr.Bytes())
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	if got != addr {
		t.Fatalf("ParseAddr(Bytes()) = %+v, want %+v", got, addr)
	}
}

func TestReadRejectsUnknownAddr(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, false)
	_, err := m.Read(Addr{Offset: 0, AllocSize: 512, DataSize: 10})
	if !errs.Is(err, errs.Invalid) {
		t.Fatalf("Read of never-written addr err = %v, want errs.Invalid", err)
	}
}

// TestFreeThenAllocReusesExtent exercises the coalescing free list
// (spec §4.1): once an extent is freed, a subsequent Write of the same
// size must reuse its offset rather than extending the file.
func TestFreeThenAllocReusesExtent(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, false)

	a1, err := m.Write(bytes.Repeat([]byte("a"), 50))
	if err != nil {
		t.Fatalf("Write a1: %v", err)
	}
	if err := m.Free(a1); err != nil {
		t.Fatalf("Free: %v", err)
	}

	a2, err := m.Write(bytes.Repeat([]byte("b"), 50))
	if err != nil {
		t.Fatalf("Write a2: %v", err)
	}
	if a2.Offset != a1.Offset {
		t.Fatalf("a2.Offset = %d, want reused offset %d", a2.Offset, a1.Offset)
	}
}

// TestCoalesceMergesAdjacentFreeExtents frees two adjacent extents out
// of order and checks the free list holds them as one merged extent.
func TestCoalesceMergesAdjacentFreeExtents(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, false)

	a1, err := m.Write(make([]byte, 10)) // allocSize 512
	if err != nil {
		t.Fatalf("Write a1: %v", err)
	}
	a2, err := m.Write(make([]byte, 10)) // allocSize 512, directly after a1
	if err != nil {
		t.Fatalf("Write a2: %v", err)
	}
	if a2.Offset != a1.Offset+uint64(a1.AllocSize) {
		t.Fatalf("a2 is not adjacent to a1: a1=%+v a2=%+v", a1, a2)
	}

	if err := m.Free(a2); err != nil {
		t.Fatalf("Free a2: %v", err)
	}
	if err := m.Free(a1); err != nil {
		t.Fatalf("Free a1: %v", err)
	}
	if len(m.free) != 1 {
		t.Fatalf("len(m.free) = %d, want 1 after coalescing adjacent extents", len(m.free))
	}
	if m.free[0].size != a1.AllocSize+a2.AllocSize {
		t.Fatalf("merged extent size = %d, want %d", m.free[0].size, a1.AllocSize+a2.AllocSize)
	}
}

func TestFreeRejectsUnknownAddr(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, false)
	err := m.Free(Addr{Offset: 0, AllocSize: 512, DataSize: 10})
	if !errs.Is(err, errs.Invalid) {
		t.Fatalf("Free of never-written addr err = %v, want errs.Invalid", err)
	}
}

// TestReadDetectsChecksumMismatch writes a page image with a valid
// header checksum, corrupts a payload byte on disk, and checks Read
// reports errs.Corruption instead of returning the mangled bytes
// silently (spec §7 "Structural corruption").
func TestReadDetectsChecksumMismatch(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, true)

	buf := make([]byte, page.HeaderSize+16)
	hdr := page.Header{Variant: page.RowLeaf, ImageLen: uint32(len(buf)), EntryCount: 1}
	page.MarshalHeader(hdr, buf)
	copy(buf[page.HeaderSize:], bytes.Repeat([]byte("p"), 16))
	page.SetChecksum(buf)

	addr, err := m.Write(buf)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := m.Read(addr); err != nil {
		t.Fatalf("Read of intact page: %v", err)
	}

	corrupt := append([]byte(nil), buf...)
	corrupt[len(corrupt)-1] ^= 0xff
	if _, err := m.file.WriteAt(corrupt, int64(addr.Offset)); err != nil {
		t.Fatalf("corrupting write: %v", err)
	}

	if _, err := m.Read(addr); !errs.Is(err, errs.Corruption) {
		t.Fatalf("Read of corrupted page err = %v, want errs.Corruption", err)
	}
}

// TestChecksumDisabledIgnoresMismatch checks a manager configured with
// Checksum: false never runs the check, matching the checksum config
// flag's documented scope (spec §6).
func TestChecksumDisabledIgnoresMismatch(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, false)

	buf := make([]byte, page.HeaderSize+16)
	hdr := page.Header{Variant: page.RowLeaf, ImageLen: uint32(len(buf)), EntryCount: 1}
	page.MarshalHeader(hdr, buf)
	copy(buf[page.HeaderSize:], bytes.Repeat([]byte("p"), 16))
	page.SetChecksum(buf)

	addr, err := m.Write(buf)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	corrupt := append([]byte(nil), buf...)
	corrupt[len(corrupt)-1] ^= 0xff
	if _, err := m.file.WriteAt(corrupt, int64(addr.Offset)); err != nil {
		t.Fatalf("corrupting write: %v", err)
	}

	if _, err := m.Read(addr); err != nil {
		t.Fatalf("Read with checksum disabled returned %v, want nil", err)
	}
}

func TestVerifyAddrPropagatesCorruptionAndAdvancesCursor(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, true)

	buf := make([]byte, page.HeaderSize+8)
	hdr := page.Header{Variant: page.RowLeaf, ImageLen: uint32(len(buf)), EntryCount: 1}
	page.MarshalHeader(hdr, buf)
	page.SetChecksum(buf)

	addr, err := m.Write(buf)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	corrupt := append([]byte(nil), buf...)
	corrupt[len(corrupt)-1] ^= 0xff
	if _, err := m.file.WriteAt(corrupt, int64(addr.Offset)); err != nil {
		t.Fatalf("corrupting write: %v", err)
	}

	m.VerifyStart()
	if err := m.VerifyAddr(addr); !errs.Is(err, errs.Corruption) {
		t.Fatalf("VerifyAddr err = %v, want errs.Corruption", err)
	}
	if m.verifyOff != addr.Offset+uint64(addr.AllocSize) {
		t.Fatalf("verifyOff = %d, want cursor advanced past the corrupt extent", m.verifyOff)
	}
}
