// Package block implements the storage core's block manager: it maps
// opaque address cookies to file extents, reads and writes
// allocation-unit-aligned chunks, and maintains a coalescing free
// list. Grounded on the teacher's internal/storage/pager/pager.go
// (OpenPager, AllocPage, FreePage, freePageLocked,
// freeOldFreeListChain) and internal/storage/pager/freelist.go
// (FreeManager's disk-backed free-extent chain).
package block

import (
	"encoding/binary"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/duskcask/wtcore/internal/wtcore/errs"
	"github.com/duskcask/wtcore/internal/wtcore/page"
	"github.com/duskcask/wtcore/internal/wtcore/wlog"
)

// maxAddrLen bounds an address cookie's encoded size (spec §3, §6).
const maxAddrLen = 255

// Addr is the block manager's address cookie: an opaque, bounded byte
// string produced from a writer's buffer and consumable only by the
// same manager. Outside this package it is carried as opaque bytes
// (see Addr.Bytes/ParseAddr); the struct form is this package's
// internal decoding of that encoding.
type Addr struct {
	Offset    uint64
	AllocSize uint32 // aligned on-disk footprint
	DataSize  uint32 // logical payload length within AllocSize
}

// Bytes encodes the address cookie: a varint extent offset followed
// by two fixed 32-bit lengths, matching spec §6's "default encoding
// packs an extent offset and two 32-bit lengths."
func (a Addr) Bytes() []byte {
	buf := make([]byte, binary.MaxVarintLen64+8)
	n := binary.PutUvarint(buf, a.Offset)
	binary.LittleEndian.PutUint32(buf[n:], a.AllocSize)
	binary.LittleEndian.PutUint32(buf[n+4:], a.DataSize)
	return buf[:n+8]
}

// ParseAddr decodes an address cookie previously produced by
// Addr.Bytes. Returns errs.Invalid on malformed input.
func ParseAddr(b []byte) (Addr, error) {
	off, n := binary.Uvarint(b)
	if n <= 0 || n+8 > len(b) {
		return Addr{}, errs.Wrap(errs.Invalid, "malformed address cookie")
	}
	return Addr{
		Offset:    off,
		AllocSize: binary.LittleEndian.Uint32(b[n:]),
		DataSize:  binary.LittleEndian.Uint32(b[n+4:]),
	}, nil
}

func (a Addr) IsZero() bool { return a.AllocSize == 0 }

// extent is a free region of the file, in allocation units.
type extent struct {
	offset uint64
	size   uint32
}

// Manager is the block manager for a single file.
type Manager struct {
	mu             sync.Mutex
	file           *os.File
	path           string
	allocationSize uint32
	checksum       bool
	nextOffset     uint64 // end of the highest-allocated extent
	free           []extent

	// salvage iteration state
	salvageOff uint64

	// verify iteration state
	verifyOff uint64
}

// Config carries the subset of spec §6's configuration surface the
// block manager itself consumes.
type Config struct {
	AllocationSize uint32
	Checksum       bool
}

// Create creates a new file-backed block manager. Returns errs.Exist
// if the file already exists.
func Create(path string, cfg Config) (*Manager, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, errs.Wrap(errs.Exist, path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errs.Wrapf(err, "block: create %s", path)
	}
	m := &Manager{file: f, path: path, allocationSize: cfg.AllocationSize, checksum: cfg.Checksum}
	wlog.Printf(wlog.FileOps, "created block file %s (allocation_size=%d)", path, cfg.AllocationSize)
	return m, nil
}

// Open opens an existing file-backed block manager. No free list is
// read from the file; the manager starts with an empty one. The
// salvage flag is only logged; the caller drives
// SalvageStart/Next/End itself.
func Open(path string, cfg Config, salvage bool) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NoEnt, path)
		}
		return nil, errs.Wrapf(err, "block: open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrapf(err, "block: stat %s", path)
	}
	m := &Manager{
		file:           f,
		path:           path,
		allocationSize: cfg.AllocationSize,
		checksum:       cfg.Checksum,
		nextOffset:     uint64(info.Size()),
	}
	wlog.Printf(wlog.FileOps, "opened block file %s size=%d salvage=%v", path, info.Size(), salvage)
	return m, nil
}

// Close flushes and closes the underlying file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return errs.Wrapf(err, "block: sync %s", m.path)
	}
	return errs.Wrapf(m.file.Close(), "block: close %s", m.path)
}

// Truncate resets the file to empty and drops all free-list state.
func (m *Manager) Truncate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Truncate(0); err != nil {
		return errs.Wrapf(err, "block: truncate %s", m.path)
	}
	m.nextOffset = 0
	m.free = nil
	return nil
}

// WriteSize returns n rounded up to the next allocation-unit multiple.
func (m *Manager) WriteSize(n uint32) uint32 {
	a := m.allocationSize
	if n%a == 0 {
		return n
	}
	return (n/a + 1) * a
}

// AddrValid reports whether addr could plausibly have been produced
// by this manager (bounds-checks against the current file extent;
// does not guarantee the extent is still live).
func (m *Manager) AddrValid(addr Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr.IsZero() {
		return false
	}
	return addr.Offset+uint64(addr.AllocSize) <= m.nextOffset
}

// Write stores buf in a newly allocated, allocation-unit-aligned
// extent (reusing a free extent when one is large enough) and returns
// its address cookie. Returns errs.NoSpace if buf exceeds the
// encodable length.
func (m *Manager) Write(buf []byte) (Addr, error) {
	if len(buf) > int(^uint32(0)) {
		return Addr{}, errs.Wrap(errs.NoSpace, "block: payload too large")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	allocSize := m.WriteSize(uint32(len(buf)))
	offset := m.allocLocked(allocSize)

	padded := buf
	if uint32(len(buf)) < allocSize {
		padded = make([]byte, allocSize)
		copy(padded, buf)
	}
	if m.checksum {
		// Nothing is reserved or added here: the checksum lives in the
		// page header the caller already set (see internal/wtcore/page)
		// and is verified by Read.
	}
	if _, err := m.file.WriteAt(padded, int64(offset)); err != nil {
		return Addr{}, errs.Wrapf(err, "block: write at %d", offset)
	}
	addr := Addr{Offset: offset, AllocSize: allocSize, DataSize: uint32(len(buf))}
	if len(addr.Bytes()) > maxAddrLen {
		return Addr{}, errs.Wrap(errs.Invalid, "block: address cookie exceeds maximum length")
	}
	wlog.Printf(wlog.Write, "wrote %d bytes at offset %d (alloc %d)", len(buf), offset, allocSize)
	return addr, nil
}

// allocLocked finds or extends an extent of at least size bytes,
// coalescing the free list as it goes. Caller holds m.mu.
func (m *Manager) allocLocked(size uint32) uint64 {
	for i, e := range m.free {
		if e.size >= size {
			offset := e.offset
			if e.size == size {
				m.free = append(m.free[:i], m.free[i+1:]...)
			} else {
				m.free[i] = extent{offset: e.offset + uint64(size), size: e.size - size}
			}
			return offset
		}
	}
	offset := m.nextOffset
	m.nextOffset += uint64(size)
	return offset
}

// Read returns a byte-identical copy of the buffer written at addr,
// until a subsequent Free of that cookie. Returns errs.Invalid if addr
// was never produced by (or has been freed from) this manager, and
// errs.Corruption if the manager is configured to checksum and the
// page's stored checksum no longer matches its contents (spec §7
// "Structural corruption: detected during read ... -> propagated").
func (m *Manager) Read(addr Addr) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.addrValidLocked(addr) {
		return nil, errs.Wrap(errs.Invalid, "block: invalid address cookie")
	}
	buf := make([]byte, addr.DataSize)
	if _, err := m.file.ReadAt(buf, int64(addr.Offset)); err != nil && err != io.EOF {
		return nil, errs.Wrapf(err, "block: read at %d", addr.Offset)
	}
	if m.checksum && !page.VerifyChecksum(buf) {
		wlog.Printf(wlog.Read, "checksum mismatch at offset %d", addr.Offset)
		return nil, errs.Wrap(errs.Corruption, "block: checksum mismatch")
	}
	wlog.Printf(wlog.Read, "read %d bytes at offset %d", addr.DataSize, addr.Offset)
	return buf, nil
}

func (m *Manager) addrValidLocked(addr Addr) bool {
	if addr.IsZero() {
		return false
	}
	return addr.Offset+uint64(addr.AllocSize) <= m.nextOffset
}

// Free releases addr's extent back to the free list, coalescing with
// any adjacent free extents. Freeing may be deferred by the caller
// until all outstanding hazard references are dropped (spec §4.1);
// this call itself is unconditional — the caller is responsible for
// the deferral.
func (m *Manager) Free(addr Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.addrValidLocked(addr) {
		return errs.Wrap(errs.Invalid, "block: free of invalid address cookie")
	}
	m.free = append(m.free, extent{offset: addr.Offset, size: addr.AllocSize})
	m.coalesceLocked()
	wlog.Printf(wlog.Block, "freed extent at offset %d size %d", addr.Offset, addr.AllocSize)
	return nil
}

// coalesceLocked merges adjacent free extents. Caller holds m.mu.
func (m *Manager) coalesceLocked() {
	sort.Slice(m.free, func(i, j int) bool { return m.free[i].offset < m.free[j].offset })
	merged := m.free[:0]
	for _, e := range m.free {
		if n := len(merged); n > 0 && merged[n-1].offset+uint64(merged[n-1].size) == e.offset {
			merged[n-1].size += e.size
			continue
		}
		merged = append(merged, e)
	}
	m.free = merged
}

// SalvageStart begins a forward salvage scan from the start of the
// file, walking past any block that fails checksum verification the
// way a truncated or partially corrupted file is expected to recover
// (see original_source/src/btree/bt_handle.c's salvage-open path).
func (m *Manager) SalvageStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.salvageOff = 0
}

// SalvageNext returns the next page image found at an
// allocation-unit-aligned offset: up to blockSize bytes are read and
// cut to the image length recorded in the page header. Offsets with
// no parseable header, or whose checksum fails, are skipped, until the
// end of the file is reached (io.EOF).
func (m *Manager) SalvageNext(blockSize uint32) (Addr, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.salvageOff < m.nextOffset {
		off := m.salvageOff
		buf := make([]byte, blockSize)
		n, err := m.file.ReadAt(buf, int64(off))
		if err != nil && err != io.EOF {
			return Addr{}, nil, errs.Wrapf(err, "block: salvage read at %d", off)
		}
		m.salvageOff += uint64(m.allocationSize)
		hdr, herr := page.UnmarshalHeader(buf[:n])
		if herr != nil || hdr.ImageLen < page.HeaderSize || int(hdr.ImageLen) > n {
			continue
		}
		buf = buf[:hdr.ImageLen]
		if m.checksum && !page.VerifyChecksum(buf) {
			wlog.Printf(wlog.Salvage, "skipping corrupt block at offset %d", off)
			continue
		}
		return Addr{Offset: off, AllocSize: m.WriteSize(hdr.ImageLen), DataSize: hdr.ImageLen}, buf, nil
	}
	return Addr{}, nil, io.EOF
}

// SalvageEnd finishes a salvage scan and drops the free list; extents
// that were not yielded as valid blocks are not added back to it.
func (m *Manager) SalvageEnd() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free = nil
	return nil
}

// VerifyStart begins a forward verification scan.
func (m *Manager) VerifyStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyOff = 0
}

// VerifyAddr checks addr's extent for checksum validity without
// altering manager state beyond the verify cursor. Read already
// performs the checksum check (spec §4.2/§6 checksums live in the
// page header); this just propagates that result and advances the
// cursor.
func (m *Manager) VerifyAddr(addr Addr) error {
	_, err := m.Read(addr)
	m.mu.Lock()
	m.verifyOff = addr.Offset + uint64(addr.AllocSize)
	m.mu.Unlock()
	if err != nil {
		if errs.Is(err, errs.Corruption) {
			wlog.Printf(wlog.Verify, "checksum mismatch at offset %d", addr.Offset)
		}
		return err
	}
	return nil
}

// VerifyEnd finishes a verification scan.
func (m *Manager) VerifyEnd() error { return nil }
