// Package btree implements the B-tree handle: per-file state, page
// size configuration, and lifecycle (open, close, bulk-load, salvage,
// verify) named in spec §4.6. It wires together block, page, hazard,
// cache, and recon into one file's worth of storage-core behavior.
//
// Grounded on the teacher's internal/storage/pager/btree.go (BTree
// struct, CreateBTree, insert/split/findLeaf descent) and
// internal/storage/pager/backend.go (PageBackend's lifecycle and
// configuration wiring), generalized from tinySQL's page-ID model to
// the ref/hazard/cache model spec §3-§4 describes.
package btree

import (
	"sync"
	"sync/atomic"

	"github.com/duskcask/wtcore/internal/wtcore/block"
	"github.com/duskcask/wtcore/internal/wtcore/cache"
	"github.com/duskcask/wtcore/internal/wtcore/config"
	"github.com/duskcask/wtcore/internal/wtcore/errs"
	"github.com/duskcask/wtcore/internal/wtcore/hazard"
	"github.com/duskcask/wtcore/internal/wtcore/page"
	"github.com/duskcask/wtcore/internal/wtcore/recon"
	"github.com/duskcask/wtcore/internal/wtcore/wlog"
)

// Handle owns one open B-tree file's state (spec §4.6).
//
// Cursors "share" the handle's lock while schema operations (none
// implemented here; out of scope per spec §1) would take it
// exclusively, per spec §5 "Every handle carries a read-write lock;
// schema operations take it exclusively, cursors share."
type Handle struct {
	mu sync.RWMutex

	id       uint32
	fileName string
	cfg      config.BTreeConfig
	block    *block.Manager
	cache    *cache.Cache
	collator recon.Collator

	arenaMu    sync.Mutex
	arena      map[page.Handle]*page.Page
	nextHandle uint32

	root       *page.Ref
	rootHandle page.Handle

	lastRecno   atomic.Uint64
	evictCursor cache.EvictCursor
	inFlight    atomic.Int32

	hazardMax int
}

// ID implements cache.Tree.
func (h *Handle) ID() uint32 { return h.id }

// InFlight implements cache.Tree.
func (h *Handle) InFlight() *atomic.Int32 { return &h.inFlight }

// allocHandle hands out a fresh small-integer arena handle, never
// reusing a value, per DESIGN NOTES "Pointer cycles parent↔child".
func (h *Handle) allocHandle() page.Handle {
	h.arenaMu.Lock()
	defer h.arenaMu.Unlock()
	h.nextHandle++
	return page.Handle(h.nextHandle)
}

// registerPage adds p to the arena and accounts its estimated memory
// footprint against the cache's byte budget (spec invariant 5).
func (h *Handle) registerPage(p *page.Page, footprint int64) {
	p.MemFootprint.Store(footprint)
	h.arenaMu.Lock()
	h.arena[p.Handle] = p
	h.arenaMu.Unlock()
	h.cache.AccountAlloc(footprint)
}

// unregisterPage removes p from the arena and releases its accounted
// footprint.
func (h *Handle) unregisterPage(p *page.Page) {
	h.arenaMu.Lock()
	delete(h.arena, p.Handle)
	h.arenaMu.Unlock()
	h.cache.AccountFree(p.MemFootprint.Load())
}

// estimateFootprint approximates a resident page's memory cost from
// its entry count, since in-memory cell bytes aren't otherwise summed
// per entry; disk-sourced pages use their exact image length instead
// (see readPage). See DESIGN.md for the simplification rationale.
func estimateFootprint(p *page.Page) int64 {
	return int64(page.HeaderSize + p.EntryCount()*32)
}

// Create creates a new B-tree file and synthesizes an empty tree: a
// root internal page with one dirty empty leaf child, so the first
// cursor insert always finds a target without touching the block
// manager (spec §4.6).
func Create(fileName string, cfg config.BTreeConfig, c *cache.Cache, id uint32) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bm, err := block.Create(fileName, block.Config{AllocationSize: cfg.AllocationSize, Checksum: cfg.Checksum})
	if err != nil {
		return nil, err
	}
	h := &Handle{
		id: id, fileName: fileName, cfg: cfg, block: bm, cache: c,
		collator: ResolveCollator(cfg.Collator),
		arena:    map[page.Handle]*page.Page{},
	}
	h.synthesizeEmptyTree()
	c.RegisterTree(h)
	wlog.Printf(wlog.FileOps, "created btree %s", fileName)
	return h, nil
}

// Open opens an existing B-tree file given the schema layer's
// previously persisted root address cookie (persisting and resolving
// that address across the URI namespace is the schema/catalog
// layer's job, explicitly out of scope per spec §1 — this handle only
// consumes it).
func Open(fileName string, cfg config.BTreeConfig, c *cache.Cache, id uint32, rootAddr []byte, salvage bool) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bm, err := block.Open(fileName, block.Config{AllocationSize: cfg.AllocationSize, Checksum: cfg.Checksum}, salvage)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		id: id, fileName: fileName, cfg: cfg, block: bm, cache: c,
		collator: ResolveCollator(cfg.Collator),
		arena:    map[page.Handle]*page.Page{},
	}
	if len(rootAddr) == 0 {
		h.synthesizeEmptyTree()
	} else {
		h.root = page.NewDiskRef(rootAddr)
	}
	c.RegisterTree(h)
	wlog.Printf(wlog.FileOps, "opened btree %s salvage=%v", fileName, salvage)
	return h, nil
}

func (h *Handle) synthesizeEmptyTree() {
	leafHandle := h.allocHandle()
	leaf := page.NewRowLeaf(leafHandle)
	leaf.MarkDirty()
	h.registerPage(leaf, estimateFootprint(leaf))

	rootHandle := h.allocHandle()
	root := page.NewRowInternal(rootHandle)
	leafRef := &page.Ref{}
	leafRef.Publish(leaf, page.Mem)
	root.RowInternal.Entries = append(root.RowInternal.Entries, page.RowInternalEntry{Key: []byte{0}, Child: leafRef})
	h.registerPage(root, estimateFootprint(root))
	h.rootHandle = rootHandle

	h.root = &page.Ref{}
	h.root.Publish(root, page.Mem)
}

// Root returns the handle's root ref.
func (h *Handle) Root() *page.Ref { return h.root }

// reconcileOpts builds a recon.Options from the handle's
// configuration for a given page variant (leaf vs internal page-size
// limits differ, spec §6).
func (h *Handle) reconcileOpts(v page.Variant) recon.Options {
	max := h.cfg.LeafPageMax
	itemMax := h.cfg.LeafItemMax
	if v == page.RowInternal || v == page.ColInternal {
		max = h.cfg.InternalPageMax
		itemMax = h.cfg.InternalItemMax
	}
	return recon.Options{
		MaxPageSize:         max,
		SplitPct:            h.cfg.SplitPct,
		ItemMax:             itemMax,
		PrefixCompression:   h.cfg.PrefixCompression,
		InternalKeyTruncate: h.cfg.InternalKeyTruncate,
		KeyGap:              h.cfg.KeyGap,
		Checksum:            h.cfg.Checksum,
		Collator:            h.collator,
		AllocHandle:         h.allocHandle,
	}
}

// readPage is the hazard.ReadFunc backing this handle's cache reads:
// it reads the ref's on-disk address through the block manager and
// parses the resulting image.
func (h *Handle) readPage(r *page.Ref) (*page.Page, error) {
	addr, err := block.ParseAddr(r.Addr())
	if err != nil {
		return nil, err
	}
	buf, err := h.block.Read(addr)
	if err != nil {
		return nil, err
	}
	p, err := page.Parse(buf, h.allocHandle(), 8)
	if err != nil {
		return nil, err
	}
	h.registerPage(p, int64(len(buf)))
	wlog.Printf(wlog.Read, "paged in handle %d from addr offset %d", p.Handle, addr.Offset)
	return p, nil
}

// acquire runs the hazard-reference acquisition protocol (spec §4.4)
// against ref using this handle's block-backed reader.
func (h *Handle) acquire(arr *hazard.Array, ref *page.Ref) (*page.Page, error) {
	return hazard.Acquire(arr, ref, h.readPage)
}

// Sync flushes every dirty page in this tree (spec §4.3 "Sync/close
// request").
func (h *Handle) Sync() error {
	return h.cache.RequestSync(h)
}

// Close triggers full-tree eviction, block-manager close, and memory
// free (spec §4.6 "close"). After Close, RootAddr reports the
// persisted root address the caller (the schema layer) should retain.
func (h *Handle) Close() error {
	if err := h.cache.RequestClose(h); err != nil {
		return err
	}
	return h.block.Close()
}

// RootAddr returns the current root address cookie, valid once the
// root has been reconciled to an on-disk replacement (e.g. after
// Sync or Close).
func (h *Handle) RootAddr() ([]byte, error) {
	if h.root.State() == page.Disk {
		return h.root.Addr(), nil
	}
	return nil, errs.Wrap(errs.Invalid, "btree: root is still resident; call Sync or Close first")
}
