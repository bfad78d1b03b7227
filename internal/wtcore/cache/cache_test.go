package cache

import (
	"sync/atomic"
	"testing"

	"github.com/duskcask/wtcore/internal/wtcore/errs"
	"github.com/duskcask/wtcore/internal/wtcore/page"
)

// fakeTree is a minimal Tree implementation for driving the cache's
// request-servicing paths without a real btree.Handle.
type fakeTree struct {
	id         uint32
	syncRefs   []*page.Ref
	allRefs    []*page.Ref
	inFlight   atomic.Int32
	reconciled []*page.Ref
	reconcile  func(ref *page.Ref) error
}

func (f *fakeTree) ID() uint32 { return f.id }
func (f *fakeTree) WalkForEviction(cursor EvictCursor, limit int) ([]*page.Ref, EvictCursor) {
	return nil, cursor
}
func (f *fakeTree) WalkForSync() []*page.Ref     { return f.syncRefs }
func (f *fakeTree) WalkAllResident() []*page.Ref { return f.allRefs }
func (f *fakeTree) InFlight() *atomic.Int32       { return &f.inFlight }
func (f *fakeTree) Reconcile(ref *page.Ref) error {
	f.reconciled = append(f.reconciled, ref)
	if f.reconcile != nil {
		return f.reconcile(ref)
	}
	ref.Clear()
	ref.Publish(nil, page.Disk)
	return nil
}

func TestNewRejectsSmallRequestTable(t *testing.T) {
	t.Parallel()
	_, err := New(Config{RequestTableSize: 1})
	if !errs.Is(err, errs.Invalid) {
		t.Fatalf("err = %v, want errs.Invalid", err)
	}
	if _, err := New(Config{RequestTableSize: 2}); err != nil {
		t.Fatalf("New with RequestTableSize=2: %v", err)
	}
}

func TestAccountAllocAndFreeTrackBytesInUse(t *testing.T) {
	t.Parallel()
	c, err := New(Config{MaxBytes: 1 << 20, TriggerPct: 200, RequestTableSize: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.AccountAlloc(100)
	c.AccountAlloc(50)
	if got := c.BytesInUse(); got != 150 {
		t.Fatalf("BytesInUse() = %d, want 150", got)
	}
	c.AccountFree(50)
	if got := c.BytesInUse(); got != 100 {
		t.Fatalf("BytesInUse() = %d, want 100", got)
	}
}

func TestEnqueueReservesOneEmptySlot(t *testing.T) {
	t.Parallel()
	c, err := New(Config{RequestTableSize: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.enqueue(request{kind: reqSync}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := c.enqueue(request{kind: reqSync}); !errs.Is(err, errs.Restart) {
		t.Fatalf("second enqueue err = %v, want errs.Restart (table full)", err)
	}
}

func TestSyncTreeReconcilesDirtyRefs(t *testing.T) {
	t.Parallel()
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := page.NewRowLeaf(1)
	ref := &page.Ref{}
	ref.Publish(p, page.Mem)
	tree := &fakeTree{id: 1, syncRefs: []*page.Ref{ref}}

	if err := c.syncTree(tree); err != nil {
		t.Fatalf("syncTree: %v", err)
	}
	if len(tree.reconciled) != 1 {
		t.Fatalf("len(reconciled) = %d, want 1", len(tree.reconciled))
	}
	if ref.State() != page.Disk {
		t.Fatalf("ref.State() = %v, want Disk after sync", ref.State())
	}
}

func TestSyncTreeSkipsRefsNotInMem(t *testing.T) {
	t.Parallel()
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ref := page.NewDiskRef([]byte("addr"))
	tree := &fakeTree{id: 1, syncRefs: []*page.Ref{ref}}

	if err := c.syncTree(tree); err != nil {
		t.Fatalf("syncTree: %v", err)
	}
	if len(tree.reconciled) != 0 {
		t.Fatalf("len(reconciled) = %d, want 0 for a non-Mem ref", len(tree.reconciled))
	}
}

func TestRequestSyncRunsThroughServiceRequest(t *testing.T) {
	t.Parallel()
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := page.NewRowLeaf(1)
	ref := &page.Ref{}
	ref.Publish(p, page.Mem)
	tree := &fakeTree{id: 7, syncRefs: []*page.Ref{ref}}

	// serviceRequest is what the eviction goroutine calls; drive it
	// directly rather than starting Run's goroutine.
	done := make(chan error, 1)
	c.serviceRequest(request{kind: reqSync, tree: tree, done: done})
	if err := <-done; err != nil {
		t.Fatalf("serviceRequest: %v", err)
	}
	if ref.State() != page.Disk {
		t.Fatalf("ref.State() = %v, want Disk", ref.State())
	}
}
