package hazard

import (
	"errors"
	"testing"

	"github.com/duskcask/wtcore/internal/wtcore/page"
)

func TestAcquireReadsDiskRefAndInstallsHazard(t *testing.T) {
	t.Parallel()
	ref := page.NewDiskRef([]byte("addr"))
	want := page.NewRowLeaf(1)
	reads := 0
	read := func(r *page.Ref) (*page.Page, error) {
		reads++
		return want, nil
	}

	arr := NewArray(4)
	got, err := Acquire(arr, ref, read)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got != want {
		t.Fatalf("Acquire returned %p, want %p", got, want)
	}
	if reads != 1 {
		t.Fatalf("read called %d times, want 1", reads)
	}
	if ref.State() != page.Mem {
		t.Fatalf("ref.State() = %v, want Mem", ref.State())
	}
	if !arr.Contains(want) {
		t.Fatalf("hazard array does not contain the acquired page")
	}
	if got.ReadGen.Load() != 1 {
		t.Fatalf("ReadGen = %d, want 1", got.ReadGen.Load())
	}
}

func TestAcquireRevertsToDiskOnReadFailure(t *testing.T) {
	t.Parallel()
	ref := page.NewDiskRef([]byte("addr"))
	wantErr := errors.New("boom")
	read := func(r *page.Ref) (*page.Page, error) { return nil, wantErr }

	arr := NewArray(4)
	_, err := Acquire(arr, ref, read)
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if ref.State() != page.Disk {
		t.Fatalf("ref.State() = %v, want Disk after failed read", ref.State())
	}
	if ref.Page() != nil {
		t.Fatalf("ref.Page() is non-nil after failed read")
	}
}

func TestAcquireAlreadyResidentBumpsReadGen(t *testing.T) {
	t.Parallel()
	p := page.NewRowLeaf(1)
	ref := &page.Ref{}
	ref.Publish(p, page.Mem)

	arr := NewArray(4)
	read := func(r *page.Ref) (*page.Page, error) {
		t.Fatal("read should not be called for an already-resident ref")
		return nil, nil
	}
	got, err := Acquire(arr, ref, read)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got != p {
		t.Fatalf("Acquire returned %p, want %p", got, p)
	}
	if p.ReadGen.Load() != 1 {
		t.Fatalf("ReadGen = %d, want 1", p.ReadGen.Load())
	}

	if _, err := Acquire(arr, ref, read); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if p.ReadGen.Load() != 2 {
		t.Fatalf("ReadGen = %d, want 2 after second acquire", p.ReadGen.Load())
	}
}

func TestArrayReleaseAndEmpty(t *testing.T) {
	t.Parallel()
	arr := NewArray(2)
	p := page.NewRowLeaf(1)
	if idx := arr.set(p); idx != 0 {
		t.Fatalf("set returned %d, want 0", idx)
	}
	if !arr.Contains(p) {
		t.Fatalf("Contains = false, want true")
	}
	if arr.Empty() {
		t.Fatalf("Empty = true, want false with one slot filled")
	}
	if n := arr.Release(p); n != 1 {
		t.Fatalf("Release returned %d, want 1", n)
	}
	if !arr.Empty() {
		t.Fatalf("Empty = false, want true after release")
	}
}

func TestArraySetReturnsNegativeOneWhenFull(t *testing.T) {
	t.Parallel()
	arr := NewArray(1)
	arr.set(page.NewRowLeaf(1))
	if idx := arr.set(page.NewRowLeaf(2)); idx != -1 {
		t.Fatalf("set returned %d, want -1 when full", idx)
	}
}
