package session

import (
	"path/filepath"
	"testing"

	"github.com/duskcask/wtcore/internal/wtcore/config"
	"github.com/duskcask/wtcore/internal/wtcore/errs"
)

func TestOpenSessionEnforcesSessionMax(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultConnectionConfig()
	cfg.SessionMax = 1
	conn, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	s1, err := conn.OpenSession()
	if err != nil {
		t.Fatalf("first OpenSession: %v", err)
	}
	if _, err := conn.OpenSession(); !errs.Is(err, errs.NoMemory) {
		t.Fatalf("second OpenSession err = %v, want errs.NoMemory", err)
	}
	s1.Close()
	if _, err := conn.OpenSession(); err != nil {
		t.Fatalf("OpenSession after close: %v", err)
	}
}

func TestScratchBufferTracksOutstandingBuffers(t *testing.T) {
	t.Parallel()
	conn, err := Open(config.DefaultConnectionConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()
	s, err := conn.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	buf := s.ScratchBuffer()
	buf.WriteString("hello")
	if len(s.scratch) != 1 {
		t.Fatalf("len(scratch) = %d, want 1", len(s.scratch))
	}
	s.ReleaseScratch(buf)
	if len(s.scratch) != 0 {
		t.Fatalf("len(scratch) = %d, want 0 after release", len(s.scratch))
	}
}

func TestCreateBTreeAssignsDistinctTreeIDs(t *testing.T) {
	t.Parallel()
	conn, err := Open(config.DefaultConnectionConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	dir := t.TempDir()
	h1, err := conn.CreateBTree(filepath.Join(dir, "a.wt"), config.DefaultBTreeConfig())
	if err != nil {
		t.Fatalf("CreateBTree a: %v", err)
	}
	h2, err := conn.CreateBTree(filepath.Join(dir, "b.wt"), config.DefaultBTreeConfig())
	if err != nil {
		t.Fatalf("CreateBTree b: %v", err)
	}
	if h1.ID() == h2.ID() {
		t.Fatalf("both trees got ID %d, want distinct IDs", h1.ID())
	}

	if err := h1.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, ok, err := h1.Get([]byte("k"))
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get(k) = (%q, %v, %v), want (v, true, nil)", got, ok, err)
	}
}

func TestSessionCloseWaitsForHazardDrain(t *testing.T) {
	t.Parallel()
	conn, err := Open(config.DefaultConnectionConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()
	s, err := conn.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	// No cursors ever acquired a hazard pointer through this session, so
	// the array is already empty and Close must return immediately.
	s.Close()
	if _, err := conn.OpenSession(); err != nil {
		t.Fatalf("OpenSession after Close: %v", err)
	}
}
