package btree

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/duskcask/wtcore/internal/wtcore/cache"
	"github.com/duskcask/wtcore/internal/wtcore/config"
)

// openTestCache starts a cache with its eviction goroutine running,
// stopping it via t.Cleanup. The small LeafPageMax set by
// smallLeafConfig forces splits well before 500 short keys are inserted.
func openTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Config{
		MaxBytes:         1 << 20,
		TargetPct:        80,
		TriggerPct:       95,
		CandidateBase:    20,
		CandidatePerFile: 10,
		RequestTableSize: 8,
	})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func smallLeafConfig() config.BTreeConfig {
	cfg := config.DefaultBTreeConfig()
	cfg.AllocationSize = 512
	cfg.LeafPageMax = 4096
	cfg.InternalPageMax = 4096
	return cfg
}

func TestInsertGetRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "t1.wt")
	c := openTestCache(t)
	h, err := Create(path, smallLeafConfig(), c, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		val := []byte(fmt.Sprintf("value-%03d", i))
		if err := h.Insert(key, val); err != nil {
			t.Fatalf("Insert(%s): %v", key, err)
		}
	}

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		want := fmt.Sprintf("value-%03d", i)
		got, ok, err := h.Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if !ok || string(got) != want {
			t.Fatalf("Get(%s) = (%q, %v), want (%q, true)", key, got, ok, want)
		}
	}

	if _, ok, err := h.Get([]byte("missing")); err != nil || ok {
		t.Fatalf("Get(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestDeleteHidesKeyFromGetAndScan(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "t2.wt")
	c := openTestCache(t)
	h, err := Create(path, smallLeafConfig(), c, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := h.Insert([]byte(fmt.Sprintf("k%02d", i)), []byte("v")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := h.Delete([]byte("k05")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := h.Get([]byte("k05")); err != nil || ok {
		t.Fatalf("Get(k05) after delete = (_, %v, %v), want ok=false", ok, err)
	}

	pairs, err := h.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, kv := range pairs {
		if string(kv[0]) == "k05" {
			t.Fatalf("Scan still reports deleted key k05")
		}
	}
	if len(pairs) != 9 {
		t.Fatalf("len(pairs) = %d, want 9", len(pairs))
	}
}

// TestForcedSplitSurvivesSyncAndReopen inserts enough entries to push
// the tree's only leaf well past LeafPageMax, forcing the Insert path
// through maybeForceEvict -> RequestForcedEviction -> Reconcile. Before
// the lock-ordering fix in ops.go this deadlocked the first time a
// leaf crossed the threshold (see DESIGN.md).
func TestForcedSplitSurvivesSyncAndReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "t3.wt")
	c := openTestCache(t)
	cfg := smallLeafConfig()
	h, err := Create(path, cfg, c, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 400
	want := map[string]string{}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("row-%04d", i)
		val := fmt.Sprintf("payload-%04d-xxxxxxxxxxxxxxxxxxxx", i)
		want[key] = val
		if err := h.Insert([]byte(key), []byte(val)); err != nil {
			t.Fatalf("Insert(%s): %v", key, err)
		}
	}

	if err := h.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	rootAddr, err := h.RootAddr()
	if err != nil {
		t.Fatalf("RootAddr: %v", err)
	}
	if len(rootAddr) == 0 {
		t.Fatalf("RootAddr returned empty cookie after Sync")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2 := openTestCache(t)
	h2, err := Open(path, cfg, c2, 2, rootAddr, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for key, val := range want {
		got, ok, err := h2.Get([]byte(key))
		if err != nil {
			t.Fatalf("Get(%s) after reopen: %v", key, err)
		}
		if !ok || string(got) != val {
			t.Fatalf("Get(%s) after reopen = (%q, %v), want (%q, true)", key, got, ok, val)
		}
	}
}

func TestBulkLoadThenScanReturnsSortedPairs(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "t4.wt")
	c := openTestCache(t)
	h, err := Create(path, smallLeafConfig(), c, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var pairs [][2][]byte
	for i := 0; i < 150; i++ {
		pairs = append(pairs, [2][]byte{
			[]byte(fmt.Sprintf("bulk-%04d", 150-i)),
			[]byte(fmt.Sprintf("v%d", i)),
		})
	}
	if err := h.BulkLoad(pairs); err != nil {
		t.Fatalf("BulkLoad: %v", err)
	}

	got, err := h.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != len(pairs) {
		t.Fatalf("len(Scan()) = %d, want %d", len(got), len(pairs))
	}
	if !sort.SliceIsSorted(got, func(i, j int) bool {
		return h.collator(got[i][0], got[j][0]) < 0
	}) {
		t.Fatalf("Scan() is not sorted by key")
	}
}

func TestSalvageRecoversEntriesAfterSync(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "t5.wt")
	c := openTestCache(t)
	cfg := smallLeafConfig()
	h, err := Create(path, cfg, c, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 60
	want := map[string]bool{}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("sk-%03d", i)
		want[key] = true
		if err := h.Insert([]byte(key), []byte("sv")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := h.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := h.Salvage(); err != nil {
		t.Fatalf("Salvage: %v", err)
	}

	pairs, err := h.Scan()
	if err != nil {
		t.Fatalf("Scan after salvage: %v", err)
	}
	got := map[string]bool{}
	for _, kv := range pairs {
		got[string(kv[0])] = true
	}
	for key := range want {
		if !got[key] {
			t.Fatalf("Salvage dropped key %q", key)
		}
	}
}
