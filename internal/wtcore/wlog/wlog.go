// Package wlog is a thin wrapper over the standard log package gated by
// the verbose categories named in spec §6: block, evict, evictserver,
// fileops, hazard, mutex, read, readserver, reconcile, salvage, verify,
// write. It never introduces a structured-logging dependency; call
// sites read exactly like log.Printf, matching the teacher's own
// internal/storage/scheduler.go style.
package wlog

import (
	"log"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
)

// Category names a verbose logging channel from spec §6.
type Category string

const (
	Block       Category = "block"
	Evict       Category = "evict"
	EvictServer Category = "evictserver"
	FileOps     Category = "fileops"
	Hazard      Category = "hazard"
	Mutex       Category = "mutex"
	Read        Category = "read"
	ReadServer  Category = "readserver"
	Reconcile   Category = "reconcile"
	Salvage     Category = "salvage"
	Verify      Category = "verify"
	Write       Category = "write"
)

var std = log.New(os.Stderr, "", log.LstdFlags)

var (
	mu      sync.RWMutex
	enabled = map[Category]bool{}
)

// Enable turns on verbose logging for the given categories.
func Enable(cats ...Category) {
	mu.Lock()
	defer mu.Unlock()
	for _, c := range cats {
		enabled[c] = true
	}
}

// Disable turns off verbose logging for the given categories.
func Disable(cats ...Category) {
	mu.Lock()
	defer mu.Unlock()
	for _, c := range cats {
		delete(enabled, c)
	}
}

// Enabled reports whether a category currently logs.
func Enabled(c Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled[c]
}

// Printf logs a formatted message under category c, if enabled.
func Printf(c Category, format string, args ...interface{}) {
	if !Enabled(c) {
		return
	}
	std.Printf("["+string(c)+"] "+format, args...)
}

// UsageRatio logs the evictserver wake check's usage-vs-trigger
// comparison the way the original eviction server reports it: both
// sides of the comparator rendered in human-readable byte units.
// Grounded on original_source/src/btree/bt_evict.c's
// __wt_evict_server_wake, which prints bytes_inuse / WT_MEGABYTE
// against bytes_max / WT_MEGABYTE with the comparator baked into the
// format string.
func UsageRatio(inUse, max uint64, triggered bool) {
	if !Enabled(EvictServer) {
		return
	}
	cmp := "<="
	if triggered {
		cmp = ">"
	}
	std.Printf("[evictserver] usage %s trigger: %s %s %s",
		cmp, humanize.Bytes(inUse), cmp, humanize.Bytes(max))
}
