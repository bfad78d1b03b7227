package config

import (
	"testing"

	"github.com/duskcask/wtcore/internal/wtcore/errs"
)

func TestParseBTreeConfigRoundTrip(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBTreeConfig("allocation_size=4K,leaf_page_max=64KB,internal_page_max=8K," +
		"split_pct=80,key_format=u,value_format=u,prefix_compression=true," +
		"internal_key_truncate=yes,key_gap=5,collator=bytewise,checksum=0,type=btree")
	if err != nil {
		t.Fatalf("ParseBTreeConfig: %v", err)
	}
	if cfg.AllocationSize != 4096 {
		t.Fatalf("AllocationSize = %d, want 4096", cfg.AllocationSize)
	}
	if cfg.LeafPageMax != 64*1024 {
		t.Fatalf("LeafPageMax = %d, want %d", cfg.LeafPageMax, 64*1024)
	}
	if cfg.InternalPageMax != 8192 {
		t.Fatalf("InternalPageMax = %d, want 8192", cfg.InternalPageMax)
	}
	if cfg.SplitPct != 80 {
		t.Fatalf("SplitPct = %d, want 80", cfg.SplitPct)
	}
	if !cfg.PrefixCompression || !cfg.InternalKeyTruncate {
		t.Fatalf("PrefixCompression/InternalKeyTruncate not parsed as true")
	}
	if cfg.KeyGap != 5 {
		t.Fatalf("KeyGap = %d, want 5", cfg.KeyGap)
	}
	if cfg.Checksum {
		t.Fatalf("Checksum = true, want false for checksum=0")
	}
}

func TestParseBTreeConfigEmptyStringReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBTreeConfig("")
	if err != nil {
		t.Fatalf("ParseBTreeConfig: %v", err)
	}
	if cfg != DefaultBTreeConfig() {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
}

func TestParseBTreeConfigRejectsUnknownKey(t *testing.T) {
	t.Parallel()
	_, err := ParseBTreeConfig("not_a_real_key=1")
	if !errs.Is(err, errs.Invalid) {
		t.Fatalf("err = %v, want errs.Invalid", err)
	}
}

func TestParseBTreeConfigRejectsMalformedTerm(t *testing.T) {
	t.Parallel()
	_, err := ParseBTreeConfig("leaf_page_max")
	if !errs.Is(err, errs.Invalid) {
		t.Fatalf("err = %v, want errs.Invalid", err)
	}
}

func TestValidateAllocationSizeMustBePowerOfTwo(t *testing.T) {
	t.Parallel()
	cfg := DefaultBTreeConfig()
	cfg.AllocationSize = 4097
	if err := cfg.Validate(); !errs.Is(err, errs.Invalid) {
		t.Fatalf("err = %v, want errs.Invalid for non-power-of-two allocation size", err)
	}
}

func TestValidateAllocationSizeBounds(t *testing.T) {
	t.Parallel()
	cfg := DefaultBTreeConfig()
	cfg.AllocationSize = 256
	if err := cfg.Validate(); !errs.Is(err, errs.Invalid) {
		t.Fatalf("err = %v, want errs.Invalid for allocation size below minimum", err)
	}
}

func TestValidatePageMaxMustBeMultipleOfAllocationSize(t *testing.T) {
	t.Parallel()
	cfg := DefaultBTreeConfig()
	cfg.LeafPageMax = cfg.AllocationSize + 1
	if err := cfg.Validate(); !errs.Is(err, errs.Invalid) {
		t.Fatalf("err = %v, want errs.Invalid for leaf_page_max not a multiple of allocation_size", err)
	}
}

func TestValidateSplitPctRange(t *testing.T) {
	t.Parallel()
	cfg := DefaultBTreeConfig()
	cfg.SplitPct = 10
	if err := cfg.Validate(); !errs.Is(err, errs.Invalid) {
		t.Fatalf("err = %v, want errs.Invalid for split_pct below 25", err)
	}
	cfg.SplitPct = 150
	if err := cfg.Validate(); !errs.Is(err, errs.Invalid) {
		t.Fatalf("err = %v, want errs.Invalid for split_pct above 100", err)
	}
	cfg.SplitPct = 75
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with split_pct=75: %v", err)
	}
}

func TestValidateItemMaxMustFitTwoPerChunk(t *testing.T) {
	t.Parallel()
	cfg := DefaultBTreeConfig()
	cfg.LeafItemMax = cfg.LeafPageMax // far larger than half a split chunk
	if err := cfg.Validate(); !errs.Is(err, errs.Invalid) {
		t.Fatalf("err = %v, want errs.Invalid when item max can't fit twice per chunk", err)
	}
}
