// Package config parses the comma-separated key=value configuration
// string consumed from the schema layer (spec §6), in the same spirit
// as the teacher's DSN-string parsing in internal/driver
// ("mem://?tenant=..."). Byte-size values accept human-friendly
// suffixes (100MB, 512B) via github.com/dustin/go-humanize.
package config

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/duskcask/wtcore/internal/wtcore/errs"
)

const (
	minAllocationSize = 512
	maxAllocationSize = 128 << 20
	maxPageSize       = 512 << 20
)

// BTreeConfig is the parsed per-file configuration surface named in
// spec §6.
type BTreeConfig struct {
	AllocationSize      uint32
	InternalPageMax     uint32
	LeafPageMax         uint32
	InternalItemMax     uint32 // 0 means "1/8 of split page"
	LeafItemMax         uint32
	SplitPct            int // 25..100
	KeyFormat           string
	ValueFormat         string
	PrefixCompression   bool
	InternalKeyTruncate bool
	KeyGap              int
	Collator            string
	HuffmanKey          string
	HuffmanValue        string
	BlockCompressor     string
	Checksum            bool
	Type                string
}

// ConnectionConfig is the connection-level configuration surface.
type ConnectionConfig struct {
	CacheSize       uint64
	EvictionTarget  int // percent
	EvictionTrigger int // percent
	HazardMax       int
	SessionMax      int
}

// DefaultBTreeConfig mirrors the defaults a schema layer would inject
// absent an explicit override.
func DefaultBTreeConfig() BTreeConfig {
	return BTreeConfig{
		AllocationSize:  4096,
		InternalPageMax: 4096,
		LeafPageMax:     32 * 1024,
		SplitPct:        75,
		KeyGap:          10,
		Collator:        "bytewise",
		Checksum:        true,
		Type:            "btree",
	}
}

// DefaultConnectionConfig mirrors the default cache sizing.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		CacheSize:       100 << 20,
		EvictionTarget:  80,
		EvictionTrigger: 95,
		HazardMax:       15,
		SessionMax:      100,
	}
}

// ParseBTreeConfig parses a comma-separated key=value string
// (e.g. "allocation_size=4K,leaf_page_max=32KB,split_pct=75") over
// DefaultBTreeConfig(), returning errs.Invalid on malformed input.
func ParseBTreeConfig(s string) (BTreeConfig, error) {
	cfg := DefaultBTreeConfig()
	if strings.TrimSpace(s) == "" {
		return cfg, nil
	}
	kv, err := parseKV(s)
	if err != nil {
		return cfg, err
	}
	for k, v := range kv {
		switch k {
		case "allocation_size":
			n, err := parseBytes(v)
			if err != nil {
				return cfg, errs.Wrapf(errs.Invalid, "allocation_size: %v", err)
			}
			cfg.AllocationSize = uint32(n)
		case "internal_page_max":
			n, err := parseBytes(v)
			if err != nil {
				return cfg, errs.Wrapf(errs.Invalid, "internal_page_max: %v", err)
			}
			cfg.InternalPageMax = uint32(n)
		case "leaf_page_max":
			n, err := parseBytes(v)
			if err != nil {
				return cfg, errs.Wrapf(errs.Invalid, "leaf_page_max: %v", err)
			}
			cfg.LeafPageMax = uint32(n)
		case "internal_item_max":
			n, err := parseBytes(v)
			if err != nil {
				return cfg, errs.Wrapf(errs.Invalid, "internal_item_max: %v", err)
			}
			cfg.InternalItemMax = uint32(n)
		case "leaf_item_max":
			n, err := parseBytes(v)
			if err != nil {
				return cfg, errs.Wrapf(errs.Invalid, "leaf_item_max: %v", err)
			}
			cfg.LeafItemMax = uint32(n)
		case "split_pct":
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, errs.Wrapf(errs.Invalid, "split_pct: %v", err)
			}
			cfg.SplitPct = n
		case "key_format":
			cfg.KeyFormat = v
		case "value_format":
			cfg.ValueFormat = v
		case "prefix_compression":
			cfg.PrefixCompression = parseBool(v)
		case "internal_key_truncate":
			cfg.InternalKeyTruncate = parseBool(v)
		case "key_gap":
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, errs.Wrapf(errs.Invalid, "key_gap: %v", err)
			}
			cfg.KeyGap = n
		case "collator":
			cfg.Collator = v
		case "huffman_key":
			cfg.HuffmanKey = v
		case "huffman_value":
			cfg.HuffmanValue = v
		case "block_compressor":
			cfg.BlockCompressor = v
		case "checksum":
			cfg.Checksum = parseBool(v)
		case "type":
			cfg.Type = v
		default:
			return cfg, errors.Wrapf(errs.Invalid, "unknown configuration key %q", k)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate applies the page-size validation rules of spec §4.6.
func (c BTreeConfig) Validate() error {
	if c.AllocationSize < minAllocationSize || c.AllocationSize > maxAllocationSize ||
		!isPowerOfTwo(c.AllocationSize) {
		return errors.Wrapf(errs.Invalid,
			"allocation_size %d must be a power of two in [%d, %d]",
			c.AllocationSize, minAllocationSize, maxAllocationSize)
	}
	if c.InternalPageMax%c.AllocationSize != 0 || c.InternalPageMax > maxPageSize {
		return errors.Wrapf(errs.Invalid,
			"internal_page_max %d must be a multiple of allocation_size and <= %d",
			c.InternalPageMax, maxPageSize)
	}
	if c.LeafPageMax%c.AllocationSize != 0 || c.LeafPageMax > maxPageSize {
		return errors.Wrapf(errs.Invalid,
			"leaf_page_max %d must be a multiple of allocation_size and <= %d",
			c.LeafPageMax, maxPageSize)
	}
	if c.SplitPct < 25 || c.SplitPct > 100 {
		return errors.Wrapf(errs.Invalid, "split_pct %d must be in [25, 100]", c.SplitPct)
	}
	// At least two max-sized items must fit on both the full page and
	// a split chunk.
	leafItemMax := c.LeafItemMax
	if leafItemMax == 0 {
		leafItemMax = c.splitSize(c.LeafPageMax) / 8
	}
	if 2*leafItemMax > c.LeafPageMax || 2*leafItemMax > c.splitSize(c.LeafPageMax) {
		return errors.Wrap(errs.Invalid,
			"at least two max-sized items must fit on a full page and a split chunk")
	}
	return nil
}

// splitSize returns the target chunk size for the configured
// split_pct of the given maximum page size.
func (c BTreeConfig) splitSize(max uint32) uint32 {
	return uint32(uint64(max) * uint64(c.SplitPct) / 100)
}

func isPowerOfTwo(n uint32) bool { return n != 0 && n&(n-1) == 0 }

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBytes(v string) (uint64, error) {
	// humanize.ParseBytes accepts plain integers as well as "4K"/"32MB",
	// but reads K/KB/M/MB/... as powers of 1000; they are rewritten to
	// the binary KiB/MiB/... forms first, so "4K" is 4096.
	s := strings.ToLower(strings.TrimSpace(v))
	for _, suf := range []string{"kb", "mb", "gb", "tb", "k", "m", "g", "t"} {
		if strings.HasSuffix(s, suf) {
			s = s[:len(s)-len(suf)] + suf[:1] + "ib"
			break
		}
	}
	return humanize.ParseBytes(s)
}

func parseKV(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Wrapf(errs.Invalid, "malformed configuration term %q", part)
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out, nil
}
