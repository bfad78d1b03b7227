package btree

import (
	"bytes"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/duskcask/wtcore/internal/wtcore/recon"
)

// ResolveCollator maps the schema layer's collator name (spec §6's
// "collator" configuration key) to a comparison function. "bytewise"
// (the default) compares the raw key bytes; any other name is treated
// as a BCP 47 language tag and resolved through golang.org/x/text's
// locale-aware collation tables, matching spec invariant 7's
// "bytewise unless the file's configuration names a registered
// collator".
func ResolveCollator(name string) recon.Collator {
	if name == "" || name == "bytewise" {
		return bytes.Compare
	}
	tag, err := language.Parse(name)
	if err != nil {
		return bytes.Compare
	}
	col := collate.New(tag)
	return func(a, b []byte) int { return col.CompareString(string(a), string(b)) }
}
