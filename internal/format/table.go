package format

import (
	"fmt"
	"slices"

	"go.klb.dev/sysclip/internal/native"
)

// FlavorTable maps flavors to the native formats that can carry them.
type FlavorTable interface {
	// FormatsForFlavor returns the native formats for f, most preferred first.
	FormatsForFlavor(f Flavor) []native.FormatID
	// FlavorForFormat returns the flavor a native format decodes to.
	FlavorForFormat(id native.FormatID) (Flavor, bool)
	// Name returns a display name for id.
	Name(id native.FormatID) string
}

// TableEntry binds a flavor to one native format.
type TableEntry struct {
	Flavor Flavor
	ID     native.FormatID
	Name   string
}

// Table is a FlavorTable backed by an ordered list of entries. Earlier
// entries for the same flavor are preferred.
type Table struct {
	entries []TableEntry
}

// NewTable builds a Table from entries.
func NewTable(entries ...TableEntry) *Table {
	return &Table{entries: slices.Clone(entries)}
}

// DefaultTable returns the mapping for the formats this package can encode.
func DefaultTable() *Table {
	return NewTable(
		TableEntry{Flavor: TextFlavor, ID: native.CFUnicodeText, Name: "CF_UNICODETEXT"},
		TableEntry{Flavor: TextFlavor, ID: native.CFText, Name: "CF_TEXT"},
		TableEntry{Flavor: HTMLFlavor, ID: native.CFHTML, Name: "HTML Format"},
		TableEntry{Flavor: PNGFlavor, ID: native.CFPNG, Name: "PNG"},
		TableEntry{Flavor: LocaleFlavor, ID: native.CFLocale, Name: "CF_LOCALE"},
	)
}

func (t *Table) FormatsForFlavor(f Flavor) []native.FormatID {
	var out []native.FormatID
	for _, e := range t.entries {
		if e.Flavor == f {
			out = append(out, e.ID)
		}
	}
	return out
}

func (t *Table) FlavorForFormat(id native.FormatID) (Flavor, bool) {
	for _, e := range t.entries {
		if e.ID == id {
			return e.Flavor, true
		}
	}
	return Flavor{}, false
}

func (t *Table) Name(id native.FormatID) string {
	for _, e := range t.entries {
		if e.ID == id && e.Name != "" {
			return e.Name
		}
	}
	return fmt.Sprintf("0x%04X", uint32(id))
}

// MapEntry is one native format chosen for a payload, with the flavor it is
// rendered from.
type MapEntry struct {
	ID     native.FormatID
	Flavor Flavor
}

// FormatMap is the ordered set of native formats a payload will be published
// as. Order is preference order and IDs are unique.
type FormatMap []MapEntry

// IDs returns the format ids in map order.
func (m FormatMap) IDs() []native.FormatID {
	out := make([]native.FormatID, len(m))
	for i, e := range m {
		out[i] = e.ID
	}
	return out
}

// FormatsFor lists every native format p can be rendered as under table.
// Payload flavor order wins over table order; a format claimed by an earlier
// flavor is not repeated.
func FormatsFor(p Payload, table FlavorTable) FormatMap {
	var (
		out  FormatMap
		seen = make(map[native.FormatID]struct{})
	)
	for _, f := range p.Flavors() {
		for _, id := range table.FormatsForFlavor(f) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, MapEntry{ID: id, Flavor: f})
		}
	}
	return out
}
