package abi

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog maps names to extracted symbols. The first symbol stored under a
// name wins; later ones are dropped.
type Catalog struct {
	symbols   map[string]Symbol
	conflicts []string
}

func NewCatalog() *Catalog {
	return &Catalog{symbols: make(map[string]Symbol)}
}

// Add stores sym under name unless the name is taken, and reports whether it did.
// Dropping a symbol of a different kind than the stored one is recorded as a conflict.
func (c *Catalog) Add(name string, sym Symbol) bool {
	if prev, ok := c.symbols[name]; ok {
		if prev.Kind() != sym.Kind() {
			c.conflicts = append(c.conflicts, fmt.Sprintf("%s: %s shadows %s", name, prev.Kind(), sym.Kind()))
		}
		return false
	}
	c.symbols[name] = sym
	return true
}

// Has reports whether name is cataloged.
func (c *Catalog) Has(name string) bool {
	_, ok := c.symbols[name]
	return ok
}

// Get returns the symbol stored under name.
func (c *Catalog) Get(name string) (Symbol, bool) {
	sym, ok := c.symbols[name]
	return sym, ok
}

func (c *Catalog) Len() int { return len(c.symbols) }

// Names returns every cataloged name in byte-wise ascending order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.symbols))
	for name := range c.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Conflicts lists cross-kind name collisions in the order they were seen.
func (c *Catalog) Conflicts() []string {
	return append([]string(nil), c.conflicts...)
}

// Missing returns the names in want that were never cataloged, preserving want's order.
func (c *Catalog) Missing(want []string) []string {
	var missing []string
	for _, name := range want {
		if !c.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// String returns a deterministically ordered dump of the catalog.
func (c *Catalog) String() string {
	var sb strings.Builder
	if len(c.symbols) == 0 {
		return "Catalog: (empty)\n"
	}
	sb.WriteString("Catalog:\n")
	for _, name := range c.Names() {
		fmt.Fprintf(&sb, "  %-32s  %v\n", name, c.symbols[name])
	}
	return sb.String()
}
