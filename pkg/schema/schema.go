package schema

import (
	"errors"
	"fmt"
)

var (
	ErrEmptySchema     = errors.New("schema: no column families")
	ErrDuplicateFamily = errors.New("schema: duplicate column family")
	ErrInvalidFamily   = errors.New("schema: invalid column family")
)

// Family describes one column family of a table.
type Family struct {
	Name        string `yaml:"name" validate:"required"`
	MaxVersions int    `yaml:"max_versions" validate:"min=1"`
}

// Index maps column family names to their position in the table schema.
// It is immutable once built and safe for concurrent use.
type Index struct {
	families []Family
	ordinals map[string]int
}

// NewIndex builds the index from the ordered family list.
func NewIndex(families []Family) (*Index, error) {
	if len(families) == 0 {
		return nil, ErrEmptySchema
	}

	idx := &Index{
		families: make([]Family, len(families)),
		ordinals: make(map[string]int, len(families)),
	}
	copy(idx.families, families)

	for i, f := range idx.families {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: family #%d has no name", ErrInvalidFamily, i)
		}
		if f.MaxVersions < 1 {
			return nil, fmt.Errorf("%w: %q max_versions=%d", ErrInvalidFamily, f.Name, f.MaxVersions)
		}
		if _, dup := idx.ordinals[f.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateFamily, f.Name)
		}
		idx.ordinals[f.Name] = i
	}

	return idx, nil
}

// MustIndex is NewIndex that panics on error. Intended for tests and static schemas.
func MustIndex(families ...Family) *Index {
	idx, err := NewIndex(families)
	if err != nil {
		panic(err)
	}
	return idx
}

// Lookup returns the ordinal of the named family.
func (idx *Index) Lookup(name string) (int, bool) {
	ord, ok := idx.ordinals[name]
	return ord, ok
}

// Family returns the configuration at ordinal ord.
func (idx *Index) Family(ord int) Family {
	return idx.families[ord]
}

func (idx *Index) Len() int {
	return len(idx.families)
}

// Families returns a copy of the schema in declaration order.
func (idx *Index) Families() []Family {
	out := make([]Family, len(idx.families))
	copy(out, idx.families)
	return out
}
