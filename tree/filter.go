package tree

import (
	"maps"
	"slices"
	"strings"
)

// Filter selects records in a Store. Zero-valued fields do not constrain the result;
// all set fields must match.
type Filter struct {
	// Path matches the path exactly (siblings of a given parent).
	Path string

	// PathPrefix matches paths starting with the prefix (path LIKE 'prefix%').
	PathPrefix string

	// PathContains matches paths containing the fragment (path LIKE '%fragment%').
	PathContains string

	// Level matches the level exactly when non-nil.
	Level *int

	// MinPosition and MaxPosition bound the position inclusively; 0 means unbounded.
	MinPosition int
	MaxPosition int

	// IDs restricts the result to the given identifiers when non-empty.
	IDs []int64

	// ExcludeID removes a single identifier from the result when non-zero.
	ExcludeID int64

	// Attrs matches attribute values exactly.
	Attrs map[string]string
}

// AtLevel returns a pointer suitable for Filter.Level.
func AtLevel(level int) *int {
	return &level
}

// Match reports whether n satisfies the filter.
// Stores without a native query language use it directly.
func (f Filter) Match(n *Node) bool {
	if n == nil {
		return false
	}
	if f.Path != "" && n.Path != f.Path {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(n.Path, f.PathPrefix) {
		return false
	}
	if f.PathContains != "" && !strings.Contains(n.Path, f.PathContains) {
		return false
	}
	if f.Level != nil && n.Level != *f.Level {
		return false
	}
	if f.MinPosition > 0 && n.Position < f.MinPosition {
		return false
	}
	if f.MaxPosition > 0 && n.Position > f.MaxPosition {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, n.ID) {
		return false
	}
	if f.ExcludeID != 0 && n.ID == f.ExcludeID {
		return false
	}
	for k, v := range f.Attrs {
		if n.Attr(k) != v {
			return false
		}
	}
	return true
}

// Merge returns f with every set field of other layered on top.
// Attribute constraints are unioned, other winning on conflicting keys.
func (f Filter) Merge(other Filter) Filter {
	out := f
	if other.Path != "" {
		out.Path = other.Path
	}
	if other.PathPrefix != "" {
		out.PathPrefix = other.PathPrefix
	}
	if other.PathContains != "" {
		out.PathContains = other.PathContains
	}
	if other.Level != nil {
		out.Level = other.Level
	}
	if other.MinPosition != 0 {
		out.MinPosition = other.MinPosition
	}
	if other.MaxPosition != 0 {
		out.MaxPosition = other.MaxPosition
	}
	if len(other.IDs) > 0 {
		out.IDs = slices.Clone(other.IDs)
	}
	if other.ExcludeID != 0 {
		out.ExcludeID = other.ExcludeID
	}
	if len(other.Attrs) > 0 {
		attrs := maps.Clone(f.Attrs)
		if attrs == nil {
			attrs = make(map[string]string, len(other.Attrs))
		}
		maps.Copy(attrs, other.Attrs)
		out.Attrs = attrs
	}
	return out
}

// SortNodes orders nodes by level, position, then ID, the order every Store
// returns from Query.
func SortNodes(nodes []*Node) {
	slices.SortStableFunc(nodes, func(a, b *Node) int {
		if a.Level != b.Level {
			return a.Level - b.Level
		}
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
