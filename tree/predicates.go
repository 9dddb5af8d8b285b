package tree

import (
	"strconv"
	"strings"
)

// The predicates below compare paths and identifiers only; they perform no I/O
// and never decode numeric segments, so they cannot fail on malformed paths.

// IsRoot reports whether n has no parent.
func (e *Engine) IsRoot(n Noder) bool {
	return e.codec.IsRootPath(n.TreeNode().Path)
}

// IsParent reports whether a is the direct parent of b, or, with fullPath,
// any ancestor of b.
func (e *Engine) IsParent(a, b Noder, fullPath bool) bool {
	an, bn := a.TreeNode(), b.TreeNode()
	if !an.Persisted() {
		return false
	}
	if fullPath {
		return strings.Contains(bn.Path, e.codec.Segment(an.ID))
	}
	return e.codec.LastSegment(bn.Path) == strconv.FormatInt(an.ID, 10)
}

// IsChild reports whether a is a direct child of b.
func (e *Engine) IsChild(a, b Noder) bool {
	return e.IsParent(b, a, false)
}

// IsSibling reports whether a and b share the same parent. Roots are siblings of each other.
func (e *Engine) IsSibling(a, b Noder) bool {
	return e.codec.LastSegment(a.TreeNode().Path) == e.codec.LastSegment(b.TreeNode().Path)
}

// IsAncestor reports whether a is an ancestor of b.
func (e *Engine) IsAncestor(a, b Noder) bool {
	return e.IsParent(a, b, true)
}

// IsDescendant reports whether a is a descendant of b.
func (e *Engine) IsDescendant(a, b Noder) bool {
	return e.IsParent(b, a, true)
}
