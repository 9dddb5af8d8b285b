package tree

import (
	"context"
	"maps"
	"time"
)

// Node is a record stored in a flat record store that takes part in a tree.
//
// Path, Level and Position are derived, redundant fields maintained by the Engine:
// Path encodes the ancestor chain, Level equals the number of ancestors in Path and
// Position is the 1-based rank among the nodes sharing the same Path.
type Node struct {
	// ID is assigned by the store on first save and never changes (0 = not persisted).
	ID int64

	// Path is the materialized ancestor path (e.g. ".4.17.").
	Path string

	// Level is the depth of the node, 0 for roots.
	Level int

	// Position is the rank among siblings, starting at 1.
	Position int

	// Attrs holds host data persisted alongside the tree fields.
	Attrs map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Noder is implemented by host types that carry a tree node.
// Types embedding Node satisfy it automatically.
type Noder interface {
	TreeNode() *Node
}

// TreeNode returns n itself.
func (n *Node) TreeNode() *Node { return n }

// Persisted reports whether the node has been assigned an ID by the store.
func (n *Node) Persisted() bool { return n != nil && n.ID > 0 }

// Attr returns the attribute value for key, or "".
func (n *Node) Attr(key string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

// SetAttr sets an attribute value.
func (n *Node) SetAttr(key, value string) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[key] = value
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Attrs != nil {
		c.Attrs = maps.Clone(n.Attrs)
	}
	return &c
}

// Store is the record store collaborator the engine runs against.
//
// Implementations must return ErrNotFound (possibly wrapped) from Get when the
// record does not exist, and must return Query results ordered by Level, then
// Position, then ID.
type Store interface {
	// Get returns the record with the given ID.
	Get(ctx context.Context, id int64) (*Node, error)

	// Query returns every record matching f.
	Query(ctx context.Context, f Filter) ([]*Node, error)

	// Count returns the number of records matching f.
	Count(ctx context.Context, f Filter) (int, error)

	// ShiftPositions adds delta to the position of every record matching f,
	// as a single range update where the store allows it. It returns the number
	// of records updated.
	ShiftPositions(ctx context.Context, f Filter, delta int) (int, error)

	// Save inserts n when n.ID is 0 (assigning the new ID to n) and replaces the
	// stored record otherwise.
	Save(ctx context.Context, n *Node) error

	// Delete removes the record.
	Delete(ctx context.Context, n *Node) error
}
