package tree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jacentio/mpath/internal/pathcodec"
)

// Engine maintains materialized-path trees inside a Store.
//
// An Engine is meant for request-scoped, single-goroutine use. Every mutation is
// a sequence of discrete store calls; wrap them in a store transaction (see
// WithStore) when atomicity is required.
type Engine struct {
	store  Store
	config Config
	codec  pathcodec.Codec
	logger *slog.Logger
}

// New creates a new Engine on top of s.
func New(s Store, config Config, logger *slog.Logger) *Engine {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  s,
		config: config,
		codec:  pathcodec.New(config.Separator),
		logger: logger,
	}
}

// WithStore returns a copy of the engine bound to s, typically a
// transaction-scoped view of the original store.
func (e *Engine) WithStore(s Store) *Engine {
	c := *e
	c.store = s
	return &c
}

// Store returns the underlying record store.
func (e *Engine) Store() Store {
	return e.store
}

// Config returns the validated engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// RootPath returns the path carried by root nodes.
func (e *Engine) RootPath() string {
	return e.codec.RootPath()
}

// ChildPath returns the path direct children of n carry.
func (e *Engine) ChildPath(n *Node) string {
	return e.codec.ChildPath(n.Path, n.ID)
}

// ParentIDs decodes the ancestor identifiers of n, root first.
func (e *Engine) ParentIDs(n *Node) ([]int64, error) {
	return e.codec.ParentIDs(n.Path)
}

// ParentID returns the direct parent identifier of n; ok is false for roots.
func (e *Engine) ParentID(n *Node) (id int64, ok bool, err error) {
	return e.codec.ParentID(n.Path)
}

// siblingFilter selects the nodes sharing path. Attribute constraints of the
// configured filter apply so that root sets can be partitioned (e.g. per tenant).
func (e *Engine) siblingFilter(path string) Filter {
	return Filter{Path: path, Attrs: e.config.Filter.Attrs}
}

// refresh reloads the tree fields of n from the store, leaving Attrs untouched.
func (e *Engine) refresh(ctx context.Context, n *Node) error {
	if !n.Persisted() {
		return ErrNotPersisted
	}
	stored, err := e.store.Get(ctx, n.ID)
	if err != nil {
		return persistErr(fmt.Sprintf("get node %d", n.ID), err)
	}
	n.Path = stored.Path
	n.Level = stored.Level
	n.Position = stored.Position
	return nil
}

// Get returns the node with the given ID.
func (e *Engine) Get(ctx context.Context, id int64) (*Node, error) {
	n, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, persistErr(fmt.Sprintf("get node %d", id), err)
	}
	return n, nil
}

// Parent returns the direct parent of n, or nil for roots.
func (e *Engine) Parent(ctx context.Context, n *Node) (*Node, error) {
	id, ok, err := e.codec.ParentID(n.Path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return e.Get(ctx, id)
}

// Ancestors returns every ancestor of n ordered from the root down to the parent.
func (e *Engine) Ancestors(ctx context.Context, n *Node) ([]*Node, error) {
	ids, err := e.codec.ParentIDs(n.Path)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := e.store.Query(ctx, Filter{IDs: ids})
	if err != nil {
		return nil, persistErr("query ancestors", err)
	}
	byID := make(map[int64]*Node, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, persistErr(fmt.Sprintf("get ancestor %d", id), ErrNotFound)
		}
		out = append(out, a)
	}
	return out, nil
}

// Roots returns the root nodes matching the configured filter and extra, in position order.
func (e *Engine) Roots(ctx context.Context, extra Filter) ([]*Node, error) {
	f := e.config.Filter.Merge(extra).Merge(Filter{Path: e.codec.RootPath()})
	roots, err := e.store.Query(ctx, f)
	if err != nil {
		return nil, persistErr("query roots", err)
	}
	return roots, nil
}

// Children returns the direct children of n in position order.
func (e *Engine) Children(ctx context.Context, n *Node) ([]*Node, error) {
	if !n.Persisted() {
		return nil, ErrNotPersisted
	}
	children, err := e.store.Query(ctx, e.siblingFilter(e.ChildPath(n)))
	if err != nil {
		return nil, persistErr("query children", err)
	}
	return children, nil
}

// Descendants returns every node below n, ordered by level then position.
func (e *Engine) Descendants(ctx context.Context, n *Node) ([]*Node, error) {
	if !n.Persisted() {
		return nil, ErrNotPersisted
	}
	f := e.config.Filter.Merge(Filter{PathPrefix: e.ChildPath(n)})
	nodes, err := e.store.Query(ctx, f)
	if err != nil {
		return nil, persistErr("query descendants", err)
	}
	return nodes, nil
}

// HasChildren reports whether any node is attached directly under n.
func (e *Engine) HasChildren(ctx context.Context, n *Node) (bool, error) {
	if !n.Persisted() {
		return false, nil
	}
	count, err := e.store.Count(ctx, e.siblingFilter(e.ChildPath(n)))
	if err != nil {
		return false, persistErr("count children", err)
	}
	return count > 0, nil
}

// IsLeaf reports whether n has no children.
func (e *Engine) IsLeaf(ctx context.Context, n *Node) (bool, error) {
	has, err := e.HasChildren(ctx, n)
	return !has, err
}

// Insert persists a new node as the last child of parent, or as the last root
// when parent is nil.
func (e *Engine) Insert(ctx context.Context, n *Node, parent *Node) (*Node, error) {
	if n.Persisted() {
		return nil, ErrAlreadyPersisted
	}

	root := e.codec.RootPath()
	count, err := e.store.Count(ctx, e.siblingFilter(root))
	if err != nil {
		return nil, persistErr("count roots", err)
	}
	n.Path = root
	n.Level = 0
	n.Position = count + 1
	if err := e.store.Save(ctx, n); err != nil {
		return nil, persistErr("save node", err)
	}

	e.logger.Debug("inserted node", "nodeID", n.ID, "position", n.Position)

	if !parent.Persisted() {
		return n, nil
	}
	return e.Move(ctx, n, parent, true)
}

// DeleteOptions configures delete behavior.
type DeleteOptions struct {
	// Cascade deletes every descendant along with the node.
	Cascade bool

	// OrphanProtect fails the delete if the node has children.
	OrphanProtect bool
}

// Delete removes n and closes the position gap it leaves among its siblings.
// Without Cascade the node's descendants stay in the store and surface as
// orphans when a tree containing them is loaded.
func (e *Engine) Delete(ctx context.Context, n *Node, opts DeleteOptions) error {
	if err := e.refresh(ctx, n); err != nil {
		return err
	}

	if opts.Cascade || opts.OrphanProtect {
		has, err := e.HasChildren(ctx, n)
		if err != nil {
			return err
		}
		if has && opts.OrphanProtect && !opts.Cascade {
			return ErrHasChildren
		}
		if has && opts.Cascade {
			if err := e.deleteDescendants(ctx, n); err != nil {
				return err
			}
		}
	}

	if err := e.store.Delete(ctx, n); err != nil {
		return persistErr(fmt.Sprintf("delete node %d", n.ID), err)
	}
	if err := e.closeGap(ctx, n.Path, n.Position); err != nil {
		return err
	}

	e.logger.Info("deleted node", "nodeID", n.ID, "path", n.Path, "cascade", opts.Cascade)
	return nil
}

// deleteDescendants removes the whole subtree below n, deepest nodes first.
func (e *Engine) deleteDescendants(ctx context.Context, n *Node) error {
	nodes, err := e.store.Query(ctx, e.config.Filter.Merge(Filter{PathPrefix: e.ChildPath(n)}))
	if err != nil {
		return persistErr("query descendants", err)
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		if err := e.store.Delete(ctx, nodes[i]); err != nil {
			return persistErr(fmt.Sprintf("delete node %d", nodes[i].ID), err)
		}
	}
	e.logger.Debug("deleted descendants", "nodeID", n.ID, "count", len(nodes))
	return nil
}
