package tree

import (
	"context"
	"slices"
)

// LoadOptions configures LoadTree.
type LoadOptions struct {
	// Filter is merged with the engine's configured filter for the subtree query.
	Filter Filter
}

// Tree is an in-memory adjacency view of one subtree, built from a single bulk
// query. It is owned by the caller and is not safe for concurrent use.
//
// A Tree rooted at a nil (unpersisted) node holds the whole forest: root nodes
// are the children of the virtual root with ID 0.
type Tree struct {
	engine   *Engine
	root     *Node
	opts     LoadOptions
	loaded   bool
	nodes    map[int64]*Node
	children map[int64]*childSet
	warnings []OrphanNodeWarning
}

// childSet keeps children keyed by ID in insertion order.
type childSet struct {
	order []int64
	byID  map[int64]*Node
}

func (s *childSet) put(n *Node) {
	if _, ok := s.byID[n.ID]; !ok {
		s.order = append(s.order, n.ID)
	}
	s.byID[n.ID] = n
}

func (s *childSet) remove(id int64) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	s.order = slices.DeleteFunc(s.order, func(v int64) bool { return v == id })
	return true
}

func (s *childSet) list() []*Node {
	out := make([]*Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// LoadTree builds the cache for the subtree under root, or for the whole forest
// when root is nil or not yet persisted. The returned handle is already loaded.
func (e *Engine) LoadTree(ctx context.Context, root *Node, opts LoadOptions) (*Tree, error) {
	if root.Persisted() {
		if err := e.refresh(ctx, root); err != nil {
			return nil, err
		}
	}
	t := &Tree{
		engine: e,
		root:   root,
		opts:   opts,
	}
	if err := t.Load(ctx, false); err != nil {
		return nil, err
	}
	return t, nil
}

// Root returns the node the tree was loaded for, nil for a forest.
func (t *Tree) Root() *Node {
	return t.root
}

func (t *Tree) rootID() int64 {
	if t.root.Persisted() {
		return t.root.ID
	}
	return 0
}

// Loaded reports whether the cache is populated.
func (t *Tree) Loaded() bool {
	return t.loaded
}

// Load populates the cache. It returns immediately when already loaded unless
// force is set, in which case the structure is rebuilt from the store.
//
// Query results are processed in ascending level order so that every node's
// parent is cached before the node itself is inserted.
func (t *Tree) Load(ctx context.Context, force bool) error {
	if t.loaded && !force {
		return nil
	}

	e := t.engine
	f := e.config.Filter.Merge(t.opts.Filter)
	if t.root.Persisted() {
		f = f.Merge(Filter{PathPrefix: e.ChildPath(t.root)})
	}

	nodes, err := e.store.Query(ctx, f)
	if err != nil {
		return persistErr("load tree", err)
	}
	treeLoads.Inc()

	t.reset()
	SortNodes(nodes)
	for _, n := range nodes {
		if w := t.InsertDescendant(n); w != nil {
			t.warnings = append(t.warnings, *w)
			orphanNodes.Inc()
			e.logger.Warn("dropping orphan node from tree",
				"nodeID", w.Node.ID,
				"path", w.Node.Path,
				"parentID", w.ParentID,
			)
		}
	}
	t.loaded = true

	e.logger.Debug("loaded tree", "rootID", t.rootID(), "nodes", len(t.nodes), "orphans", len(t.warnings))
	return nil
}

// Reload rebuilds the cache from the store.
func (t *Tree) Reload(ctx context.Context) error {
	return t.Load(ctx, true)
}

// Invalidate drops the cached structure; the next Children call reloads it.
func (t *Tree) Invalidate() {
	t.reset()
	t.loaded = false
}

func (t *Tree) reset() {
	t.nodes = make(map[int64]*Node)
	t.children = make(map[int64]*childSet)
	t.warnings = nil
}

// Warnings returns the orphan nodes dropped by the last load.
func (t *Tree) Warnings() []OrphanNodeWarning {
	return t.warnings
}

// Len returns the number of cached nodes, excluding the root.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the cached node with the given ID.
func (t *Tree) Node(id int64) (*Node, bool) {
	if t.root.Persisted() && id == t.root.ID {
		return t.root, true
	}
	n, ok := t.nodes[id]
	return n, ok
}

// Contains reports whether id is the root or a cached node.
func (t *Tree) Contains(id int64) bool {
	_, ok := t.Node(id)
	return ok || id == t.rootID()
}

// Children returns the cached children of the node with the given ID (0 for the
// forest's virtual root), loading the tree first if it was invalidated.
func (t *Tree) Children(ctx context.Context, id int64) ([]*Node, error) {
	if err := t.Load(ctx, false); err != nil {
		return nil, err
	}
	return t.cachedChildren(id), nil
}

func (t *Tree) cachedChildren(id int64) []*Node {
	set, ok := t.children[id]
	if !ok {
		return []*Node{}
	}
	return set.list()
}

// InsertDescendant attaches n under its direct parent when that parent is the
// root or already cached. Otherwise n is dropped and a warning is returned.
func (t *Tree) InsertDescendant(n *Node) *OrphanNodeWarning {
	pid, ok, err := t.engine.codec.ParentID(n.Path)
	if err != nil {
		return &OrphanNodeWarning{Node: n}
	}
	if !ok {
		pid = 0
	}
	if !t.Contains(pid) {
		return &OrphanNodeWarning{Node: n, ParentID: pid}
	}
	t.link(pid, n)
	return nil
}

// ChildAncestorOf returns the cached child of the node with the given ID (0 for
// the forest's virtual root) that is n itself or one of n's ancestors, that is
// the child to descend into on the way to n.
func (t *Tree) ChildAncestorOf(id int64, n *Node) (*Node, bool) {
	ids, err := t.engine.codec.ParentIDs(n.Path)
	if err != nil {
		return nil, false
	}
	for _, c := range t.cachedChildren(id) {
		if c.ID == n.ID || slices.Contains(ids, c.ID) {
			return c, true
		}
	}
	return nil, false
}

// AddChild links n under parent, replacing any cached child with the same ID.
func (t *Tree) AddChild(parent, n *Node) {
	pid := int64(0)
	if parent.Persisted() {
		pid = parent.ID
	}
	t.link(pid, n)
}

// RemoveChild unlinks n from parent and forgets n's cached subtree.
func (t *Tree) RemoveChild(parent, n *Node) {
	pid := int64(0)
	if parent.Persisted() {
		pid = parent.ID
	}
	if t.unlink(pid, n.ID) {
		t.forget(n.ID)
	}
}

func (t *Tree) link(parentID int64, n *Node) {
	if t.nodes == nil {
		t.reset()
	}
	set, ok := t.children[parentID]
	if !ok {
		set = &childSet{byID: make(map[int64]*Node)}
		t.children[parentID] = set
	}
	set.put(n)
	if !(t.root.Persisted() && n.ID == t.root.ID) {
		t.nodes[n.ID] = n
	}
}

func (t *Tree) unlink(parentID, id int64) bool {
	set, ok := t.children[parentID]
	if !ok {
		return false
	}
	return set.remove(id)
}

// clearChildren drops the child links of id, keeping the child nodes cached.
func (t *Tree) clearChildren(id int64) {
	delete(t.children, id)
}

// forget removes id and every cached descendant of it.
func (t *Tree) forget(id int64) {
	for _, c := range t.cachedChildren(id) {
		t.forget(c.ID)
	}
	delete(t.children, id)
	delete(t.nodes, id)
}

// Walk visits every cached node depth-first in position order. depth is 0 for
// the children of the tree root. Returning an error from fn stops the walk.
func (t *Tree) Walk(fn func(n *Node, depth int) error) error {
	return t.walk(t.rootID(), 0, fn)
}

func (t *Tree) walk(id int64, depth int, fn func(n *Node, depth int) error) error {
	for _, c := range t.cachedChildren(id) {
		if err := fn(c, depth); err != nil {
			return err
		}
		if err := t.walk(c.ID, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// Move relocates n, which must be part of this tree, under target (or to the
// roots when target is nil), reusing the cached subtree of n for the descendant
// cascade and keeping the cached links current.
func (t *Tree) Move(ctx context.Context, n, target *Node) (*Node, error) {
	if err := t.Load(ctx, false); err != nil {
		return nil, err
	}
	if !n.Persisted() || !t.Contains(n.ID) {
		return nil, ErrNotInTree
	}
	if cached, _ := t.Node(n.ID); cached != n {
		// Operate on the cached instance so links and fields stay in sync.
		n = cached
	}

	moved, err := t.engine.move(ctx, t, n, target, false)
	if err != nil {
		return nil, err
	}
	movesTotal.WithLabelValues(destinationLabel(t.engine, moved)).Inc()

	if t.root.Persisted() && moved.ID == t.root.ID {
		return moved, nil
	}
	pid, ok, err := t.engine.codec.ParentID(moved.Path)
	if err != nil {
		return nil, err
	}
	if !ok {
		pid = 0
	}
	if !t.Contains(pid) {
		t.forget(moved.ID)
	}
	return moved, nil
}
