package tree

import (
	"context"
	"fmt"
)

// Move relocates n and its whole subtree under target, or makes n a new root
// when target is nil or not yet persisted. It returns n with its new path,
// level and position.
//
// isNew marks a node that has just been saved as the last root (see Insert);
// such a node is already counted among the roots and keeps the last root slot.
//
// Moving a node onto itself is a no-op. Moving under a target already at the
// configured MaxLevel attaches n to the target's parent instead.
func (e *Engine) Move(ctx context.Context, n, target *Node, isNew bool) (*Node, error) {
	if !n.Persisted() {
		return nil, ErrNotPersisted
	}
	if target != nil && target.ID == n.ID {
		return n, nil
	}

	sub, err := e.LoadTree(ctx, n, LoadOptions{})
	if err != nil {
		return nil, err
	}
	moved, err := e.move(ctx, sub, n, target, isNew)
	if err != nil {
		return nil, err
	}
	movesTotal.WithLabelValues(destinationLabel(e, moved)).Inc()

	e.logger.Info("moved node",
		"nodeID", moved.ID,
		"path", moved.Path,
		"level", moved.Level,
		"position", moved.Position,
		"descendants", sub.Len(),
	)
	return moved, nil
}

// move relocates n under target using t as the cache holding n's subtree, then
// re-attaches n's cached children under n so that their paths follow.
func (e *Engine) move(ctx context.Context, t *Tree, n, target *Node, isNew bool) (*Node, error) {
	if target != nil && target.ID == n.ID {
		return n, nil
	}
	if err := e.refresh(ctx, n); err != nil {
		return nil, err
	}
	if target.Persisted() {
		if err := e.refresh(ctx, target); err != nil {
			return nil, err
		}
		if e.IsAncestor(n, target) {
			return nil, fmt.Errorf("%w: node %d under %d", ErrInvalidTarget, n.ID, target.ID)
		}
	}

	oldPath, oldLevel := n.Path, n.Level
	oldParent, _, err := e.codec.ParentID(oldPath)
	if err != nil {
		return nil, err
	}

	// Vacate the current slot.
	if err := e.vacate(ctx, n); err != nil {
		return nil, err
	}

	// Snapshot before the path changes.
	children := t.cachedChildren(n.ID)

	dest := target
	if dest.Persisted() && dest.Level >= e.config.MaxLevel {
		parent, err := e.Parent(ctx, dest)
		if err != nil {
			return nil, err
		}
		depthRedirects.Inc()
		e.logger.Warn("target at max level, attaching to its parent",
			"nodeID", n.ID,
			"targetID", dest.ID,
			"maxLevel", e.config.MaxLevel,
		)
		dest = parent
	}

	destID := int64(0)
	if dest.Persisted() {
		path := e.ChildPath(dest)
		f := e.siblingFilter(path)
		f.ExcludeID = n.ID
		count, err := e.store.Count(ctx, f)
		if err != nil {
			return nil, persistErr("count siblings", err)
		}
		n.Level = dest.Level + 1
		n.Path = path
		n.Position = count + 1
		destID = dest.ID
	} else {
		root := e.codec.RootPath()
		f := e.siblingFilter(root)
		if !isNew {
			f.ExcludeID = n.ID
		}
		count, err := e.store.Count(ctx, f)
		if err != nil {
			return nil, persistErr("count roots", err)
		}
		n.Level = 0
		n.Path = root
		n.Position = count
		if !isNew {
			n.Position++
		}
		n.Position = max(n.Position, 1)
	}

	t.unlink(oldParent, n.ID)
	if t.Contains(destID) {
		t.link(destID, n)
	}

	if err := e.store.Save(ctx, n); err != nil {
		return nil, persistErr(fmt.Sprintf("save node %d", n.ID), err)
	}
	relocatedNodes.Inc()
	e.logger.Debug("relocated node", "nodeID", n.ID, "from", oldPath, "to", n.Path, "position", n.Position)

	if n.Path == oldPath && n.Level == oldLevel {
		return n, nil
	}

	// Re-attach the snapshot under n; each child recomputes its own path and
	// cascades further down.
	t.clearChildren(n.ID)
	for _, c := range children {
		if _, err := e.move(ctx, t, c, n, false); err != nil {
			return nil, fmt.Errorf("cascade to child %d of %d: %w", c.ID, n.ID, err)
		}
	}
	return n, nil
}

func destinationLabel(e *Engine, n *Node) string {
	if e.IsRoot(n) {
		return "root"
	}
	return "child"
}
