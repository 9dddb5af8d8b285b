package tree

import (
	"context"
	"fmt"
)

// closeGap decrements the position of every sibling under path placed after from,
// restoring contiguity once the node at from leaves the slot.
func (e *Engine) closeGap(ctx context.Context, path string, from int) error {
	if from < 1 {
		return nil
	}
	f := e.siblingFilter(path)
	f.MinPosition = from + 1

	n, err := e.store.ShiftPositions(ctx, f, -1)
	if err != nil {
		return persistErr("close position gap", err)
	}
	positionShifts.WithLabelValues("close_gap").Inc()
	e.logger.Debug("closed position gap", "path", path, "from", from, "shifted", n)
	return nil
}

// shiftRange makes room for a node moving from one slot to another within the
// same sibling set: siblings between the two slots move one step towards from.
func (e *Engine) shiftRange(ctx context.Context, path string, from, to int, exclude int64) error {
	if from == to {
		return nil
	}
	delta := -1
	if to < from {
		delta = 1
	}
	f := e.siblingFilter(path)
	f.MinPosition = min(from, to)
	f.MaxPosition = max(from, to)
	f.ExcludeID = exclude

	n, err := e.store.ShiftPositions(ctx, f, delta)
	if err != nil {
		return persistErr("shift positions", err)
	}
	positionShifts.WithLabelValues("shift_range").Inc()
	e.logger.Debug("shifted positions", "path", path, "from", from, "to", to, "delta", delta, "shifted", n)
	return nil
}

// vacate closes the gap n leaves in its current sibling set without touching
// n's own position; the caller overwrites it next.
func (e *Engine) vacate(ctx context.Context, n *Node) error {
	return e.closeGap(ctx, n.Path, n.Position)
}

// SetPosition moves n to position pos among its current siblings, shifting the
// siblings in between, and persists n. Setting the current position is a no-op.
func (e *Engine) SetPosition(ctx context.Context, n *Node, pos int) error {
	if err := e.refresh(ctx, n); err != nil {
		return err
	}
	if pos == n.Position {
		return nil
	}

	count, err := e.store.Count(ctx, e.siblingFilter(n.Path))
	if err != nil {
		return persistErr("count siblings", err)
	}
	if pos < 1 || pos > count {
		return fmt.Errorf("%w: %d not in 1..%d", ErrPositionOutOfRange, pos, count)
	}

	if err := e.shiftRange(ctx, n.Path, n.Position, pos, n.ID); err != nil {
		return err
	}
	n.Position = pos
	if err := e.store.Save(ctx, n); err != nil {
		return persistErr(fmt.Sprintf("save node %d", n.ID), err)
	}
	return nil
}

// MoveUp swaps n with its previous sibling. It is a no-op for the first sibling.
func (e *Engine) MoveUp(ctx context.Context, n *Node) error {
	if err := e.refresh(ctx, n); err != nil {
		return err
	}
	if n.Position <= 1 {
		return nil
	}
	return e.SetPosition(ctx, n, n.Position-1)
}

// MoveDown swaps n with its next sibling. It is a no-op for the last sibling.
func (e *Engine) MoveDown(ctx context.Context, n *Node) error {
	if err := e.refresh(ctx, n); err != nil {
		return err
	}
	count, err := e.store.Count(ctx, e.siblingFilter(n.Path))
	if err != nil {
		return persistErr("count siblings", err)
	}
	if n.Position >= count {
		return nil
	}
	return e.SetPosition(ctx, n, n.Position+1)
}
