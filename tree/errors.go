package tree

import (
	"errors"
	"fmt"

	"github.com/jacentio/mpath/internal/pathcodec"
)

var (
	// ErrNotFound is returned when a record doesn't exist (or is deleted).
	ErrNotFound = errors.New("mpath: node not found")

	// ErrNotPersisted is returned when an operation needs a node that has no ID yet.
	ErrNotPersisted = errors.New("mpath: node is not persisted")

	// ErrAlreadyPersisted is returned by Insert for a node that already has an ID.
	ErrAlreadyPersisted = errors.New("mpath: node is already persisted")

	// ErrInvalidTarget is returned when a node would be moved under its own subtree.
	ErrInvalidTarget = errors.New("mpath: target is inside the moved subtree")

	// ErrHasChildren is returned when deleting a node with children under OrphanProtect.
	ErrHasChildren = errors.New("mpath: node has children")

	// ErrPositionOutOfRange is returned when a requested position is outside 1..count.
	ErrPositionOutOfRange = errors.New("mpath: position out of range")

	// ErrNotInTree is returned when a node is not part of a loaded Tree.
	ErrNotInTree = errors.New("mpath: node is not in the loaded tree")
)

// MalformedPathError is returned when a stored path cannot be decoded.
type MalformedPathError = pathcodec.MalformedPathError

// PersistenceError wraps a failure reported by the Store.
// The engine never retries; multi-step mutations are not rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("mpath: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// OrphanNodeWarning reports a node dropped while building a Tree because its
// parent was not part of the loaded set.
type OrphanNodeWarning struct {
	Node     *Node
	ParentID int64
}

func (w OrphanNodeWarning) Error() string {
	return fmt.Sprintf("mpath: orphan node %d (path %q): parent %d not loaded", w.Node.ID, w.Node.Path, w.ParentID)
}
