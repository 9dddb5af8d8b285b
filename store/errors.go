package store

import (
	"errors"
	"fmt"

	"github.com/jacentio/mpath/tree"
)

var (
	// ErrNotFound is returned when a node doesn't exist or is deleted (has TTL <= now).
	ErrNotFound = tree.ErrNotFound

	// ErrAlreadyDeleted is returned when deleting a node that already carries a TTL.
	// It matches ErrNotFound.
	ErrAlreadyDeleted = fmt.Errorf("%w: already deleted", tree.ErrNotFound)

	// ErrAlreadyExists is returned when a freshly allocated ID is already taken,
	// which means the ID counter was reset.
	ErrAlreadyExists = errors.New("mpath: node id already exists")

	// ErrConcurrentModification is returned when a node changed between the read
	// and the conditional write of a Save or Delete (version mismatch).
	ErrConcurrentModification = errors.New("mpath: node was modified concurrently")

	// ErrMalformedItem is returned when a stored item lacks the tree attributes.
	ErrMalformedItem = errors.New("mpath: malformed node item")
)
