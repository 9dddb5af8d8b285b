// Package tree maintains hierarchies inside a flat record store using
// materialized paths.
//
// Every node carries three redundant fields kept consistent by the [Engine]:
//
//   - Path: the identifiers of all strict ancestors, root first, each followed by
//     the separator ("." for roots, ".4.17." for a child of 17 under root 4)
//   - Level: the number of identifiers in Path
//   - Position: the 1-based rank among nodes sharing the same Path, always
//     contiguous (1..count)
//
// # Store
//
// The engine talks to records through the [Store] interface: lookup by ID,
// filtered queries, counts, relative position updates over a filter, save and
// delete. Implementations live in sibling packages (memstore, sqlstore and the
// DynamoDB-backed store package).
//
// # Moving nodes
//
// [Engine.Move] detaches a node from its sibling set (closing the position gap),
// attaches it as the last child of the target (or as the last root) and then
// re-attaches each of its previously loaded children under it, recursively, so
// that every descendant path follows:
//
//	eng := tree.New(s, tree.DefaultConfig(), logger)
//	moved, err := eng.Move(ctx, node, target, false)
//
// A move is a sequence of store calls, not a transaction. Callers needing
// atomicity bind the engine to a transaction-scoped store with [Engine.WithStore].
//
// # Tree cache
//
// [Engine.LoadTree] returns a [Tree] handle built from one bulk query, processed
// in ascending level order. Nodes whose parent is not part of the loaded set are
// dropped and reported through [Tree.Warnings] as [OrphanNodeWarning].
//
// # Errors
//
//   - [ErrNotFound] - record doesn't exist
//   - [ErrInvalidTarget] - target lies inside the moved subtree
//   - [ErrHasChildren] - delete refused under OrphanProtect
//   - [ErrPositionOutOfRange] - SetPosition outside 1..count
//   - [PersistenceError] - wraps every store failure
//   - [MalformedPathError] - stored path cannot be decoded
package tree
