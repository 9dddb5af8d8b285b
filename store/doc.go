// Package store provides a DynamoDB-backed tree.Store.
//
// All nodes live in one table keyed by a numeric "id". Tree fields are stored
// as plain attributes (path, level, position) next to the host attributes
// ("attrs", a string map) and an optimistic lock "version".
//
// A second table lists the members of every sibling set: partition key "set"
// (the path, followed by the scope attributes of [Config.ScopeAttrs]) and sort
// key "id". Its rows are written in the same transaction as the node they
// describe. Sibling lookups read one set and subtree lookups walk the sets
// level by level. The nodes themselves are then fetched with batch reads.
//
// A global secondary index with partition key "shard" and sort key "path"
// serves the remaining queries, such as a filter without a path.
//
// # Identifiers
//
// New node IDs come from an atomic counter kept in the reserved item with id 0.
//
// # Soft deletes
//
// Delete sets the "ttl" attribute to the current time instead of removing the
// item; DynamoDB expires it later. Deleted items are hidden from Get, Query and
// Count. The stream package propagates a newly set TTL to the children of the
// deleted node, so enabling the table stream gives cascading deletes without
// loading the subtree.
//
// # Configuration
//
// Use [DefaultConfig] for small datasets (NumShards=1, single queries).
// Increase NumShards to spread index writes; every query then fans out over
// all shards in parallel:
//
//	cfg := store.DefaultConfig()
//	cfg.NumShards = 16
//	s := store.New(dynamodb.NewFromConfig(awsCfg), cfg)
//	eng := tree.New(s, tree.DefaultConfig(), logger)
//
// Trees partitioned by an attribute, such as one tree per tenant, name it in
// ScopeAttrs so that each tenant's roots form their own sibling set. Every
// engine over the store must then carry those keys in its filter.
//
// [CreateTable] provisions both tables, the index, the stream and TTL.
//
// # Consistency
//
// Reads by ID, sibling sets and subtrees are strongly consistent, so counts
// and position shifts see every earlier write. Position shifts are further
// conditioned on each node still holding the path and position it was read
// with; nodes that moved in between are skipped. Saves and deletes check the
// version read just before the write and fail with
// [ErrConcurrentModification] on a mismatch. Queries served by the path index
// may lag recent writes.
//
// # Errors
//
//   - [ErrNotFound] - node doesn't exist or is deleted (same value as tree.ErrNotFound)
//   - [ErrAlreadyDeleted] - node already carries a TTL (matches ErrNotFound)
//   - [ErrAlreadyExists] - an allocated ID was already taken
//   - [ErrConcurrentModification] - node changed between read and write
//   - [ErrMalformedItem] - stored item lacks the tree attributes
package store
