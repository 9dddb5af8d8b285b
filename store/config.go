package store

import (
	"slices"

	"github.com/jacentio/mpath/internal/pathcodec"
	"github.com/jacentio/mpath/internal/shard"
)

// Config holds configuration for the Store.
type Config struct {
	// Table is the name of the node table (partition key "id", number).
	// Default: "mpath_nodes"
	Table string

	// SiblingTable lists the members of every sibling set (partition key "set",
	// sort key "id"). Rows are written in the same transaction as the node, so
	// sibling and subtree reads through it are strongly consistent.
	// Default: "mpath_siblings"
	SiblingTable string

	// PathIndex is the global secondary index with partition key "shard" and
	// sort key "path". It serves queries the sibling table cannot, such as a
	// filter without a path. Reads through it are eventually consistent.
	// Default: "path-index"
	PathIndex string

	// ScopeAttrs names the node attributes that partition sibling sets next to
	// the path, for example "tenant". Every engine using the store must carry
	// these keys in its filter; queries lacking one fall back to PathIndex.
	// Default: none (one sibling set per path)
	ScopeAttrs []string

	// Separator is the path separator of the trees kept in the table, used to
	// walk subtrees through the sibling table.
	// Default: "."
	Separator string

	// NumShards is the number of partitions nodes are spread across in the path index.
	// Higher values increase write throughput but require more parallel queries.
	// Default: 1 (no sharding, single query)
	// Max: 256
	NumShards int

	// WriteRate limits position updates issued by ShiftPositions, in
	// transactions per second. Zero disables the limit.
	WriteRate float64
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		Table:        "mpath_nodes",
		SiblingTable: "mpath_siblings",
		PathIndex:    "path-index",
		Separator:    pathcodec.DefaultSeparator,
		NumShards:    1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "mpath_nodes"
	}
	if c.SiblingTable == "" {
		c.SiblingTable = "mpath_siblings"
	}
	if c.PathIndex == "" {
		c.PathIndex = "path-index"
	}
	if c.Separator == "" {
		c.Separator = pathcodec.DefaultSeparator
	}
	if len(c.ScopeAttrs) > 0 {
		c.ScopeAttrs = slices.Compact(slices.Sorted(slices.Values(c.ScopeAttrs)))
	} else {
		c.ScopeAttrs = nil
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > shard.Max {
		c.NumShards = shard.Max
	}
	if c.WriteRate < 0 {
		c.WriteRate = 0
	}
}
