// Package shard provides shard key generation for the DynamoDB path index.
package shard

import (
	"fmt"
	"hash/fnv"
	"strconv"
)

// Max is the largest supported shard count.
const Max = 256

// NodeKey computes the path-index partition key for a node.
// With numShards=1, every node goes to shard "00".
// With numShards>1, nodes are distributed across shards based on a hash of the ID.
func NodeKey(id int64, numShards int) string {
	if numShards <= 1 {
		return "00"
	}
	if numShards > Max {
		numShards = Max
	}
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(id, 10)))
	return fmt.Sprintf("%02x", h.Sum32()%uint32(numShards))
}

// Keys returns every partition key used with numShards, in shard order.
// Queries fan out over all of them.
func Keys(numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	if numShards > Max {
		numShards = Max
	}
	keys := make([]string, numShards)
	for i := range keys {
		keys[i] = fmt.Sprintf("%02x", i)
	}
	return keys
}
