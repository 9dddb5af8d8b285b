package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/mpath/internal/shard"
	"github.com/jacentio/mpath/tree"
)

// Attribute names of a node item.
const (
	attrID        = "id"
	attrPath      = "path"
	attrLevel     = "level"
	attrPosition  = "position"
	attrAttrs     = "attrs"
	attrShard     = "shard"
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
	attrTTL       = "ttl"
	attrVersion   = "version"
	attrSeq       = "seq"
)

// Attribute names of a sibling row.
const (
	attrSet = "set"
)

// counterID is the reserved key of the item holding the ID sequence. It carries
// no shard attribute and therefore never shows up in the path index.
const counterID = 0

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// NodeKey returns the primary key of the node with the given ID.
func NodeKey(id int64) PK {
	return PK{attrID: &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)}}
}

// record is the stored form of a tree node.
type record struct {
	ID        int64             `dynamodbav:"id"`
	Path      string            `dynamodbav:"path"`
	Level     int               `dynamodbav:"level"`
	Position  int               `dynamodbav:"position"`
	Attrs     map[string]string `dynamodbav:"attrs,omitempty"`
	Shard     string            `dynamodbav:"shard"`
	CreatedAt string            `dynamodbav:"created_at"`
	UpdatedAt string            `dynamodbav:"updated_at"`
	TTL       int64             `dynamodbav:"ttl,omitempty"`
	Version   int64             `dynamodbav:"version"`
}

// marshalNode converts n into a DynamoDB item placed in its path-index shard,
// at version 1.
func marshalNode(n *tree.Node, numShards int) (map[string]types.AttributeValue, error) {
	rec := record{
		ID:        n.ID,
		Path:      n.Path,
		Level:     n.Level,
		Position:  n.Position,
		Attrs:     n.Attrs,
		Shard:     shard.NodeKey(n.ID, numShards),
		CreatedAt: formatTime(n.CreatedAt),
		UpdatedAt: formatTime(n.UpdatedAt),
		Version:   1,
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal node %d: %w", n.ID, err)
	}
	return item, nil
}

// unmarshalNode converts a DynamoDB item into a tree node.
func unmarshalNode(raw map[string]types.AttributeValue) (*tree.Node, error) {
	if _, ok := raw[attrPath].(*types.AttributeValueMemberS); !ok {
		return nil, ErrMalformedItem
	}
	var rec record
	if err := attributevalue.UnmarshalMap(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	if rec.ID <= 0 {
		return nil, ErrMalformedItem
	}
	return &tree.Node{
		ID:        rec.ID,
		Path:      rec.Path,
		Level:     rec.Level,
		Position:  rec.Position,
		Attrs:     rec.Attrs,
		CreatedAt: parseTime(rec.CreatedAt),
		UpdatedAt: parseTime(rec.UpdatedAt),
	}, nil
}

// itemID extracts the numeric ID of an item, 0 when absent.
func itemID(raw map[string]types.AttributeValue) int64 {
	v, ok := raw[attrID].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	id, _ := strconv.ParseInt(v.Value, 10, 64)
	return id
}

// itemVersion returns the optimistic lock version of an item, 0 when absent.
func itemVersion(raw map[string]types.AttributeValue) int64 {
	v, ok := raw[attrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	version, _ := strconv.ParseInt(v.Value, 10, 64)
	return version
}

// Timestamps are stored as RFC 3339 strings, second precision.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
