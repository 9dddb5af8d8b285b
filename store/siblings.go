package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/mpath/tree"
)

const (
	// maxBatchGetKeys is the DynamoDB limit of keys per BatchGetItem call.
	maxBatchGetKeys = 100

	// maxBatchGetRetries bounds the rounds spent on unprocessed keys.
	maxBatchGetRetries = 5

	// walkConcurrency bounds the sibling sets read in parallel per tree level.
	walkConcurrency = 16
)

// setKey returns the sibling set of a node with the given path and attributes:
// the path followed by the value of every scope attribute.
func (s *Store) setKey(path string, attrs map[string]string) string {
	if len(s.config.ScopeAttrs) == 0 {
		return path
	}
	var b strings.Builder
	b.WriteString(path)
	for _, k := range s.config.ScopeAttrs {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(attrs[k])
	}
	return b.String()
}

// scoped reports whether attrs pins every scope attribute, so that a path
// names exactly one sibling set.
func (s *Store) scoped(attrs map[string]string) bool {
	for _, k := range s.config.ScopeAttrs {
		if _, ok := attrs[k]; !ok {
			return false
		}
	}
	return true
}

// SiblingKey returns the primary key of the row listing node id in set.
func SiblingKey(set string, id int64) PK {
	return PK{
		attrSet: &types.AttributeValueMemberS{Value: set},
		attrID:  number(id),
	}
}

func (s *Store) putSibling(set string, id int64) types.TransactWriteItem {
	return types.TransactWriteItem{Put: &types.Put{
		TableName: aws.String(s.config.SiblingTable),
		Item:      SiblingKey(set, id),
	}}
}

func (s *Store) deleteSibling(set string, id int64) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName: aws.String(s.config.SiblingTable),
		Key:       SiblingKey(set, id),
	}}
}

// members returns the IDs listed in a sibling set, read with strong consistency.
func (s *Store) members(ctx context.Context, set string) ([]int64, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.SiblingTable),
		KeyConditionExpression: aws.String("#set = :set"),
		ProjectionExpression:   aws.String("#id"),
		ExpressionAttributeNames: map[string]string{
			"#set": attrSet,
			"#id":  attrID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":set": &types.AttributeValueMemberS{Value: set},
		},
		ConsistentRead: aws.Bool(true),
	}

	var ids []int64
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("sibling set %q: %w", set, err)
		}
		for _, raw := range page.Items {
			if id := itemID(raw); id > 0 {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// consistentQuery answers f from the sibling table and the node table when f
// pins a sibling set, a subtree or a list of IDs. ok is false when the path
// index has to serve f instead.
func (s *Store) consistentQuery(ctx context.Context, f tree.Filter) (nodes []*tree.Node, ok bool, err error) {
	switch {
	case f.Path != "" && s.scoped(f.Attrs):
		ids, err := s.members(ctx, s.setKey(f.Path, f.Attrs))
		if err != nil {
			return nil, true, err
		}
		nodes, err = s.loadNodes(ctx, ids)
		if err != nil {
			return nil, true, err
		}
	case f.PathPrefix != "" && strings.HasSuffix(f.PathPrefix, s.config.Separator) && s.scoped(f.Attrs):
		nodes, err = s.walk(ctx, f.PathPrefix, f.Attrs)
		if err != nil {
			return nil, true, err
		}
	case len(f.IDs) > 0 && f.Path == "" && f.PathPrefix == "":
		nodes, err = s.loadNodes(ctx, f.IDs)
		if err != nil {
			return nil, true, err
		}
	default:
		return nil, false, nil
	}

	out := nodes[:0]
	for _, n := range nodes {
		if f.Match(n) {
			out = append(out, n)
		}
	}
	return out, true, nil
}

// walk returns every live node whose path starts with prefix, reading one
// tree level per round. Sibling sets are looked up in the scope of attrs.
func (s *Store) walk(ctx context.Context, prefix string, attrs map[string]string) ([]*tree.Node, error) {
	var out []*tree.Node
	paths := []string{prefix}
	for len(paths) > 0 {
		ids, err := s.membersOf(ctx, paths, attrs)
		if err != nil {
			return nil, err
		}
		level, err := s.loadNodes(ctx, ids)
		if err != nil {
			return nil, err
		}
		out = append(out, level...)

		paths = make([]string, 0, len(level))
		for _, n := range level {
			paths = append(paths, s.codec.ChildPath(n.Path, n.ID))
		}
	}
	return out, nil
}

// membersOf reads the sibling sets of several paths in parallel.
func (s *Store) membersOf(ctx context.Context, paths []string, attrs map[string]string) ([]int64, error) {
	if len(paths) == 1 {
		return s.members(ctx, s.setKey(paths[0], attrs))
	}

	var mu sync.Mutex
	var ids []int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(walkConcurrency)
	for _, path := range paths {
		g.Go(func() error {
			found, err := s.members(gctx, s.setKey(path, attrs))
			if err != nil {
				return err
			}
			mu.Lock()
			ids = append(ids, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// loadNodes fetches the live nodes among ids with strongly consistent batch
// reads. Missing and deleted IDs are skipped.
func (s *Store) loadNodes(ctx context.Context, ids []int64) ([]*tree.Node, error) {
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))
	now := s.now().Unix()

	nodes := make([]*tree.Node, 0, len(ids))
	for start := 0; start < len(ids); start += maxBatchGetKeys {
		end := min(start+maxBatchGetKeys, len(ids))
		items, err := s.batchGet(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, raw := range items {
			if isDeletedAt(raw, now) {
				continue
			}
			n, err := unmarshalNode(raw)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", itemID(raw), err)
			}
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// batchGet reads up to maxBatchGetKeys node items, retrying unprocessed keys
// with a growing pause.
func (s *Store) batchGet(ctx context.Context, ids []int64) ([]map[string]types.AttributeValue, error) {
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, NodeKey(id))
	}
	request := map[string]types.KeysAndAttributes{
		s.config.Table: {Keys: keys, ConsistentRead: aws.Bool(true)},
	}

	var items []map[string]types.AttributeValue
	backoff := 50 * time.Millisecond
	for attempt := 0; ; attempt++ {
		out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return nil, fmt.Errorf("batch get: %w", err)
		}
		items = append(items, out.Responses[s.config.Table]...)

		if len(out.UnprocessedKeys[s.config.Table].Keys) == 0 {
			return items, nil
		}
		if attempt == maxBatchGetRetries {
			return nil, fmt.Errorf("batch get: %d keys left unprocessed", len(out.UnprocessedKeys[s.config.Table].Keys))
		}
		request = out.UnprocessedKeys

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
