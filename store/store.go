package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jacentio/mpath/internal/pathcodec"
	"github.com/jacentio/mpath/internal/shard"
	"github.com/jacentio/mpath/tree"
)

// maxTransactItems is the DynamoDB limit of actions per TransactWriteItems call.
const maxTransactItems = 100

// Client is the subset of the DynamoDB API the Store uses. *dynamodb.Client
// satisfies it.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store is a tree.Store backed by a node table and a sibling table.
type Store struct {
	client  Client
	config  Config
	codec   pathcodec.Codec
	limiter *rate.Limiter
	now     func() time.Time
}

var _ tree.Store = (*Store)(nil)

// New creates a new Store instance.
func New(client Client, config Config) *Store {
	config.validate()
	s := &Store{
		client: client,
		config: config,
		codec:  pathcodec.New(config.Separator),
		now:    time.Now,
	}
	if config.WriteRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.WriteRate), 1)
	}
	return s
}

// Config returns the validated store configuration.
func (s *Store) Config() Config {
	c := s.config
	c.ScopeAttrs = slices.Clone(c.ScopeAttrs)
	return c
}

// Get retrieves a node by ID, returning ErrNotFound if deleted or missing.
func (s *Store) Get(ctx context.Context, id int64) (*tree.Node, error) {
	item, err := s.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil || isDeletedAt(item, s.now().Unix()) {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return unmarshalNode(item)
}

// Query returns every live node matching f, ordered by level, position and ID.
// Filters naming a sibling set, a subtree or IDs are read with strong
// consistency; any other filter goes through the path index.
func (s *Store) Query(ctx context.Context, f tree.Filter) ([]*tree.Node, error) {
	nodes, ok, err := s.consistentQuery(ctx, f)
	if err != nil {
		return nil, err
	}
	if !ok {
		nodes, err = s.queryIndex(ctx, f)
		if err != nil {
			return nil, err
		}
	}
	tree.SortNodes(nodes)
	return nodes, nil
}

// Count returns the number of live nodes matching f.
func (s *Store) Count(ctx context.Context, f tree.Filter) (int, error) {
	if s.setOnly(f) {
		ids, err := s.members(ctx, s.setKey(f.Path, f.Attrs))
		if err != nil {
			return 0, err
		}
		count := len(ids)
		if f.ExcludeID != 0 && slices.Contains(ids, f.ExcludeID) {
			count--
		}
		return count, nil
	}

	nodes, ok, err := s.consistentQuery(ctx, f)
	if err != nil {
		return 0, err
	}
	if ok {
		return len(nodes), nil
	}
	return s.countIndex(ctx, f)
}

// setOnly reports whether f selects a whole sibling set, minus at most one
// excluded ID, so that counting its rows is enough.
func (s *Store) setOnly(f tree.Filter) bool {
	return f.Path != "" && f.PathPrefix == "" && f.PathContains == "" &&
		f.Level == nil && f.MinPosition == 0 && f.MaxPosition == 0 && len(f.IDs) == 0 &&
		len(f.Attrs) == len(s.config.ScopeAttrs) && s.scoped(f.Attrs)
}

// QueryAllChildren returns the IDs of the nodes listed under path in the
// sibling set scoped by attrs. A node leaves the set as soon as it carries a
// TTL. This is used by cascade delete to propagate TTL to all children.
func (s *Store) QueryAllChildren(ctx context.Context, path string, attrs map[string]string) ([]int64, error) {
	return s.members(ctx, s.setKey(path, attrs))
}

// queryIndex runs f against the path index. Results may lag recent writes.
func (s *Store) queryIndex(ctx context.Context, f tree.Filter) ([]*tree.Node, error) {
	items, err := s.queryItems(ctx, f, false)
	if err != nil {
		return nil, err
	}
	nodes := make([]*tree.Node, 0, len(items))
	for _, raw := range items {
		n, err := unmarshalNode(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", itemID(raw), err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (s *Store) countIndex(ctx context.Context, f tree.Filter) (int, error) {
	now := s.now().Unix()
	var mu sync.Mutex
	total := 0

	err := s.fanOut(ctx, func(ctx context.Context, shardKey string) error {
		input := s.queryInput(buildQuery(f, shardKey, now, false))
		input.Select = types.SelectCount

		count := 0
		paginator := dynamodb.NewQueryPaginator(s.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			count += int(page.Count)
		}

		mu.Lock()
		total += count
		mu.Unlock()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// queryItems runs the path-index query for f on every shard.
func (s *Store) queryItems(ctx context.Context, f tree.Filter, includeDeleted bool) ([]map[string]types.AttributeValue, error) {
	now := s.now().Unix()
	var mu sync.Mutex
	var items []map[string]types.AttributeValue

	err := s.fanOut(ctx, func(ctx context.Context, shardKey string) error {
		var shardItems []map[string]types.AttributeValue
		paginator := dynamodb.NewQueryPaginator(s.client, s.queryInput(buildQuery(f, shardKey, now, includeDeleted)))
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			shardItems = append(shardItems, page.Items...)
		}

		mu.Lock()
		items = append(items, shardItems...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) queryInput(q queryExpr) *dynamodb.QueryInput {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.Table),
		IndexName:                 aws.String(s.config.PathIndex),
		KeyConditionExpression:    aws.String(q.KeyCondition),
		ExpressionAttributeNames:  q.Names,
		ExpressionAttributeValues: q.Values,
	}
	if q.Filter != "" {
		input.FilterExpression = aws.String(q.Filter)
	}
	return input
}

// fanOut runs fn once per path-index shard, in parallel when there is more
// than one. The first error cancels the remaining shards.
func (s *Store) fanOut(ctx context.Context, fn func(ctx context.Context, shardKey string) error) error {
	keys := shard.Keys(s.config.NumShards)

	// Fast path for single shard (default)
	if len(keys) == 1 {
		return fn(ctx, keys[0])
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			if err := fn(gctx, key); err != nil {
				return fmt.Errorf("shard %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ShiftPositions adds delta to the position of every live node matching f.
//
// Each update is conditioned on the node still holding the path and position
// it was read with. A node that changed in between is skipped and the rest of
// its batch is retried; the result counts only the nodes actually shifted.
// Updates are written in transactions of up to 100 nodes; a failing batch
// leaves earlier batches applied.
func (s *Store) ShiftPositions(ctx context.Context, f tree.Filter, delta int) (int, error) {
	if delta == 0 {
		return 0, nil
	}
	nodes, err := s.Query(ctx, f)
	if err != nil {
		return 0, err
	}

	now := s.now().Unix()
	updated := 0
	for start := 0; start < len(nodes); start += maxTransactItems {
		end := min(start+maxTransactItems, len(nodes))
		n, err := s.shiftBatch(ctx, nodes[start:end], delta, now)
		updated += n
		if err != nil {
			return updated, err
		}
	}
	return updated, nil
}

func (s *Store) shiftBatch(ctx context.Context, batch []*tree.Node, delta int, now int64) (int, error) {
	for len(batch) > 0 {
		actions := make([]types.TransactWriteItem, 0, len(batch))
		for _, n := range batch {
			actions = append(actions, s.shiftAction(n, delta, now))
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return 0, err
			}
		}
		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: actions,
		})
		if err == nil {
			return len(batch), nil
		}

		failed, ok := conditionFailures(err, len(batch))
		if !ok {
			return 0, fmt.Errorf("shift positions: %w", err)
		}
		kept := make([]*tree.Node, 0, len(batch))
		for i, n := range batch {
			if !failed[i] {
				kept = append(kept, n)
			}
		}
		batch = kept
	}
	return 0, nil
}

// shiftAction moves n by delta provided it still sits at the path and
// position it was read with.
func (s *Store) shiftAction(n *tree.Node, delta int, now int64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(s.config.Table),
			Key:                 NodeKey(n.ID),
			UpdateExpression:    aws.String("SET #position = #position + :delta, #version = #version + :one"),
			ConditionExpression: aws.String(ActiveCondition() + " AND #path = :path AND #position = :position"),
			ExpressionAttributeNames: mergeExprNames(TTLFilterNames(), map[string]string{
				"#path":     attrPath,
				"#position": attrPosition,
				"#version":  attrVersion,
			}),
			ExpressionAttributeValues: mergeExprValues(ttlValuesAt(now), map[string]types.AttributeValue{
				":delta":    number(int64(delta)),
				":one":      number(1),
				":path":     &types.AttributeValueMemberS{Value: n.Path},
				":position": number(int64(n.Position)),
			}),
		},
	}
}

// Save inserts n when it has no ID yet, allocating the next ID from the
// counter item, and updates the stored node otherwise. The sibling table row
// follows the node in the same transaction.
func (s *Store) Save(ctx context.Context, n *tree.Node) error {
	now := s.now().UTC().Truncate(time.Second)
	if n.ID == 0 {
		return s.insert(ctx, n, now)
	}
	return s.update(ctx, n, now)
}

func (s *Store) insert(ctx context.Context, n *tree.Node, now time.Time) error {
	id, err := s.nextID(ctx)
	if err != nil {
		return err
	}
	n.ID = id
	n.CreatedAt = now
	n.UpdatedAt = now

	item, err := marshalNode(n, s.config.NumShards)
	if err != nil {
		n.ID = 0
		return err
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.config.Table),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
			s.putSibling(s.setKey(n.Path, n.Attrs), id),
		},
	})
	if err != nil {
		n.ID = 0
		if failedAt(err, 0) {
			return fmt.Errorf("node %d: %w", id, ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (s *Store) update(ctx context.Context, n *tree.Node, now time.Time) error {
	current, err := s.getItem(ctx, n.ID)
	if err != nil {
		return err
	}
	if current == nil || isDeletedAt(current, now.Unix()) {
		return fmt.Errorf("node %d: %w", n.ID, ErrNotFound)
	}
	stored, err := unmarshalNode(current)
	if err != nil {
		return fmt.Errorf("node %d: %w", n.ID, err)
	}
	version := itemVersion(current)

	exprNames := mergeExprNames(TTLFilterNames(), map[string]string{
		"#path":       attrPath,
		"#level":      attrLevel,
		"#position":   attrPosition,
		"#shard":      attrShard,
		"#attrs":      attrAttrs,
		"#updated_at": attrUpdatedAt,
		"#version":    attrVersion,
	})
	exprValues := mergeExprValues(ttlValuesAt(now.Unix()), map[string]types.AttributeValue{
		":path":       &types.AttributeValueMemberS{Value: n.Path},
		":level":      number(int64(n.Level)),
		":position":   number(int64(n.Position)),
		":shard":      &types.AttributeValueMemberS{Value: shard.NodeKey(n.ID, s.config.NumShards)},
		":updated_at": &types.AttributeValueMemberS{Value: formatTime(now)},
		":version":    number(version),
		":next":       number(version + 1),
	})

	updateExpr := "SET #path = :path, #level = :level, #position = :position, #shard = :shard, #updated_at = :updated_at, #version = :next"
	if len(n.Attrs) > 0 {
		attrs, err := attributevalue.Marshal(n.Attrs)
		if err != nil {
			return fmt.Errorf("marshal attrs of node %d: %w", n.ID, err)
		}
		exprValues[":attrs"] = attrs
		updateExpr += ", #attrs = :attrs"
	} else {
		updateExpr += " REMOVE #attrs"
	}
	condition := ActiveCondition() + " AND #version = :version"

	oldSet, newSet := s.setKey(stored.Path, stored.Attrs), s.setKey(n.Path, n.Attrs)
	if oldSet == newSet {
		_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.config.Table),
			Key:                       NodeKey(n.ID),
			UpdateExpression:          aws.String(updateExpr),
			ConditionExpression:       aws.String(condition),
			ExpressionAttributeNames:  exprNames,
			ExpressionAttributeValues: exprValues,
		})
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("node %d: %w", n.ID, ErrConcurrentModification)
		}
	} else {
		_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{Update: &types.Update{
					TableName:                 aws.String(s.config.Table),
					Key:                       NodeKey(n.ID),
					UpdateExpression:          aws.String(updateExpr),
					ConditionExpression:       aws.String(condition),
					ExpressionAttributeNames:  exprNames,
					ExpressionAttributeValues: exprValues,
				}},
				s.deleteSibling(oldSet, n.ID),
				s.putSibling(newSet, n.ID),
			},
		})
		if failedAt(err, 0) {
			return fmt.Errorf("node %d: %w", n.ID, ErrConcurrentModification)
		}
	}
	if err != nil {
		return err
	}

	n.UpdatedAt = now
	n.CreatedAt = stored.CreatedAt
	return nil
}

// getItem reads the raw item of id with strong consistency, nil when missing.
func (s *Store) getItem(ctx context.Context, id int64) (map[string]types.AttributeValue, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            NodeKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return result.Item, nil
}

// nextID atomically increments the ID sequence held by the counter item.
func (s *Store) nextID(ctx context.Context) (int64, error) {
	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.config.Table),
		Key:              NodeKey(counterID),
		UpdateExpression: aws.String("ADD #seq :one"),
		ExpressionAttributeNames: map[string]string{
			"#seq": attrSeq,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("allocate id: %w", err)
	}
	v, ok := result.Attributes[attrSeq].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("allocate id: %w", ErrMalformedItem)
	}
	id, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("allocate id: %w", ErrMalformedItem)
	}
	return id, nil
}

// Delete soft-deletes n by setting its TTL to now and dropping it from its
// sibling set. DynamoDB removes the item later; until then it is hidden from
// Get, Query and Count. With the stream handler attached, the TTL then
// propagates to n's children.
func (s *Store) Delete(ctx context.Context, n *tree.Node) error {
	now := s.now()

	current, err := s.getItem(ctx, n.ID)
	if err != nil {
		return err
	}
	if current == nil || isDeletedAt(current, now.Unix()) {
		return fmt.Errorf("node %d: %w", n.ID, ErrAlreadyDeleted)
	}
	stored, err := unmarshalNode(current)
	if err != nil {
		return fmt.Errorf("node %d: %w", n.ID, err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:           aws.String(s.config.Table),
				Key:                 NodeKey(n.ID),
				UpdateExpression:    aws.String("SET #ttl = :now, #updated_at = :updated_at, #version = #version + :one"),
				ConditionExpression: aws.String(ActiveCondition() + " AND #version = :version"),
				ExpressionAttributeNames: mergeExprNames(TTLFilterNames(), map[string]string{
					"#updated_at": attrUpdatedAt,
					"#version":    attrVersion,
				}),
				ExpressionAttributeValues: mergeExprValues(ttlValuesAt(now.Unix()), map[string]types.AttributeValue{
					":updated_at": &types.AttributeValueMemberS{Value: formatTime(now)},
					":one":        number(1),
					":version":    number(itemVersion(current)),
				}),
			}},
			s.deleteSibling(s.setKey(stored.Path, stored.Attrs), n.ID),
		},
	})
	if failedAt(err, 0) {
		return fmt.Errorf("node %d: %w", n.ID, ErrConcurrentModification)
	}
	return err
}

// SetTTL marks the node with the given ID for deletion at ttl and drops it
// from its sibling set. Used by cascade delete to propagate TTL to children;
// nodes that already carry a TTL are left untouched.
func (s *Store) SetTTL(ctx context.Context, id int64, ttl int64) error {
	current, err := s.getItem(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if _, ok := current[attrTTL]; ok {
		return nil
	}
	stored, err := unmarshalNode(current)
	if err != nil {
		return fmt.Errorf("node %d: %w", id, err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:           aws.String(s.config.Table),
				Key:                 NodeKey(id),
				UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
				ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(#ttl) AND #version = :version"),
				ExpressionAttributeNames: map[string]string{
					"#ttl":     attrTTL,
					"#version": attrVersion,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":ttl":     number(ttl),
					":one":     number(1),
					":version": number(itemVersion(current)),
				},
			}},
			s.deleteSibling(s.setKey(stored.Path, stored.Attrs), id),
		},
	})
	if !failedAt(err, 0) {
		return err
	}

	// Already marked by a concurrent cascade, or moved since the read.
	current, err = s.getItem(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := current[attrTTL]; ok || current == nil {
		return nil
	}
	return fmt.Errorf("node %d: %w", id, ErrConcurrentModification)
}

// failedAt reports whether err cancelled a transaction because the condition
// of action i failed.
func failedAt(err error, i int) bool {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) || i >= len(txErr.CancellationReasons) {
		return false
	}
	code := txErr.CancellationReasons[i].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

// conditionFailures returns which of n actions failed their condition when a
// transaction was cancelled for failed conditions only. ok is false for any
// other error.
func conditionFailures(err error, n int) (failed []bool, ok bool) {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) || len(txErr.CancellationReasons) != n {
		return nil, false
	}
	failed = make([]bool, n)
	for i, reason := range txErr.CancellationReasons {
		switch {
		case reason.Code == nil || *reason.Code == "None":
		case *reason.Code == "ConditionalCheckFailed":
			failed[i] = true
			ok = true
		default:
			return nil, false
		}
	}
	return failed, ok
}
