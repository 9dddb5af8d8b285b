package store

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/mpath/tree"
)

// maxInValues is the most operands DynamoDB accepts in one IN comparison.
const maxInValues = 100

// queryExpr is a path-index query for one shard.
type queryExpr struct {
	KeyCondition string
	Filter       string
	Names        map[string]string
	Values       map[string]types.AttributeValue
}

// buildQuery translates f into a key condition on the path index and a filter
// expression. Exact paths and prefixes are served by the index sort key; every
// other constraint becomes a filter. Deleted nodes are filtered out unless
// includeDeleted is set.
func buildQuery(f tree.Filter, shardKey string, now int64, includeDeleted bool) queryExpr {
	names := map[string]string{"#shard": attrShard}
	values := map[string]types.AttributeValue{
		":shard": &types.AttributeValueMemberS{Value: shardKey},
	}
	key := "#shard = :shard"
	var filters []string

	if !includeDeleted {
		filters = append(filters, "("+TTLFilterExpr()+")")
		names = mergeExprNames(names, TTLFilterNames())
		values = mergeExprValues(values, ttlValuesAt(now))
	}

	switch {
	case f.Path != "":
		names["#path"] = attrPath
		values[":path"] = &types.AttributeValueMemberS{Value: f.Path}
		key += " AND #path = :path"
		if f.PathPrefix != "" {
			values[":prefix"] = &types.AttributeValueMemberS{Value: f.PathPrefix}
			filters = append(filters, "begins_with(#path, :prefix)")
		}
	case f.PathPrefix != "":
		names["#path"] = attrPath
		values[":prefix"] = &types.AttributeValueMemberS{Value: f.PathPrefix}
		key += " AND begins_with(#path, :prefix)"
	}

	if f.PathContains != "" {
		names["#path"] = attrPath
		values[":contains"] = &types.AttributeValueMemberS{Value: f.PathContains}
		filters = append(filters, "contains(#path, :contains)")
	}
	if f.Level != nil {
		names["#level"] = attrLevel
		values[":level"] = number(int64(*f.Level))
		filters = append(filters, "#level = :level")
	}
	if f.MinPosition > 0 {
		names["#position"] = attrPosition
		values[":minpos"] = number(int64(f.MinPosition))
		filters = append(filters, "#position >= :minpos")
	}
	if f.MaxPosition > 0 {
		names["#position"] = attrPosition
		values[":maxpos"] = number(int64(f.MaxPosition))
		filters = append(filters, "#position <= :maxpos")
	}
	if len(f.IDs) > 0 {
		names["#id"] = attrID
		var groups []string
		for start := 0; start < len(f.IDs); start += maxInValues {
			end := min(start+maxInValues, len(f.IDs))
			placeholders := make([]string, 0, end-start)
			for i := start; i < end; i++ {
				p := fmt.Sprintf(":id%d", i)
				values[p] = number(f.IDs[i])
				placeholders = append(placeholders, p)
			}
			groups = append(groups, "#id IN ("+strings.Join(placeholders, ", ")+")")
		}
		if len(groups) == 1 {
			filters = append(filters, groups[0])
		} else {
			filters = append(filters, "("+strings.Join(groups, " OR ")+")")
		}
	}
	if f.ExcludeID != 0 {
		names["#id"] = attrID
		values[":exclude"] = number(f.ExcludeID)
		filters = append(filters, "#id <> :exclude")
	}
	if len(f.Attrs) > 0 {
		names["#attrs"] = attrAttrs
		keys := make([]string, 0, len(f.Attrs))
		for k := range f.Attrs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for i, k := range keys {
			name := fmt.Sprintf("#a%d", i)
			value := fmt.Sprintf(":a%d", i)
			names[name] = k
			values[value] = &types.AttributeValueMemberS{Value: f.Attrs[k]}
			filters = append(filters, fmt.Sprintf("#attrs.%s = %s", name, value))
		}
	}

	return queryExpr{
		KeyCondition: key,
		Filter:       strings.Join(filters, " AND "),
		Names:        names,
		Values:       values,
	}
}

func number(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}
