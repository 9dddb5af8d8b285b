package store

import (
	"maps"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// isDeletedAt reports whether a raw node item carries a TTL at or before now.
func isDeletedAt(item map[string]types.AttributeValue, now int64) bool {
	ttlAttr, exists := item[attrTTL]
	if !exists {
		return false
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now
}

// TTLFilterExpr returns the filter expression to exclude deleted items.
// Use this when building custom queries that need TTL filtering.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// TTLFilterNames returns expression attribute names for TTL filter.
// Use with TTLFilterExpr() when building custom queries.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": attrTTL}
}

// ttlValuesAt returns the expression attribute values for the TTL filter
// evaluated at now.
func ttlValuesAt(now int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(now, 10),
		},
	}
}

// ActiveCondition returns the condition expression for updating a live node.
// Ensures the node exists AND is not deleted (no TTL or TTL in future).
func ActiveCondition() string {
	return "attribute_exists(id) AND (attribute_not_exists(#ttl) OR #ttl > :now)"
}

// mergeExprNames merges expression attribute name maps; later maps win.
func mergeExprNames(ms ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range ms {
		maps.Copy(out, m)
	}
	return out
}

func mergeExprValues(ms ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue)
	for _, m := range ms {
		maps.Copy(out, m)
	}
	return out
}
